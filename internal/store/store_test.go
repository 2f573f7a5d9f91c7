package store

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anand-san/murmur/internal/model"
)

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "murmur.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func userTurn(text string) model.Message {
	return model.Message{Role: model.RoleUser, Content: text}
}

func assistantTurn(text string) model.Message {
	return model.Message{Role: model.RoleAssistant, Content: text}
}

func TestCreateConversationDefaults(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "alice", "", "")
	require.NoError(t, err)
	assert.NotEmpty(t, conv.ID)
	assert.Equal(t, model.DefaultConversationTitle, conv.Title)
	assert.False(t, conv.TitleExplicit)

	named, err := s.CreateConversation(ctx, "alice", "Groceries", "ext-1")
	require.NoError(t, err)
	assert.Equal(t, "ext-1", named.ID)
	assert.True(t, named.TitleExplicit)

	_, err = s.CreateConversation(ctx, "bob", "", "ext-1")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestOwnershipScoping(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "alice", "", "")
	require.NoError(t, err)

	_, err = s.GetConversation(ctx, "bob", conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Messages(ctx, "bob", conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	err = s.AppendTurn(ctx, "bob", conv.ID, []model.Message{userTurn("hi")})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Rename(ctx, "bob", conv.ID, "mine now")
	assert.ErrorIs(t, err, ErrNotFound)
	err = s.DeleteConversation(ctx, "bob", conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = s.EnsureConversation(ctx, "bob", conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := s.GetConversation(ctx, "alice", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultConversationTitle, got.Title)
}

func TestAppendTurnKeepsSingleLogRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "alice", "", "")
	require.NoError(t, err)

	first := []model.Message{userTurn("hello"), assistantTurn("hi there")}
	require.NoError(t, s.AppendTurn(ctx, "alice", conv.ID, first))

	second := append(first, userTurn("how are you"), assistantTurn("fine"))
	require.NoError(t, s.AppendTurn(ctx, "alice", conv.ID, second))

	var rows int64
	require.NoError(t, s.db.Model(&model.MessageLog{}).Where("conversation_id = ?", conv.ID).Count(&rows).Error)
	assert.Equal(t, int64(1), rows)

	got, err := s.Messages(ctx, "alice", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, second, got)
}

func TestMessagesEmptyBeforeFirstAppend(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "alice", "", "")
	require.NoError(t, err)

	got, err := s.Messages(ctx, "alice", conv.ID)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTitleDerivation(t *testing.T) {
	s := openTestStore(t, WithTitleMaxLength(10))
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "alice", "", "")
	require.NoError(t, err)

	changed, err := s.DeriveTitle(ctx, conv.ID, []model.Message{userTurn("hi"), assistantTurn("hello")})
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = s.DeriveTitle(ctx, conv.ID, []model.Message{assistantTurn("hello")})
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = s.DeriveTitle(ctx, conv.ID, []model.Message{userTurn("What is the weather like")})
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := s.GetConversation(ctx, "alice", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "What is th", got.Title)
}

func TestAppendTurnDerivesTitleForSingleUserMessage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "alice", "", "")
	require.NoError(t, err)
	require.NoError(t, s.AppendTurn(ctx, "alice", conv.ID, []model.Message{userTurn("plan a trip")}))

	got, err := s.GetConversation(ctx, "alice", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "plan a trip", got.Title)
}

func TestRenameOverridesDerivation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "alice", "", "")
	require.NoError(t, err)
	_, err = s.Rename(ctx, "alice", conv.ID, "Pinned")
	require.NoError(t, err)

	changed, err := s.DeriveTitle(ctx, conv.ID, []model.Message{userTurn("anything")})
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := s.GetConversation(ctx, "alice", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Pinned", got.Title)
}

func TestDeleteConversationRemovesLog(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "alice", "", "")
	require.NoError(t, err)
	require.NoError(t, s.AppendTurn(ctx, "alice", conv.ID, []model.Message{userTurn("hi"), assistantTurn("yo")}))
	require.NoError(t, s.DeleteConversation(ctx, "alice", conv.ID))

	var rows int64
	require.NoError(t, s.db.Model(&model.MessageLog{}).Where("conversation_id = ?", conv.ID).Count(&rows).Error)
	assert.Zero(t, rows)

	_, err = s.GetConversation(ctx, "alice", conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListConversationsOrderedByUpdate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a, err := s.CreateConversation(ctx, "alice", "a", "")
	require.NoError(t, err)
	b, err := s.CreateConversation(ctx, "alice", "b", "")
	require.NoError(t, err)
	_, err = s.CreateConversation(ctx, "bob", "c", "")
	require.NoError(t, err)

	require.NoError(t, s.AppendTurn(ctx, "alice", a.ID, []model.Message{userTurn("bump"), assistantTurn("ok")}))

	convs, total, err := s.ListConversations(ctx, "alice", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, convs, 2)
	assert.Equal(t, a.ID, convs[0].ID)
	assert.Equal(t, b.ID, convs[1].ID)
}

func TestEnsureConversationCreatesWithExternalID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	conv, created, err := s.EnsureConversation(ctx, "alice", "client-thread-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "client-thread-1", conv.ID)

	again, created, err := s.EnsureConversation(ctx, "alice", "client-thread-1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, conv.ID, again.ID)
}

func TestTruncateTitle(t *testing.T) {
	assert.Equal(t, "hello", TruncateTitle("  hello  ", 100))
	assert.Equal(t, "first line", TruncateTitle("first line\nsecond", 100))
	assert.Equal(t, "héllo", TruncateTitle("héllo wörld", 5))
	assert.Equal(t, strings.Repeat("a", 100), TruncateTitle(strings.Repeat("a", 150), 100))
}

func seedProvider(t *testing.T, s *Store, id string, makeDefault bool) {
	t.Helper()
	err := s.CreateProvider(context.Background(), &model.ProviderCredential{
		ID: id, Name: id, APIKeyEncrypted: "00", IV: "00",
	}, makeDefault)
	require.NoError(t, err)
}

func seedModel(t *testing.T, s *Store, id, provider string, makeDefault bool) {
	t.Helper()
	err := s.CreateModel(context.Background(), &model.ModelDescriptor{
		ID: id, ProviderID: provider, Name: id, IsEnabled: true,
	}, makeDefault)
	require.NoError(t, err)
}

func countDefaults(t *testing.T, s *Store, table any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, s.db.Model(table).Where("is_default = ?", true).Count(&n).Error)
	return n
}

func TestSetDefaultAtMostOne(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seedProvider(t, s, "openai", true)
	seedProvider(t, s, "groq", false)
	seedModel(t, s, "openai:gpt-4o", "openai", true)
	seedModel(t, s, "groq:llama-3.3-70b", "groq", false)

	rec, err := s.SetDefault(ctx, model.KindModel, "groq:llama-3.3-70b")
	require.NoError(t, err)
	selected, ok := rec.(*model.ModelDescriptor)
	require.True(t, ok)
	assert.Equal(t, "groq:llama-3.3-70b", selected.ID)
	assert.True(t, selected.IsDefault)
	assert.Equal(t, int64(1), countDefaults(t, s, &model.ModelDescriptor{}))
	m, err := s.DefaultModel(ctx)
	require.NoError(t, err)
	assert.Equal(t, "groq:llama-3.3-70b", m.ID)

	p, err := s.DefaultProvider(ctx)
	require.NoError(t, err)
	assert.Equal(t, "openai", p.ID, "provider default is independent of model default")
}

func TestSetDefaultUnknownIDRollsBack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seedProvider(t, s, "openai", true)

	rec, err := s.SetDefault(ctx, model.KindProvider, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, rec)

	p, err := s.DefaultProvider(ctx)
	require.NoError(t, err)
	assert.Equal(t, "openai", p.ID)
}

func TestSetDefaultConcurrent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ids := []string{"openai", "groq", "anthropic", "mistral"}
	for _, id := range ids {
		seedProvider(t, s, id, false)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := s.SetDefault(ctx, model.KindProvider, id)
			assert.NoError(t, err)
		}(ids[i%len(ids)])
	}
	wg.Wait()

	assert.Equal(t, int64(1), countDefaults(t, s, &model.ProviderCredential{}))
}

func TestCatalogRules(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seedProvider(t, s, "openai", false)

	err := s.CreateProvider(ctx, &model.ProviderCredential{ID: "openai", Name: "dup", APIKeyEncrypted: "00", IV: "00"}, false)
	assert.ErrorIs(t, err, ErrConflict)

	err = s.CreateModel(ctx, &model.ModelDescriptor{ID: "groq:llama", ProviderID: "openai", Name: "x"}, false)
	assert.ErrorIs(t, err, ErrInvalid)

	err = s.CreateModel(ctx, &model.ModelDescriptor{ID: "groq:llama", ProviderID: "groq", Name: "x"}, false)
	assert.ErrorIs(t, err, ErrInvalid)

	seedModel(t, s, "openai:gpt-4o", "openai", false)
	err = s.CreateModel(ctx, &model.ModelDescriptor{ID: "openai:gpt-4o", ProviderID: "openai", Name: "x"}, false)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestUpdateModelRoutesDefaultThroughSelection(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seedProvider(t, s, "openai", false)
	seedModel(t, s, "openai:gpt-4o", "openai", true)
	seedModel(t, s, "openai:gpt-4o-mini", "openai", false)

	yes := true
	m, err := s.UpdateModel(ctx, "openai:gpt-4o-mini", map[string]any{"name": "Mini", "is_default": true}, &yes)
	require.NoError(t, err)
	assert.Equal(t, "Mini", m.Name)
	assert.True(t, m.IsDefault)
	assert.Equal(t, int64(1), countDefaults(t, s, &model.ModelDescriptor{}))

	no := false
	m, err = s.UpdateModel(ctx, "openai:gpt-4o-mini", map[string]any{"is_enabled": false}, &no)
	require.NoError(t, err)
	assert.False(t, m.IsDefault)
	assert.False(t, m.IsEnabled)
	assert.Zero(t, countDefaults(t, s, &model.ModelDescriptor{}))

	_, err = s.UpdateModel(ctx, "openai:missing", map[string]any{"name": "x"}, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteProviderCascadesModels(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seedProvider(t, s, "openai", false)
	seedModel(t, s, "openai:gpt-4o", "openai", false)

	require.NoError(t, s.DeleteProvider(ctx, "openai"))

	_, err := s.GetModel(ctx, "openai:gpt-4o")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteProvider(ctx, "openai"), ErrNotFound)
}

func TestListEnabledModels(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seedProvider(t, s, "openai", false)
	seedModel(t, s, "openai:gpt-4o", "openai", false)
	require.NoError(t, s.CreateModel(ctx, &model.ModelDescriptor{
		ID: "openai:davinci", ProviderID: "openai", Name: "old", IsEnabled: false,
	}, false))

	models, err := s.ListEnabledModels(ctx)
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "openai:gpt-4o", models[0].ID)
}

func TestDefaultAgentIsPerOwner(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	pirate := &model.Agent{UserID: "alice", Name: "Pirate", SystemMessage: "Arr."}
	terse := &model.Agent{UserID: "alice", Name: "Terse", SystemMessage: "Be brief."}
	bobs := &model.Agent{UserID: "bob", Name: "Pirate", SystemMessage: "Ahoy."}
	require.NoError(t, s.CreateAgent(ctx, pirate, true))
	require.NoError(t, s.CreateAgent(ctx, terse, false))
	require.NoError(t, s.CreateAgent(ctx, bobs, true))
	assert.ErrorIs(t, s.CreateAgent(ctx, &model.Agent{UserID: "alice", Name: "Pirate", SystemMessage: "x"}, false), ErrConflict)

	a, err := s.SetDefaultAgent(ctx, "alice", terse.ID)
	require.NoError(t, err)
	assert.Equal(t, terse.ID, a.ID)
	assert.True(t, a.IsDefault)

	def, err := s.DefaultAgent(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, terse.ID, def.ID)
	def, err = s.DefaultAgent(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, bobs.ID, def.ID, "bob keeps their own default")

	_, err = s.SetDefaultAgent(ctx, "bob", terse.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.SetDefault(ctx, model.KindAgent, terse.ID)
	assert.ErrorIs(t, err, ErrInvalid)
}
