package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/anand-san/murmur/internal/model"
)

// CreateConversation inserts a conversation owned by owner. An empty externalID
// gets a generated UUIDv7; an empty title gets the default title.
func (s *Store) CreateConversation(ctx context.Context, owner, title, externalID string) (*model.Conversation, error) {
	conv := newConversation(owner, title, externalID)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&model.Conversation{}).Where("id = ?", conv.ID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrConflict
		}
		return tx.Create(conv).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// EnsureConversation returns the conversation with id, creating it for owner
// when absent. A conversation owned by someone else is ErrNotFound.
func (s *Store) EnsureConversation(ctx context.Context, owner, id string) (*model.Conversation, bool, error) {
	var conv model.Conversation
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("id = ?", id).First(&conv).Error
		switch {
		case err == nil:
			if conv.UserID != owner {
				return ErrNotFound
			}
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			conv = *newConversation(owner, "", id)
			created = true
			return tx.Create(&conv).Error
		default:
			return err
		}
	})
	if err != nil {
		return nil, false, fmt.Errorf("ensure conversation: %w", err)
	}
	return &conv, created, nil
}

// GetConversation returns the conversation if owner owns it.
func (s *Store) GetConversation(ctx context.Context, owner, id string) (*model.Conversation, error) {
	var conv model.Conversation
	if err := ownedQuery(s.db.WithContext(ctx), owner, id).First(&conv).Error; err != nil {
		return nil, fmt.Errorf("get conversation: %w", notFound(err))
	}
	return &conv, nil
}

// ListConversations returns owner's conversations, most recently updated first.
func (s *Store) ListConversations(ctx context.Context, owner string, limit, offset int) ([]model.Conversation, int64, error) {
	db := s.db.WithContext(ctx).Model(&model.Conversation{}).Where("user_id = ?", owner).Session(&gorm.Session{})

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count conversations: %w", err)
	}

	convs := make([]model.Conversation, 0)
	q := db.Order("updated_at DESC").Order("id")
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}
	if err := q.Find(&convs).Error; err != nil {
		return nil, 0, fmt.Errorf("list conversations: %w", err)
	}
	return convs, total, nil
}

// Messages returns the stored history of a conversation owned by owner.
func (s *Store) Messages(ctx context.Context, owner, id string) ([]model.Message, error) {
	db := s.db.WithContext(ctx)
	if err := ensureOwned(db, owner, id); err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}

	var row model.MessageLog
	err := db.Where("conversation_id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return []model.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	return decodeMessages(row.Content)
}

// AppendTurn replaces the whole history of a conversation with messages and
// bumps its updated timestamp. The single message log row is created on first
// write and updated in place after that. A history that is exactly one user
// message also derives the title.
func (s *Store) AppendTurn(ctx context.Context, owner, id string, messages []model.Message) error {
	content, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("append turn: encode: %w", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureOwned(tx, owner, id); err != nil {
			return err
		}

		res := tx.Model(&model.MessageLog{}).Where("conversation_id = ?", id).
			Update("content", datatypes.JSON(content))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			row := model.MessageLog{ConversationID: id, Content: datatypes.JSON(content)}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}

		if err := tx.Model(&model.Conversation{}).Where("id = ?", id).
			Update("updated_at", tx.NowFunc()).Error; err != nil {
			return err
		}

		_, err := s.deriveTitle(tx, id, messages)
		return err
	})
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// DeriveTitle sets the title from the first user message when turns is exactly
// one user message and the title was never set explicitly. It reports whether
// the title changed.
func (s *Store) DeriveTitle(ctx context.Context, id string, turns []model.Message) (bool, error) {
	var changed bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		changed, err = s.deriveTitle(tx, id, turns)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("derive title: %w", err)
	}
	return changed, nil
}

func (s *Store) deriveTitle(tx *gorm.DB, id string, turns []model.Message) (bool, error) {
	if len(turns) != 1 || turns[0].Role != model.RoleUser {
		return false, nil
	}
	title := TruncateTitle(turns[0].Content, s.titleMaxLength)
	if title == "" {
		return false, nil
	}
	res := tx.Model(&model.Conversation{}).
		Where("id = ? AND title_explicit = ?", id, false).
		Update("title", title)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Rename sets an explicit title, which disables title derivation.
func (s *Store) Rename(ctx context.Context, owner, id, title string) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Conversation{}).
			Where("id = ? AND user_id = ?", id, owner).
			Updates(map[string]any{"title": title, "title_explicit": true})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("id = ?", id).First(&conv).Error
	})
	if err != nil {
		return nil, fmt.Errorf("rename conversation: %w", err)
	}
	return &conv, nil
}

// DeleteConversation removes a conversation and its message log.
func (s *Store) DeleteConversation(ctx context.Context, owner, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureOwned(tx, owner, id); err != nil {
			return err
		}
		if err := tx.Where("conversation_id = ?", id).Delete(&model.MessageLog{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&model.Conversation{}).Error
	})
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// TruncateTitle trims text to its first line and at most max runes.
func TruncateTitle(text string, max int) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexAny(text, "\r\n"); i >= 0 {
		text = strings.TrimSpace(text[:i])
	}
	if max > 0 && utf8.RuneCountInString(text) > max {
		runes := []rune(text)
		text = strings.TrimSpace(string(runes[:max]))
	}
	return text
}

func newConversation(owner, title, id string) *model.Conversation {
	if id == "" {
		id = newID()
	}
	conv := &model.Conversation{ID: id, UserID: owner, Title: title, TitleExplicit: title != ""}
	if title == "" {
		conv.Title = model.DefaultConversationTitle
	}
	return conv
}

func newID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

func ownedQuery(db *gorm.DB, owner, id string) *gorm.DB {
	return db.Where("id = ? AND user_id = ?", id, owner)
}

func ensureOwned(db *gorm.DB, owner, id string) error {
	var n int64
	if err := ownedQuery(db.Model(&model.Conversation{}), owner, id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func decodeMessages(raw datatypes.JSON) ([]model.Message, error) {
	messages := make([]model.Message, 0)
	if len(raw) == 0 {
		return messages, nil
	}
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return messages, nil
}
