package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPaster struct {
	texts []string
	err   error
}

func (p *recordingPaster) Paste(_ context.Context, text string) error {
	p.texts = append(p.texts, text)
	return p.err
}

type recordingComposer struct {
	texts []string
	err   error
}

func (c *recordingComposer) Send(_ context.Context, text string) error {
	c.texts = append(c.texts, text)
	return c.err
}

func TestDispatchClipboardNeverReachesComposer(t *testing.T) {
	p := &recordingPaster{}
	c := &recordingComposer{}
	r := NewRouter(p, c, zerolog.Nop())

	require.NoError(t, r.Dispatch(context.Background(), " copy me ", ModeClipboard))
	assert.Equal(t, []string{"copy me"}, p.texts)
	assert.Empty(t, c.texts)
}

func TestDispatchNormalGoesToComposer(t *testing.T) {
	p := &recordingPaster{}
	c := &recordingComposer{}
	r := NewRouter(p, c, zerolog.Nop())

	require.NoError(t, r.Dispatch(context.Background(), "what's the weather", ModeNormal))
	assert.Equal(t, []string{"what's the weather"}, c.texts)
	assert.Empty(t, p.texts)
}

func TestDispatchEmptyTextIsDropped(t *testing.T) {
	p := &recordingPaster{}
	c := &recordingComposer{}
	r := NewRouter(p, c, zerolog.Nop())

	require.NoError(t, r.Dispatch(context.Background(), "  \n", ModeNormal))
	assert.Empty(t, c.texts)
}

func TestDispatchErrorCarriesMode(t *testing.T) {
	boom := errors.New("accessibility denied")
	r := NewRouter(&recordingPaster{err: boom}, nil, zerolog.Nop())

	err := r.Dispatch(context.Background(), "x", ModeClipboard)
	var de *DispatchError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, ModeClipboard, de.Mode)
	assert.ErrorIs(t, err, boom)

	err = r.Dispatch(context.Background(), "x", ModeNormal)
	assert.ErrorIs(t, err, ErrNoComposer)
}

type fakeInvoker struct {
	command string
	args    any
}

func (f *fakeInvoker) Invoke(_ context.Context, command string, args any) (json.RawMessage, error) {
	f.command = command
	f.args = args
	return nil, nil
}

func TestNativePaster(t *testing.T) {
	inv := &fakeInvoker{}
	require.NoError(t, NewNativePaster(inv).Paste(context.Background(), "hi"))
	assert.Equal(t, "perform_clipboard_paste", inv.command)
	assert.Equal(t, map[string]string{"text": "hi"}, inv.args)
}

func TestCopyPaster(t *testing.T) {
	var got string
	p := &CopyPaster{write: func(s string) error { got = s; return nil }}
	err := p.Paste(context.Background(), "hello")
	if err != nil {
		t.Skip("clipboard unsupported here")
	}
	assert.Equal(t, "hello", got)
}
