package chatclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/anand-san/murmur/internal/model"
)

// StreamError is an error received before or during the chat stream.
type StreamError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StreamError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("chat failed (%d %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("chat failed (%d): %s", e.StatusCode, e.Message)
}

// TokenSink receives streamed tokens as they arrive.
type TokenSink func(token string)

// Options configures a Client.
type Options struct {
	ServerURL  string
	Token      string
	ModelID    string
	HTTPClient *http.Client
}

// Client appends user turns to the active thread and streams the reply.
// Send calls are serialised so the thread history stays ordered.
type Client struct {
	opts  Options
	store *ThreadStore
	sink  TokenSink
	log   zerolog.Logger

	mu     sync.Mutex
	thread *Thread
}

// New creates a client and restores the saved thread, if any.
func New(opts Options, store *ThreadStore, sink TokenSink, log zerolog.Logger) (*Client, error) {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if sink == nil {
		sink = func(string) {}
	}
	thread, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load thread: %w", err)
	}
	if thread != nil {
		log.Info().
			Str("conversation_id", thread.ConversationID).
			Int("messages", len(thread.Messages)).
			Msg("resumed chat thread")
	}
	return &Client{opts: opts, store: store, sink: sink, log: log, thread: thread}, nil
}

// Thread returns a copy of the active thread, or nil.
func (c *Client) Thread() *Thread {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.thread == nil {
		return nil
	}
	t := *c.thread
	t.Messages = append([]model.Message(nil), c.thread.Messages...)
	return &t
}

// NewThread drops the active thread. The next Send starts a new conversation.
func (c *Client) NewThread() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.thread = nil
	return c.store.Clear()
}

// Send appends text as a user turn and streams the assistant reply. The
// thread only grows when the stream completes.
func (c *Client) Send(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	thread := c.thread
	if thread == nil {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate conversation id: %w", err)
		}
		thread = &Thread{ConversationID: id.String()}
	}

	history := append(append([]model.Message(nil), thread.Messages...), model.Message{
		Role:    model.RoleUser,
		Content: text,
	})

	reply, err := c.stream(ctx, &model.ChatRequest{
		Messages:       history,
		ConversationID: thread.ConversationID,
		ModelID:        c.opts.ModelID,
	})
	if err != nil {
		return err
	}

	next := &Thread{
		ConversationID: thread.ConversationID,
		Messages:       append(history, model.Message{Role: model.RoleAssistant, Content: reply}),
		UpdatedAt:      time.Now().UTC(),
	}
	if err := c.store.Save(next); err != nil {
		c.log.Warn().Err(err).Str("conversation_id", next.ConversationID).Msg("failed to save chat thread")
	}
	c.thread = next
	return nil
}

func (c *Client) stream(ctx context.Context, chat *model.ChatRequest) (string, error) {
	body, err := json.Marshal(chat)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.ServerURL+"/api/v1/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", readError(resp)
	}

	var reply strings.Builder
	err = readEvents(resp.Body, func(event string, data []byte) (bool, error) {
		switch event {
		case "conversation":
			var started model.ConversationStartedEvent
			if err := json.Unmarshal(data, &started); err == nil {
				c.log.Debug().
					Str("conversation_id", started.ConversationID).
					Str("model_id", started.ModelID).
					Msg("chat stream started")
			}
		case "token":
			var tok model.TokenEvent
			if err := json.Unmarshal(data, &tok); err != nil {
				return false, fmt.Errorf("decode token: %w", err)
			}
			reply.WriteString(tok.Token)
			c.sink(tok.Token)
		case "error":
			var e model.ErrorEvent
			_ = json.Unmarshal(data, &e)
			return false, &StreamError{StatusCode: resp.StatusCode, Code: e.Code, Message: e.Message}
		case "done":
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return "", err
	}
	return reply.String(), nil
}

var errStreamEnded = errors.New("chat stream ended before done")

// readEvents calls fn for each server-sent event until fn reports done.
func readEvents(r io.Reader, fn func(event string, data []byte) (bool, error)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var event string
	var data bytes.Buffer
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if event == "" && data.Len() == 0 {
				continue
			}
			done, err := fn(event, data.Bytes())
			if err != nil || done {
				return err
			}
			event = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read chat stream: %w", err)
	}
	return errStreamEnded
}

func readError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(raw))
	}
	return &StreamError{StatusCode: resp.StatusCode, Code: body.Code, Message: body.Error}
}
