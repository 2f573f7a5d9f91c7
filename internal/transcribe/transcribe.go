// Package transcribe uploads captured audio to the speech-to-text endpoint.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
)

// TranscriptionError is an upstream or network failure. StatusCode is zero
// when no response was received.
type TranscriptionError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *TranscriptionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transcription failed (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("transcription failed: %s", e.Message)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// Client posts audio as multipart field "audio". It never retries.
type Client struct {
	url    string
	token  string
	client *http.Client
}

// New creates a client. A nil httpClient uses http.DefaultClient.
func New(url, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{url: url, token: token, client: httpClient}
}

type response struct {
	Text  string `json:"text"`
	Error string `json:"error"`
}

// Transcribe returns the recognised text or a *TranscriptionError.
func (c *Client) Transcribe(ctx context.Context, audio []byte) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("audio", "recording.wav")
	if err != nil {
		return "", &TranscriptionError{Message: "build request", Err: err}
	}
	if _, err := part.Write(audio); err != nil {
		return "", &TranscriptionError{Message: "build request", Err: err}
	}
	if err := writer.Close(); err != nil {
		return "", &TranscriptionError{Message: "build request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return "", &TranscriptionError{Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &TranscriptionError{Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TranscriptionError{StatusCode: resp.StatusCode, Message: "read response", Err: err}
	}

	var out response
	decodeErr := json.Unmarshal(raw, &out)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := out.Error
		if decodeErr != nil || msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return "", &TranscriptionError{StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return "", &TranscriptionError{StatusCode: resp.StatusCode, Message: "invalid response body", Err: decodeErr}
	}
	return out.Text, nil
}
