package middleware

import (
	"errors"
	"unicode/utf8"
)

const (
	maxConversationIDLength = 128
	maxTitleLength          = 256
	maxContentLength        = 100000
)

// ValidateMessageContent validates message content.
func ValidateMessageContent(content string) error {
	if len(content) == 0 {
		return errors.New("content cannot be empty")
	}
	if len(content) > maxContentLength {
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateConversationID accepts generated UUIDs as well as client-chosen ids
// made of letters, digits, '-' and '_'.
func ValidateConversationID(id string) error {
	if id == "" || len(id) > maxConversationIDLength {
		return errors.New("invalid conversation ID format")
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return errors.New("invalid conversation ID format")
		}
	}
	return nil
}

// ValidateModelID validates a registry model id of the form "provider:model".
func ValidateModelID(id string) error {
	if id == "" {
		return nil
	}
	if len(id) > 255 || !utf8.ValidString(id) {
		return errors.New("invalid model ID format")
	}
	for i, c := range id {
		if c == ':' {
			if i == 0 || i == len(id)-1 {
				return errors.New("invalid model ID format")
			}
			return nil
		}
	}
	return errors.New("invalid model ID format")
}

// ValidateTitle validates a conversation title.
func ValidateTitle(title string) error {
	if len(title) > maxTitleLength {
		return errors.New("title exceeds maximum length")
	}
	if !utf8.ValidString(title) {
		return errors.New("title must be valid UTF-8")
	}
	return nil
}
