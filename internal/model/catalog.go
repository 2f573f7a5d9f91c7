package model

import (
	"strings"
	"time"
)

// SelectionKind names a table that carries an at-most-one default flag.
type SelectionKind string

const (
	KindModel    SelectionKind = "model"
	KindProvider SelectionKind = "provider"
	KindAgent    SelectionKind = "agent"
)

// Selectable is a record that can be made the default of its kind.
type Selectable interface {
	Kind() SelectionKind
}

// ProviderCredential is a stored provider API key. ID is the provider SDK key
// ("openai", "anthropic", "groq", ...).
type ProviderCredential struct {
	ID              string    `gorm:"primaryKey;size:64" json:"id"`
	Name            string    `gorm:"size:255;not null" json:"name"`
	APIKeyEncrypted string    `gorm:"not null" json:"-"`
	IV              string    `gorm:"size:64;not null" json:"-"`
	BaseURL         *string   `gorm:"size:255" json:"base_url,omitempty"`
	IsDefault       bool      `gorm:"not null;index" json:"is_default"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ModelDescriptor describes a callable model. ID is the registry id
// "{provider}:{model sdk id}".
type ModelDescriptor struct {
	ID         string    `gorm:"primaryKey;size:255" json:"id"`
	ProviderID string    `gorm:"index;size:64;not null" json:"provider_id"`
	Name       string    `gorm:"size:255;not null" json:"name"`
	IsEnabled  bool      `gorm:"not null" json:"is_enabled"`
	IsDefault  bool      `gorm:"not null;index" json:"is_default"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SplitModelID splits a registry id into its provider and model parts.
func SplitModelID(id string) (provider, model string, ok bool) {
	provider, model, ok = strings.Cut(id, ":")
	if !ok || provider == "" || model == "" {
		return "", "", false
	}
	return provider, model, true
}

// CreateProviderRequest is the request to store a provider credential.
type CreateProviderRequest struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	APIKey    string  `json:"api_key"`
	BaseURL   *string `json:"base_url,omitempty"`
	IsDefault bool    `json:"is_default,omitempty"`
}

// UpdateProviderRequest is the request to edit a provider credential.
type UpdateProviderRequest struct {
	Name      *string `json:"name,omitempty"`
	APIKey    *string `json:"api_key,omitempty"`
	BaseURL   *string `json:"base_url,omitempty"`
	IsDefault *bool   `json:"is_default,omitempty"`
}

// CreateModelRequest is the request to register a model descriptor.
type CreateModelRequest struct {
	ID         string `json:"id"`
	ProviderID string `json:"provider_id"`
	Name       string `json:"name"`
	IsEnabled  *bool  `json:"is_enabled,omitempty"`
	IsDefault  bool   `json:"is_default,omitempty"`
}

// UpdateModelRequest is the request to edit a model descriptor.
type UpdateModelRequest struct {
	Name      *string `json:"name,omitempty"`
	IsEnabled *bool   `json:"is_enabled,omitempty"`
	IsDefault *bool   `json:"is_default,omitempty"`
}

// RegistryModel is a model entry in the registry view.
type RegistryModel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RegistryProvider groups the enabled models of one provider.
type RegistryProvider struct {
	ID            string          `json:"id"`
	ProviderName  string          `json:"provider_name"`
	ProviderSDKID string          `json:"provider_sdk_id"`
	BaseURL       *string         `json:"base_url,omitempty"`
	Models        []RegistryModel `json:"models"`
}

// ModelRegistryView is the client-facing listing of enabled models and current defaults.
type ModelRegistryView struct {
	AvailableModels   []RegistryProvider `json:"available_models"`
	DefaultModelID    *string            `json:"default_model_id"`
	DefaultProviderID *string            `json:"default_provider_id"`
}

// TableName returns the table name for ProviderCredential.
func (ProviderCredential) TableName() string {
	return "provider_credentials"
}

// TableName returns the table name for ModelDescriptor.
func (ModelDescriptor) TableName() string {
	return "model_descriptors"
}

// Kind returns KindProvider.
func (ProviderCredential) Kind() SelectionKind { return KindProvider }

// Kind returns KindModel.
func (ModelDescriptor) Kind() SelectionKind { return KindModel }
