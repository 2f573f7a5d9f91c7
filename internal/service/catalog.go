package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/anand-san/murmur/internal/model"
	natsclient "github.com/anand-san/murmur/internal/nats"
	"github.com/anand-san/murmur/internal/store"
	"github.com/anand-san/murmur/pkg/logger"
)

// CatalogRepo is the model catalog persistence used by CatalogService.
type CatalogRepo interface {
	CreateProvider(ctx context.Context, p *model.ProviderCredential, makeDefault bool) error
	GetProvider(ctx context.Context, id string) (*model.ProviderCredential, error)
	ListProviders(ctx context.Context) ([]model.ProviderCredential, error)
	UpdateProvider(ctx context.Context, id string, fields map[string]any, makeDefault *bool) (*model.ProviderCredential, error)
	DeleteProvider(ctx context.Context, id string) error
	DefaultProvider(ctx context.Context) (*model.ProviderCredential, error)

	CreateModel(ctx context.Context, m *model.ModelDescriptor, makeDefault bool) error
	GetModel(ctx context.Context, id string) (*model.ModelDescriptor, error)
	ListModelsByProvider(ctx context.Context, providerID string) ([]model.ModelDescriptor, error)
	ListEnabledModels(ctx context.Context) ([]model.ModelDescriptor, error)
	UpdateModel(ctx context.Context, id string, fields map[string]any, makeDefault *bool) (*model.ModelDescriptor, error)
	DeleteModel(ctx context.Context, id string) error
	DefaultModel(ctx context.Context) (*model.ModelDescriptor, error)

	SetDefault(ctx context.Context, kind model.SelectionKind, id string) (model.Selectable, error)
}

// KeySealer encrypts API keys before they are stored.
type KeySealer interface {
	Seal(plaintext string) (ciphertext, iv string, err error)
}

// CatalogService manages provider credentials and model descriptors.
type CatalogService struct {
	repo   CatalogRepo
	keys   KeySealer
	events natsclient.Publisher
	logger *logger.Logger
}

// NewCatalogService creates a new catalog service.
func NewCatalogService(repo CatalogRepo, keys KeySealer, events natsclient.Publisher, log *logger.Logger) *CatalogService {
	return &CatalogService{repo: repo, keys: keys, events: events, logger: log}
}

// CreateProvider seals the API key and stores the credential.
func (s *CatalogService) CreateProvider(ctx context.Context, req *model.CreateProviderRequest) (*model.ProviderCredential, error) {
	id := strings.TrimSpace(req.ID)
	if id == "" || strings.Contains(id, ":") {
		return nil, fmt.Errorf("%w: provider id is required and may not contain ':'", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Name) == "" || req.APIKey == "" {
		return nil, fmt.Errorf("%w: name and api_key are required", ErrInvalidRequest)
	}

	ct, iv, err := s.keys.Seal(req.APIKey)
	if err != nil {
		return nil, err
	}
	p := &model.ProviderCredential{
		ID:              id,
		Name:            strings.TrimSpace(req.Name),
		APIKeyEncrypted: ct,
		IV:              iv,
		BaseURL:         nonEmpty(req.BaseURL),
	}
	if err := s.repo.CreateProvider(ctx, p, req.IsDefault); err != nil {
		return nil, err
	}

	s.logger.Info("provider created", zap.String("provider_id", id))
	if req.IsDefault {
		s.defaultChanged(ctx, model.KindProvider, id)
	}
	return p, nil
}

// GetProvider returns one credential without key material.
func (s *CatalogService) GetProvider(ctx context.Context, id string) (*model.ProviderCredential, error) {
	return s.repo.GetProvider(ctx, id)
}

// ListProviders returns every credential without key material.
func (s *CatalogService) ListProviders(ctx context.Context) ([]model.ProviderCredential, error) {
	return s.repo.ListProviders(ctx)
}

// UpdateProvider edits a credential, re-sealing the key when one is supplied.
func (s *CatalogService) UpdateProvider(ctx context.Context, id string, req *model.UpdateProviderRequest) (*model.ProviderCredential, error) {
	fields := map[string]any{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name may not be empty", ErrInvalidRequest)
		}
		fields["name"] = name
	}
	if req.APIKey != nil {
		if *req.APIKey == "" {
			return nil, fmt.Errorf("%w: api_key may not be empty", ErrInvalidRequest)
		}
		ct, iv, err := s.keys.Seal(*req.APIKey)
		if err != nil {
			return nil, err
		}
		fields["api_key_encrypted"] = ct
		fields["iv"] = iv
	}
	if req.BaseURL != nil {
		fields["base_url"] = nonEmpty(req.BaseURL)
	}

	p, err := s.repo.UpdateProvider(ctx, id, fields, req.IsDefault)
	if err != nil {
		return nil, err
	}
	if req.IsDefault != nil && *req.IsDefault {
		s.defaultChanged(ctx, model.KindProvider, id)
	}
	return p, nil
}

// DeleteProvider removes a credential and its models.
func (s *CatalogService) DeleteProvider(ctx context.Context, id string) error {
	if err := s.repo.DeleteProvider(ctx, id); err != nil {
		return err
	}
	s.logger.Info("provider deleted", zap.String("provider_id", id))
	return nil
}

// CreateModel registers a model descriptor.
func (s *CatalogService) CreateModel(ctx context.Context, req *model.CreateModelRequest) (*model.ModelDescriptor, error) {
	if strings.TrimSpace(req.ID) == "" || strings.TrimSpace(req.ProviderID) == "" || strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("%w: id, provider_id and name are required", ErrInvalidRequest)
	}
	m := &model.ModelDescriptor{
		ID:         strings.TrimSpace(req.ID),
		ProviderID: strings.TrimSpace(req.ProviderID),
		Name:       strings.TrimSpace(req.Name),
		IsEnabled:  true,
	}
	if req.IsEnabled != nil {
		m.IsEnabled = *req.IsEnabled
	}
	if err := s.repo.CreateModel(ctx, m, req.IsDefault); err != nil {
		return nil, err
	}
	if req.IsDefault {
		s.defaultChanged(ctx, model.KindModel, m.ID)
	}
	return m, nil
}

// GetModel returns one model descriptor.
func (s *CatalogService) GetModel(ctx context.Context, id string) (*model.ModelDescriptor, error) {
	return s.repo.GetModel(ctx, id)
}

// ListModels returns the models of one provider.
func (s *CatalogService) ListModels(ctx context.Context, providerID string) ([]model.ModelDescriptor, error) {
	return s.repo.ListModelsByProvider(ctx, providerID)
}

// UpdateModel edits a model descriptor.
func (s *CatalogService) UpdateModel(ctx context.Context, id string, req *model.UpdateModelRequest) (*model.ModelDescriptor, error) {
	fields := map[string]any{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name may not be empty", ErrInvalidRequest)
		}
		fields["name"] = name
	}
	if req.IsEnabled != nil {
		fields["is_enabled"] = *req.IsEnabled
	}

	m, err := s.repo.UpdateModel(ctx, id, fields, req.IsDefault)
	if err != nil {
		return nil, err
	}
	if req.IsDefault != nil && *req.IsDefault {
		s.defaultChanged(ctx, model.KindModel, id)
	}
	return m, nil
}

// DeleteModel removes a model descriptor.
func (s *CatalogService) DeleteModel(ctx context.Context, id string) error {
	return s.repo.DeleteModel(ctx, id)
}

// SetDefault makes id the single default model or provider and returns it.
func (s *CatalogService) SetDefault(ctx context.Context, kind model.SelectionKind, id string) (model.Selectable, error) {
	rec, err := s.repo.SetDefault(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	s.defaultChanged(ctx, kind, id)
	return rec, nil
}

// Registry returns the enabled models grouped by provider with the current defaults.
func (s *CatalogService) Registry(ctx context.Context) (*model.ModelRegistryView, error) {
	providers, err := s.repo.ListProviders(ctx)
	if err != nil {
		return nil, err
	}
	models, err := s.repo.ListEnabledModels(ctx)
	if err != nil {
		return nil, err
	}

	byProvider := make(map[string][]model.RegistryModel)
	for _, m := range models {
		byProvider[m.ProviderID] = append(byProvider[m.ProviderID], model.RegistryModel{ID: m.ID, Name: m.Name})
	}

	view := &model.ModelRegistryView{AvailableModels: make([]model.RegistryProvider, 0, len(providers))}
	for _, p := range providers {
		entries, ok := byProvider[p.ID]
		if !ok {
			continue
		}
		view.AvailableModels = append(view.AvailableModels, model.RegistryProvider{
			ID:            p.ID,
			ProviderName:  p.Name,
			ProviderSDKID: p.ID,
			BaseURL:       p.BaseURL,
			Models:        entries,
		})
	}

	def, err := s.repo.DefaultModel(ctx)
	switch {
	case err == nil:
		view.DefaultModelID = &def.ID
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	prov, err := s.repo.DefaultProvider(ctx)
	switch {
	case err == nil:
		view.DefaultProviderID = &prov.ID
	case errors.Is(err, store.ErrNotFound):
		if def != nil {
			view.DefaultProviderID = &def.ProviderID
		}
	default:
		return nil, err
	}
	return view, nil
}

func (s *CatalogService) defaultChanged(ctx context.Context, kind model.SelectionKind, id string) {
	s.logger.Info("default changed", zap.String("kind", string(kind)), zap.String("id", id))
	publish(ctx, s.events, s.logger, &model.ConversationEvent{
		ConversationID: string(kind),
		Type:           model.EventTypeDefaultChanged,
		Metadata:       map[string]any{"kind": string(kind), "id": id},
	})
}

func nonEmpty(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
