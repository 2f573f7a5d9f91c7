package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/anand-san/murmur/internal/model"
	"github.com/anand-san/murmur/internal/store"
	"github.com/anand-san/murmur/pkg/logger"
	"github.com/anand-san/murmur/pkg/metrics"
	"github.com/anand-san/murmur/pkg/tracing"
)

// CatalogReader is the part of the store the builder reads.
type CatalogReader interface {
	ListProviders(ctx context.Context) ([]model.ProviderCredential, error)
	DefaultModel(ctx context.Context) (*model.ModelDescriptor, error)
	ListEnabledModels(ctx context.Context) ([]model.ModelDescriptor, error)
}

// KeyOpener decrypts a sealed API key.
type KeyOpener interface {
	Open(ciphertext, iv string) (string, error)
}

// Registry maps provider SDK ids to callable clients for one request.
type Registry struct {
	handles        map[string]Client
	defaultModelID string
	// enabled lists the callable registry ids; nil accepts any id.
	enabled map[string]struct{}
}

// NewRegistry creates a registry from prebuilt handles.
func NewRegistry(handles map[string]Client, defaultModelID string) *Registry {
	if handles == nil {
		handles = map[string]Client{}
	}
	return &Registry{handles: handles, defaultModelID: defaultModelID}
}

// WithModels restricts the registry to the given registry ids.
func (r *Registry) WithModels(ids ...string) *Registry {
	r.enabled = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		r.enabled[id] = struct{}{}
	}
	return r
}

// LanguageModel resolves a registry id "{provider}:{model}" to a client and the
// provider-side model name. An empty id resolves to the default model.
func (r *Registry) LanguageModel(modelID string) (Client, string, error) {
	if modelID == "" {
		modelID = r.defaultModelID
	}
	if modelID == "" {
		return nil, "", fmt.Errorf("%w: no default model configured", ErrModelNotAvailable)
	}
	provider, name, ok := model.SplitModelID(modelID)
	if !ok {
		return nil, "", fmt.Errorf("%w: malformed id %q", ErrModelNotAvailable, modelID)
	}
	if r.enabled != nil {
		if _, ok := r.enabled[modelID]; !ok {
			return nil, "", fmt.Errorf("%w: model %q is not registered or disabled", ErrModelNotAvailable, modelID)
		}
	}
	client, ok := r.handles[provider]
	if !ok {
		return nil, "", fmt.Errorf("%w: provider %q has no usable credential", ErrModelNotAvailable, provider)
	}
	return client, name, nil
}

// DefaultModelID returns the default registry id, or "" when none is set.
func (r *Registry) DefaultModelID() string {
	return r.defaultModelID
}

// Providers returns the provider SDK ids that have a handle.
func (r *Registry) Providers() []string {
	ids := make([]string, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Builder reconstructs a Registry from stored credentials on every call.
type Builder struct {
	catalog   CatalogReader
	keys      KeyOpener
	factories map[string]Factory
	log       *logger.Logger
}

// NewBuilder creates a registry builder. A nil factories map uses DefaultFactories.
func NewBuilder(catalog CatalogReader, keys KeyOpener, factories map[string]Factory, log *logger.Logger) *Builder {
	if factories == nil {
		factories = DefaultFactories()
	}
	return &Builder{catalog: catalog, keys: keys, factories: factories, log: log}
}

// Build decrypts every credential and builds one handle per provider. A
// provider that cannot be decrypted or constructed is logged and skipped.
func (b *Builder) Build(ctx context.Context) (*Registry, error) {
	ctx, span := tracing.Tracer("llm").Start(ctx, "registry.build")
	defer span.End()

	creds, err := b.catalog.ListProviders(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	handles := make(map[string]Client, len(creds))
	for _, cred := range creds {
		client, err := b.construct(cred)
		if err != nil {
			b.log.Warn("skipping provider",
				zap.String("provider_id", cred.ID),
				zap.Error(err),
			)
			metrics.RegistrySkipsTotal.WithLabelValues(cred.ID).Inc()
			continue
		}
		handles[cred.ID] = client
	}

	var defaultID string
	def, err := b.catalog.DefaultModel(ctx)
	switch {
	case err == nil:
		defaultID = def.ID
	case errors.Is(err, store.ErrNotFound):
	default:
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("load default model: %w", err)
	}

	models, err := b.catalog.ListEnabledModels(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("load enabled models: %w", err)
	}
	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}

	span.SetAttributes(
		attribute.Int("registry.providers", len(handles)),
		attribute.Int("registry.skipped", len(creds)-len(handles)),
		attribute.Int("registry.models", len(ids)),
	)
	return NewRegistry(handles, defaultID).WithModels(ids...), nil
}

func (b *Builder) construct(cred model.ProviderCredential) (Client, error) {
	factory, ok := b.factories[cred.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, cred.ID)
	}
	key, err := b.keys.Open(cred.APIKeyEncrypted, cred.IV)
	if err != nil {
		return nil, err
	}
	var base string
	if cred.BaseURL != nil {
		base = *cred.BaseURL
	}
	return factory(Credential{ProviderID: cred.ID, APIKey: key, BaseURL: base})
}
