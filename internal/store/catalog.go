package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/anand-san/murmur/internal/model"
)

// CreateProvider stores a sealed credential. The default flag is only ever
// raised through setDefault, inside the same transaction.
func (s *Store) CreateProvider(ctx context.Context, p *model.ProviderCredential, makeDefault bool) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureAbsent(tx, &model.ProviderCredential{}, p.ID); err != nil {
			return err
		}
		p.IsDefault = false
		if err := tx.Create(p).Error; err != nil {
			return err
		}
		if makeDefault {
			if err := setDefault(tx, model.KindProvider, p.ID); err != nil {
				return err
			}
			p.IsDefault = true
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("create provider: %w", err)
	}
	return nil
}

// GetProvider returns one credential.
func (s *Store) GetProvider(ctx context.Context, id string) (*model.ProviderCredential, error) {
	var p model.ProviderCredential
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, fmt.Errorf("get provider: %w", notFound(err))
	}
	return &p, nil
}

// ListProviders returns every stored credential.
func (s *Store) ListProviders(ctx context.Context) ([]model.ProviderCredential, error) {
	providers := make([]model.ProviderCredential, 0)
	if err := s.db.WithContext(ctx).Order("id").Find(&providers).Error; err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	return providers, nil
}

// UpdateProvider applies column updates. makeDefault true routes through
// setDefault, false clears the flag if this provider holds it.
func (s *Store) UpdateProvider(ctx context.Context, id string, fields map[string]any, makeDefault *bool) (*model.ProviderCredential, error) {
	var p model.ProviderCredential
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return updateSelectable(tx, &model.ProviderCredential{}, model.KindProvider, id, fields, makeDefault, &p)
	})
	if err != nil {
		return nil, fmt.Errorf("update provider: %w", err)
	}
	return &p, nil
}

// DeleteProvider removes a credential and every model that belongs to it.
func (s *Store) DeleteProvider(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("provider_id = ?", id).Delete(&model.ModelDescriptor{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&model.ProviderCredential{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete provider: %w", err)
	}
	return nil
}

// DefaultProvider returns the credential flagged as default.
func (s *Store) DefaultProvider(ctx context.Context) (*model.ProviderCredential, error) {
	var p model.ProviderCredential
	if err := s.db.WithContext(ctx).Where("is_default = ?", true).First(&p).Error; err != nil {
		return nil, fmt.Errorf("default provider: %w", notFound(err))
	}
	return &p, nil
}

// CreateModel registers a model. Its id must be "{provider}:{model}" with the
// provider part matching ProviderID, and that provider must exist.
func (s *Store) CreateModel(ctx context.Context, m *model.ModelDescriptor, makeDefault bool) error {
	provider, _, ok := model.SplitModelID(m.ID)
	if !ok || provider != m.ProviderID {
		return fmt.Errorf("create model: %w: id %q must be prefixed with %q", ErrInvalid, m.ID, m.ProviderID+":")
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&model.ProviderCredential{}).Where("id = ?", m.ProviderID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: unknown provider %q", ErrInvalid, m.ProviderID)
		}
		if err := ensureAbsent(tx, &model.ModelDescriptor{}, m.ID); err != nil {
			return err
		}
		m.IsDefault = false
		if err := tx.Create(m).Error; err != nil {
			return err
		}
		if makeDefault {
			if err := setDefault(tx, model.KindModel, m.ID); err != nil {
				return err
			}
			m.IsDefault = true
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("create model: %w", err)
	}
	return nil
}

// GetModel returns one model descriptor.
func (s *Store) GetModel(ctx context.Context, id string) (*model.ModelDescriptor, error) {
	var m model.ModelDescriptor
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, fmt.Errorf("get model: %w", notFound(err))
	}
	return &m, nil
}

// ListModelsByProvider returns the models of one provider.
func (s *Store) ListModelsByProvider(ctx context.Context, providerID string) ([]model.ModelDescriptor, error) {
	models := make([]model.ModelDescriptor, 0)
	if err := s.db.WithContext(ctx).Where("provider_id = ?", providerID).Order("id").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	return models, nil
}

// ListEnabledModels returns every enabled model.
func (s *Store) ListEnabledModels(ctx context.Context) ([]model.ModelDescriptor, error) {
	models := make([]model.ModelDescriptor, 0)
	if err := s.db.WithContext(ctx).Where("is_enabled = ?", true).Order("provider_id").Order("id").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list enabled models: %w", err)
	}
	return models, nil
}

// UpdateModel applies column updates with the same default handling as UpdateProvider.
func (s *Store) UpdateModel(ctx context.Context, id string, fields map[string]any, makeDefault *bool) (*model.ModelDescriptor, error) {
	var m model.ModelDescriptor
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return updateSelectable(tx, &model.ModelDescriptor{}, model.KindModel, id, fields, makeDefault, &m)
	})
	if err != nil {
		return nil, fmt.Errorf("update model: %w", err)
	}
	return &m, nil
}

// DeleteModel removes a model descriptor.
func (s *Store) DeleteModel(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&model.ModelDescriptor{})
	if res.Error != nil {
		return fmt.Errorf("delete model: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("delete model: %w", ErrNotFound)
	}
	return nil
}

// DefaultModel returns the model flagged as default.
func (s *Store) DefaultModel(ctx context.Context) (*model.ModelDescriptor, error) {
	var m model.ModelDescriptor
	if err := s.db.WithContext(ctx).Where("is_default = ?", true).First(&m).Error; err != nil {
		return nil, fmt.Errorf("default model: %w", notFound(err))
	}
	return &m, nil
}

func ensureAbsent(tx *gorm.DB, table any, id string) error {
	var n int64
	if err := tx.Model(table).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return ErrConflict
	}
	return nil
}

func updateSelectable(tx *gorm.DB, table any, kind model.SelectionKind, id string, fields map[string]any, makeDefault *bool, out any) error {
	if err := tx.Where("id = ?", id).First(out).Error; err != nil {
		return notFound(err)
	}
	delete(fields, "is_default")
	if len(fields) > 0 {
		if err := tx.Model(table).Where("id = ?", id).Updates(fields).Error; err != nil {
			return err
		}
	}
	if makeDefault != nil {
		if *makeDefault {
			if err := setDefault(tx, kind, id); err != nil {
				return err
			}
		} else if err := clearDefault(tx, kind, "", id); err != nil {
			return err
		}
	}
	return notFound(tx.Where("id = ?", id).First(out).Error)
}
