package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/anand-san/murmur/internal/model"
)

// CreateAgent stores a new agent for its owner. Names are unique per owner.
func (s *Store) CreateAgent(ctx context.Context, a *model.Agent, makeDefault bool) error {
	if a.ID == "" {
		a.ID = newID()
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureNameFree(tx, a.UserID, a.Name, ""); err != nil {
			return err
		}
		a.IsDefault = false
		if err := tx.Create(a).Error; err != nil {
			return err
		}
		if makeDefault {
			if err := setOwnedDefault(tx, model.KindAgent, a.UserID, a.ID); err != nil {
				return err
			}
			a.IsDefault = true
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	return nil
}

// GetAgent returns one agent of owner.
func (s *Store) GetAgent(ctx context.Context, owner, id string) (*model.Agent, error) {
	var a model.Agent
	if err := ownedQuery(s.db.WithContext(ctx), owner, id).First(&a).Error; err != nil {
		return nil, fmt.Errorf("get agent: %w", notFound(err))
	}
	return &a, nil
}

// ListAgents returns the agents of owner, most recently updated first.
func (s *Store) ListAgents(ctx context.Context, owner string) ([]model.Agent, error) {
	agents := make([]model.Agent, 0)
	if err := s.db.WithContext(ctx).Where("user_id = ?", owner).Order("updated_at DESC").Find(&agents).Error; err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return agents, nil
}

// DefaultAgent returns the default agent of owner.
func (s *Store) DefaultAgent(ctx context.Context, owner string) (*model.Agent, error) {
	var a model.Agent
	if err := s.db.WithContext(ctx).Where("user_id = ? AND is_default = ?", owner, true).First(&a).Error; err != nil {
		return nil, fmt.Errorf("default agent: %w", notFound(err))
	}
	return &a, nil
}

// UpdateAgent applies column updates to an agent of owner. makeDefault true
// routes through the owner-scoped selection, false clears the flag.
func (s *Store) UpdateAgent(ctx context.Context, owner, id string, fields map[string]any, makeDefault *bool) (*model.Agent, error) {
	var a model.Agent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ownedQuery(tx, owner, id).First(&a).Error; err != nil {
			return notFound(err)
		}
		if name, ok := fields["name"].(string); ok {
			if err := ensureNameFree(tx, owner, name, id); err != nil {
				return err
			}
		}
		delete(fields, "is_default")
		if len(fields) > 0 {
			if err := tx.Model(&model.Agent{}).Where("id = ? AND user_id = ?", id, owner).Updates(fields).Error; err != nil {
				return err
			}
		}
		if makeDefault != nil {
			var err error
			if *makeDefault {
				err = setOwnedDefault(tx, model.KindAgent, owner, id)
			} else {
				err = clearDefault(tx, model.KindAgent, owner, id)
			}
			if err != nil {
				return err
			}
		}
		return notFound(ownedQuery(tx, owner, id).First(&a).Error)
	})
	if err != nil {
		return nil, fmt.Errorf("update agent: %w", err)
	}
	return &a, nil
}

// DeleteAgent removes an agent of owner.
func (s *Store) DeleteAgent(ctx context.Context, owner, id string) error {
	res := ownedQuery(s.db.WithContext(ctx), owner, id).Delete(&model.Agent{})
	if res.Error != nil {
		return fmt.Errorf("delete agent: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("delete agent: %w", ErrNotFound)
	}
	return nil
}

func ensureNameFree(tx *gorm.DB, owner, name, exceptID string) error {
	q := tx.Model(&model.Agent{}).Where("user_id = ? AND name = ?", owner, name)
	if exceptID != "" {
		q = q.Where("id <> ?", exceptID)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return ErrConflict
	}
	return nil
}
