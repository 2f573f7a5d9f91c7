package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/anand-san/murmur/internal/model"
)

// SetDefault makes id the only default of its kind and returns the updated
// record. The clear, the set and the read back run in one transaction; an
// unknown id rolls all of it back and returns ErrNotFound.
func (s *Store) SetDefault(ctx context.Context, kind model.SelectionKind, id string) (model.Selectable, error) {
	if kind == model.KindAgent {
		return nil, fmt.Errorf("set default: %w: agents are owner scoped", ErrInvalid)
	}
	return s.setDefaultScoped(ctx, kind, "", id)
}

// SetDefaultAgent makes id the only default agent of owner.
func (s *Store) SetDefaultAgent(ctx context.Context, owner, id string) (*model.Agent, error) {
	rec, err := s.setDefaultScoped(ctx, model.KindAgent, owner, id)
	if err != nil {
		return nil, err
	}
	return rec.(*model.Agent), nil
}

func (s *Store) setDefaultScoped(ctx context.Context, kind model.SelectionKind, owner, id string) (model.Selectable, error) {
	var rec model.Selectable
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := setOwnedDefault(tx, kind, owner, id); err != nil {
			return err
		}
		out, err := newSelectable(kind)
		if err != nil {
			return err
		}
		if err := selectionQuery(tx, kind, owner).Where("id = ?", id).First(out).Error; err != nil {
			return notFound(err)
		}
		rec = out
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("set default %s %q: %w", kind, id, err)
	}
	return rec, nil
}

func setDefault(tx *gorm.DB, kind model.SelectionKind, id string) error {
	return setOwnedDefault(tx, kind, "", id)
}

// setOwnedDefault clears the flag across the selection scope, then raises it
// on id. owner scopes agents; it is ignored for global kinds.
func setOwnedDefault(tx *gorm.DB, kind model.SelectionKind, owner, id string) error {
	if _, err := selectionTable(kind); err != nil {
		return err
	}
	if err := selectionQuery(tx, kind, owner).Where("is_default = ?", true).Update("is_default", false).Error; err != nil {
		return err
	}
	res := selectionQuery(tx, kind, owner).Where("id = ?", id).Update("is_default", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func clearDefault(tx *gorm.DB, kind model.SelectionKind, owner, id string) error {
	if _, err := selectionTable(kind); err != nil {
		return err
	}
	return selectionQuery(tx, kind, owner).Where("id = ? AND is_default = ?", id, true).Update("is_default", false).Error
}

func selectionQuery(tx *gorm.DB, kind model.SelectionKind, owner string) *gorm.DB {
	table, _ := selectionTable(kind)
	q := tx.Model(table)
	if kind == model.KindAgent {
		q = q.Where("user_id = ?", owner)
	}
	return q
}

func selectionTable(kind model.SelectionKind) (any, error) {
	switch kind {
	case model.KindModel:
		return &model.ModelDescriptor{}, nil
	case model.KindProvider:
		return &model.ProviderCredential{}, nil
	case model.KindAgent:
		return &model.Agent{}, nil
	default:
		return nil, fmt.Errorf("%w: selection kind %q", ErrInvalid, kind)
	}
}

func newSelectable(kind model.SelectionKind) (model.Selectable, error) {
	switch kind {
	case model.KindModel:
		return &model.ModelDescriptor{}, nil
	case model.KindProvider:
		return &model.ProviderCredential{}, nil
	case model.KindAgent:
		return &model.Agent{}, nil
	default:
		return nil, fmt.Errorf("%w: selection kind %q", ErrInvalid, kind)
	}
}
