package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/kalambet/fatrocu/internal/invoice"
	"github.com/kalambet/fatrocu/internal/storage"
)

// Configs returns every document config, predefined first.
func (o *Orchestrator) Configs(ctx context.Context) ([]invoice.Config, error) {
	var out []invoice.Config
	if err := o.do(ctx, func() { out = o.configs.All() }); err != nil {
		return nil, err
	}
	return out, nil
}

// Config returns a single document config.
func (o *Orchestrator) Config(ctx context.Context, id string) (invoice.Config, error) {
	var c invoice.Config
	var ok bool
	if err := o.do(ctx, func() { c, ok = o.configs.Get(id) }); err != nil {
		return invoice.Config{}, err
	}
	if !ok {
		return invoice.Config{}, ErrConfigNotFound
	}
	return c, nil
}

// SaveConfig creates or replaces a user config. A config without an id gets
// a fresh one. Jobs already bound to the config keep its id.
func (o *Orchestrator) SaveConfig(ctx context.Context, c invoice.Config) (invoice.Config, error) {
	if c.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return invoice.Config{}, err
		}
		c.ID = id.String()
	}
	c.IsPredefined = false

	var err error
	derr := o.do(ctx, func() {
		prev, existed := o.configs.Get(c.ID)
		if err = o.configs.Put(c); err != nil {
			if !errors.Is(err, ErrPredefinedConfig) {
				err = fmt.Errorf("%w: %v", ErrInvalidConfig, err)
			}
			return
		}
		if perr := o.deps.Configs.SaveConfig(o.runCtx, c); perr != nil {
			// Roll the in-memory set back so it matches what is stored.
			if existed {
				_ = o.configs.Put(prev)
			} else {
				_, _ = o.configs.Remove(c.ID)
			}
			err = &PersistenceError{Op: "save config", Err: perr}
			return
		}
		o.logger.Info("config saved", "config_id", c.ID, "fields", len(c.Fields), "line_item_fields", len(c.LineItemFields))
	})
	if derr != nil {
		return invoice.Config{}, derr
	}
	if err != nil {
		return invoice.Config{}, err
	}
	return c.Clone(), nil
}

// DeleteConfig removes a user config. Predefined configs cannot be deleted.
func (o *Orchestrator) DeleteConfig(ctx context.Context, id string) error {
	var err error
	derr := o.do(ctx, func() {
		ok, rerr := o.configs.Remove(id)
		if rerr != nil {
			err = rerr
			return
		}
		if !ok {
			err = ErrConfigNotFound
			return
		}
		if serr := o.deps.Configs.DeleteConfig(o.runCtx, id); serr != nil && !errors.Is(serr, storage.ErrNotFound) {
			err = &PersistenceError{Op: "delete config", Err: serr}
			return
		}
		o.logger.Info("config deleted", "config_id", id)
	})
	if derr != nil {
		return derr
	}
	return err
}
