package builtin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/mattjoyce/arbor/internal/apperr"
	"github.com/mattjoyce/arbor/internal/emitter"
	"github.com/mattjoyce/arbor/internal/lifecycle"
	"github.com/mattjoyce/arbor/internal/part"
	"github.com/mattjoyce/arbor/internal/plugin"
	"github.com/mattjoyce/arbor/internal/records"
)

// Store persists resource targets through records.Store on the "on" phase
// of every operation.
type Store struct {
	records *records.Store
	host    *plugin.Host
	logger  *slog.Logger
	active  atomic.Bool
}

func (s *Store) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{
		Domain:      domain,
		Version:     "v1",
		Name:        "store",
		Description: "Persists resource targets in SQLite",
		ConfigKeys:  &plugin.ConfigKeys{},
	}
}

func (s *Store) Load(_ context.Context, host *plugin.Host) error {
	if host.Records == nil {
		return fmt.Errorf("store: no record store configured")
	}
	if host.Tree == nil {
		return fmt.Errorf("store: no tree")
	}
	s.records = host.Records
	s.host = host
	s.logger = host.Logger

	on := emitter.MustPattern(`^on-(create|read|update|delete|find)$`)
	for _, p := range host.Tree.Resources() {
		p.Events.On(on, s.handle)
	}
	return nil
}

func (s *Store) Start(context.Context) error {
	s.active.Store(true)
	return nil
}

func (s *Store) Stop(context.Context) error {
	s.active.Store(false)
	return nil
}

func (s *Store) handle(ctx context.Context, ev *emitter.Event) error {
	if !s.active.Load() {
		return nil
	}
	target, ok := ev.Payload.(*part.Target)
	if !ok || target == nil {
		return apperr.Internal("store: event %s carries no target", ev.Name)
	}
	_, op, _ := lifecycle.ParseEventName(ev.Name)
	key := records.Key{
		Resource: resourcePath(ev.Path),
		Parent:   parentChain(target),
		ID:       target.ID,
	}

	err := s.apply(ctx, op, key, target)
	s.observe(op, err)
	if err != nil {
		s.logger.Debug("store operation failed", "operation", op, "key", key.String(), "error", err)
		return toAppErr(err, target)
	}
	return nil
}

func (s *Store) apply(ctx context.Context, op lifecycle.Operation, key records.Key, target *part.Target) error {
	switch op {
	case lifecycle.OpCreate:
		rec, err := s.records.Create(ctx, key, target.Data)
		if err != nil {
			return err
		}
		target.Result = rec
	case lifecycle.OpRead:
		rec, err := s.records.Get(ctx, key)
		if err != nil {
			return err
		}
		target.Result = rec
	case lifecycle.OpUpdate:
		rec, err := s.records.Merge(ctx, key, target.Data)
		if err != nil {
			return err
		}
		target.Result = rec
	case lifecycle.OpDelete:
		if err := s.records.Delete(ctx, key); err != nil {
			return err
		}
		target.Result = map[string]any{"deleted": key}
	case lifecycle.OpFind:
		found, err := s.records.Find(ctx, key.Resource, key.Parent, target.Query)
		if err != nil {
			return err
		}
		target.Result = found
	default:
		return fmt.Errorf("unsupported operation %q", op)
	}
	return nil
}

func (s *Store) observe(op lifecycle.Operation, err error) {
	if s.host.Metrics == nil {
		return
	}
	outcome := "ok"
	switch {
	case errors.Is(err, records.ErrNotFound):
		outcome = "not_found"
	case errors.Is(err, records.ErrExists):
		outcome = "exists"
	case err != nil:
		outcome = "error"
	}
	s.host.Metrics.RecordsOperations.WithLabelValues(string(op), outcome).Inc()
}

func toAppErr(err error, t *part.Target) error {
	switch {
	case errors.Is(err, records.ErrNotFound):
		return apperr.NotFound("%s %q not found", t.Resource, t.ID)
	case errors.Is(err, records.ErrExists):
		return apperr.UnprocessableEntity("%s %q already exists", t.Resource, t.ID)
	case errors.Is(err, records.ErrTooLarge):
		return apperr.UnprocessableEntity("%s %q: %v", t.Resource, t.ID, err)
	default:
		return apperr.Internal("store: %v", err)
	}
}
