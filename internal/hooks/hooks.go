// Package hooks defines the day lifecycle hook interfaces and the registry
// that runs them.
package hooks

import (
	"context"

	"go.uber.org/zap"

	"github.com/stackinspector/teo-utils/internal/events"
	"github.com/stackinspector/teo-utils/internal/logging"
)

// Hook is the base interface all hooks implement.
type Hook interface {
	ID() string
}

// DayStartHook is called after the segment list is known, before the
// archive is created.
type DayStartHook interface {
	OnDayStart(ctx context.Context, e *events.DayStart) error
}

// SegmentHook is called after each record is appended to the archive.
type SegmentHook interface {
	OnSegment(ctx context.Context, e *events.Segment) error
}

// ArchivedHook is called after the archive is closed.
type ArchivedHook interface {
	OnArchived(ctx context.Context, e *events.DayResult) error
}

// Registry runs hooks in registration order. Hook errors are logged and
// never abort the day.
type Registry struct {
	hooks    []Hook
	dayStart []DayStartHook
	segment  []SegmentHook
	archived []ArchivedHook
	logger   *zap.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{logger: logging.OrNop(logger)}
}

// Register detects which capability interfaces a hook implements and adds
// it to the matching lists.
func (r *Registry) Register(h Hook) {
	r.hooks = append(r.hooks, h)
	if hook, ok := h.(DayStartHook); ok {
		r.dayStart = append(r.dayStart, hook)
	}
	if hook, ok := h.(SegmentHook); ok {
		r.segment = append(r.segment, hook)
	}
	if hook, ok := h.(ArchivedHook); ok {
		r.archived = append(r.archived, hook)
	}
}

// IDs returns the ids of all registered hooks in order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.hooks))
	for _, h := range r.hooks {
		ids = append(ids, h.ID())
	}
	return ids
}

// DayStart runs every DayStartHook.
func (r *Registry) DayStart(ctx context.Context, e *events.DayStart) {
	if r == nil {
		return
	}
	for _, hook := range r.dayStart {
		if err := hook.OnDayStart(ctx, e); err != nil {
			r.logger.Warn("day start hook error",
				zap.String("hook", hookID(hook)),
				zap.Error(err))
		}
	}
}

// Segment runs every SegmentHook.
func (r *Registry) Segment(ctx context.Context, e *events.Segment) {
	if r == nil {
		return
	}
	for _, hook := range r.segment {
		if err := hook.OnSegment(ctx, e); err != nil {
			r.logger.Warn("segment hook error",
				zap.String("hook", hookID(hook)),
				zap.Error(err))
		}
	}
}

// Archived runs every ArchivedHook.
func (r *Registry) Archived(ctx context.Context, e *events.DayResult) {
	if r == nil {
		return
	}
	for _, hook := range r.archived {
		if err := hook.OnArchived(ctx, e); err != nil {
			r.logger.Warn("archived hook error",
				zap.String("hook", hookID(hook)),
				zap.Error(err))
		}
	}
}

func hookID(hook any) string {
	if h, ok := hook.(Hook); ok {
		return h.ID()
	}
	return "unknown"
}
