// Package executor runs task payloads. An Executor knows how to perform a
// single task type; the Registry routes tasks to the right one.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"cronflow/internal/domain"
)

// Error kinds used to classify failures for retry gating.
const (
	KindTimeout  = "timeout"
	KindNetwork  = "network"
	KindHTTP     = "http"
	KindExec     = "exec"
	KindInvalid  = "invalid_payload"
	KindInternal = "internal"
)

// Executor performs one attempt of a task and returns a short human-readable
// result on success.
type Executor interface {
	Execute(ctx context.Context, task domain.Task) (result string, err error)
}

// Error carries a classification kind alongside the underlying failure.
type Error struct {
	Kind string
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

func classify(kind string, err error) error {
	return &Error{Kind: kind, Err: err}
}

// Kind reports the classification of err. Unclassified errors, including
// context deadline expiry, fall back to timeout or internal.
func Kind(err error) string {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// Registry maps task types to executors. Types without a registered executor
// fall through to a generic acknowledger so the engine never stalls on an
// unknown type.
type Registry struct {
	mu       sync.RWMutex
	byType   map[domain.TaskType]Executor
	fallback Executor
}

func NewRegistry() *Registry {
	return &Registry{
		byType:   map[domain.TaskType]Executor{},
		fallback: Generic{},
	}
}

func (r *Registry) Register(t domain.TaskType, ex Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[t] = ex
}

func (r *Registry) Resolve(t domain.TaskType) Executor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ex, ok := r.byType[t]; ok {
		return ex
	}
	return r.fallback
}

// Execute routes the task to its executor.
func (r *Registry) Execute(ctx context.Context, task domain.Task) (string, error) {
	return r.Resolve(task.Type).Execute(ctx, task)
}

// Generic acknowledges a task without doing external work. It stands in for
// task types whose side effects live outside this process.
type Generic struct{}

func (Generic) Execute(_ context.Context, task domain.Task) (string, error) {
	log.Debug().
		Str("task", task.ID).
		Str("type", string(task.Type)).
		Msg("generic executor acknowledged task")
	return fmt.Sprintf("acknowledged %s task", task.Type), nil
}
