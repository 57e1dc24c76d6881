package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultTimeout bounds a single tool call.
const DefaultTimeout = 30 * time.Second

// Dispatcher validates tool calls and routes them to their backend.
type Dispatcher struct {
	registry *Registry
	timeout  time.Duration
	logger   *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithTimeout sets the per-call bound. Non-positive values keep the default.
func WithTimeout(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.timeout = d
		}
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(disp *Dispatcher) {
		if l != nil {
			disp.logger = l
		}
	}
}

// NewDispatcher creates a dispatcher over registry.
func NewDispatcher(registry *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		timeout:  DefaultTimeout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type invocation struct {
	result Result
	err    error
}

// Invoke runs the named tool with the raw JSON arguments the model produced.
//
// It always returns exactly one outcome: a successful Result, or one of
// UnknownToolError, ValidationError, ExecutionError, TransportError,
// TimeoutError or CancelledError. The backend is not contacted when the
// arguments fail validation. Invoke returns at the deadline even if the
// backend ignores cancellation.
func (d *Dispatcher) Invoke(ctx context.Context, name string, raw json.RawMessage) (Result, error) {
	desc, err := d.registry.Resolve(name)
	if err != nil {
		return Result{}, err
	}
	args, err := decodeArguments(name, raw)
	if err != nil {
		return Result{}, err
	}
	if err := validateArguments(desc, args); err != nil {
		return Result{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan invocation, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- invocation{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		res, err := desc.Backend.Invoke(callCtx, args)
		done <- invocation{result: res, err: err}
	}()

	var out invocation
	select {
	case out = <-done:
	case <-callCtx.Done():
		out = invocation{err: callCtx.Err()}
	}

	res, err := d.classify(ctx, desc, out)
	d.logger.Debug("tool call",
		"tool", name,
		"source", desc.Source,
		"duration", time.Since(start),
		"ok", err == nil,
	)
	return res, err
}

func (d *Dispatcher) classify(parent context.Context, desc Descriptor, out invocation) (Result, error) {
	if out.err == nil {
		if !out.result.Success {
			msg := out.result.Error
			if msg == "" {
				msg = "tool reported failure"
			}
			return out.result, &ExecutionError{Tool: desc.Name, Err: errors.New(msg)}
		}
		return out.result, nil
	}

	if parent.Err() != nil {
		return Result{}, &CancelledError{Tool: desc.Name, Err: parent.Err()}
	}
	if errors.Is(out.err, context.DeadlineExceeded) {
		return Result{}, &TimeoutError{Tool: desc.Name, After: d.timeout}
	}

	var transport *TransportError
	if errors.As(out.err, &transport) {
		return Result{}, out.err
	}
	var exec *ExecutionError
	if errors.As(out.err, &exec) {
		return Result{}, out.err
	}
	return Result{}, &ExecutionError{Tool: desc.Name, Err: out.err}
}
