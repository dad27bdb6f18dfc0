package reactive

import (
	"context"
	"encoding/json"
	"time"

	apperrors "github.com/streamspace/reactive-query-server/internal/errors"
)

// ActionKind distinguishes a subscribable query from a one-shot mutation.
type ActionKind int

const (
	KindQuery ActionKind = iota
	KindMutation
)

// Action is implemented by QueryDef and MutationDef; the subscription
// multiplexer looks up one by name per incoming frame and type-asserts it to
// *QueryDef or *MutationDef to decide how to invoke it.
type Action interface {
	Kind() ActionKind
}

// ParamValidator is the opaque validation contract an action may declare;
// it decodes and normalizes raw params, replacing them everywhere
// downstream including fingerprinting. Satisfied by validator.Validator.
type ParamValidator interface {
	Parse(raw json.RawMessage, out any) error
}

// QueryDef declares a subscribable computation. Deps, if set, is evaluated
// against the normalized args to determine the dependency sources for this
// invocation; Compute produces the result. Immediate defaults to false: set
// it to true to make this query return a one-shot value instead of a
// LiveResult (§4.4's "immediate vs live result").
type QueryDef struct {
	Validator ParamValidator
	// NewParams returns a fresh pointer to the params type this query
	// expects (e.g. func() any { return &itemsListParams{} }), so Validator
	// has a concrete struct to decode and validate tags against. Nil means
	// params are decoded as an untyped map with no struct validation.
	NewParams func() any
	Deps      func(ctx context.Context, args any) []Source
	Compute   func(ctx context.Context, args any) (any, error)
	Cache     CacheMode
	TTL       time.Duration
	Debounce  time.Duration
	Immediate bool
}

// Kind implements Action.
func (QueryDef) Kind() ActionKind { return KindQuery }

// ParseParams decodes and validates raw params. The returned value is what
// the subscription multiplexer fingerprints for dedup purposes and what it
// later passes to Build, so validation only ever runs once per subscribe.
func (q *QueryDef) ParseParams(raw json.RawMessage) (any, error) {
	return parseArgs(q.Validator, q.NewParams, raw)
}

// Build constructs this query's result from already-validated args. If
// Immediate, Compute runs once synchronously and the value is wrapped as an
// *ImmediateResult; otherwise a fresh *Computation backs a *LiveResult. The
// computation carries no distributed cache key; use BuildForKey to mirror
// its value across replicas.
func (q *QueryDef) Build(ctx context.Context, args any) (any, error) {
	return q.BuildForKey(ctx, args, "")
}

// BuildForKey is Build, additionally giving the backing computation
// cacheKey as its distributed cache key (see reactive.WithCacheKey). The
// subscription multiplexer passes its dedup key here so a ttl_ms/infinite
// query's value is shared across replicas under the same key that
// deduplicates subscribers within one replica.
func (q *QueryDef) BuildForKey(ctx context.Context, args any, cacheKey string) (any, error) {
	if q.Immediate {
		val, err := q.Compute(ctx, args)
		if err != nil {
			return nil, apperrors.ComputeFailure(err)
		}
		return &ImmediateResult{Value: val}, nil
	}

	var deps []Source
	if q.Deps != nil {
		deps = q.Deps(ctx, args)
	}

	computeFn := func(ctx context.Context) (any, error) {
		return q.Compute(ctx, args)
	}

	computation := NewComputation[any](ctx, deps, computeFn, q.Cache, q.TTL, q.Debounce, WithCacheKey(cacheKey))
	return &LiveResult{computation: computation}, nil
}

// Invoke parses raw params and builds the result in one step. Kept for
// callers that have no need to fingerprint params separately from building.
func (q *QueryDef) Invoke(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := q.ParseParams(raw)
	if err != nil {
		return nil, err
	}
	return q.Build(ctx, args)
}

// MutationDef declares a one-shot command. It carries no reactive
// subscription machinery: Execute runs once and its result (or error) is
// returned directly.
type MutationDef struct {
	Validator ParamValidator
	// NewParams returns a fresh pointer to the params type this mutation
	// expects; see QueryDef.NewParams.
	NewParams func() any
	Execute   func(ctx context.Context, args any) (any, error)
}

// Kind implements Action.
func (MutationDef) Kind() ActionKind { return KindMutation }

// ParseParams decodes and validates raw params.
func (m *MutationDef) ParseParams(raw json.RawMessage) (any, error) {
	return parseArgs(m.Validator, m.NewParams, raw)
}

// Run executes Execute against already-validated args.
func (m *MutationDef) Run(ctx context.Context, args any) (any, error) {
	val, err := m.Execute(ctx, args)
	if err != nil {
		if _, ok := err.(*apperrors.AppError); ok {
			return nil, err
		}
		return nil, apperrors.ComputeFailure(err)
	}
	return val, nil
}

// Invoke parses raw params and runs Execute in one step.
func (m *MutationDef) Invoke(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := m.ParseParams(raw)
	if err != nil {
		return nil, err
	}
	return m.Run(ctx, args)
}

func parseArgs(v ParamValidator, newParams func() any, raw json.RawMessage) (any, error) {
	if v != nil {
		var target any
		if newParams != nil {
			target = newParams()
		} else {
			target = new(any)
		}

		if err := v.Parse(raw, target); err != nil {
			if _, ok := err.(*apperrors.AppError); ok {
				return nil, err
			}
			return nil, apperrors.InvalidInput(err.Error())
		}

		if newParams != nil {
			return target, nil
		}
		return *(target.(*any)), nil
	}

	if len(raw) == 0 {
		return nil, nil
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}
	return generic, nil
}

// LiveResult is the capability to Subscribe to a query invocation's derived
// computation; it is distinguished from ImmediateResult by the multiplexer
// via a type switch, matching §4.4's "absence of a subscribe capability"
// detection in a statically typed setting.
type LiveResult struct {
	computation *Computation[any]
}

// Subscribe attaches onValue/onError to the underlying computation.
func (lr *LiveResult) Subscribe(onValue func(any), onError func(*apperrors.AppError)) *Handle {
	return lr.computation.Subscribe(onValue, onError)
}

// Scope reports the result's inferred scope.
func (lr *LiveResult) Scope() Scope { return lr.computation.Scope() }

// EvictExpired evicts this result's cached value if it is past its TTL
// deadline; see Computation.EvictIfExpired. Used by the periodic janitor
// sweep as a backstop for a starved expiry timer.
func (lr *LiveResult) EvictExpired() bool {
	return lr.computation.EvictIfExpired(time.Now())
}

// ImmediateResult is a plain, non-reactive query result delivered once.
type ImmediateResult struct {
	Value any
}
