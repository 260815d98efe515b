package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

type ToolFunc func(ctx context.Context, args map[string]any) (string, error)

// SideEffect classifies what a tool may touch.
type SideEffect int

const (
	ReadOnly SideEffect = iota
	Mutating
	ProcessSpawning
)

func (s SideEffect) String() string {
	switch s {
	case ReadOnly:
		return "read-only"
	case Mutating:
		return "mutating"
	case ProcessSpawning:
		return "process-spawning"
	default:
		return fmt.Sprintf("side-effect(%d)", int(s))
	}
}

// Idempotency must be declared by every mutating or process-spawning tool.
type Idempotency int

const (
	IdempotencyUnset Idempotency = iota
	Idempotent
	NonIdempotent
)

type Tool struct {
	Name        string
	Description string
	SchemaJSON  string
	Fn          ToolFunc
	SideEffect  SideEffect
	Idempotency Idempotency
	Retryable   bool          // transient failures may be retried (never for NonIdempotent)
	Timeout     time.Duration // hard timeout; 0 means none
	Category    string
	// Footprint lists the resources a call touches. Read-only calls with
	// pairwise disjoint footprints may run concurrently. nil means unknown.
	Footprint func(args map[string]any) []string
}

// canRetry reports whether repeating a failed call is safe.
func (t Tool) canRetry() bool {
	if !t.Retryable {
		return false
	}
	return t.SideEffect == ReadOnly || t.Idempotency == Idempotent
}

// ToolResult is the observation produced by one dispatched call.
type ToolResult struct {
	CallID     string
	Name       string
	Args       map[string]any
	Output     string
	Error      string
	Success    bool
	SideEffect SideEffect
	Duration   time.Duration
	// Violation is set when the call never reached the handler.
	Violation bool
	Err       error
}

// Observation renders the result as the content appended to history.
func (r ToolResult) Observation() string {
	if r.Success {
		return r.Output
	}
	if r.Output != "" {
		return "ERROR: " + r.Error + "\n" + r.Output
	}
	return "ERROR: " + r.Error
}

type registeredTool struct {
	tool   Tool
	schema *gojsonschema.Schema
}

// Registry is the immutable set of tools available to a loop. Build it once
// with NewRegistry and share the pointer.
type Registry struct {
	tools map[string]registeredTool
	names []string
	retry RetryPolicy
}

// NewRegistry compiles every schema and checks the declarations.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{
		tools: make(map[string]registeredTool, len(tools)),
		retry: DefaultRetryConfig().ToolPolicy,
	}
	for _, t := range tools {
		if t.Name == "" {
			return nil, errors.New("tool with empty name")
		}
		if _, dup := r.tools[t.Name]; dup {
			return nil, fmt.Errorf("duplicate tool %q", t.Name)
		}
		if t.Fn == nil {
			return nil, fmt.Errorf("tool %q has no handler", t.Name)
		}
		if t.SideEffect != ReadOnly && t.Idempotency == IdempotencyUnset {
			return nil, fmt.Errorf("tool %q is %s and must declare idempotency", t.Name, t.SideEffect)
		}
		schemaJSON := t.SchemaJSON
		if schemaJSON == "" {
			schemaJSON = `{"type":"object"}`
			t.SchemaJSON = schemaJSON
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
		if err != nil {
			return nil, fmt.Errorf("tool %q: invalid schema: %w", t.Name, err)
		}
		r.tools[t.Name] = registeredTool{tool: t, schema: schema}
		r.names = append(r.names, t.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

// WithRetryPolicy returns a copy of the registry using p for retryable tools.
func (r *Registry) WithRetryPolicy(p RetryPolicy) *Registry {
	cp := *r
	cp.retry = p
	return &cp
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	rt, ok := r.tools[name]
	return rt.tool, ok
}

// Names returns the sorted tool names.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Len returns the number of tools.
func (r *Registry) Len() int { return len(r.names) }

// Schemas returns the schema set sent to the oracle, sorted by name.
func (r *Registry) Schemas() []ToolSchema {
	s := make([]ToolSchema, 0, len(r.names))
	for _, name := range r.names {
		t := r.tools[name].tool
		s = append(s, ToolSchema{
			Name:        t.Name,
			Description: t.Description,
			JSONSchema:  t.SchemaJSON,
		})
	}
	return s
}

// Validate checks args against the current schema of the named tool.
func (r *Registry) Validate(name string, args map[string]any) error {
	rt, ok := r.tools[name]
	if !ok {
		return &SchemaViolationError{
			ToolName: name,
			Errors:   []string{fmt.Sprintf("unknown tool; available: %s", strings.Join(r.names, ", "))},
		}
	}
	return rt.validate(args)
}

func (rt registeredTool) validate(args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}
	result, err := rt.schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return &SchemaViolationError{ToolName: rt.tool.Name, Errors: []string{err.Error()}}
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return &SchemaViolationError{ToolName: rt.tool.Name, Errors: msgs}
	}
	return nil
}

// Dispatch validates and invokes one call. It never returns an error and never
// panics: every outcome is a ToolResult.
func (r *Registry) Dispatch(ctx context.Context, call ToolCall) ToolResult {
	start := time.Now()
	res := ToolResult{CallID: call.ID, Name: call.Name, Args: call.Args}

	if call.Error != "" {
		err := &SchemaViolationError{ToolName: call.Name, Errors: []string{"malformed call: " + call.Error}}
		return violation(res, err, start)
	}
	if err := r.Validate(call.Name, call.Args); err != nil {
		return violation(res, err, start)
	}
	rt := r.tools[call.Name]
	res.SideEffect = rt.tool.SideEffect

	var (
		out string
		err error
	)
	if rt.tool.canRetry() {
		out, err = RetryWithPolicy(ctx, r.retry,
			func(ctx context.Context) (string, error) { return rt.invoke(ctx, call.Args) },
			func(err error) RetryClass { return ClassifyToolError(err, true) },
			nil)
	} else {
		out, err = rt.invoke(ctx, call.Args)
	}

	res.Output = out
	res.Duration = time.Since(start)
	if err != nil {
		res.Err = err
		if errors.Is(err, ErrToolTimeout) {
			res.Error = ErrToolTimeout.Error()
		} else {
			res.Error = err.Error()
		}
		return res
	}
	res.Success = true
	return res
}

func violation(res ToolResult, err error, start time.Time) ToolResult {
	res.Violation = true
	res.Err = err
	res.Error = err.Error()
	res.Duration = time.Since(start)
	return res
}

// invoke runs the handler under the tool's hard timeout. A handler that
// ignores its context is abandoned when the timeout fires.
func (rt registeredTool) invoke(ctx context.Context, args map[string]any) (string, error) {
	if rt.tool.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rt.tool.Timeout)
		defer cancel()
	}

	type outcome struct {
		out string
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("%w: panic in %s: %v", ErrToolExecution, rt.tool.Name, p)}
			}
		}()
		out, err := rt.tool.Fn(ctx, args)
		done <- outcome{out: out, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && rt.tool.Timeout > 0 {
			return o.out, fmt.Errorf("%w: %s exceeded %s", ErrToolTimeout, rt.tool.Name, rt.tool.Timeout)
		}
		return o.out, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && rt.tool.Timeout > 0 {
			return "", fmt.Errorf("%w: %s exceeded %s", ErrToolTimeout, rt.tool.Name, rt.tool.Timeout)
		}
		return "", ctx.Err()
	}
}
