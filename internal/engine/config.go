package engine

import "time"

// LoopOptions holds the knobs of one execution loop.
type LoopOptions struct {
	Model           string
	MaxIterations   int           // reasoning calls before the loop fails
	MaxToolFailures int           // consecutive failures of one tool before the loop fails
	OracleTimeout   time.Duration // per reasoning call
	Chat            ChatOptions
	Retry           RetryConfig

	// KeepToolCycles is how many recent tool exchanges reach the oracle
	// verbatim; older ones are summarized. Negative sends everything.
	KeepToolCycles int
	// MaxObservationChars clips each tool observation sent to the oracle.
	// Negative disables clipping.
	MaxObservationChars int
}

// DefaultLoopOptions returns the defaults used when a field is left zero.
func DefaultLoopOptions() LoopOptions {
	return LoopOptions{
		Model:           "claude-sonnet-4-20250514",
		MaxIterations:   25,
		MaxToolFailures: 3,
		OracleTimeout:   120 * time.Second,
		Chat:            ChatOptions{Temperature: 0, MaxOutputTokens: 4096},
		Retry:           DefaultRetryConfig(),

		KeepToolCycles:      defaultKeepToolCycles,
		MaxObservationChars: defaultMaxObservation,
	}
}

func (o LoopOptions) withDefaults() LoopOptions {
	d := DefaultLoopOptions()
	if o.Model == "" {
		o.Model = d.Model
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = d.MaxIterations
	}
	if o.MaxToolFailures <= 0 {
		o.MaxToolFailures = d.MaxToolFailures
	}
	if o.Chat.MaxOutputTokens <= 0 {
		o.Chat.MaxOutputTokens = d.Chat.MaxOutputTokens
	}
	if o.KeepToolCycles == 0 {
		o.KeepToolCycles = d.KeepToolCycles
	}
	if o.MaxObservationChars == 0 {
		o.MaxObservationChars = d.MaxObservationChars
	}
	if o.Retry == (RetryConfig{}) {
		o.Retry = d.Retry
	}
	return o
}

// DefaultRetryConfig returns sensible default retry policies.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		LLMPolicy: RetryPolicy{
			MaxRetries:   3,
			InitialDelay: 1 * time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		},
		ToolPolicy: RetryPolicy{
			MaxRetries:   2,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     10 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		},
	}
}
