// Package budget tracks the monetary spend of a single task and enforces its cap.
package budget

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrBudgetExceeded is returned when a projected or committed cost would cross the cap.
var ErrBudgetExceeded = errors.New("budget exceeded")

// ExceededError carries the numbers behind a failed pre-check.
type ExceededError struct {
	Spent     float64
	Projected float64
	Cap       float64
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("budget exceeded: spent $%.4f + projected $%.4f > cap $%.4f", e.Spent, e.Projected, e.Cap)
}

// Is lets errors.Is(err, ErrBudgetExceeded) match.
func (e *ExceededError) Is(target error) bool {
	return target == ErrBudgetExceeded
}

// Record is one committed charge.
type Record struct {
	Kind         string // "reasoning" | "tool"
	Name         string // model id or tool name
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Time         time.Time
}

// Ledger accumulates spend for one task. Spend only grows.
// It is safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	cap     float64
	spent   float64
	pricing Pricing
	records []Record

	warnRatio float64
	warned    bool
	onWarn    func(spent, cap float64)
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithWarnRatio sets the fraction of the cap above which OnWarn fires once.
func WithWarnRatio(r float64) Option {
	return func(l *Ledger) { l.warnRatio = r }
}

// WithWarnFunc registers a callback for the budget warning.
func WithWarnFunc(fn func(spent, cap float64)) Option {
	return func(l *Ledger) { l.onWarn = fn }
}

// NewLedger creates a ledger with the given cap in USD. A cap <= 0 means unlimited.
func NewLedger(capUSD float64, pricing Pricing, opts ...Option) *Ledger {
	if pricing == nil {
		pricing = DefaultPricing()
	}
	l := &Ledger{cap: capUSD, pricing: pricing, warnRatio: 0.8}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Cap returns the configured cap.
func (l *Ledger) Cap() float64 { return l.cap }

// Spent returns the committed spend so far.
func (l *Ledger) Spent() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.spent
}

// Remaining returns how much of the cap is left. Unlimited ledgers return -1.
func (l *Ledger) Remaining() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cap <= 0 {
		return -1
	}
	if r := l.cap - l.spent; r > 0 {
		return r
	}
	return 0
}

// Records returns a copy of committed charges.
func (l *Ledger) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Project returns the cost of a call with the given token counts.
func (l *Ledger) Project(model string, inTokens, outTokens int) float64 {
	return l.pricing.Cost(model, inTokens, outTokens)
}

// Precheck refuses a call whose projected cost would push spend over the cap.
func (l *Ledger) Precheck(model string, inTokens, outTokens int) error {
	projected := l.Project(model, inTokens, outTokens)
	return l.PrecheckCost(projected)
}

// PrecheckCost is Precheck for an already computed cost.
func (l *Ledger) PrecheckCost(projected float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cap <= 0 {
		return nil
	}
	if l.spent+projected > l.cap {
		return &ExceededError{Spent: l.spent, Projected: projected, Cap: l.cap}
	}
	return nil
}

// Charge records the actual cost of a reasoning call and returns it.
func (l *Ledger) Charge(model string, inTokens, outTokens int) float64 {
	cost := l.pricing.Cost(model, inTokens, outTokens)
	l.commit(Record{
		Kind:         "reasoning",
		Name:         model,
		InputTokens:  inTokens,
		OutputTokens: outTokens,
		CostUSD:      cost,
		Time:         time.Now(),
	})
	return cost
}

// ChargeTool records a metered tool invocation.
func (l *Ledger) ChargeTool(name string, usd float64) {
	if usd <= 0 {
		return
	}
	l.commit(Record{Kind: "tool", Name: name, CostUSD: usd, Time: time.Now()})
}

func (l *Ledger) commit(r Record) {
	l.mu.Lock()
	l.spent += r.CostUSD
	l.records = append(l.records, r)
	fire := false
	if l.cap > 0 && !l.warned && l.onWarn != nil && l.spent > l.cap*l.warnRatio {
		l.warned = true
		fire = true
	}
	spent, capUSD := l.spent, l.cap
	l.mu.Unlock()

	if fire {
		l.onWarn(spent, capUSD)
	}
}
