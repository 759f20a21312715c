package usage

import (
	"maps"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Kind tags the upstream operation that produced a record.
type Kind string

const (
	KindConverse Kind = "converse"
	KindRAG      Kind = "rag"
	KindAgent    Kind = "agent"
	KindOther    Kind = "other"
)

const (
	// DefaultCapacity is used when no capacity is configured.
	DefaultCapacity = 500
	// DefaultRecentLimit is the window Recent uses for a zero limit.
	DefaultRecentLimit = 50
	// DefaultSummaryLimit is the window Summarize uses for a zero limit.
	DefaultSummaryLimit = 100
	// MaxLimit bounds every read window.
	MaxLimit = 500
)

// Candidate is the unsanitized input to Append. Token counters are floats
// because they come from decoded trace payloads as often as from typed SDK
// fields; Append turns them into non-negative integers or drops them.
type Candidate struct {
	Kind         Kind
	ModelID      string
	AgentID      string
	InputTokens  *float64
	OutputTokens *float64
	TotalTokens  *float64
	Estimated    bool
	Meta         map[string]any
}

// Record is one accounting entry. Records are never mutated after Append.
type Record struct {
	Timestamp    time.Time      `json:"ts"`
	Kind         Kind           `json:"kind"`
	ModelID      string         `json:"modelId,omitempty"`
	AgentID      string         `json:"agentId,omitempty"`
	InputTokens  *int64         `json:"inputTokens,omitempty"`
	OutputTokens *int64         `json:"outputTokens,omitempty"`
	TotalTokens  *int64         `json:"totalTokens,omitempty"`
	Estimated    bool           `json:"estimated"`
	Meta         map[string]any `json:"meta,omitempty"`
}

// HasTokens reports whether any token counter is present.
func (r Record) HasTokens() bool {
	return r.InputTokens != nil || r.OutputTokens != nil || r.TotalTokens != nil
}

// Summary aggregates a window of recent records.
type Summary struct {
	Window          int        `json:"window"`
	Count           int        `json:"count"`
	AvgInputTokens  float64    `json:"avgInputTokens"`
	AvgOutputTokens float64    `json:"avgOutputTokens"`
	AvgTotalTokens  float64    `json:"avgTotalTokens"`
	LastTimestamp   *time.Time `json:"lastTs"`
}

// Ledger is a fixed-capacity ring buffer of usage records. The oldest record
// is evicted once capacity is exceeded. It is safe for concurrent use.
type Ledger struct {
	mu   sync.Mutex
	buf  []Record
	head int
	size int
	last time.Time
	now  func() time.Time
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLedger builds a ledger retaining at most capacity records. Negative
// capacities are treated as zero, which retains nothing.
func NewLedger(capacity int, opts ...Option) *Ledger {
	if capacity < 0 {
		capacity = 0
	}
	l := &Ledger{
		buf: make([]Record, capacity),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Capacity returns the maximum number of retained records.
func (l *Ledger) Capacity() int {
	return len(l.buf)
}

// Len returns the number of retained records.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Append sanitizes the candidate, stamps it and stores it at the tail.
func (l *Ledger) Append(c Candidate) Record {
	kind := c.Kind
	if kind == "" {
		kind = KindOther
	}
	rec := Record{
		Kind:         kind,
		ModelID:      c.ModelID,
		AgentID:      c.AgentID,
		InputTokens:  sanitize(c.InputTokens),
		OutputTokens: sanitize(c.OutputTokens),
		TotalTokens:  sanitize(c.TotalTokens),
		Estimated:    c.Estimated,
	}
	if len(c.Meta) > 0 {
		rec.Meta = maps.Clone(c.Meta)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.now().UTC()
	if !ts.After(l.last) {
		ts = l.last.Add(time.Nanosecond)
	}
	l.last = ts
	rec.Timestamp = ts

	capacity := len(l.buf)
	if capacity == 0 {
		return rec
	}
	if l.size < capacity {
		l.buf[(l.head+l.size)%capacity] = rec
		l.size++
		return rec
	}
	l.buf[l.head] = rec
	l.head = (l.head + 1) % capacity
	return rec
}

// Recent returns up to limit records, newest first. See ClampLimit for how
// limit is interpreted.
func (l *Ledger) Recent(limit int) []Record {
	return l.window(ClampLimit(limit, DefaultRecentLimit))
}

// Snapshot returns every retained record in insertion order.
func (l *Ledger) Snapshot() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, l.size)
	for i := range out {
		out[i] = l.at(i)
	}
	return out
}

// Summarize averages token counters over the same window Recent would
// return. Only records carrying at least one counter contribute to the
// averages; a missing total falls back to input+output.
func (l *Ledger) Summarize(limit int) Summary {
	rows := l.window(ClampLimit(limit, DefaultSummaryLimit))
	sum := Summary{Window: len(rows)}
	if len(rows) == 0 {
		return sum
	}
	newest := rows[0].Timestamp
	sum.LastTimestamp = &newest

	var in, out, total int64
	for _, rec := range rows {
		if !rec.HasTokens() {
			continue
		}
		sum.Count++
		i, o := deref(rec.InputTokens), deref(rec.OutputTokens)
		in += i
		out += o
		if rec.TotalTokens != nil {
			total += *rec.TotalTokens
		} else {
			total += i + o
		}
	}
	if sum.Count > 0 {
		n := float64(sum.Count)
		sum.AvgInputTokens = float64(in) / n
		sum.AvgOutputTokens = float64(out) / n
		sum.AvgTotalTokens = float64(total) / n
	}
	return sum
}

func (l *Ledger) window(n int) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n > l.size {
		n = l.size
	}
	out := make([]Record, n)
	for i := range out {
		out[i] = l.at(l.size - 1 - i)
	}
	return out
}

// at returns the i-th oldest record; callers hold mu.
func (l *Ledger) at(i int) Record {
	return l.buf[(l.head+i)%len(l.buf)]
}

// ClampLimit maps a requested window onto [1, MaxLimit]. Zero selects def.
func ClampLimit(limit, def int) int {
	switch {
	case limit == 0:
		limit = def
	case limit < 1:
		limit = 1
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return limit
}

// ParseLimit reads a query-string window. Missing, non-numeric or zero input
// yields zero so that ClampLimit applies the default; any other number
// keeps its sign so that fractions below one still clamp to one.
func ParseLimit(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	if f > MaxLimit {
		return MaxLimit
	}
	switch {
	case f < -MaxLimit:
		return -1
	case f > 0 && f < 1:
		return 1
	case f < 0 && f > -1:
		return -1
	}
	return int(f)
}

// Tokens converts an integer counter into a Candidate field.
func Tokens[T ~int | ~int32 | ~int64](v T) *float64 {
	f := float64(v)
	return &f
}

// TokensPtr is Tokens for optional counters; nil stays nil.
func TokensPtr[T ~int | ~int32 | ~int64](v *T) *float64 {
	if v == nil {
		return nil
	}
	return Tokens(*v)
}

func sanitize(v *float64) *int64 {
	if v == nil {
		return nil
	}
	x := *v
	if math.IsNaN(x) || math.IsInf(x, 0) || x < 0 {
		return nil
	}
	var n int64
	if x >= math.MaxInt64 {
		n = math.MaxInt64
	} else {
		n = int64(math.Floor(x))
	}
	return &n
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
