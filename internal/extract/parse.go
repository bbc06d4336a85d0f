// Package extract turns untrusted language-model output into typed records.
//
// Every strategy is a strict parser that either yields a validated value
// tagged with the tier that produced it, or a failure carrying the reason.
package extract

import "fmt"

// Tier identifies the strategy that produced a parse.
type Tier int

const (
	TierNone Tier = iota
	TierToolCall
	TierArraySpan
	TierFenced
	TierRepaired
	TierBraceScan
	TierDirect
	TierObjectSpan
)

func (t Tier) String() string {
	switch t {
	case TierToolCall:
		return "tool_call"
	case TierArraySpan:
		return "array_span"
	case TierFenced:
		return "fenced_block"
	case TierRepaired:
		return "repaired"
	case TierBraceScan:
		return "brace_scan"
	case TierDirect:
		return "direct"
	case TierObjectSpan:
		return "object_span"
	default:
		return "none"
	}
}

// Parse is the result of one parsing attempt: either a success holding a
// value and its tier, or a failure holding a reason.
type Parse[T any] struct {
	Value  T
	Tier   Tier
	Reason string
	ok     bool
}

// Success builds a successful parse.
func Success[T any](v T, tier Tier) Parse[T] {
	return Parse[T]{Value: v, Tier: tier, ok: true}
}

// Failure builds a failed parse.
func Failure[T any](format string, args ...any) Parse[T] {
	return Parse[T]{Reason: fmt.Sprintf(format, args...)}
}

// OK reports whether the parse succeeded.
func (p Parse[T]) OK() bool { return p.ok }
