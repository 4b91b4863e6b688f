// Package replay operationalizes the replay-determinism property —
// re-running the pipeline over the same inputs with the same versioned
// rules produces byte-identical outputs — as a reusable test helper rather
// than a one-off assertion duplicated in every package.
package replay

import (
	"fmt"

	"github.com/tenon-core/tenon/internal/canon"
)

// Script describes a replayable sequence: New builds a fresh instance of
// the system under test, Inputs is the recorded sequence of calls to make
// against it, and Apply performs one call. Replay builds two independent
// systems from New and feeds both the same Inputs, so any hidden mutable
// state that leaked between calls (a clock read, a map iteration, an
// un-seeded random source) shows up as a divergence rather than passing by
// accident because both runs shared one instance.
type Script[S any, In any, Out any] struct {
	New    func() S
	Inputs []In
	Apply  func(s S, in In) (Out, error)
}

// Replay runs the script twice against independently-constructed systems
// and returns both output sequences for comparison.
func (s Script[S, In, Out]) Replay() (first, second []Out, err error) {
	first, err = s.runOnce()
	if err != nil {
		return nil, nil, fmt.Errorf("first replay run: %w", err)
	}
	second, err = s.runOnce()
	if err != nil {
		return nil, nil, fmt.Errorf("second replay run: %w", err)
	}
	return first, second, nil
}

func (s Script[S, In, Out]) runOnce() ([]Out, error) {
	sys := s.New()
	outs := make([]Out, 0, len(s.Inputs))
	for i, in := range s.Inputs {
		out, err := s.Apply(sys, in)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		outs = append(outs, out)
	}
	return outs, nil
}

// Divergence names one replay step whose canonical encoding differed
// between the first and second run.
type Divergence struct {
	Step       int
	FirstHash  string
	SecondHash string
}

// Compare canonically hashes each pair of outputs from two replay runs of
// equal length and reports every step at which they diverged. A nil,
// non-error result means the replay was fully deterministic.
func Compare[Out any](first, second []Out) ([]Divergence, error) {
	if len(first) != len(second) {
		return nil, fmt.Errorf("replay runs produced different step counts: %d vs %d", len(first), len(second))
	}
	var diverged []Divergence
	for i := range first {
		h1, err := canon.Hash(first[i])
		if err != nil {
			return nil, fmt.Errorf("hash step %d (first run): %w", i, err)
		}
		h2, err := canon.Hash(second[i])
		if err != nil {
			return nil, fmt.Errorf("hash step %d (second run): %w", i, err)
		}
		if h1 != h2 {
			diverged = append(diverged, Divergence{Step: i, FirstHash: h1, SecondHash: h2})
		}
	}
	return diverged, nil
}

// AssertDeterministic runs Replay then Compare in one call, the common
// case for a test that just wants a yes/no answer plus the divergence
// detail on failure.
func (s Script[S, In, Out]) AssertDeterministic() ([]Divergence, error) {
	first, second, err := s.Replay()
	if err != nil {
		return nil, err
	}
	return Compare(first, second)
}
