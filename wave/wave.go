// Package wave holds captured digital signal traces indexed by sample and
// by absolute time.
package wave

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrSignalNotFound = errors.New("wave: signal not found")
	ErrSampleRange    = errors.New("wave: sample index out of range")
	errDuplicate      = errors.New("wave: duplicate signal")
)

// Source is a finite, ordered set of samples of named signals.
type Source interface {
	// SignalNames returns the names of all signals in the source in declaration order.
	SignalNames() []string
	// SampleCount returns the number of samples N. Valid indices are [0, N).
	SampleCount() int
	// ValueAt returns the value of signal during the sample at index.
	ValueAt(signal string, index int) (uint64, error)
}

// Signal declares a named signal and its width in bits.
type Signal struct {
	Name  string
	Width int
}

// Trace is an in-memory Source. Samples are appended in time order.
type Trace struct {
	signals []Signal
	index   map[string]int
	times   []float64
	// values[s][i] is the value of signal s at sample i.
	values [][]uint64
}

var _ Source = (*Trace)(nil)

// NewTrace creates an empty trace with the given signals. A zero Width is taken as 1.
func NewTrace(signals ...Signal) (*Trace, error) {
	t := &Trace{
		index:  make(map[string]int, len(signals)),
		values: make([][]uint64, len(signals)),
	}
	for i, s := range signals {
		if s.Name == "" {
			return nil, fmt.Errorf("wave: signal %d has no name", i)
		}
		if s.Width == 0 {
			s.Width = 1
		}
		if s.Width < 0 || s.Width > 64 {
			return nil, fmt.Errorf("wave: signal %q width %d not in 1..64", s.Name, s.Width)
		}
		if _, ok := t.index[s.Name]; ok {
			return nil, fmt.Errorf("%w %q", errDuplicate, s.Name)
		}
		t.index[s.Name] = i
		t.signals = append(t.signals, s)
	}
	return t, nil
}

// Append adds a sample taken at time ts. values are given in signal declaration order.
func (t *Trace) Append(ts float64, values ...uint64) error {
	if len(values) != len(t.signals) {
		return fmt.Errorf("wave: got %d values for %d signals", len(values), len(t.signals))
	}
	if n := len(t.times); n > 0 && ts < t.times[n-1] {
		return fmt.Errorf("wave: timestamp %g before previous sample %g", ts, t.times[n-1])
	}
	for i, v := range values {
		if w := t.signals[i].Width; w < 64 && v>>w != 0 {
			return fmt.Errorf("wave: value %#x overflows %d-bit signal %q", v, w, t.signals[i].Name)
		}
	}
	t.times = append(t.times, ts)
	for i, v := range values {
		t.values[i] = append(t.values[i], v)
	}
	return nil
}

func (t *Trace) SignalNames() []string {
	names := make([]string, len(t.signals))
	for i := range t.signals {
		names[i] = t.signals[i].Name
	}
	return names
}

// Signals returns the signal declarations of the trace.
func (t *Trace) Signals() []Signal {
	return append([]Signal(nil), t.signals...)
}

func (t *Trace) SampleCount() int { return len(t.times) }

func (t *Trace) ValueAt(signal string, index int) (uint64, error) {
	s, ok := t.index[signal]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrSignalNotFound, signal)
	}
	if index < 0 || index >= len(t.times) {
		return 0, fmt.Errorf("%w: %d not in [0, %d)", ErrSampleRange, index, len(t.times))
	}
	return t.values[s][index], nil
}

// TimeAt returns the timestamp of the sample at index.
func (t *Trace) TimeAt(index int) (float64, error) {
	if index < 0 || index >= len(t.times) {
		return 0, fmt.Errorf("%w: %d not in [0, %d)", ErrSampleRange, index, len(t.times))
	}
	return t.times[index], nil
}

// IndexAtTime returns the index of the last sample taken at or before ts.
func (t *Trace) IndexAtTime(ts float64) (int, error) {
	// First sample strictly after ts.
	i := sort.Search(len(t.times), func(i int) bool { return t.times[i] > ts })
	if i == 0 {
		return 0, fmt.Errorf("%w: time %g precedes trace", ErrSampleRange, ts)
	}
	return i - 1, nil
}

// ValueAtTime returns the value signal held at absolute time ts.
func (t *Trace) ValueAtTime(signal string, ts float64) (uint64, error) {
	i, err := t.IndexAtTime(ts)
	if err != nil {
		return 0, err
	}
	return t.ValueAt(signal, i)
}
