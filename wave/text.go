package wave

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ParseText reads a trace in waves text form:
//
//	# comment
//	t sclk mosi miso ss cpol cpha data:8
//	0.000 0 1 0 1 0 0 0x3f
//	0.001 1 1 0 0 0 0 0x40
//
// The header names the time column followed by the signals, each optionally
// suffixed with ":width". Every following line holds a timestamp and one
// integer value per signal. Integers may carry a 0x, 0b or 0o prefix.
func ParseText(r io.Reader) (*Trace, error) {
	var (
		t      *Trace
		fields []string
		values []uint64
		line   int
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}
		fields = strings.Fields(text)
		if len(fields) == 0 {
			continue
		}
		if t == nil {
			signals, err := parseHeader(fields)
			if err != nil {
				return nil, fmt.Errorf("wave: line %d: %w", line, err)
			}
			t, err = NewTrace(signals...)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			values = make([]uint64, len(signals))
			continue
		}
		if len(fields) != len(values)+1 {
			return nil, fmt.Errorf("wave: line %d: got %d columns, want %d", line, len(fields), len(values)+1)
		}
		ts, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("wave: line %d: bad timestamp: %w", line, err)
		}
		for i, f := range fields[1:] {
			values[i], err = parseValue(f)
			if err != nil {
				return nil, fmt.Errorf("wave: line %d: signal %q: %w", line, t.signals[i].Name, err)
			}
		}
		if err = t.Append(ts, values...); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("wave: missing header")
	}
	return t, nil
}

func parseHeader(fields []string) ([]Signal, error) {
	if len(fields) < 2 {
		return nil, fmt.Errorf("header needs a time column and at least one signal")
	}
	signals := make([]Signal, 0, len(fields)-1)
	for _, f := range fields[1:] {
		name, width, found := strings.Cut(f, ":")
		s := Signal{Name: name, Width: 1}
		if found {
			w, err := strconv.Atoi(width)
			if err != nil || w < 1 || w > 64 {
				return nil, fmt.Errorf("signal %q: bad width %q", name, width)
			}
			s.Width = w
		}
		signals = append(signals, s)
	}
	return signals, nil
}

func parseValue(s string) (uint64, error) {
	base := 10
	if len(s) > 2 && s[0] == '0' {
		switch s[1] {
		case 'x', 'X', 'b', 'B', 'o', 'O':
			base = 0
		}
	}
	return strconv.ParseUint(s, base, 64)
}

// WriteText writes src in the form accepted by ParseText. Timestamps are
// taken from src when it is a *Trace, otherwise the sample index is used.
func WriteText(w io.Writer, src Source) error {
	bw := bufio.NewWriter(w)
	names := src.SignalNames()
	trace, _ := src.(*Trace)
	bw.WriteString("t")
	for i, name := range names {
		bw.WriteByte(' ')
		bw.WriteString(name)
		if trace != nil && trace.signals[i].Width != 1 {
			fmt.Fprintf(bw, ":%d", trace.signals[i].Width)
		}
	}
	bw.WriteByte('\n')
	for i := 0; i < src.SampleCount(); i++ {
		ts := float64(i)
		if trace != nil {
			ts = trace.times[i]
		}
		bw.WriteString(strconv.FormatFloat(ts, 'g', -1, 64))
		for _, name := range names {
			v, err := src.ValueAt(name, i)
			if err != nil {
				return err
			}
			bw.WriteByte(' ')
			bw.WriteString(strconv.FormatUint(v, 10))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}
