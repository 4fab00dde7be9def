package inventory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Stock is either a finite non-negative count or Unbounded. Unbounded never
// takes part in arithmetic.
type Stock struct {
	n         int
	unbounded bool
}

const unboundedJSON = `"unbounded"`

func Finite(n int) Stock {
	if n < 0 {
		n = 0
	}
	return Stock{n: n}
}

func Unbounded() Stock { return Stock{unbounded: true} }

func (s Stock) IsUnbounded() bool { return s.unbounded }

// Count returns the finite count; ok is false for Unbounded.
func (s Stock) Count() (n int, ok bool) {
	if s.unbounded {
		return 0, false
	}
	return s.n, true
}

// Covers reports whether qty units can be taken from s.
func (s Stock) Covers(qty int) bool {
	return s.unbounded || qty <= s.n
}

// Add sums two stocks. Unbounded dominates; finite sums saturate.
func (s Stock) Add(o Stock) Stock {
	if s.unbounded || o.unbounded {
		return Unbounded()
	}
	if s.n > math.MaxInt-o.n {
		return Finite(math.MaxInt)
	}
	return Finite(s.n + o.n)
}

func (s Stock) String() string {
	if s.unbounded {
		return "unbounded"
	}
	return strconv.Itoa(s.n)
}

// IntPtr is the finite count as a pointer, nil when unbounded.
func (s Stock) IntPtr() *int {
	if s.unbounded {
		return nil
	}
	n := s.n
	return &n
}

// MarshalJSON writes a number, or the string "unbounded".
func (s Stock) MarshalJSON() ([]byte, error) {
	if s.unbounded {
		return []byte(unboundedJSON), nil
	}
	return []byte(strconv.Itoa(s.n)), nil
}

func (s *Stock) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if string(b) == unboundedJSON {
		*s = Unbounded()
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("stock: want integer or %s, got %s", unboundedJSON, b)
	}
	if n < 0 {
		return fmt.Errorf("stock: negative count %d", n)
	}
	*s = Finite(n)
	return nil
}
