package replyfeed

import "fmt"

// Count is a tri-state non-negative counter: either Unknown or Known(n).
//
// The zero value is Unknown. A dedicated type is used instead of a sentinel
// so that "zero remaining" and "don't know" can never be confused.
type Count struct {
	n     int
	known bool
}

// Unknown returns the unknown count.
func Unknown() Count {
	return Count{}
}

// Known returns a known count, floored at zero.
func Known(n int) Count {
	if n < 0 {
		n = 0
	}
	return Count{n: n, known: true}
}

// Get returns the counter value and whether it is known.
func (c Count) Get() (int, bool) {
	return c.n, c.known
}

// IsKnown reports whether the counter holds a concrete value.
func (c Count) IsKnown() bool {
	return c.known
}

// Is reports whether the counter is known and equal to n.
func (c Count) Is(n int) bool {
	return c.known && c.n == n
}

// Add returns the counter shifted by delta, floored at zero.
// Adding to an unknown counter yields an unknown counter.
func (c Count) Add(delta int) Count {
	if !c.known {
		return c
	}
	return Known(c.n + delta)
}

// String renders the counter for logs and test failures.
func (c Count) String() string {
	if !c.known {
		return "unknown"
	}
	return fmt.Sprintf("%d", c.n)
}
