package quest

import (
	"fmt"
	"strconv"
)

// Progress is a derived view of how close a ticket is to completion.
// It is recomputed from the ticket on demand and never stored on its own.
type Progress struct {
	Current          float64
	Goal             float64
	DisplayPrecision int
}

// IsComplete reports whether Current has reached Goal.
func (p Progress) IsComplete() bool { return p.Current >= p.Goal }

// Fraction returns Current/Goal clamped to [0, 1].
func (p Progress) Fraction() float64 {
	if p.Goal <= 0 {
		return 1
	}
	f := p.Current / p.Goal
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// String renders "current/goal" using DisplayPrecision decimals.
func (p Progress) String() string {
	return p.format(p.Current) + "/" + p.format(p.Goal)
}

func (p Progress) format(v float64) string {
	if p.DisplayPrecision <= 0 {
		return strconv.FormatInt(int64(v), 10)
	}
	return fmt.Sprintf("%.*f", p.DisplayPrecision, v)
}
