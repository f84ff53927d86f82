package logging

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// New builds the process logger: human-readable development output when
// debug is set, JSON production output otherwise.
func New(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// EveryN lets through the first and then every Nth call, for log lines on
// hot receive paths.
type EveryN struct {
	n     uint64
	count atomic.Uint64
}

func NewEveryN(n int) *EveryN {
	if n < 1 {
		n = 1
	}
	return &EveryN{n: uint64(n)}
}

// Allow reports whether this call should be logged and how many calls have
// been seen in total.
func (e *EveryN) Allow() (bool, uint64) {
	c := e.count.Add(1)
	return (c-1)%e.n == 0, c
}
