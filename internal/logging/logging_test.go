package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEveryN(t *testing.T) {
	every := NewEveryN(3)
	var allowed []uint64
	for i := 0; i < 7; i++ {
		if ok, count := every.Allow(); ok {
			allowed = append(allowed, count)
		}
	}
	assert.Equal(t, []uint64{1, 4, 7}, allowed)
}

func TestEveryNClampsToOne(t *testing.T) {
	every := NewEveryN(0)
	for i := 0; i < 3; i++ {
		ok, _ := every.Allow()
		assert.True(t, ok)
	}
}

func TestNew(t *testing.T) {
	logger, err := New(true)
	assert.NoError(t, err)
	assert.NotNil(t, logger)
}
