package fsm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type state string
type event string

func TestMachine(t *testing.T) {
	table := map[state]map[event]state{
		"open": {"close": "closed", "touch": "open"},
	}
	m := New("door", table)

	// mutating the source table must not leak into the machine
	table["closed"] = map[event]state{"open": "open"}

	t.Run("allowed transition", func(t *testing.T) {
		to, err := m.Next("open", "close")
		assert.NoError(t, err)
		assert.Equal(t, state("closed"), to)
	})

	t.Run("self loop", func(t *testing.T) {
		to, err := m.Next("open", "touch")
		assert.NoError(t, err)
		assert.Equal(t, state("open"), to)
	})

	t.Run("rejected transition keeps state", func(t *testing.T) {
		to, err := m.Next("closed", "open")
		assert.Equal(t, state("closed"), to)
		assert.True(t, errors.Is(err, ErrInvalidTransition))

		var te *TransitionError
		assert.True(t, errors.As(err, &te))
		assert.Equal(t, "door", te.Machine)
		assert.Equal(t, "door: cannot open from closed", err.Error())
	})

	t.Run("terminal and can", func(t *testing.T) {
		assert.True(t, m.Terminal("closed"))
		assert.False(t, m.Terminal("open"))
		assert.True(t, m.Can("open", "close"))
		assert.False(t, m.Can("open", "open"))
	})
}
