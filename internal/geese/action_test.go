package geese

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReverse_Table(t *testing.T) {
	cases := map[Action]Action{
		North: South,
		South: North,
		West:  East,
		East:  West,
	}
	for in, want := range cases {
		got, err := Reverse(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, "reverse of %s", in)
	}
	// Raw indices as well: 0<->1, 2<->3.
	got, err := Reverse(Action(0))
	require.NoError(t, err)
	assert.Equal(t, Action(1), got)
	got, err = Reverse(Action(3))
	require.NoError(t, err)
	assert.Equal(t, Action(2), got)
}

func TestReverse_Involution(t *testing.T) {
	for _, a := range Actions {
		once, err := Reverse(a)
		require.NoError(t, err)
		twice, err := Reverse(once)
		require.NoError(t, err)
		assert.Equal(t, a, twice)
	}
}

func TestReverse_OutOfRange(t *testing.T) {
	for _, a := range []Action{4, -1, 42} {
		_, err := Reverse(a)
		assert.ErrorIs(t, err, ErrInvalidAction)
	}
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "NORTH", North.String())
	assert.Equal(t, "EAST", East.String())
	assert.Equal(t, "Action(7)", Action(7).String())
}
