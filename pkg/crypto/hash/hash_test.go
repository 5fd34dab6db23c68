package hash

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeccak256(t *testing.T) {
	testCases := []struct {
		input    string
		expected string
	}{
		{"", "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470"},
		{"abc", "4e03657aea45a94fc7d47ba826c8d667c0d1e6e33a64a036ec44f58fa12d6c45"},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.expected, Keccak256([]byte(tc.input)).StringBE(), "input %q", tc.input)
	}
}

func TestKeccak256Distinct(t *testing.T) {
	a := Keccak256([]byte{0x01, 0x23})
	b := Keccak256([]byte{0x01, 0x24})
	require.NotEqual(t, a, b)
	require.Equal(t, a, Keccak256([]byte{0x01, 0x23}))
	require.False(t, a.IsZero())
}
