package server

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewInfoRole(t *testing.T) {
	master := NewInfo(DefaultConfig())
	require.Equal(t, "master", master.Role)

	cfg := DefaultConfig()
	cfg.ReplicaOf = "localhost 6380"
	replica := NewInfo(cfg)
	require.Equal(t, "slave", replica.Role)
}

func TestNewReplIDIsFortyHexCharsAndUnique(t *testing.T) {
	a := newReplID()
	b := newReplID()
	require.Len(t, a, 40)
	require.Len(t, b, 40)
	require.NotEqual(t, a, b)
	require.Regexp(t, "^[0-9a-f]{40}$", a)
}
