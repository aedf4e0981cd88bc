package server

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsReplica(t *testing.T) {
	require.False(t, DefaultConfig().IsReplica())

	cfg := DefaultConfig()
	cfg.ReplicaOf = "localhost 6380"
	require.True(t, cfg.IsReplica())
}

func TestMasterAddr(t *testing.T) {
	cfg := Config{ReplicaOf: "localhost 6380"}
	addr, err := cfg.MasterAddr()
	require.NoError(t, err)
	require.Equal(t, "localhost:6380", addr)
}

func TestMasterAddrRejectsMalformedValue(t *testing.T) {
	_, err := (Config{ReplicaOf: "localhost"}).MasterAddr()
	require.Error(t, err)

	_, err = (Config{ReplicaOf: "localhost notaport"}).MasterAddr()
	require.Error(t, err)
}
