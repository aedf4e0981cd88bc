package server

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// Info is the process-wide ServerInfo record: role, replication id and
// offset, and the file-path config INFO/CONFIG GET expose.
type Info struct {
	Role       string
	ReplID     string
	ReplOffset int64
	Dir        string
	DBFilename string
}

// NewInfo builds the starting ServerInfo for cfg, generating a fresh
// 40-hex-character replication id the way a freshly started master would.
func NewInfo(cfg Config) *Info {
	role := "master"
	if cfg.IsReplica() {
		role = "slave"
	}
	return &Info{
		Role:       role,
		ReplID:     newReplID(),
		Dir:        cfg.Dir,
		DBFilename: cfg.DBFilename,
	}
}

// newReplID concatenates two random UUIDs and truncates to 40 hex
// characters, since a single UUID only yields 32.
func newReplID() string {
	a, b := uuid.New(), uuid.New()
	combined := append(a[:], b[:]...)
	return hex.EncodeToString(combined)[:40]
}
