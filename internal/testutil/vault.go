package testutil

import (
	"lightmon/internal/archive"
)

// NewTestVault creates a new in-memory vault for testing.
func NewTestVault() *archive.MemoryVault {
	return archive.NewMemoryVault()
}
