package testutil

import (
	"lightmon/internal/encryption"
	"lightmon/internal/lightmon"
)

// NewTestEncryptor creates a keyless encryptor for archive tests.
func NewTestEncryptor() lightmon.Encryptor {
	return encryption.NewTestEncryptor()
}
