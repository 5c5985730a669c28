package lightmon

import "io"

// Vault is a backend that stores archived artifacts under string keys.
// Keys use forward slashes regardless of platform.
type Vault interface {
	// Put stores size bytes read from r under key, replacing existing data.
	Put(key string, r io.Reader, size int64) error

	// Get writes the data stored under key to w.
	Get(key string, w io.Writer) error

	// List returns all keys starting with prefix in ascending order.
	List(prefix string) ([]string, error)

	// ValidateSetup verifies that the vault is accessible.
	ValidateSetup() error
}

// Archiver keeps a copy of a report's artifacts before retention deletes
// them from the store.
type Archiver interface {
	ArchiveReport(report *Report) error
}

// Encryptor handles encryption of archived artifacts and unlocking for
// decryption. Encryption needs the public key only; decryption requires a
// passphrase to unlock the private key.
type Encryptor interface {
	// Setup generates a key pair and protects the private key with passphrase.
	Setup(passphrase string) error

	// Encrypt encrypts data read from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key and returns a DecryptionContext.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured returns true if both key files exist.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory for the
// duration of a restore.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
