package lightmon

import "errors"

var (
	// ErrMissingField is returned when a Report is constructed without all
	// of url, name, preset, date and path.
	ErrMissingField = errors.New("missing required report field")

	// ErrMissingArgument is returned by lookups keyed on a natural key when
	// one of its parts is empty.
	ErrMissingArgument = errors.New("missing required argument")

	// ErrInvalidTimestamp is returned when a watermark cannot be parsed.
	ErrInvalidTimestamp = errors.New("invalid timestamp")

	// ErrCorruptArtifact is returned when a config artifact cannot be
	// decompressed or parsed.
	ErrCorruptArtifact = errors.New("corrupt artifact")

	// ErrBackingStoreUnavailable is returned when the index file cannot be
	// opened or migrated.
	ErrBackingStoreUnavailable = errors.New("index backing store unavailable")

	// ErrSyncProcessExhausted is returned when the sync process crashed more
	// often in a row than the restart ceiling allows.
	ErrSyncProcessExhausted = errors.New("sync process exceeded restart limit")
)
