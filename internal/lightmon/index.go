package lightmon

import "time"

// DateRef pairs a report date with the id of the report recorded at it.
type DateRef struct {
	Date string `json:"date"`
	ID   string `json:"id"`
}

// Index is a queryable cache mirroring report metadata from the store.
// The store stays authoritative; an Index can be dropped and rebuilt by
// replaying every config artifact.
//
// Lookups of a single report return (nil, nil) when it is absent.
// Collection queries return an empty slice for unknown keys.
type Index interface {
	// Upsert inserts the report. When a row with the same id exists only its
	// lastSeen is moved to the current watermark.
	Upsert(report *Report) error

	// UpdateCurrentLastseen sets the watermark used by subsequent upserts.
	// An empty timestamp means now. Unparseable input yields
	// ErrInvalidTimestamp and leaves the watermark unchanged.
	UpdateCurrentLastseen(timestamp string) error

	// Delete removes the row of report.
	Delete(report *Report) error

	// DeleteByMeta removes rows by natural key. All parts are required.
	DeleteByMeta(name, preset, date string) error

	// Get returns the report with the given id.
	Get(id string) (*Report, error)

	// All returns every report ordered by date, then id.
	All() ([]*Report, error)

	// UniqueURLs returns the distinct audited urls in ascending order.
	UniqueURLs() ([]string, error)

	// PresetsForURL returns the distinct presets recorded for url.
	PresetsForURL(url string) ([]string, error)

	// DatesForURLAndPreset returns date to id pairs, most recent first.
	DatesForURLAndPreset(url, preset string) ([]DateRef, error)

	// YoungerThan returns reports dated strictly after date.
	YoungerThan(date time.Time) ([]*Report, error)

	// OlderThan returns reports dated strictly before date.
	OlderThan(date time.Time) ([]*Report, error)

	// ByURLPresetDate returns the reports matching all three keys.
	ByURLPresetDate(url, preset, date string) ([]*Report, error)

	// Outdated returns rows whose lastSeen is earlier than the current
	// watermark, i.e. rows the latest pass did not observe on disk.
	Outdated() ([]*Report, error)

	// Close releases the backing store.
	Close() error
}

// Operation is one recorded sync, reconcile or cleanup pass.
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string
}

// OperationLog persists the history of maintenance passes.
type OperationLog interface {
	CreateOperation(operation, parameters string) (*Operation, error)
	FinishOperation(id int64, status string) error
	ListOperations(limit int) ([]*Operation, error)
}
