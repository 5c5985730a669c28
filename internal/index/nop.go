package index

import (
	"time"

	"lightmon/internal/lightmon"
)

// NopIndex runs the system with indexing disabled. Writes are discarded,
// lookups find nothing and the operation log records nothing.
type NopIndex struct{}

var (
	_ lightmon.Index        = NopIndex{}
	_ lightmon.OperationLog = NopIndex{}
)

func NewNopIndex() NopIndex { return NopIndex{} }

func (NopIndex) Upsert(*lightmon.Report) error { return nil }
func (NopIndex) UpdateCurrentLastseen(string) error { return nil }
func (NopIndex) Delete(*lightmon.Report) error { return nil }
func (NopIndex) DeleteByMeta(string, string, string) error { return nil }
func (NopIndex) Get(string) (*lightmon.Report, error) { return nil, nil }
func (NopIndex) All() ([]*lightmon.Report, error) { return []*lightmon.Report{}, nil }
func (NopIndex) UniqueURLs() ([]string, error) { return []string{}, nil }
func (NopIndex) PresetsForURL(string) ([]string, error) { return []string{}, nil }
func (NopIndex) Outdated() ([]*lightmon.Report, error) { return []*lightmon.Report{}, nil }
func (NopIndex) Close() error { return nil }

func (NopIndex) DatesForURLAndPreset(string, string) ([]lightmon.DateRef, error) {
	return []lightmon.DateRef{}, nil
}

func (NopIndex) YoungerThan(time.Time) ([]*lightmon.Report, error) {
	return []*lightmon.Report{}, nil
}

func (NopIndex) OlderThan(time.Time) ([]*lightmon.Report, error) {
	return []*lightmon.Report{}, nil
}

func (NopIndex) ByURLPresetDate(string, string, string) ([]*lightmon.Report, error) {
	return []*lightmon.Report{}, nil
}

func (NopIndex) CreateOperation(operation, parameters string) (*lightmon.Operation, error) {
	return &lightmon.Operation{Operation: operation, Parameters: parameters}, nil
}

func (NopIndex) FinishOperation(int64, string) error { return nil }

func (NopIndex) ListOperations(int) ([]*lightmon.Operation, error) {
	return []*lightmon.Operation{}, nil
}
