package index

import (
	"fmt"
	"path/filepath"

	"lightmon/internal/config"
	"lightmon/internal/lightmon"
)

// Index is what the rest of the app needs from a backend: the report
// queries plus the operation log.
type Index interface {
	lightmon.Index
	lightmon.OperationLog
}

// NewIndexFromConfig creates an Index implementation based on the index config type.
// A sqlite index lives at <data_dir>/<instanceID>.db so several report
// stores can share one cache directory.
func NewIndexFromConfig(cfg config.IndexConfig, instanceID string, clock lightmon.Clock) (Index, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite index")
		}
		if instanceID == "" {
			return nil, fmt.Errorf("instance_id required for sqlite index")
		}
		return NewSQLiteIndex(filepath.Join(cfg.DataDir, instanceID+".db"), clock)
	case "memory":
		return NewSQLiteIndex(MemoryPath, clock)
	case "none":
		return NewNopIndex(), nil
	default:
		return nil, fmt.Errorf("unknown index type: %s", cfg.Type)
	}
}
