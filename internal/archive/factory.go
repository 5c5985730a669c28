package archive

import (
	"context"
	"fmt"

	"lightmon/internal/config"
	"lightmon/internal/lightmon"
)

// NewVaultFromConfig creates a Vault based on the archive config type.
// Type "none" returns a nil Vault: pruned reports are not archived.
func NewVaultFromConfig(ctx context.Context, cfg config.ArchiveConfig) (lightmon.Vault, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "memory":
		return NewMemoryVault(), nil
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem archive requires fs_root to be set")
		}
		return NewFileSystemVault(cfg.FSRoot)
	case "s3":
		return NewS3VaultFromConfig(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown archive type: %s", cfg.Type)
	}
}
