package archive

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"lightmon/internal/lightmon"
	"lightmon/internal/store"
)

// EncryptedSuffix marks archive keys holding age ciphertext.
const EncryptedSuffix = ".age"

// ErrNotFound is returned when an archive key does not exist.
var ErrNotFound = errors.New("archive object not found")

// ReportArchiver copies a report's artifacts into a vault before retention
// deletes them. Keys are the artifact paths relative to the store root, so
// a restore puts files back exactly where they were.
type ReportArchiver struct {
	vault     lightmon.Vault
	encryptor lightmon.Encryptor
	storeRoot string
	logger    lightmon.Logger
}

var _ lightmon.Archiver = (*ReportArchiver)(nil)

// NewReportArchiver creates an archiver. encryptor may be nil to store
// artifacts unencrypted.
func NewReportArchiver(vault lightmon.Vault, encryptor lightmon.Encryptor, storeRoot string, logger lightmon.Logger) *ReportArchiver {
	return &ReportArchiver{
		vault:     vault,
		encryptor: encryptor,
		storeRoot: storeRoot,
		logger:    logger,
	}
}

// Key returns the archive key of an artifact on disk.
func (a *ReportArchiver) Key(artifactPath string) (string, error) {
	rel, err := filepath.Rel(a.storeRoot, artifactPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("artifact %s is outside the store", artifactPath)
	}
	key := filepath.ToSlash(rel)
	if a.encryptor != nil {
		key += EncryptedSuffix
	}
	return key, nil
}

// ArchiveReport stores every artifact of the report that exists on disk.
// It fails on the first artifact that cannot be archived so the caller
// keeps the report.
func (a *ReportArchiver) ArchiveReport(report *lightmon.Report) error {
	for _, file := range report.Files() {
		key, err := a.Key(file)
		if err != nil {
			return err
		}

		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("reading artifact: %w", err)
		}
		if a.encryptor != nil {
			var sealed bytes.Buffer
			if err := a.encryptor.Encrypt(bytes.NewReader(data), &sealed); err != nil {
				return fmt.Errorf("encrypting %s: %w", key, err)
			}
			data = sealed.Bytes()
		}

		if err := a.vault.Put(key, bytes.NewReader(data), int64(len(data))); err != nil {
			return fmt.Errorf("archiving %s: %w", key, err)
		}
		a.logger.Debug("archived artifact", "key", key, "size", len(data))
	}
	return nil
}

// Runs lists the run directories present in the vault.
func Runs(vault lightmon.Vault) ([]string, error) {
	keys, err := vault.List("")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for _, k := range keys {
		if i := strings.Index(k, "/"); i > 0 {
			seen[k[:i]] = true
		}
	}
	runs := make([]string, 0, len(seen))
	for r := range seen {
		runs = append(runs, r)
	}
	sort.Strings(runs)
	return runs, nil
}

// Restore copies every archived artifact of runDir back into the store.
// Encrypted objects require dec; plaintext objects are restored as is.
// The sync process indexes restored reports once their config artifact
// lands. It returns the restored paths.
func Restore(vault lightmon.Vault, dec lightmon.DecryptionContext, dir *store.Directory, runDir string, logger lightmon.Logger) ([]string, error) {
	runDir = strings.Trim(filepath.ToSlash(runDir), "/")
	if runDir == "" {
		return nil, fmt.Errorf("%w: run directory", lightmon.ErrMissingArgument)
	}

	keys, err := vault.List(runDir + "/")
	if err != nil {
		return nil, fmt.Errorf("listing archived run: %w", err)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runDir)
	}

	// Config artifacts go last so the report is complete when it is indexed.
	sort.SliceStable(keys, func(i, j int) bool {
		return !isConfigKey(keys[i]) && isConfigKey(keys[j])
	})

	var restored []string
	for _, key := range keys {
		var buf bytes.Buffer
		if err := vault.Get(key, &buf); err != nil {
			return restored, err
		}

		rel := key
		data := buf.Bytes()
		if strings.HasSuffix(key, EncryptedSuffix) {
			if dec == nil {
				return restored, fmt.Errorf("%s is encrypted; unlock the archive key first", key)
			}
			var plain bytes.Buffer
			if err := dec.Decrypt(bytes.NewReader(data), &plain); err != nil {
				return restored, fmt.Errorf("decrypting %s: %w", key, err)
			}
			data = plain.Bytes()
			rel = strings.TrimSuffix(key, EncryptedSuffix)
		}

		path, err := dir.Restore(rel, bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return restored, fmt.Errorf("restoring %s: %w", key, err)
		}
		logger.Debug("restored artifact", "key", key, "path", path)
		restored = append(restored, path)
	}
	return restored, nil
}

func isConfigKey(key string) bool {
	return store.IsConfigArtifact(strings.TrimSuffix(key, EncryptedSuffix))
}
