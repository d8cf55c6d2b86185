// Package backup orchestrates PostgreSQL backup and restore against an S3
// bucket. Every external invocation is preceded by identifier validation;
// configuration values never reach a command line or SQL statement
// unchecked.
package backup

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/docker/docker/client"

	"pgvault-cli/internal/archive"
	"pgvault-cli/internal/config"
	"pgvault-cli/internal/validate"
)

// payloadPattern is the expected name of the SQL payload inside a backup
// archive: dump_<database>_<timestamp>.sql.
const payloadPattern = "dump_*.sql"

const timestampLayout = "20060102_150405"

// BackupOptions controls a single backup run.
type BackupOptions struct {
	// Prefix is an extra object-key prefix under BACKUP_PATH. It is run
	// through the prefix sanitizer before use.
	Prefix string

	// Prune deletes all but the Remainder most recent objects under the
	// effective prefix after a successful upload.
	Prune     bool
	Remainder int

	// RetentionPolicyFile points at a YAML ruleset file applied after the
	// upload.
	RetentionPolicyFile string

	DryRun    bool
	AssumeYes bool
}

// RestoreOptions controls a restore run.
type RestoreOptions struct {
	// Purge terminates active backends and drops/recreates the database
	// before feeding the payload in.
	Purge     bool
	AssumeYes bool
}

// Manager carries the validated configuration and the storage, docker and
// database handles the orchestration actions need.
type Manager struct {
	config       *config.Config
	conn         *config.ConnInfo
	store        *Store
	dockerClient *client.Client

	// backupPath is the sanitized BACKUP_PATH config value.
	backupPath string

	Verbose int
}

// NewManager builds a Manager from a loaded config. The DATABASE_URL is
// parsed (and its database name validated) and BACKUP_PATH is run through
// the prefix sanitizer here, so a bad value fails before any action starts.
func NewManager(cfg *config.Config) (*Manager, error) {
	conn, err := config.ParseDatabaseURL(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	backupPath, err := validate.SanitizePrefix(cfg.BackupPath)
	if err != nil {
		return nil, fmt.Errorf("invalid BACKUP_PATH: %w", err)
	}
	return &Manager{
		config:     cfg,
		conn:       conn,
		store:      NewStoreFromEnv(cfg.AWSProfile, cfg.S3Bucket),
		backupPath: backupPath,
	}, nil
}

// Database returns the validated database name from DATABASE_URL.
func (m *Manager) Database() string {
	return m.conn.Database
}

func (m *Manager) logf(format string, args ...interface{}) {
	if m.Verbose > 0 {
		fmt.Printf(format, args...)
	}
}

// validateIdentifiers gates both configured names before any action builds
// a command from them.
func (m *Manager) validateIdentifiers() error {
	if err := validate.DatabaseName(m.conn.Database); err != nil {
		return err
	}
	return validate.ContainerName(m.config.ContainerName)
}

// effectivePrefix joins BACKUP_PATH and the sanitized per-run prefix.
func (m *Manager) effectivePrefix(sanitized string) string {
	parts := []string{}
	if m.backupPath != "" {
		parts = append(parts, m.backupPath)
	}
	if sanitized != "" {
		parts = append(parts, sanitized)
	}
	return path.Join(parts...)
}

// Backup dumps the configured database out of its container, archives the
// dump and uploads it. Any failed step aborts the run; the temp dir is
// removed on every exit path.
func (m *Manager) Backup(ctx context.Context, opts *BackupOptions) error {
	if err := m.validateIdentifiers(); err != nil {
		return err
	}

	prefix, err := validate.SanitizePrefix(opts.Prefix)
	if err != nil {
		return err
	}
	keyPrefix := m.effectivePrefix(prefix)

	fmt.Printf("Checking container %s...\n", m.config.ContainerName)
	if err := m.checkContainer(ctx); err != nil {
		return err
	}

	timestamp := time.Now().Format(timestampLayout)
	dumpName := fmt.Sprintf("dump_%s_%s.sql", m.conn.Database, timestamp)
	archiveName := strings.TrimSuffix(dumpName, ".sql") + ".tar.gz"
	objectKey := path.Join(keyPrefix, archiveName)

	if opts.DryRun {
		fmt.Printf("[DRY RUN] Would dump database %s and upload s3://%s/%s\n",
			m.conn.Database, m.config.S3Bucket, objectKey)
		if opts.Prune {
			return m.prune(ctx, keyPrefix, opts)
		}
		return nil
	}

	tmpDir, err := os.MkdirTemp("", "pgvault-backup-")
	if err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	dumpPath := filepath.Join(tmpDir, dumpName)
	fmt.Printf("Dumping database %s...\n", m.conn.Database)
	if err := m.dumpDatabase(ctx, dumpPath); err != nil {
		return err
	}

	info, err := os.Stat(dumpPath)
	if err != nil {
		return fmt.Errorf("dump file missing after export: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("dump file is empty, aborting backup")
	}
	m.logf("  - Dump size: %d bytes\n", info.Size())

	archivePath := filepath.Join(tmpDir, archiveName)
	fmt.Printf("Compressing dump...\n")
	if err := archive.CreateTarGz(dumpPath, archivePath); err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()
	archiveInfo, err := f.Stat()
	if err != nil {
		return err
	}

	fmt.Printf("Uploading s3://%s/%s (%d bytes)...\n", m.config.S3Bucket, objectKey, archiveInfo.Size())
	if err := m.store.Upload(ctx, objectKey, f, archiveInfo.Size()); err != nil {
		return err
	}
	fmt.Printf("Backup complete: %s\n", objectKey)

	if opts.Prune {
		if err := m.prune(ctx, keyPrefix, opts); err != nil {
			return err
		}
	}
	if opts.RetentionPolicyFile != "" {
		if err := m.applyRetentionPolicy(ctx, keyPrefix, opts); err != nil {
			return err
		}
	}
	return nil
}

// prune deletes all but the Remainder most recent objects under prefix.
func (m *Manager) prune(ctx context.Context, prefix string, opts *BackupOptions) error {
	objs, err := m.store.List(ctx, prefix, 0)
	if err != nil {
		return err
	}

	doomed := SelectObjectsForOverwrite(objs, opts.Remainder)
	if len(doomed) == 0 {
		fmt.Printf("Prune: nothing to delete (%d object(s), remainder %d)\n", len(objs), opts.Remainder)
		return nil
	}

	fmt.Printf("Prune: %d object(s) selected for deletion, keeping the %d most recent:\n", len(doomed), opts.Remainder)
	for _, o := range doomed {
		fmt.Printf("  - %s (%s)\n", o.Key, o.LastModified.Format(time.RFC3339))
	}

	if opts.DryRun {
		fmt.Printf("[DRY RUN] No objects deleted\n")
		return nil
	}

	if !opts.AssumeYes {
		confirmed := false
		prompt := &survey.Confirm{
			Message: fmt.Sprintf("Delete %d object(s)?", len(doomed)),
		}
		if err := survey.AskOne(prompt, &confirmed); err != nil {
			return fmt.Errorf("prune cancelled: %w", err)
		}
		if !confirmed {
			fmt.Printf("Prune cancelled\n")
			return nil
		}
	}

	keys := make([]string, len(doomed))
	for i, o := range doomed {
		keys[i] = o.Key
	}
	if err := m.store.Delete(ctx, keys); err != nil {
		return err
	}
	fmt.Printf("Pruned %d object(s)\n", len(keys))
	return nil
}

// applyRetentionPolicy deletes objects matching the "delete" rulesets in
// the YAML policy file.
func (m *Manager) applyRetentionPolicy(ctx context.Context, prefix string, opts *BackupOptions) error {
	rulesets, err := LoadRetentionPolicyFromFile(opts.RetentionPolicyFile)
	if err != nil {
		return err
	}

	objs, err := m.store.List(ctx, prefix, 0)
	if err != nil {
		return err
	}

	doomed := SelectObjectsForRetention(objs, rulesets, time.Now())
	if len(doomed) == 0 {
		fmt.Printf("Retention: no objects matched a delete rule\n")
		return nil
	}

	fmt.Printf("Retention: %d object(s) matched a delete rule:\n", len(doomed))
	for _, o := range doomed {
		fmt.Printf("  - %s (%s)\n", o.Key, o.LastModified.Format(time.RFC3339))
	}
	if opts.DryRun {
		fmt.Printf("[DRY RUN] No objects deleted\n")
		return nil
	}

	keys := make([]string, len(doomed))
	for i, o := range doomed {
		keys[i] = o.Key
	}
	if err := m.store.Delete(ctx, keys); err != nil {
		return err
	}
	fmt.Printf("Retention: deleted %d object(s)\n", len(keys))
	return nil
}

// Download fetches a backup object, safely extracts it into destDir, and
// returns the path of the single SQL payload it must contain.
func (m *Manager) Download(ctx context.Context, rawRef, destDir string) (string, error) {
	key, err := ParseObjectRef(rawRef, m.config.S3Bucket)
	if err != nil {
		return "", err
	}

	tmpDir, err := os.MkdirTemp("", "pgvault-download-")
	if err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	archivePath := filepath.Join(tmpDir, path.Base(key))
	fmt.Printf("Downloading s3://%s/%s...\n", m.config.S3Bucket, key)
	if err := m.store.Download(ctx, key, archivePath); err != nil {
		return "", err
	}

	fmt.Printf("Extracting to %s...\n", destDir)
	if err := archive.SafeExtract(archivePath, destDir); err != nil {
		return "", err
	}

	payload, err := LocatePayload(destDir)
	if err != nil {
		return "", err
	}
	fmt.Printf("Payload: %s\n", payload)
	return payload, nil
}

// Restore feeds the SQL payload at payloadPath into the database, after an
// optional purge. Purge and restore are independently fatal: a failed purge
// aborts before the restore is attempted.
func (m *Manager) Restore(ctx context.Context, payloadPath string, opts *RestoreOptions) error {
	if err := m.validateIdentifiers(); err != nil {
		return err
	}

	info, err := os.Stat(payloadPath)
	if err != nil {
		return fmt.Errorf("payload %s: %w", payloadPath, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("payload %s is empty", payloadPath)
	}

	fmt.Printf("Checking container %s...\n", m.config.ContainerName)
	if err := m.checkContainer(ctx); err != nil {
		return err
	}

	if opts.Purge {
		if !opts.AssumeYes {
			confirmed := false
			prompt := &survey.Confirm{
				Message: fmt.Sprintf("Purge will terminate connections and DROP database %q. Continue?", m.conn.Database),
			}
			if err := survey.AskOne(prompt, &confirmed); err != nil {
				return fmt.Errorf("restore cancelled: %w", err)
			}
			if !confirmed {
				return fmt.Errorf("restore cancelled")
			}
		}
		fmt.Printf("Purging database %s...\n", m.conn.Database)
		if err := m.purgeDatabase(ctx); err != nil {
			return fmt.Errorf("purge failed, restore not attempted: %w", err)
		}
	}

	fmt.Printf("Restoring database %s from %s...\n", m.conn.Database, payloadPath)
	if err := m.restoreDatabase(ctx, payloadPath); err != nil {
		return err
	}
	fmt.Printf("Restore complete\n")
	return nil
}

// RestoreLegacy is the deprecated single-shot path: download, extract and
// restore (with purge) in one call.
func (m *Manager) RestoreLegacy(ctx context.Context, rawRef string, assumeYes bool) error {
	fmt.Fprintln(os.Stderr, "Warning: restore-legacy is deprecated; use 'download' followed by 'restore'")

	tmpDir, err := os.MkdirTemp("", "pgvault-restore-")
	if err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	payload, err := m.Download(ctx, rawRef, tmpDir)
	if err != nil {
		return err
	}
	return m.Restore(ctx, payload, &RestoreOptions{Purge: true, AssumeYes: assumeYes})
}

// List returns stored backup objects under the sanitized prefix, newest
// first.
func (m *Manager) List(ctx context.Context, rawPrefix string, limit int) ([]ObjectInfo, error) {
	prefix, err := validate.SanitizePrefix(rawPrefix)
	if err != nil {
		return nil, err
	}
	return m.store.List(ctx, m.effectivePrefix(prefix), limit)
}

// TestConnection runs the storage self-test.
func (m *Manager) TestConnection(ctx context.Context) error {
	return m.store.TestConnection(ctx)
}

// ParseObjectRef resolves a backup reference to an object key. It accepts a
// bare key or an s3://bucket/key URL; the URL's bucket must match the
// configured one.
func ParseObjectRef(raw, bucket string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("no backup reference given")
	}

	if !strings.Contains(raw, "://") {
		return strings.TrimPrefix(raw, "/"), nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid backup reference %q: %w", raw, err)
	}
	if u.Scheme != "s3" {
		return "", fmt.Errorf("invalid backup reference %q: unsupported scheme %q", raw, u.Scheme)
	}
	if u.Host != bucket {
		return "", fmt.Errorf("backup reference bucket %q does not match configured bucket %q", u.Host, bucket)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", fmt.Errorf("invalid backup reference %q: missing object key", raw)
	}
	return key, nil
}

// LocatePayload finds the single dump_*.sql payload at the root of dir.
// Zero or multiple matches is an error.
func LocatePayload(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, payloadPattern))
	if err != nil {
		return "", err
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no %s payload found in %s", payloadPattern, dir)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("expected exactly one %s payload in %s, found %d", payloadPattern, dir, len(matches))
	}
}
