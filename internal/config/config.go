package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Recognized configuration variables. Anything else in the file is an error:
// a misspelled key silently ignored is a backup that never happens.
const (
	KeyAWSProfile    = "AWS_PROFILE"
	KeyS3Bucket      = "S3_BUCKET"
	KeyBackupPath    = "BACKUP_PATH"
	KeyDatabaseURL   = "DATABASE_URL"
	KeyContainerName = "DOCKER_CONTAINER_NAME"
)

// DefaultFileName is the config file name looked up in the search paths.
const DefaultFileName = "pgvault.conf"

var knownKeys = map[string]bool{
	KeyAWSProfile:    true,
	KeyS3Bucket:      true,
	KeyBackupPath:    true,
	KeyDatabaseURL:   true,
	KeyContainerName: true,
}

// mandatoryKeys must be non-empty after a successful load. BACKUP_PATH is the
// only optional variable.
var mandatoryKeys = []string{
	KeyAWSProfile,
	KeyS3Bucket,
	KeyDatabaseURL,
	KeyContainerName,
}

// lineRe matches a `KEY = value` statement. Keys are matched loosely here;
// whitelist enforcement happens afterwards so unknown keys get a better error
// than "syntax error".
var lineRe = regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_]*)\s*=\s*(.*?)\s*$`)

// Config is the parsed configuration record. It is plain data: values are
// never executed, expanded, or interpreted beyond quote stripping.
type Config struct {
	AWSProfile    string
	S3Bucket      string
	BackupPath    string
	DatabaseURL   string
	ContainerName string

	// Path is the file the record was loaded from.
	Path string
}

// SearchPaths returns the candidate config file locations in resolution
// order: working directory, user config home, system-wide. The first
// existing file wins.
func SearchPaths() []string {
	paths := []string{DefaultFileName}

	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		if home, err := os.UserHomeDir(); err == nil {
			configHome = filepath.Join(home, ".config")
		}
	}
	if configHome != "" {
		paths = append(paths, filepath.Join(configHome, "pgvault", DefaultFileName))
	}

	paths = append(paths, filepath.Join("/etc", "pgvault", DefaultFileName))
	return paths
}

// Resolve finds the config file to use. An explicit path bypasses the search
// and must exist.
func Resolve(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file %s: %w", explicit, err)
		}
		return explicit, nil
	}

	candidates := SearchPaths()
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %s)", strings.Join(candidates, ", "))
}

// Load parses the key=value config file at path into a Config. It fails
// closed: malformed lines, unknown variables, and missing mandatory values
// are all errors, reported with file and line context.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	values := make(map[string]string)

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		m := lineRe.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("%s:%d: syntax error: expected KEY=value, got %q", path, lineNo, trimmed)
		}

		key := m[1]
		if !knownKeys[key] {
			return nil, fmt.Errorf("%s:%d: unknown variable %q", path, lineNo, key)
		}
		if _, dup := values[key]; dup {
			return nil, fmt.Errorf("%s:%d: duplicate variable %q", path, lineNo, key)
		}

		values[key] = stripQuotes(m[2])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var missing []string
	for _, key := range mandatoryKeys {
		if values[key] == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%s: missing mandatory variable(s): %s", path, strings.Join(missing, ", "))
	}

	return &Config{
		AWSProfile:    values[KeyAWSProfile],
		S3Bucket:      values[KeyS3Bucket],
		BackupPath:    values[KeyBackupPath],
		DatabaseURL:   values[KeyDatabaseURL],
		ContainerName: values[KeyContainerName],
		Path:          path,
	}, nil
}

// LoadResolved is Resolve followed by Load.
func LoadResolved(explicit string) (*Config, error) {
	path, err := Resolve(explicit)
	if err != nil {
		return nil, err
	}
	return Load(path)
}

// stripQuotes removes one matching pair of surrounding single or double
// quotes, if present. Unmatched or inner quotes are left alone.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if first == last && (first == '"' || first == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
