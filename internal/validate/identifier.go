package validate

import (
	"fmt"
	"regexp"
)

// MaxDatabaseNameLength is the PostgreSQL identifier limit (NAMEDATALEN-1).
const MaxDatabaseNameLength = 63

var (
	databaseNameRe  = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)
	containerNameRe = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
)

// DatabaseName checks a database name against a strict charset allow-list
// before it may appear in a command line or SQL statement. The policy is
// allow-listing, not escaping: quotes, semicolons, spaces and anything else
// outside the charset are rejected outright. A rejection is fatal for the
// calling action; callers must not coerce or retry.
func DatabaseName(name string) error {
	if name == "" {
		return fmt.Errorf("database name is empty")
	}
	if len(name) > MaxDatabaseNameLength {
		return fmt.Errorf("database name %q exceeds %d characters", name, MaxDatabaseNameLength)
	}
	if !databaseNameRe.MatchString(name) {
		return fmt.Errorf("database name %q contains characters outside [A-Za-z][A-Za-z0-9_-]", name)
	}
	return nil
}

// ContainerName checks a Docker container name. Unlike database names there
// is no leading-letter requirement, but shell metacharacters (;, |,
// backticks, $(), &&) fall outside the charset and are rejected.
func ContainerName(name string) error {
	if name == "" {
		return fmt.Errorf("container name is empty")
	}
	if !containerNameRe.MatchString(name) {
		return fmt.Errorf("container name %q contains characters outside [A-Za-z0-9._-]", name)
	}
	return nil
}
