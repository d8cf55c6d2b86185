package backup

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/docker/docker/client"
	"github.com/lib/pq"

	"pgvault-cli/internal/config"
	"pgvault-cli/internal/execute"
)

// containerPgpassPath is where the short-lived credential file lands inside
// the database container.
const containerPgpassPath = "/tmp/.pgvault-pgpass"

// checkContainer verifies via the Docker API that the configured container
// exists and is running before any command is built against it.
func (m *Manager) checkContainer(ctx context.Context) error {
	if m.dockerClient == nil {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return fmt.Errorf("failed to create docker client: %w", err)
		}
		m.dockerClient = cli
	}

	info, err := m.dockerClient.ContainerInspect(ctx, m.config.ContainerName)
	if err != nil {
		if client.IsErrNotFound(err) {
			return fmt.Errorf("container %q does not exist", m.config.ContainerName)
		}
		return fmt.Errorf("failed to inspect container %q: %w", m.config.ContainerName, err)
	}
	if info.State == nil || !info.State.Running {
		return fmt.Errorf("container %q is not running", m.config.ContainerName)
	}
	return nil
}

// dumpDatabase runs pg_dump inside the container and streams the plain-SQL
// dump to dumpPath on the host. The password travels as an environment
// variable scoped to the exec, never as an argument.
func (m *Manager) dumpDatabase(ctx context.Context, dumpPath string) error {
	out, err := os.Create(dumpPath)
	if err != nil {
		return fmt.Errorf("failed to create dump file: %w", err)
	}
	defer out.Close()

	args := []string{
		"exec", "-i",
		"-e", "PGPASSWORD=" + m.conn.Password,
		m.config.ContainerName,
		"pg_dump",
		"-h", m.conn.Host,
		"-p", strconv.Itoa(m.conn.Port),
		"-U", m.conn.User,
		"--no-password",
		m.conn.Database,
	}

	_, err = execute.Run(ctx, execute.Command{
		Name:   "docker",
		Args:   args,
		Stdout: out,
	})
	if err != nil {
		os.Remove(dumpPath)
		return fmt.Errorf("database dump failed: %w", err)
	}
	return out.Sync()
}

// restoreDatabase feeds the SQL payload into psql inside the container. The
// password is handed over through a 0600 pgpass file copied into the
// container for the duration of the restore and removed afterwards.
func (m *Manager) restoreDatabase(ctx context.Context, payloadPath string) error {
	pgpass, err := writePgpassFile(m.conn)
	if err != nil {
		return err
	}
	defer os.RemoveAll(filepath.Dir(pgpass))

	copyTarget := fmt.Sprintf("%s:%s", m.config.ContainerName, containerPgpassPath)
	if _, err := execute.Run(ctx, execute.Command{
		Name: "docker",
		Args: []string{"cp", pgpass, copyTarget},
	}); err != nil {
		return fmt.Errorf("failed to stage credential file: %w", err)
	}
	defer func() {
		execute.Run(context.Background(), execute.Command{
			Name: "docker",
			Args: []string{"exec", m.config.ContainerName, "rm", "-f", containerPgpassPath},
		})
	}()

	payload, err := os.Open(payloadPath)
	if err != nil {
		return fmt.Errorf("failed to open payload %s: %w", payloadPath, err)
	}
	defer payload.Close()

	args := []string{
		"exec", "-i",
		"-e", "PGPASSFILE=" + containerPgpassPath,
		m.config.ContainerName,
		"psql",
		"-h", m.conn.Host,
		"-p", strconv.Itoa(m.conn.Port),
		"-U", m.conn.User,
		"-d", m.conn.Database,
		"--no-password",
		"-v", "ON_ERROR_STOP=1",
	}

	if _, err := execute.Run(ctx, execute.Command{
		Name:  "docker",
		Args:  args,
		Stdin: payload,
	}); err != nil {
		return fmt.Errorf("database restore failed: %w", err)
	}
	return nil
}

// writePgpassFile writes a host:port:db:user:password line to a 0600 file
// in a fresh temp directory and returns its path.
func writePgpassFile(conn *config.ConnInfo) (string, error) {
	dir, err := os.MkdirTemp("", "pgvault-cred-")
	if err != nil {
		return "", fmt.Errorf("failed to create credential directory: %w", err)
	}
	path := filepath.Join(dir, "pgpass")
	line := pgpassLine(conn)
	if err := os.WriteFile(path, []byte(line), 0600); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("failed to write credential file: %w", err)
	}
	return path, nil
}

func pgpassLine(conn *config.ConnInfo) string {
	return fmt.Sprintf("%s:%d:*:%s:%s\n",
		escapePgpassField(conn.Host), conn.Port,
		escapePgpassField(conn.User), escapePgpassField(conn.Password))
}

// escapePgpassField backslash-escapes the characters the pgpass format
// treats specially. Backslashes first, so escapes are not doubled up.
func escapePgpassField(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, ":", `\:`)
}

// purgeDatabase terminates active backends, drops the database, and
// recreates it empty. Session-level statements use parameter binding; the
// DDL statements, which cannot be parameterized, go through
// pq.QuoteIdentifier. The connection targets the maintenance database since
// the target itself is about to be dropped.
func (m *Manager) purgeDatabase(ctx context.Context) error {
	db, err := sql.Open("postgres", maintenanceDSN(m.conn))
	if err != nil {
		return fmt.Errorf("failed to open maintenance connection: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database server: %w", err)
	}

	m.logf("  - Terminating active connections to %s...\n", m.conn.Database)
	_, err = db.ExecContext(ctx,
		`SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1 AND pid <> pg_backend_pid()`,
		m.conn.Database)
	if err != nil {
		return fmt.Errorf("failed to terminate connections: %w", err)
	}

	quoted := pq.QuoteIdentifier(m.conn.Database)

	m.logf("  - Dropping database %s...\n", m.conn.Database)
	if _, err := db.ExecContext(ctx, "DROP DATABASE IF EXISTS "+quoted); err != nil {
		return fmt.Errorf("failed to drop database: %w", err)
	}

	m.logf("  - Recreating database %s...\n", m.conn.Database)
	createStmt := fmt.Sprintf("CREATE DATABASE %s OWNER %s", quoted, pq.QuoteIdentifier(m.conn.User))
	if _, err := db.ExecContext(ctx, createStmt); err != nil {
		return fmt.Errorf("failed to recreate database: %w", err)
	}

	return nil
}

// maintenanceDSN builds a connection string against the postgres
// maintenance database using the configured credentials.
func maintenanceDSN(conn *config.ConnInfo) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(conn.User, conn.Password),
		Host:     fmt.Sprintf("%s:%d", conn.Host, conn.Port),
		Path:     "/postgres",
		RawQuery: url.Values{"sslmode": {conn.SSLMode}}.Encode(),
	}
	return u.String()
}
