package archive

import (
	"archive/tar"
	"compress/gzip"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type tarEntry struct {
	name     string
	body     string
	typeflag byte
	mode     int64
}

func writeTestArchive(t *testing.T, path string, entries []tarEntry) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}
	defer f.Close()
	gw := gzip.NewWriter(f)
	tw := tar.NewWriter(gw)
	for _, e := range entries {
		flag := e.typeflag
		if flag == 0 {
			flag = tar.TypeReg
		}
		mode := e.mode
		if mode == 0 {
			mode = 0777
		}
		hdr := &tar.Header{
			Name:     e.name,
			Typeflag: flag,
			Mode:     mode,
			Size:     int64(len(e.body)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write header %s: %v", e.name, err)
		}
		if flag == tar.TypeReg {
			if _, err := tw.Write([]byte(e.body)); err != nil {
				t.Fatalf("write body %s: %v", e.name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
}

func TestSafeExtract(t *testing.T) {
	tmp := t.TempDir()
	archivePath := filepath.Join(tmp, "backup.tar.gz")
	writeTestArchive(t, archivePath, []tarEntry{
		{name: "dump_mydb_20240101_000000.sql", body: "SELECT 1;"},
	})

	dest := filepath.Join(tmp, "out")
	if err := SafeExtract(archivePath, dest); err != nil {
		t.Fatalf("SafeExtract: %v", err)
	}

	payload := filepath.Join(dest, "dump_mydb_20240101_000000.sql")
	data, err := os.ReadFile(payload)
	if err != nil {
		t.Fatalf("payload not extracted: %v", err)
	}
	if string(data) != "SELECT 1;" {
		t.Errorf("payload content = %q", data)
	}

	info, err := os.Stat(payload)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0644 {
		t.Errorf("payload mode = %o, want 0644 regardless of stored bits", info.Mode().Perm())
	}
}

func TestSafeExtractRejectsUnsafeMembers(t *testing.T) {
	tests := []struct {
		name    string
		entries []tarEntry
	}{
		{"traversal", []tarEntry{{name: "../../etc/passwd", body: "x"}}},
		{"embedded traversal", []tarEntry{{name: "a/../../b", body: "x"}}},
		{"absolute path", []tarEntry{{name: "/etc/passwd", body: "x"}}},
		{"reserved proc", []tarEntry{{name: "proc/self/environ", body: "x"}}},
		{"reserved dev", []tarEntry{{name: "dev/null", body: "x"}}},
		{"reserved sys", []tarEntry{{name: "sys/kernel", body: "x"}}},
		{"too deep", []tarEntry{{name: strings.Repeat("d/", 11) + "f", body: "x"}}},
		{"symlink", []tarEntry{{name: "link", typeflag: tar.TypeSymlink}}},
		{"good then bad", []tarEntry{
			{name: "dump_mydb.sql", body: "SELECT 1;"},
			{name: "../escape", body: "x"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmp := t.TempDir()
			archivePath := filepath.Join(tmp, "bad.tar.gz")
			writeTestArchive(t, archivePath, tt.entries)

			dest := filepath.Join(tmp, "out")
			if err := SafeExtract(archivePath, dest); err == nil {
				t.Fatal("SafeExtract accepted an unsafe archive")
			}

			// Nothing may have been extracted, even members that
			// individually looked safe.
			entries, err := os.ReadDir(dest)
			if err == nil && len(entries) != 0 {
				t.Errorf("destination not empty after rejection: %v", entries)
			}
		})
	}
}

func TestSafeExtractRejectsCorruptArchive(t *testing.T) {
	tmp := t.TempDir()
	archivePath := filepath.Join(tmp, "corrupt.tar.gz")
	if err := os.WriteFile(archivePath, []byte("this is not gzip"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := SafeExtract(archivePath, filepath.Join(tmp, "out")); err == nil {
		t.Fatal("SafeExtract accepted a corrupt archive")
	}
}

func TestSafeExtractDepthBoundary(t *testing.T) {
	tmp := t.TempDir()
	archivePath := filepath.Join(tmp, "deep.tar.gz")
	// Exactly ten segments is still allowed.
	writeTestArchive(t, archivePath, []tarEntry{
		{name: strings.Repeat("d/", 9) + "f", body: "x"},
	})
	if err := SafeExtract(archivePath, filepath.Join(tmp, "out")); err != nil {
		t.Fatalf("SafeExtract rejected archive at allowed depth: %v", err)
	}
}

func TestCreateTarGzRoundTrip(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "dump_mydb_20240101_000000.sql")
	if err := os.WriteFile(src, []byte("CREATE TABLE t (id int);"), 0600); err != nil {
		t.Fatal(err)
	}

	archivePath := filepath.Join(tmp, "out.tar.gz")
	if err := CreateTarGz(src, archivePath); err != nil {
		t.Fatalf("CreateTarGz: %v", err)
	}

	dest := filepath.Join(tmp, "restored")
	if err := SafeExtract(archivePath, dest); err != nil {
		t.Fatalf("SafeExtract: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dest, "dump_mydb_20240101_000000.sql"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "CREATE TABLE t (id int);" {
		t.Errorf("round-trip content = %q", data)
	}
}
