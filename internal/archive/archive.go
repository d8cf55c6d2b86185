// Package archive creates and safely extracts gzip-compressed tar archives.
// Extraction validates every member before any file is written and never
// trusts ownership or permission bits stored in the archive.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// MaxMemberDepth caps the number of path segments an archive member may
// have. Anything deeper is treated as pathological nesting.
const MaxMemberDepth = 10

const (
	extractedFileMode = 0644
	extractedDirMode  = 0755
)

// reservedRoots are top-level names an archive member must never target.
var reservedRoots = map[string]bool{
	"dev":  true,
	"proc": true,
	"sys":  true,
}

// SafeExtract unpacks archivePath into destDir. The archive is fully
// validated before the first byte is written: every member path is checked
// for traversal segments, absolute paths, reserved namespaces and excessive
// depth, and any offending member rejects the whole archive. Extraction
// then runs into a staging directory which is promoted into destDir only on
// complete success, so a half-extracted tree is never observable.
func SafeExtract(archivePath, destDir string) error {
	if err := validateArchive(archivePath); err != nil {
		return err
	}

	if err := os.MkdirAll(destDir, extractedDirMode); err != nil {
		return fmt.Errorf("could not create destination %s: %w", destDir, err)
	}

	staging, err := os.MkdirTemp(destDir, ".staging-")
	if err != nil {
		return fmt.Errorf("could not create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := extractAll(archivePath, staging); err != nil {
		return err
	}

	return promoteStaging(staging, destDir)
}

// validateArchive walks every tar header without extracting anything.
func validateArchive(archivePath string) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("could not open archive %s: %w", archivePath, err)
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("archive %s is not a valid gzip stream: %w", archivePath, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	members := 0
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("archive %s is corrupt: %w", archivePath, err)
		}
		if err := checkMember(header); err != nil {
			return fmt.Errorf("archive %s rejected: %w", archivePath, err)
		}
		members++
	}
	if members == 0 {
		return fmt.Errorf("archive %s contains no members", archivePath)
	}
	return nil
}

// checkMember rejects any member whose path could escape the extraction
// root or whose type cannot be extracted safely.
func checkMember(header *tar.Header) error {
	name := header.Name

	switch header.Typeflag {
	case tar.TypeReg, tar.TypeDir:
	default:
		return fmt.Errorf("member %q has unsupported type %q", name, header.Typeflag)
	}

	if name == "" {
		return errors.New("member has empty name")
	}
	if strings.HasPrefix(name, "/") || filepath.IsAbs(name) {
		return fmt.Errorf("member %q is an absolute path", name)
	}
	if strings.Contains(name, `\`) {
		return fmt.Errorf("member %q contains a backslash", name)
	}

	segments := nonEmptySegments(name)
	if len(segments) == 0 {
		return fmt.Errorf("member %q has no path segments", name)
	}
	if len(segments) > MaxMemberDepth {
		return fmt.Errorf("member %q exceeds maximum depth of %d", name, MaxMemberDepth)
	}
	for _, seg := range segments {
		if seg == ".." {
			return fmt.Errorf("member %q contains a parent-directory segment", name)
		}
	}
	if reservedRoots[segments[0]] {
		return fmt.Errorf("member %q targets reserved namespace %q", name, segments[0])
	}
	return nil
}

func nonEmptySegments(name string) []string {
	parts := strings.Split(name, "/")
	segments := parts[:0]
	for _, p := range parts {
		if p == "" || p == "." {
			continue
		}
		segments = append(segments, p)
	}
	return segments
}

// extractAll writes every member under root. Members were already checked
// by validateArchive; stored permissions and ownership are ignored.
func extractAll(archivePath, root string) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("could not reopen archive %s: %w", archivePath, err)
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("archive %s is not a valid gzip stream: %w", archivePath, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("archive %s is corrupt: %w", archivePath, err)
		}

		target := filepath.Join(root, filepath.Join("/", header.Name))
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, extractedDirMode); err != nil {
				return fmt.Errorf("could not create directory %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), extractedDirMode); err != nil {
				return fmt.Errorf("could not create directory for %s: %w", target, err)
			}
			if err := writeMember(target, tr); err != nil {
				return err
			}
		}
	}
}

func writeMember(target string, r io.Reader) error {
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, extractedFileMode)
	if err != nil {
		return fmt.Errorf("could not create file %s: %w", target, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("could not write file %s: %w", target, err)
	}
	return out.Close()
}

// promoteStaging moves every top-level entry of staging into destDir.
func promoteStaging(staging, destDir string) error {
	entries, err := os.ReadDir(staging)
	if err != nil {
		return fmt.Errorf("could not read staging directory: %w", err)
	}
	for _, entry := range entries {
		src := filepath.Join(staging, entry.Name())
		dst := filepath.Join(destDir, entry.Name())
		if err := os.RemoveAll(dst); err != nil {
			return fmt.Errorf("could not replace %s: %w", dst, err)
		}
		if err := os.Rename(src, dst); err != nil {
			return fmt.Errorf("could not move %s into place: %w", entry.Name(), err)
		}
	}
	return nil
}

// CreateTarGz archives a single file or directory at source into a .tar.gz
// at target. Directory sources are archived relative to their parent so the
// archive root carries the source's own name.
func CreateTarGz(source, target string) error {
	outFile, err := os.Create(target)
	if err != nil {
		return err
	}
	defer outFile.Close()

	gw := gzip.NewWriter(outFile)
	defer gw.Close()

	tw := tar.NewWriter(gw)
	defer tw.Close()

	source = filepath.Clean(source)
	baseDir := filepath.Dir(source)

	if err := filepath.Walk(source, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		header, err := tar.FileInfoHeader(info, info.Name())
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(baseDir, path)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(relPath)

		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		_, err = io.Copy(tw, file)
		return err
	}); err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gw.Close()
}
