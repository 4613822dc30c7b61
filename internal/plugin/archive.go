package plugin

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Archive file naming.
const (
	ArchiveExt  = ".plugin"
	DisabledExt = ".plugin.disabled"
	// ManifestName is the manifest file at the root of every archive.
	ManifestName = "info.json"
)

// IsArchive reports whether path names an enabled plugin archive.
func IsArchive(path string) bool {
	return strings.HasSuffix(path, ArchiveExt) && !strings.HasSuffix(path, DisabledExt)
}

// IsDisabledArchive reports whether path names a disabled plugin archive.
func IsDisabledArchive(path string) bool {
	return strings.HasSuffix(path, DisabledExt)
}

// ReadManifest reads and validates the manifest from a plugin archive
// without extracting it.
func ReadManifest(archivePath string) (*Manifest, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotAnArchive, archivePath, err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != ManifestName {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", ManifestName, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", ManifestName, err)
		}
		return ParseManifest(data)
	}
	return nil, fmt.Errorf("%w: %s has no %s", ErrNotAnArchive, archivePath, ManifestName)
}

// Extract unpacks a plugin archive into cacheDir/<plugin id>, replacing
// any stale extraction from a previous load. It returns the extraction
// directory and the parsed manifest.
func Extract(archivePath, cacheDir string) (string, *Manifest, error) {
	m, err := ReadManifest(archivePath)
	if err != nil {
		return "", nil, err
	}

	dest := filepath.Join(cacheDir, m.ID)
	if err := os.RemoveAll(dest); err != nil {
		return "", nil, fmt.Errorf("clear %s: %w", dest, err)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", nil, err
	}

	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s: %v", ErrNotAnArchive, archivePath, err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if err := extractFile(f, dest); err != nil {
			return "", nil, fmt.Errorf("extract %s: %w", f.Name, err)
		}
	}
	return dest, m, nil
}

func extractFile(f *zip.File, dest string) error {
	target := filepath.Join(dest, filepath.FromSlash(f.Name))

	// Reject entries that escape the extraction directory.
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("archive entry escapes destination: %s", f.Name)
	}

	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}

// PluginIDFromPath derives the on-disk plugin file stem, used when an
// archive cannot be opened and only the filename is known.
func PluginIDFromPath(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, DisabledExt)
	return strings.TrimSuffix(base, ArchiveExt)
}
