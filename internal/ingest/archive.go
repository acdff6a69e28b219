package ingest

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// extractZip unpacks the archive at path into dest. Entries that would
// escape dest, symlinks and other special files are rejected with
// ErrUnsafeArchive; the total uncompressed size is bounded by maxBytes.
func extractZip(path, dest string, maxBytes int64) error {
	r, err := zip.OpenReader(path)
	if errors.Is(err, zip.ErrInsecurePath) {
		if r != nil {
			r.Close()
		}
		return fmt.Errorf("%w: entry with absolute or traversing path", ErrUnsafeArchive)
	}
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer r.Close()

	destAbs, err := filepath.Abs(dest)
	if err != nil {
		return fmt.Errorf("resolving destination: %w", err)
	}

	var total int64
	for _, f := range r.File {
		mode := f.Mode()
		if mode&os.ModeSymlink != 0 || (!mode.IsRegular() && !mode.IsDir() && !f.FileInfo().IsDir()) {
			return fmt.Errorf("%w: %s is not a regular file or directory", ErrUnsafeArchive, f.Name)
		}

		target, err := safeJoin(destAbs, f.Name)
		if err != nil {
			return err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o700); err != nil {
				return fmt.Errorf("creating directory %s: %w", f.Name, err)
			}
			continue
		}

		total += int64(f.UncompressedSize64)
		if maxBytes > 0 && total > maxBytes {
			return fmt.Errorf("%w: uncompressed content exceeds %d bytes", ErrTooLarge, maxBytes)
		}

		if err := extractFile(f, target, maxBytes); err != nil {
			return err
		}
	}
	return nil
}

// safeJoin joins name under root, rejecting absolute paths and any
// traversal outside root.
func safeJoin(root, name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: absolute path %s", ErrUnsafeArchive, name)
	}
	target := filepath.Join(root, filepath.FromSlash(name))
	if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s escapes the extraction root", ErrUnsafeArchive, name)
	}
	return target, nil
}

func extractFile(f *zip.File, target string, maxBytes int64) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
		return fmt.Errorf("creating parent of %s: %w", f.Name, err)
	}

	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening archive entry %s: %w", f.Name, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", f.Name, err)
	}

	// Copy with a hard limit so a lying header can't blow the size bound.
	limit := int64(f.UncompressedSize64)
	if maxBytes > 0 && limit > maxBytes {
		limit = maxBytes
	}
	_, copyErr := io.Copy(dst, io.LimitReader(src, limit+1))
	closeErr := dst.Close()
	if copyErr != nil {
		return fmt.Errorf("extracting %s: %w", f.Name, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("closing %s: %w", f.Name, closeErr)
	}

	// More real content than the header declares means the header lies.
	if info, err := os.Stat(target); err == nil && info.Size() > limit {
		return fmt.Errorf("%w: entry %s exceeds its declared size", ErrUnsafeArchive, f.Name)
	}
	return nil
}
