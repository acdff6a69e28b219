package ingest

import (
	"archive/zip"
	"bytes"
	"compress/flate"
	"context"
	"errors"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"

	"github.com/CosmoTheDev/scanpipe/internal/config"
	"github.com/CosmoTheDev/scanpipe/models"
)

// writeZip builds a zip at path from name -> content pairs.
func writeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create zip: %v", err)
	}
	w := zip.NewWriter(f)
	for name, content := range entries {
		zf, err := w.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := zf.Write([]byte(content)); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close zip file: %v", err)
	}
}

func TestExtractZip(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "src.zip")
	writeZip(t, archive, map[string]string{
		"app/main.py":      "print('hi')\n",
		"app/sub/util.py":  "x = 1\n",
		"requirements.txt": "flask\n",
	})

	dest := filepath.Join(dir, "out")
	if err := extractZip(archive, dest, 1<<20); err != nil {
		t.Fatalf("extractZip: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dest, "app", "sub", "util.py"))
	if err != nil {
		t.Fatalf("reading extracted file: %v", err)
	}
	if string(data) != "x = 1\n" {
		t.Errorf("extracted content = %q", data)
	}
}

func TestExtractZipRejectsPathEscape(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.zip")
	writeZip(t, archive, map[string]string{
		"../outside.txt": "owned",
	})

	dest := filepath.Join(dir, "out")
	err := extractZip(archive, dest, 1<<20)
	if !errors.Is(err, ErrUnsafeArchive) {
		t.Fatalf("extractZip = %v, want ErrUnsafeArchive", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "outside.txt")); statErr == nil {
		t.Error("escaped file was written")
	}
}

func TestExtractZipRejectsAbsolutePath(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "abs.zip")
	writeZip(t, archive, map[string]string{
		"/etc/evil.txt": "owned",
	})

	err := extractZip(archive, filepath.Join(dir, "out"), 1<<20)
	if !errors.Is(err, ErrUnsafeArchive) {
		t.Fatalf("extractZip = %v, want ErrUnsafeArchive", err)
	}
}

func TestExtractZipEnforcesSizeBound(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "big.zip")
	writeZip(t, archive, map[string]string{
		"big.txt": string(make([]byte, 4096)),
	})

	err := extractZip(archive, filepath.Join(dir, "out"), 1024)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("extractZip = %v, want ErrTooLarge", err)
	}
}

func TestExtractZipRejectsLyingSizeHeader(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "liar.zip")

	content := bytes.Repeat([]byte("A"), 4096)
	var compressed bytes.Buffer
	fw, err := flate.NewWriter(&compressed, flate.DefaultCompression)
	if err != nil {
		t.Fatalf("flate writer: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("compress: %v", err)
	}
	if err := fw.Close(); err != nil {
		t.Fatalf("close compressor: %v", err)
	}

	f, err := os.Create(archive)
	if err != nil {
		t.Fatalf("create zip: %v", err)
	}
	w := zip.NewWriter(f)
	// The header declares 10 bytes but the entry carries 4096.
	raw, err := w.CreateRaw(&zip.FileHeader{
		Name:               "small.txt",
		Method:             zip.Deflate,
		CRC32:              crc32.ChecksumIEEE(content),
		CompressedSize64:   uint64(compressed.Len()),
		UncompressedSize64: 10,
	})
	if err != nil {
		t.Fatalf("CreateRaw: %v", err)
	}
	if _, err := raw.Write(compressed.Bytes()); err != nil {
		t.Fatalf("write raw entry: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close zip file: %v", err)
	}

	// Well under the size bound, so only the header mismatch can reject it.
	err = extractZip(archive, filepath.Join(dir, "out"), 1<<20)
	if !errors.Is(err, ErrUnsafeArchive) {
		t.Fatalf("extractZip = %v, want ErrUnsafeArchive", err)
	}
}

func TestValidateArchive(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "src.zip")
	writeZip(t, archive, map[string]string{"a.py": "pass\n"})

	f := NewFetcher(config.IngestConfig{MaxArchiveBytes: 1 << 20})
	ctx := context.Background()

	if err := f.Validate(ctx, models.SourceInfo{Kind: models.SourceArchive, ArchivePath: archive}); err != nil {
		t.Errorf("Validate(existing archive) = %v", err)
	}

	err := f.Validate(ctx, models.SourceInfo{Kind: models.SourceArchive, ArchivePath: filepath.Join(dir, "missing.zip")})
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("Validate(missing archive) = %v, want ErrUnreachable", err)
	}

	if err := f.Validate(ctx, models.SourceInfo{Kind: "ftp"}); err == nil {
		t.Error("Validate(unknown kind) = nil, want error")
	}
}

func TestValidateGitURLSyntax(t *testing.T) {
	f := NewFetcher(config.IngestConfig{})
	ctx := context.Background()

	// Unknown host degrades to a syntax-only check; no network involved.
	if err := f.Validate(ctx, models.SourceInfo{Kind: models.SourceGit, URL: "https://git.internal.example/team/app.git"}); err != nil {
		t.Errorf("Validate(unknown host) = %v", err)
	}

	for _, bad := range []string{"", "not a url", "ssh://host/repo"} {
		if err := f.Validate(ctx, models.SourceInfo{Kind: models.SourceGit, URL: bad}); err == nil {
			t.Errorf("Validate(%q) = nil, want error", bad)
		}
	}
}
