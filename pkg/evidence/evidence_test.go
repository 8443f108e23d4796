package evidence

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileFingerprint(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "export.kml")
	body := []byte("<kml><Document/></kml>")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}

	fp, err := File(path)
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	if fp.Size != int64(len(body)) {
		t.Fatalf("size = %d, want %d", fp.Size, len(body))
	}
	if len(fp.Digest) != 64 {
		t.Fatalf("digest %q is not BLAKE2b-256 hex", fp.Digest)
	}
	if fp.Short() != fp.Digest[:12] {
		t.Fatalf("Short() = %q", fp.Short())
	}

	again, err := File(path)
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	if again.Digest != fp.Digest {
		t.Fatalf("same bytes, different digests: %q vs %q", again.Digest, fp.Digest)
	}
}

func TestReaderMatchesFile(t *testing.T) {
	t.Parallel()

	body := "lat,lon and a little more"
	fromReader, err := Reader(strings.NewReader(body))
	if err != nil {
		t.Fatalf("Reader: %v", err)
	}

	path := filepath.Join(t.TempDir(), "same.bin")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	fromFile, err := File(path)
	if err != nil {
		t.Fatalf("File: %v", err)
	}

	if fromReader.Digest != fromFile.Digest {
		t.Fatalf("reader and file digests differ: %q vs %q", fromReader.Digest, fromFile.Digest)
	}

	if _, err := File(filepath.Join(t.TempDir(), "missing.kml")); err == nil {
		t.Fatal("missing file should fail")
	}
}
