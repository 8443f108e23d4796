package qrstamp

import (
	"bytes"
	"strings"
	"testing"
)

func TestEncodePNG(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := EncodePNG(&buf, "source=run.kml blake2b=abc123", Options{}); err != nil {
		t.Fatalf("EncodePNG: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")) {
		t.Fatalf("output does not start with a PNG signature")
	}

	if err := EncodePNG(&buf, "", Options{}); err == nil {
		t.Fatal("empty payload should fail")
	}
}

func TestDataURI(t *testing.T) {
	t.Parallel()

	uri, err := DataURI("generated=2021-02-15T18:33:16Z", Options{SizePx: 128})
	if err != nil {
		t.Fatalf("DataURI: %v", err)
	}
	if !strings.HasPrefix(string(uri), "data:image/png;base64,") {
		t.Fatalf("uri prefix = %q", string(uri)[:32])
	}
	if len(uri) < 100 {
		t.Fatalf("suspiciously small data URI: %d bytes", len(uri))
	}
}
