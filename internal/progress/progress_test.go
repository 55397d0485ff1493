package progress_test

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"datadb/internal/progress"
)

func TestReaderCountsBytes(t *testing.T) {
	src := strings.NewReader(strings.Repeat("x", 1000))
	r := progress.NewReader(src, 1000, "push test", nil)

	n, err := io.Copy(io.Discard, r)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1000 || r.Count() != 1000 {
		t.Fatalf("copied %d, counted %d; want 1000", n, r.Count())
	}
}

func TestReaderRendersFinalLine(t *testing.T) {
	var out bytes.Buffer
	r := progress.NewReader(strings.NewReader("data"), 4, "pull test", &out)

	if _, err := io.Copy(io.Discard, r); err != nil {
		t.Fatal(err)
	}
	s := out.String()
	if !strings.Contains(s, "pull test") || !strings.Contains(s, "100%") {
		t.Fatalf("unexpected meter output: %q", s)
	}
}
