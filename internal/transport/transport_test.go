package transport_test

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"datadb/internal/transport"
)

func TestNewVersionID_UTCAndLexicographic(t *testing.T) {
	utc := time.Date(2024, 3, 9, 23, 59, 59, 0, time.UTC)
	zoned := time.Date(2024, 3, 10, 0, 0, 1, 0, time.FixedZone("CET", 3600))
	a := transport.NewVersionID(utc)
	b := transport.NewVersionID(zoned)
	if a != "20240309T235959Z" {
		t.Fatalf("id = %q", a)
	}
	if b != "20240309T230001Z" {
		t.Fatalf("id = %q, want zoned time rendered in UTC", b)
	}
	if !(b < a) {
		t.Fatalf("lexicographic order does not follow UTC time: %q vs %q", a, b)
	}
}

func TestVersionFromID(t *testing.T) {
	v := transport.VersionFromID("20240310T120000Z", 42)
	if v.Size != 42 || v.Created.IsZero() {
		t.Fatalf("version = %+v", v)
	}
	if got := v.Created; got != time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC) {
		t.Fatalf("Created = %v", got)
	}
	if v = transport.VersionFromID("weird", 0); !v.Created.IsZero() {
		t.Fatalf("unparseable id produced Created %v", v.Created)
	}
}

func TestSortVersionsAndLatest(t *testing.T) {
	vs := []transport.Version{
		{ID: "20240310T120000Z"},
		{ID: "20240101T000000Z"},
		{ID: "20240215T060000Z"},
	}
	transport.SortVersions(vs)
	var ids []string
	for _, v := range vs {
		ids = append(ids, v.ID)
	}
	want := []string{"20240101T000000Z", "20240215T060000Z", "20240310T120000Z"}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("sorted ids = %v, want %v", ids, want)
	}
	if got := transport.Latest(vs); got == nil || got.ID != "20240310T120000Z" {
		t.Fatalf("Latest = %v", got)
	}
	if got := transport.Latest(nil); got != nil {
		t.Fatalf("Latest(nil) = %v, want nil", got)
	}
}

func TestErrorRendering(t *testing.T) {
	err := &transport.Error{Op: "pull", Kind: transport.NotFound, Msg: "no versions for gitea"}
	if got := err.Error(); got != "pull: not found: no versions for gitea" {
		t.Fatalf("Error = %q", got)
	}
	under := errors.New("exit status 12")
	err = &transport.Error{Op: "push", Kind: transport.IOFailure, Err: under}
	if got := err.Error(); got != "push: i/o failure: exit status 12" {
		t.Fatalf("Error = %q", got)
	}
	if !errors.Is(err, under) {
		t.Fatalf("Unwrap lost the underlying error")
	}
}

func TestKindHelpers(t *testing.T) {
	wrapped := fmt.Errorf("engine: %w", &transport.Error{Op: "pull", Kind: transport.NotFound})
	if !transport.IsNotFound(wrapped) {
		t.Fatalf("IsNotFound = false for wrapped NotFound")
	}
	if k, ok := transport.Kind(wrapped); !ok || k != transport.NotFound {
		t.Fatalf("Kind = %v, %v", k, ok)
	}
	if _, ok := transport.Kind(errors.New("plain")); ok {
		t.Fatalf("Kind matched a plain error")
	}
	if transport.IsNotFound(&transport.Error{Kind: transport.Timeout}) {
		t.Fatalf("IsNotFound matched Timeout")
	}
}
