package retention_test

import (
	"reflect"
	"testing"

	"datadb/internal/retention"
	"datadb/internal/transport"
)

func versions(ids ...string) []transport.Version {
	out := make([]transport.Version, len(ids))
	for i, id := range ids {
		out[i] = transport.Version{ID: id}
	}
	return out
}

func ids(vs []transport.Version) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.ID
	}
	return out
}

func TestPrune_KeepsNewest(t *testing.T) {
	vs := versions(
		"20240101T000000Z",
		"20240102T000000Z",
		"20240103T000000Z",
		"20240104T000000Z",
		"20240105T000000Z",
	)
	got := retention.Prune(vs, 2)
	want := []string{"20240101T000000Z", "20240102T000000Z", "20240103T000000Z"}
	if !reflect.DeepEqual(ids(got), want) {
		t.Fatalf("Prune = %v, want %v", ids(got), want)
	}
}

func TestPrune_UnsortedInput(t *testing.T) {
	vs := versions("20240103T000000Z", "20240101T000000Z", "20240102T000000Z")
	got := retention.Prune(vs, 1)
	want := []string{"20240101T000000Z", "20240102T000000Z"}
	if !reflect.DeepEqual(ids(got), want) {
		t.Fatalf("Prune = %v, want %v", ids(got), want)
	}
	// The caller's listing keeps its original order.
	if vs[0].ID != "20240103T000000Z" {
		t.Fatalf("input mutated: %v", ids(vs))
	}
}

func TestPrune_ZeroKeepDisablesRetention(t *testing.T) {
	vs := versions("20240101T000000Z", "20240102T000000Z")
	if got := retention.Prune(vs, 0); got != nil {
		t.Fatalf("Prune with keep=0 = %v, want nil", ids(got))
	}
	if got := retention.Prune(vs, -3); got != nil {
		t.Fatalf("Prune with keep<0 = %v, want nil", ids(got))
	}
}

func TestPrune_FewerThanKeep(t *testing.T) {
	vs := versions("20240101T000000Z", "20240102T000000Z")
	if got := retention.Prune(vs, 2); got != nil {
		t.Fatalf("Prune = %v, want nil", ids(got))
	}
	if got := retention.Prune(vs, 10); got != nil {
		t.Fatalf("Prune = %v, want nil", ids(got))
	}
	if got := retention.Prune(nil, 3); got != nil {
		t.Fatalf("Prune(nil) = %v, want nil", ids(got))
	}
}
