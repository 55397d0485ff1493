// Package transport defines the capability set for moving profile data
// between a local directory and a remote store, plus the version and error
// types shared by the rsync and archive implementations in the subpackages.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/juju/clock"

	"datadb/internal/run"
)

// VersionIDFormat is the layout of version identifiers. Versions are stamped
// client-side from UTC wall time, so lexicographic order is chronological
// order and no server-side coordination is needed.
const VersionIDFormat = "20060102T150405Z"

// Version is one remote copy of a profile's data.
type Version struct {
	ID      string    `json:"version"`
	Created time.Time `json:"-"`
	Size    int64     `json:"size"` // advisory; 0 when unknown
}

// NewVersionID stamps a fresh version identifier.
func NewVersionID(now time.Time) string {
	return now.UTC().Format(VersionIDFormat)
}

// VersionFromID builds a Version from its identifier. Identifiers that do not
// parse as timestamps keep a zero Created; ordering still works because it is
// defined on the identifier string.
func VersionFromID(id string, size int64) Version {
	v := Version{ID: id, Size: size}
	if t, err := time.Parse(VersionIDFormat, id); err == nil {
		v.Created = t
	}
	return v
}

// SortVersions orders versions oldest first, newest last.
func SortVersions(vs []Version) {
	sort.Slice(vs, func(i, j int) bool { return vs[i].ID < vs[j].ID })
}

// Latest returns the newest version, or nil when vs is empty.
func Latest(vs []Version) *Version {
	if len(vs) == 0 {
		return nil
	}
	newest := vs[0]
	for _, v := range vs[1:] {
		if v.ID > newest.ID {
			newest = v
		}
	}
	return &newest
}

// Transport moves data for one profile. Listings always reflect remote state
// at call time, and Push never leaves a partially transferred copy visible to
// ListVersions.
type Transport interface {
	// Push uploads the current local state as a new remote version.
	Push(ctx context.Context, localDir string) (Version, error)
	// Pull downloads the most recent remote version into localDir,
	// overwriting its contents. Returns a NotFound error when no version
	// exists.
	Pull(ctx context.Context, localDir string) error
	// ListVersions returns all remote versions, oldest first.
	ListVersions(ctx context.Context) ([]Version, error)
	// RemoveVersion deletes one historical version. Removing an absent
	// version is not an error.
	RemoveVersion(ctx context.Context, v Version) error
	// Status returns the most recent version, or nil when the remote
	// collection does not exist yet.
	Status(ctx context.Context) (*Version, error)
}

// Options bundles the collaborators a transport needs. Zero fields mean
// production defaults; tests override the runner, clock and endpoints.
type Options struct {
	Runner run.Runner
	Clock  clock.Clock
	Logger *log.Logger

	// KeyPath is the SSH identity file for rsync profiles.
	KeyPath string

	// Endpoint is the archive store base URL; empty means derive it from
	// the profile host.
	Endpoint   string
	HTTPClient *http.Client

	// Progress, when non-nil, receives transfer progress updates.
	Progress io.Writer
}

// ErrorKind classifies transport failures.
type ErrorKind int

const (
	IOFailure ErrorKind = iota
	NotFound
	Timeout
	AuthFailure
)

func (k ErrorKind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case Timeout:
		return "timeout"
	case AuthFailure:
		return "auth failure"
	default:
		return "i/o failure"
	}
}

// Error is a transport failure with the underlying external diagnostic
// preserved (command exit and stderr, or HTTP status and body).
type Error struct {
	Op   string // push, pull, list, remove, status
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a transport error of kind NotFound.
func IsNotFound(err error) bool {
	k, ok := Kind(err)
	return ok && k == NotFound
}

// Kind extracts the classification from a transport error chain.
func Kind(err error) (ErrorKind, bool) {
	var terr *Error
	if errors.As(err, &terr) {
		return terr.Kind, true
	}
	return 0, false
}
