// Package archive implements the HTTP transport: the whole directory is
// compressed into one tar.gz stream and stored by a remote HTTP service that
// keeps one version per upload.
//
// Contract with the store, relative to the endpoint base:
//
//	PUT    /<backup_name>/<version>   archive byte stream; the store registers
//	                                  the version only for a complete body
//	GET    /<backup_name>             JSON listing [{"version","size"}, ...]
//	GET    /<backup_name>/<version>   archive byte stream
//	DELETE /<backup_name>/<version>   idempotent delete
//
// Every push re-uploads the whole tree, so this transport is suited to
// modest data volumes only.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/juju/clock"

	"datadb/internal/config"
	"datadb/internal/progress"
	"datadb/internal/run"
	"datadb/internal/transport"
)

// defaultPort is where the archive store listens when the profile URI does
// not say otherwise.
const defaultPort = 4875

// Transport stores one profile's data as compressed archives over HTTP.
type Transport struct {
	profile  config.Profile
	runner   run.Runner
	clock    clock.Clock
	logger   *log.Logger
	client   *http.Client
	endpoint string
	progress io.Writer
}

var _ transport.Transport = (*Transport)(nil)

// New builds the archive transport for p. The endpoint comes from the
// options, the DATADB_HTTP_API override, or the profile host in that order.
func New(p config.Profile, opts transport.Options) *Transport {
	t := &Transport{
		profile:  p,
		runner:   opts.Runner,
		clock:    opts.Clock,
		logger:   opts.Logger,
		client:   opts.HTTPClient,
		progress: opts.Progress,
	}
	if t.runner == nil {
		t.runner = run.ExecRunner{}
	}
	if t.clock == nil {
		t.clock = clock.WallClock
	}
	if t.logger == nil {
		t.logger = log.Default()
	}
	if t.client == nil {
		t.client = http.DefaultClient
	}
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = config.HTTPAPI()
	}
	if endpoint == "" {
		port := p.RemotePort
		if port == 0 {
			port = defaultPort
		}
		endpoint = fmt.Sprintf("http://%s:%d", p.RemoteHost, port)
	}
	t.endpoint = strings.TrimRight(endpoint, "/")
	return t
}

// Endpoint returns the resolved store base URL.
func (t *Transport) Endpoint() string { return t.endpoint }

// Push streams a fresh archive of localDir to the store. When tar fails with
// real diagnostics the request body is aborted mid-stream, so the store never
// registers a truncated upload as a version.
func (t *Transport) Push(ctx context.Context, localDir string) (transport.Version, error) {
	id := transport.NewVersionID(t.clock.Now())
	v := transport.VersionFromID(id, 0)

	argv := t.createArgv(localDir)
	pr, pw := io.Pipe()
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, t.versionURL(id), pr)
	if err != nil {
		return transport.Version{}, &transport.Error{Op: "push", Kind: transport.IOFailure, Err: err}
	}
	req.Header.Set("Content-Type", "application/gzip")

	t.logger.Debug("http", "method", "PUT", "url", req.URL.String())
	t.logger.Debug("tar", "profile", t.profile.Name, "argv", strings.Join(argv, " "))

	type putResult struct {
		resp *http.Response
		err  error
	}
	done := make(chan putResult, 1)
	go func() {
		resp, err := t.client.Do(req)
		if err != nil {
			// Unblock the archive copy if the request dies early.
			pr.CloseWithError(err)
		}
		done <- putResult{resp, err}
	}()

	var uploaded int64
	res, tarErr := t.runner.RunOut(ctx, func(stdout io.Reader) error {
		var src io.Reader = stdout
		if t.progress != nil {
			src = progress.NewReader(stdout, 0, "push "+t.profile.Name, t.progress)
		}
		n, err := io.Copy(pw, src)
		uploaded = n
		return err
	}, argv...)

	// Decide whether the stream that reached the store is complete. A nonzero
	// tar exit with no diagnostics beyond member noise means files changed or
	// vanished underneath it; the archive is still usable.
	var noise []string
	var cerr *run.CommandError
	switch {
	case tarErr == nil:
		pw.Close()
	case errors.As(tarErr, &cerr):
		noise = tarNoise(res.Stderr)
		if len(noise) == 0 {
			t.logger.Warn("tar exited nonzero without diagnostics; keeping the archive",
				"profile", t.profile.Name, "exit", cerr.ExitCode)
			tarErr = nil
			pw.Close()
		} else {
			pw.CloseWithError(cerr)
		}
	default:
		pw.CloseWithError(tarErr)
	}

	put := <-done
	if put.resp != nil {
		defer put.resp.Body.Close()
	}

	if cerr != nil && len(noise) > 0 {
		return transport.Version{}, &transport.Error{
			Op:   "push",
			Kind: transport.IOFailure,
			Msg:  fmt.Sprintf("tar exit %d: %s", cerr.ExitCode, strings.Join(noise, "; ")),
		}
	}
	if put.err != nil {
		return transport.Version{}, t.fail("push", put.err)
	}
	if put.resp.StatusCode < 200 || put.resp.StatusCode > 299 {
		return transport.Version{}, t.statusFail("push", put.resp)
	}
	if tarErr != nil {
		return transport.Version{}, t.fail("push", tarErr)
	}
	v.Size = uploaded
	return v, nil
}

// Pull downloads the newest archive and extracts it over localDir.
func (t *Transport) Pull(ctx context.Context, localDir string) error {
	vs, err := t.ListVersions(ctx)
	if err != nil {
		return err
	}
	latest := transport.Latest(vs)
	if latest == nil {
		return &transport.Error{
			Op:   "pull",
			Kind: transport.NotFound,
			Msg:  fmt.Sprintf("no versions of %s at %s", t.profile.BackupName, t.endpoint),
		}
	}
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return &transport.Error{Op: "pull", Kind: transport.IOFailure, Err: err}
	}

	resp, err := t.do(ctx, http.MethodGet, t.versionURL(latest.ID))
	if err != nil {
		return t.fail("pull", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return t.statusFail("pull", resp)
	}

	var body io.Reader = resp.Body
	if t.progress != nil {
		body = progress.NewReader(resp.Body, resp.ContentLength, "pull "+t.profile.Name, t.progress)
	}
	argv := t.extractArgv(localDir)
	t.logger.Debug("tar", "profile", t.profile.Name, "argv", strings.Join(argv, " "))
	if _, err := t.runner.RunIn(ctx, body, argv...); err != nil {
		return t.fail("pull", err)
	}
	return nil
}

// ListVersions fetches the store's listing, oldest first. An absent
// collection is an empty listing, not an error.
func (t *Transport) ListVersions(ctx context.Context) ([]transport.Version, error) {
	resp, err := t.do(ctx, http.MethodGet, t.collectionURL())
	if err != nil {
		return nil, t.fail("list", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, t.statusFail("list", resp)
	}
	var vs []transport.Version
	if err := json.NewDecoder(resp.Body).Decode(&vs); err != nil {
		return nil, &transport.Error{Op: "list", Kind: transport.IOFailure, Err: fmt.Errorf("decode listing: %w", err)}
	}
	for i := range vs {
		vs[i] = transport.VersionFromID(vs[i].ID, vs[i].Size)
	}
	transport.SortVersions(vs)
	return vs, nil
}

// RemoveVersion deletes one stored version; a 404 means it was already gone.
func (t *Transport) RemoveVersion(ctx context.Context, v transport.Version) error {
	if v.ID == "" {
		return &transport.Error{Op: "remove", Kind: transport.IOFailure, Msg: "empty version id"}
	}
	resp, err := t.do(ctx, http.MethodDelete, t.versionURL(v.ID))
	if err != nil {
		return t.fail("remove", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return t.statusFail("remove", resp)
	}
	return nil
}

// Status returns the newest stored version, or nil when nothing has been
// pushed.
func (t *Transport) Status(ctx context.Context) (*transport.Version, error) {
	vs, err := t.ListVersions(ctx)
	if err != nil {
		return nil, err
	}
	return transport.Latest(vs), nil
}

func (t *Transport) do(ctx context.Context, method, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, err
	}
	t.logger.Debug("http", "method", method, "url", u)
	return t.client.Do(req)
}

func (t *Transport) collectionURL() string {
	return t.endpoint + "/" + escapePath(t.profile.BackupName)
}

func (t *Transport) versionURL(id string) string {
	return t.collectionURL() + "/" + url.PathEscape(id)
}

func escapePath(name string) string {
	parts := strings.Split(name, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// createArgv builds the compression pipeline: tar niced down as far as the
// host allows, pigz when installed, and the lock marker always excluded.
func (t *Transport) createArgv(localDir string) []string {
	var argv []string
	if _, err := t.runner.LookPath("ionice"); err == nil {
		argv = append(argv, "ionice", "-c", "3")
	}
	argv = append(argv, "nice", "-n", "19")
	argv = append(argv, t.tarCmd(),
		"--exclude=.datadb.lock",
		"--warning=no-file-changed",
		"--warning=no-file-removed",
		"--warning=no-file-ignored",
		"--warning=no-file-shrank",
	)
	if _, err := t.runner.LookPath("pigz"); err == nil {
		argv = append(argv, "--use-compress-program", "pigz")
	} else {
		argv = append(argv, "-z")
	}
	for _, pat := range t.profile.Exclude {
		argv = append(argv, "--exclude", pat)
	}
	return append(argv, "-c", "-C", localDir, "./")
}

func (t *Transport) extractArgv(localDir string) []string {
	return []string{t.tarCmd(), "-zx", "-C", localDir}
}

// tarCmd prefers GNU tar under its gtar alias where plain tar is BSD tar.
func (t *Transport) tarCmd() string {
	if _, err := t.runner.LookPath("gtar"); err == nil {
		return "gtar"
	}
	return "tar"
}

// tarNoise returns deduplicated stderr lines that are not "./" member
// listings. Warnings are already suppressed in the argv, so anything left is
// assumed to be a real failure.
func tarNoise(stderr string) []string {
	seen := map[string]bool{}
	var out []string
	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "./") || seen[line] {
			continue
		}
		seen[line] = true
		out = append(out, line)
	}
	return out
}

func (t *Transport) fail(op string, err error) error {
	var terr *transport.Error
	if errors.As(err, &terr) {
		return err
	}
	kind := transport.IOFailure
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		kind = transport.Timeout
	}
	return &transport.Error{Op: op, Kind: kind, Err: err}
}


func (t *Transport) statusFail(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	kind := transport.IOFailure
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = transport.AuthFailure
	case http.StatusNotFound:
		kind = transport.NotFound
	}
	msg := "server returned " + resp.Status
	if s := strings.TrimSpace(string(body)); s != "" {
		msg += ": " + s
	}
	return &transport.Error{Op: op, Kind: kind, Msg: msg}
}
