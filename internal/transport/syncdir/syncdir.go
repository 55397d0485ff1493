// Package syncdir implements the rsync transport: incremental directory
// mirroring over SSH with a dated history kept on the remote side.
//
// Remote layout, relative to the SSH account's home:
//
//	datadb/<backup_name>/current/        latest copy
//	datadb/<backup_name>/current.id      version id of current
//	datadb/<backup_name>/history/<id>/   displaced prior copies
//	datadb/<backup_name>/.staging-<id>/  transient push target
//
// A push syncs into a staging directory first and promotes it with a rename,
// so an interrupted transfer leaves the previous current copy untouched. The
// staging directory is seeded from current with hardlinks (cp -al), which
// keeps the rsync incremental even though every push produces a fresh tree.
package syncdir

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/juju/clock"
	"github.com/kballard/go-shellquote"

	"datadb/internal/config"
	"datadb/internal/lockguard"
	"datadb/internal/run"
	"datadb/internal/transport"
)

// defaultUser is the SSH account used when the profile URI names none.
const defaultUser = "datadb"

// Transport moves one profile's data over rsync+ssh.
type Transport struct {
	profile config.Profile
	runner  run.Runner
	clock   clock.Clock
	logger  *log.Logger
	keyPath string
}

var _ transport.Transport = (*Transport)(nil)

// New builds the rsync transport for p. Zero-value options fall back to the
// real runner, the wall clock and the configured key path.
func New(p config.Profile, opts transport.Options) *Transport {
	t := &Transport{
		profile: p,
		runner:  opts.Runner,
		clock:   opts.Clock,
		logger:  opts.Logger,
		keyPath: opts.KeyPath,
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
	if t.keyPath == "" {
		t.keyPath = config.KeyPath()
	}
	return t
}

func (t *Transport) base() string       { return path.Join("datadb", t.profile.BackupName) }
func (t *Transport) currentDir() string { return path.Join(t.base(), "current") }
func (t *Transport) idFile() string     { return path.Join(t.base(), "current.id") }
func (t *Transport) historyDir() string { return path.Join(t.base(), "history") }

func (t *Transport) stagingDir(id string) string {
	return path.Join(t.base(), ".staging-"+id)
}

func (t *Transport) target() string {
	user := t.profile.RemoteUser
	if user == "" {
		user = defaultUser
	}
	return user + "@" + t.profile.RemoteHost
}

// Push uploads localDir as a new version. The previous current copy is
// displaced into history/<its id>, the staged upload promoted and the id file
// stamped in a single remote shell round trip, so no transfer failure can
// leave a half-synced current directory or a promoted tree with a stale id.
func (t *Transport) Push(ctx context.Context, localDir string) (transport.Version, error) {
	id := transport.NewVersionID(t.clock.Now())
	v := transport.VersionFromID(id, 0)

	if t.profile.Inplace {
		if err := t.pushInplace(ctx, localDir, id); err != nil {
			return transport.Version{}, t.fail("push", err)
		}
		return v, nil
	}

	staging := t.stagingDir(id)
	if _, err := t.ssh(ctx, shellquote.Join("rm", "-rf", "--", staging)); err != nil {
		return transport.Version{}, t.fail("push", err)
	}
	if _, err := t.ssh(ctx, shellquote.Join("mkdir", "-p", "--", t.historyDir(), staging)); err != nil {
		return transport.Version{}, t.fail("push", err)
	}

	hasCurrent, err := t.remoteDirExists(ctx, t.currentDir())
	if err != nil {
		return transport.Version{}, t.fail("push", err)
	}
	prevID := ""
	if hasCurrent {
		if prevID, err = t.readCurrentID(ctx); err != nil {
			return transport.Version{}, t.fail("push", err)
		}
		if _, err := t.ssh(ctx, shellquote.Join("cp", "-al", t.currentDir()+"/.", staging+"/")); err != nil {
			t.cleanupStaging(staging)
			return transport.Version{}, t.fail("push", err)
		}
	}

	argv := t.rsyncArgv(localDir+"/", t.target()+":"+staging+"/", t.profile.Exclude)
	if err := t.runRsync(ctx, argv); err != nil {
		t.cleanupStaging(staging)
		return transport.Version{}, t.fail("push", err)
	}

	// Stamping rides on the promotion command so a push can never leave a
	// promoted tree with a stale id file.
	flip := shellquote.Join("mv", "-T", "--", staging, t.currentDir()) + " && " + t.stampCmd(id)
	if hasCurrent {
		if prevID == "" {
			// current was never stamped; park it under a synthetic id that
			// still sorts chronologically
			prevID = transport.NewVersionID(t.clock.Now().Add(-time.Second))
		}
		displace := shellquote.Join("mv", "-T", "--", t.currentDir(), path.Join(t.historyDir(), prevID))
		flip = displace + " && " + flip
	}
	if _, err := t.ssh(ctx, flip); err != nil {
		t.cleanupStaging(staging)
		return transport.Version{}, t.fail("push", err)
	}
	return v, nil
}

// pushInplace mirrors straight into current/ with no staging and no history.
// Single-copy mode for datasets too large to keep twice on the remote.
func (t *Transport) pushInplace(ctx context.Context, localDir, id string) error {
	if _, err := t.ssh(ctx, shellquote.Join("mkdir", "-p", "--", t.currentDir())); err != nil {
		return err
	}
	argv := t.rsyncArgv(localDir+"/", t.target()+":"+t.currentDir()+"/", t.profile.Exclude)
	if err := t.runRsync(ctx, argv); err != nil {
		return err
	}
	_, err := t.ssh(ctx, t.stampCmd(id))
	return err
}

// Pull mirrors the remote current copy into localDir. The local lock marker
// is excluded from the sync, so --delete cannot remove it.
func (t *Transport) Pull(ctx context.Context, localDir string) error {
	hasCurrent, err := t.remoteDirExists(ctx, t.currentDir())
	if err != nil {
		return t.fail("pull", err)
	}
	if !hasCurrent {
		return &transport.Error{
			Op:   "pull",
			Kind: transport.NotFound,
			Msg:  fmt.Sprintf("no versions of %s on %s", t.profile.BackupName, t.profile.RemoteHost),
		}
	}
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return &transport.Error{Op: "pull", Kind: transport.IOFailure, Err: err}
	}
	argv := t.rsyncArgv(t.target()+":"+t.currentDir()+"/", localDir, nil)
	if err := t.runRsync(ctx, argv); err != nil {
		return t.fail("pull", err)
	}
	return nil
}

// ListVersions enumerates the history directory plus the stamped current
// copy, oldest first.
func (t *Transport) ListVersions(ctx context.Context) ([]transport.Version, error) {
	exists, err := t.remoteDirExists(ctx, t.base())
	if err != nil {
		return nil, t.fail("list", err)
	}
	if !exists {
		return nil, nil
	}
	ids, err := t.listHistory(ctx)
	if err != nil {
		return nil, t.fail("list", err)
	}
	current, err := t.readCurrentID(ctx)
	if err != nil {
		return nil, t.fail("list", err)
	}
	seen := make(map[string]bool, len(ids)+1)
	var out []transport.Version
	for _, id := range append(ids, current) {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, transport.VersionFromID(id, 0))
	}
	transport.SortVersions(out)
	return out, nil
}

// RemoveVersion deletes one history entry. Only history is addressable: the
// current copy is never removed, and removing an absent id succeeds.
func (t *Transport) RemoveVersion(ctx context.Context, v transport.Version) error {
	if !validID(v.ID) {
		return &transport.Error{Op: "remove", Kind: transport.IOFailure, Msg: fmt.Sprintf("bad version id %q", v.ID)}
	}
	if _, err := t.ssh(ctx, shellquote.Join("rm", "-rf", "--", path.Join(t.historyDir(), v.ID))); err != nil {
		return t.fail("remove", err)
	}
	return nil
}

// Status returns the newest version, or nil when nothing has been pushed.
func (t *Transport) Status(ctx context.Context) (*transport.Version, error) {
	vs, err := t.ListVersions(ctx)
	if err != nil {
		return nil, err
	}
	return transport.Latest(vs), nil
}

func (t *Transport) ssh(ctx context.Context, command string) (run.Result, error) {
	argv := []string{"ssh", "-i", t.keyPath, "-o", "StrictHostKeyChecking=no"}
	if t.profile.RemotePort != 0 {
		argv = append(argv, "-p", strconv.Itoa(t.profile.RemotePort))
	}
	argv = append(argv, t.target(), command)
	t.logger.Debug("remote command", "profile", t.profile.Name, "cmd", command)
	return t.runner.Run(ctx, argv...)
}

func (t *Transport) rsyncArgv(src, dst string, excludes []string) []string {
	argv := []string{
		"rsync", "-azr",
		"--whole-file", "--one-file-system", "--delete",
		"--exclude=" + lockguard.MarkerName,
	}
	for _, pat := range excludes {
		argv = append(argv, "--exclude="+pat)
	}
	ssh := []string{"ssh", "-i", t.keyPath, "-o", "StrictHostKeyChecking=no"}
	if t.profile.RemotePort != 0 {
		ssh = append(ssh, "-p", strconv.Itoa(t.profile.RemotePort))
	}
	argv = append(argv, "-e", shellquote.Join(ssh...))
	return append(argv, src, dst)
}

// runRsync tolerates exit 24 (source files vanished during the transfer),
// which is routine when backing up a live directory.
func (t *Transport) runRsync(ctx context.Context, argv []string) error {
	t.logger.Debug("rsync", "profile", t.profile.Name, "argv", strings.Join(argv, " "))
	_, err := t.runner.Run(ctx, argv...)
	var cerr *run.CommandError
	if errors.As(err, &cerr) && cerr.ExitCode == 24 {
		t.logger.Warn("rsync reported vanished source files", "profile", t.profile.Name)
		return nil
	}
	return err
}

func (t *Transport) remoteDirExists(ctx context.Context, dir string) (bool, error) {
	_, err := t.ssh(ctx, shellquote.Join("test", "-d", dir))
	if err == nil {
		return true, nil
	}
	var cerr *run.CommandError
	if errors.As(err, &cerr) && cerr.ExitCode == 1 {
		return false, nil
	}
	return false, err
}

// readCurrentID returns "" when the id file does not exist.
func (t *Transport) readCurrentID(ctx context.Context) (string, error) {
	res, err := t.ssh(ctx, shellquote.Join("cat", t.idFile()))
	if err != nil {
		var cerr *run.CommandError
		if errors.As(err, &cerr) && strings.Contains(cerr.Stderr, "No such file") {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

// listHistory returns the history entry names; an absent history directory
// counts as empty.
func (t *Transport) listHistory(ctx context.Context) ([]string, error) {
	res, err := t.ssh(ctx, shellquote.Join("ls", "-1", t.historyDir()))
	if err != nil {
		var cerr *run.CommandError
		if errors.As(err, &cerr) && strings.Contains(cerr.Stderr, "No such file") {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			ids = append(ids, line)
		}
	}
	return ids, nil
}

// stampCmd writes the id file; on the regular push path it is chained onto
// the promotion mv.
func (t *Transport) stampCmd(id string) string {
	return shellquote.Join("printf", "%s", id) + " > " + shellquote.Join(t.idFile())
}

// cleanupStaging removes a staging directory after a failed push. The push
// context may already be dead, so this runs on its own short deadline.
func (t *Transport) cleanupStaging(staging string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := t.ssh(ctx, shellquote.Join("rm", "-rf", "--", staging)); err != nil {
		t.logger.Warn("leaving remote staging directory behind", "path", staging, "err", err)
	}
}

func (t *Transport) fail(op string, err error) error {
	var terr *transport.Error
	if errors.As(err, &terr) {
		return err
	}
	return &transport.Error{Op: op, Kind: classify(err), Err: err}
}

func classify(err error) transport.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return transport.Timeout
	}
	var cerr *run.CommandError
	if errors.As(err, &cerr) {
		if strings.Contains(cerr.Stderr, "Permission denied") || strings.Contains(cerr.Stderr, "publickey") {
			return transport.AuthFailure
		}
	}
	return transport.IOFailure
}

func validID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, "/\n")
}
