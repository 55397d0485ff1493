// Package engine drives one profile operation from validation through
// transport work to the final result, composing the transport, the retention
// policy and the restore lock.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"

	"datadb/internal/config"
	"datadb/internal/lockguard"
	"datadb/internal/retention"
	"datadb/internal/transport"
	"datadb/internal/transport/archive"
	"datadb/internal/transport/syncdir"
)

// Status is the overall outcome of one operation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	// StatusSkipped means the restore safety gate tripped before any remote
	// or destructive local work.
	StatusSkipped Status = "skipped"
)

// Stage names where an operation ended, for the one-line diagnostic.
type Stage string

const (
	StageValidate Stage = "validate"
	StagePush     Stage = "push"
	StagePull     Stage = "pull"
	StagePrune    Stage = "prune"
	StageList     Stage = "list"
)

// Result is the outcome of one backup, restore or status invocation.
type Result struct {
	Profile  string
	Status   Status
	Stage    Stage
	Message  string
	Warnings []string
	Err      error

	// Versions and Latest are populated by the status operation.
	Versions []transport.Version
	Latest   *transport.Version
}

// OK reports whether the invocation should exit zero.
func (r Result) OK() bool { return r.Status == StatusSuccess }

// Factory builds the transport for a profile. Tests substitute recording
// doubles here.
type Factory func(p config.Profile, opts transport.Options) (transport.Transport, error)

func defaultFactory(p config.Profile, opts transport.Options) (transport.Transport, error) {
	switch p.Protocol {
	case config.ProtocolRsync:
		return syncdir.New(p, opts), nil
	case config.ProtocolArchive:
		return archive.New(p, opts), nil
	default:
		return nil, &config.Error{Profile: p.Name, Reason: fmt.Sprintf("unknown protocol %q", p.Protocol)}
	}
}

// Options configures an Engine.
type Options struct {
	Logger *log.Logger
	// Transport carries the collaborators handed to every transport built.
	Transport transport.Options
	// Factory overrides transport construction.
	Factory Factory
}

// Engine runs profile operations. One engine serves one process invocation;
// it holds no per-operation state.
type Engine struct {
	logger  *log.Logger
	topts   transport.Options
	factory Factory
}

func New(opts Options) *Engine {
	e := &Engine{logger: opts.Logger, topts: opts.Transport, factory: opts.Factory}
	if e.logger == nil {
		e.logger = log.Default()
	}
	if e.factory == nil {
		e.factory = defaultFactory
	}
	if e.topts.Logger == nil {
		e.topts.Logger = e.logger
	}
	return e
}

// Backup pushes the profile's directory as a new remote version, then prunes
// history down to the keep count. Prune problems are reported as warnings and
// never undo a successful push.
func (e *Engine) Backup(ctx context.Context, p config.Profile) Result {
	res := Result{Profile: p.Name}
	tr, err := e.factory(p, e.topts)
	if err != nil {
		return fail(res, StageValidate, err)
	}
	if err := validateDataDir(p.LocalDir); err != nil {
		return fail(res, StageValidate, err)
	}

	ctx, cancel := opCtx(ctx, p)
	defer cancel()

	v, err := tr.Push(ctx, p.LocalDir)
	if err != nil {
		return fail(res, StagePush, err)
	}
	e.logger.Info("pushed", "profile", p.Name, "version", v.ID)

	if p.Keep > 0 && !p.Inplace {
		res.Warnings = e.prune(ctx, tr, p, v)
	}

	res.Status = StatusSuccess
	res.Stage = StagePush
	res.Message = fmt.Sprintf("backup complete: version %s", v.ID)
	return res
}

// prune removes versions beyond the keep count, best effort. Only versions
// strictly older than the one just pushed are touched.
func (e *Engine) prune(ctx context.Context, tr transport.Transport, p config.Profile, just transport.Version) []string {
	vs, err := tr.ListVersions(ctx)
	if err != nil {
		e.logger.Warn("skipping retention, could not list versions", "profile", p.Name, "err", err)
		return []string{fmt.Sprintf("retention skipped: %v", err)}
	}
	var warnings []string
	for _, old := range retention.Prune(vs, p.Keep) {
		if old.ID >= just.ID {
			continue
		}
		if err := tr.RemoveVersion(ctx, old); err != nil {
			e.logger.Warn("could not prune version", "profile", p.Name, "version", old.ID, "err", err)
			warnings = append(warnings, fmt.Sprintf("could not prune %s: %v", old.ID, err))
			continue
		}
		e.logger.Info("pruned", "profile", p.Name, "version", old.ID)
	}
	return warnings
}

// Restore pulls the newest remote version into the profile's directory. The
// lock check runs strictly before any remote interaction, and the marker is
// written only after the pull fully succeeds.
func (e *Engine) Restore(ctx context.Context, p config.Profile, force bool) Result {
	res := Result{Profile: p.Name}
	tr, err := e.factory(p, e.topts)
	if err != nil {
		return fail(res, StageValidate, err)
	}
	if err := lockguard.Check(p.LocalDir, force); err != nil {
		var blocked *lockguard.BlockedError
		if errors.As(err, &blocked) {
			res.Status = StatusSkipped
			res.Stage = StageValidate
			res.Err = err
			res.Message = err.Error()
			return res
		}
		return fail(res, StageValidate, err)
	}

	ctx, cancel := opCtx(ctx, p)
	defer cancel()

	if err := tr.Pull(ctx, p.LocalDir); err != nil {
		return fail(res, StagePull, err)
	}
	if err := lockguard.Acquire(p.LocalDir); err != nil {
		return fail(res, StagePull, fmt.Errorf("restored but could not write the lock marker: %w", err))
	}

	res.Status = StatusSuccess
	res.Stage = StagePull
	res.Message = "restore complete"
	return res
}

// Status reports the newest remote version and the full listing. Read only:
// no local or remote state changes, and the restore lock is never consulted.
func (e *Engine) Status(ctx context.Context, p config.Profile) Result {
	res := Result{Profile: p.Name}
	tr, err := e.factory(p, e.topts)
	if err != nil {
		return fail(res, StageValidate, err)
	}
	if err := validateDataDir(p.LocalDir); err != nil {
		return fail(res, StageValidate, err)
	}

	ctx, cancel := opCtx(ctx, p)
	defer cancel()

	latest, err := tr.Status(ctx)
	if err != nil {
		return fail(res, StageList, err)
	}
	res.Status = StatusSuccess
	res.Stage = StageList
	res.Latest = latest
	if latest == nil {
		res.Message = "no backups found"
		return res
	}
	vs, err := tr.ListVersions(ctx)
	if err != nil {
		return fail(res, StageList, err)
	}
	res.Versions = vs
	res.Message = fmt.Sprintf("latest version %s (%d total)", latest.ID, len(vs))
	return res
}

func fail(res Result, stage Stage, err error) Result {
	res.Status = StatusFailure
	res.Stage = stage
	res.Err = err
	res.Message = err.Error()
	return res
}

func opCtx(ctx context.Context, p config.Profile) (context.Context, context.CancelFunc) {
	if p.Timeout > 0 {
		return context.WithTimeout(ctx, p.Timeout)
	}
	return ctx, func() {}
}

func validateDataDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("data directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("data directory %s: not a directory", dir)
	}
	f, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("data directory: %w", err)
	}
	return f.Close()
}
