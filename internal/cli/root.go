// Package cli wires the datadb commands: backup, restore and status for one
// profile, plus profile listing and the version command.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"datadb/internal/config"
	"datadb/internal/engine"
	"datadb/internal/transport"
)

// NewRootCmd returns the root cobra command for the datadb CLI.
func NewRootCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "datadb",
		Short:         "Back up and restore profile directories over rsync or archive transports",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	cmd.AddCommand(newBackupCmd(stdout, stderr))
	cmd.AddCommand(newRestoreCmd(stdout, stderr))
	cmd.AddCommand(newStatusCmd(stdout, stderr))
	cmd.AddCommand(newProfilesCmd(stdout, stderr))
	cmd.AddCommand(newVersionCmd(stdout))

	return cmd
}

// Execute runs the CLI with the process stdio and maps the outcome to an exit
// code: zero for success and informational status, nonzero otherwise.
func Execute() int {
	root := NewRootCmd(os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "datadb:", err)
		return 1
	}
	return 0
}

// loadProfilesFn loads the profile set; tests substitute a stub.
var loadProfilesFn = func() (config.Profiles, error) {
	return config.Load(config.Path())
}

// SetProfileLoaderForTest replaces the profile loader. The returned function
// restores the previous one.
func SetProfileLoaderForTest(fn func() (config.Profiles, error)) func() {
	prev := loadProfilesFn
	loadProfilesFn = fn
	return func() { loadProfilesFn = prev }
}

// transportFactory overrides transport construction; nil means the real
// transports.
var transportFactory engine.Factory

// SetTransportFactoryForTest replaces the transport factory. The returned
// function restores the previous one.
func SetTransportFactoryForTest(f engine.Factory) func() {
	prev := transportFactory
	transportFactory = f
	return func() { transportFactory = prev }
}

func loadProfile(name string) (config.Profile, error) {
	profiles, err := loadProfilesFn()
	if err != nil {
		return config.Profile{}, err
	}
	p, ok := profiles.Find(name)
	if !ok {
		return config.Profile{}, fmt.Errorf("unknown profile %q (configured: %v)", name, profiles.Names())
	}
	for _, k := range p.Ignored {
		log.Default().Debug("ignoring legacy profile key", "profile", p.Name, "key", k)
	}
	return p, nil
}

// newEngine builds the engine for one invocation: logging and transfer
// progress on stderr, everything else production defaults.
func newEngine(stderr io.Writer) *engine.Engine {
	logger := newLogger(stderr)
	topts := transport.Options{Logger: logger}
	if f, ok := stderr.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		topts.Progress = stderr
	}
	return engine.New(engine.Options{
		Logger:    logger,
		Transport: topts,
		Factory:   transportFactory,
	})
}

func newLogger(stderr io.Writer) *log.Logger {
	logger := log.NewWithOptions(stderr, log.Options{ReportTimestamp: false})
	if lvl, err := log.ParseLevel(os.Getenv(config.EnvLogLevel)); err == nil {
		logger.SetLevel(lvl)
	}
	return logger
}

func ctxOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// finish maps an operation result to CLI output: the message on stdout for
// success, otherwise an error naming the stage that failed.
func finish(stdout, stderr io.Writer, res engine.Result) error {
	for _, w := range res.Warnings {
		fmt.Fprintln(stderr, "warning:", w)
	}
	if res.OK() {
		fmt.Fprintln(stdout, res.Message)
		return nil
	}
	return fmt.Errorf("%s: %s", res.Stage, res.Message)
}
