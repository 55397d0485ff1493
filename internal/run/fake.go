package run

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// FakeCall is one invocation observed by a Fake. Stdin is set for RunIn calls
// and Stdout for RunOut calls.
type FakeCall struct {
	Argv   []string
	Stdin  io.Reader
	Stdout io.Writer
}

// Fake is an in-memory Runner for unit tests. Handle decides the outcome of
// each call; every invocation's argv is recorded.
type Fake struct {
	mu    sync.Mutex
	calls [][]string

	// Handle services a call. When nil every call succeeds with a zero Result.
	Handle func(c *FakeCall) (Result, error)
	// Binaries maps names LookPath should resolve. A nil map resolves
	// everything to /usr/bin/<name>.
	Binaries map[string]string
}

var _ Runner = (*Fake)(nil)

// Calls returns a copy of all recorded argv slices in invocation order.
func (f *Fake) Calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *Fake) record(argv []string) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), argv...))
	f.mu.Unlock()
}

func (f *Fake) handle(c *FakeCall) (Result, error) {
	if f.Handle == nil {
		return Result{}, nil
	}
	return f.Handle(c)
}

func (f *Fake) Run(ctx context.Context, argv ...string) (Result, error) {
	f.record(argv)
	return f.handle(&FakeCall{Argv: argv})
}

func (f *Fake) RunIn(ctx context.Context, stdin io.Reader, argv ...string) (Result, error) {
	f.record(argv)
	return f.handle(&FakeCall{Argv: argv, Stdin: stdin})
}

func (f *Fake) RunOut(ctx context.Context, consume func(io.Reader) error, argv ...string) (Result, error) {
	f.record(argv)
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() { done <- consume(pr) }()
	res, err := f.handle(&FakeCall{Argv: argv, Stdout: pw})
	pw.CloseWithError(err)
	consumeErr := <-done
	pr.Close()
	if err != nil {
		return res, err
	}
	if consumeErr != nil {
		return res, consumeErr
	}
	return res, nil
}

func (f *Fake) LookPath(name string) (string, error) {
	if f.Binaries == nil {
		return "/usr/bin/" + name, nil
	}
	if p, ok := f.Binaries[name]; ok {
		return p, nil
	}
	return "", fmt.Errorf("exec: %q: executable file not found in $PATH", name)
}
