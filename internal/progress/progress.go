// Package progress renders byte counters for interactive transfers.
package progress

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Reader counts bytes flowing through an io.Reader and renders a throttled
// single-line meter to out. A zero total omits the percentage; a nil out
// disables rendering but keeps counting.
type Reader struct {
	src   io.Reader
	out   io.Writer
	label string
	total int64

	mu   sync.Mutex
	done int64
	last time.Time
}

func NewReader(src io.Reader, total int64, label string, out io.Writer) *Reader {
	return &Reader{src: src, out: out, label: label, total: total}
}

// Count returns the bytes read so far.
func (r *Reader) Count() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	if n > 0 {
		r.mu.Lock()
		r.done += int64(n)
		if now := time.Now(); now.Sub(r.last) >= 200*time.Millisecond {
			r.render()
			r.last = now
		}
		r.mu.Unlock()
	}
	if err == io.EOF && r.out != nil {
		r.mu.Lock()
		r.render()
		fmt.Fprintln(r.out)
		r.mu.Unlock()
	}
	return n, err
}

func (r *Reader) render() {
	if r.out == nil {
		return
	}
	if r.total > 0 {
		pct := float64(r.done) / float64(r.total) * 100
		fmt.Fprintf(r.out, "\r%s: %s of %s (%.0f%%)", r.label, humanize.Bytes(uint64(r.done)), humanize.Bytes(uint64(r.total)), pct)
		return
	}
	fmt.Fprintf(r.out, "\r%s: %s", r.label, humanize.Bytes(uint64(r.done)))
}
