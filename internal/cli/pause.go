package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/signalsfoundry/interop-sim/internal/token"
)

// StdinPauser serves operator pauses from a line-oriented reader. Each Pause
// consumes one line. Once the reader is exhausted every Pause returns
// immediately.
type StdinPauser struct {
	in  io.Reader
	out io.Writer

	once  sync.Once
	lines chan struct{}
}

// NewStdinPauser reads acknowledgments from in and prints prompts to out.
func NewStdinPauser(in io.Reader, out io.Writer) *StdinPauser {
	if out == nil {
		out = io.Discard
	}
	return &StdinPauser{in: in, out: out, lines: make(chan struct{})}
}

// Pause prints prompt and waits for a line, a stopped token or ctx.
func (p *StdinPauser) Pause(ctx context.Context, prompt string, tok *token.Token) error {
	fmt.Fprintln(p.out, prompt)
	p.once.Do(func() { go p.scan() })

	var stopped <-chan struct{}
	if tok != nil {
		stopped = tok.Done()
	}
	select {
	case <-p.lines:
		return nil
	case <-stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// scan outlives any single Pause: a blocked read cannot be abandoned, so
// the line it eventually yields is handed to the next Pause instead.
func (p *StdinPauser) scan() {
	if p.in == nil {
		close(p.lines)
		return
	}
	sc := bufio.NewScanner(p.in)
	for sc.Scan() {
		p.lines <- struct{}{}
	}
	close(p.lines)
}
