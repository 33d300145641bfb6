package chat

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Stdio reads chat lines from r and writes commands, one per line, to w. It
// is meant for running behind a console client's pipe.
type Stdio struct {
	r io.Reader

	wmu sync.Mutex
	w   io.Writer
}

func NewStdio(r io.Reader, w io.Writer) *Stdio {
	return &Stdio{r: r, w: w}
}

func (s *Stdio) Name() string { return "stdio" }

// Run returns ErrClosed at EOF.
func (s *Stdio) Run(ctx context.Context, out chan<- Line) error {
	sc := bufio.NewScanner(s.r)
	sc.Buffer(make([]byte, 64<<10), 1<<20)
	for sc.Scan() {
		text := strings.TrimRight(sc.Text(), "\r")
		if text == "" {
			continue
		}
		select {
		case out <- Line{Text: text, At: time.Now()}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("chat stdio: %w", err)
	}
	return ErrClosed
}

func (s *Stdio) SendCommand(_ context.Context, cmd string) error {
	if s.w == nil {
		return ErrNotConnected
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_, err := io.WriteString(s.w, strings.TrimSpace(cmd)+"\n")
	return err
}
