package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/protocol"
)

// console serializes writes from event handlers and the input loop.
type console struct {
	mu sync.Mutex
	w  io.Writer
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format, args...)
}

func (c *console) standings(title string, s []domain.Standing) {
	c.printf("%s", formatStandings(title, s))
}

func formatStandings(title string, s []domain.Standing) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", title)
	if len(s) == 0 {
		b.WriteString("  (no players)\n")
		return b.String()
	}
	for i, st := range s {
		fmt.Fprintf(&b, "  %2d. %-20s %d\n", i+1, st.Name, st.Correct)
	}
	return b.String()
}

func formatQuestion(number, total int, q protocol.QuestionPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\nQuestion %d/%d (%ds): %s\n", number, total, q.TimeLimit, q.Text)
	for i, o := range q.Options {
		fmt.Fprintf(&b, "  %d) %s\n", i+1, o)
	}
	return b.String()
}

// showTick limits countdown output to every tenth second and the last five.
func showTick(remaining int) bool {
	return remaining <= 5 || remaining%10 == 0
}

// readLines delivers trimmed, lower-cased lines from r until it ends or ctx is done.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		s := bufio.NewScanner(r)
		for s.Scan() {
			select {
			case lines <- strings.ToLower(strings.TrimSpace(s.Text())):
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}
