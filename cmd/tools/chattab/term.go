package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/a2639443196/my-vue-web/backend/internal/model/chat"
)

// errQuit ends the input loop without reporting a failure.
var errQuit = errors.New("quit")

// readLines feeds r into a channel. The goroutine ends at EOF; a blocked
// read on a terminal is abandoned when the process exits.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

// inputLoop hands every line to handle until ctx ends, input closes or
// handle returns an error.
func inputLoop(ctx context.Context, lines <-chan string, handle func(line string) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return errQuit
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if line == "/quit" {
				return errQuit
			}
			if err := handle(line); err != nil {
				return err
			}
		}
	}
}

// renderer prints each message once, in log order.
type renderer struct {
	out  io.Writer
	seen map[string]struct{}
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out, seen: make(map[string]struct{})}
}

func (r *renderer) render(msgs []chat.Message) {
	for _, msg := range msgs {
		if _, ok := r.seen[msg.ID]; ok {
			continue
		}
		r.seen[msg.ID] = struct{}{}
		fmt.Fprintln(r.out, formatMessage(msg))
	}
}

func formatMessage(msg chat.Message) string {
	stamp := msg.CreatedAt.Local().Format("15:04:05")
	if msg.IsSystem && msg.AuthorID == chat.SystemAuthorID {
		return fmt.Sprintf("[%s] * %s", stamp, msg.Content)
	}
	return fmt.Sprintf("[%s] %s: %s", stamp, msg.AuthorName, msg.Content)
}

// renderLoop redraws on every signal from changes until ctx ends.
func renderLoop(ctx context.Context, r *renderer, changes <-chan struct{}, snapshot func() []chat.Message) error {
	r.render(snapshot())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changes:
			r.render(snapshot())
		}
	}
}

// notifier coalesces change callbacks into a channel of capacity one.
func notifier() (chan struct{}, func()) {
	changes := make(chan struct{}, 1)
	return changes, func() {
		select {
		case changes <- struct{}{}:
		default:
		}
	}
}

func finish(err error) error {
	if errors.Is(err, errQuit) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func toWebSocketURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return base
	}
}
