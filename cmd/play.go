package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/victornm/livequiz/internal/client"
	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/protocol"
	"github.com/victornm/livequiz/internal/room"
	"github.com/victornm/livequiz/internal/telemetry"
)

type playConfig struct {
	Addr       string
	Name       string
	Room       string
	Attempts   int
	RetryDelay time.Duration
	Log        telemetry.LogConfig
}

func newPlayCmd(root *rootFlags) *cobra.Command {
	f := &playConfig{}

	cmd := &cobra.Command{
		Use:   "play",
		Short: "Join a quiz room as a player.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := playConfig{
				Addr:       fmt.Sprintf("localhost:%d", room.DefaultPort),
				Attempts:   client.DefaultAttempts,
				RetryDelay: client.DefaultRetryDelay,
			}
			c.Log.Level = "warn"
			if err := root.loadConfig(&c); err != nil {
				return err
			}

			fs := cmd.Flags()
			if fs.Changed("addr") {
				c.Addr = f.Addr
			}
			if fs.Changed("name") {
				c.Name = f.Name
			}
			if fs.Changed("room") {
				c.Room = f.Room
			}
			if fs.Changed("attempts") {
				c.Attempts = f.Attempts
			}
			if fs.Changed("retry-delay") {
				c.RetryDelay = f.RetryDelay
			}
			c.Room = strings.ToUpper(c.Room)

			if err := root.setupLogger(c.Log); err != nil {
				return err
			}

			return runPlay(cmd.Context(), c, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&f.Addr, "addr", "a", "", fmt.Sprintf("host address (default \"localhost:%d\")", room.DefaultPort))
	fs.StringVarP(&f.Name, "name", "n", "", "player name")
	fs.StringVarP(&f.Room, "room", "r", "", "room code")
	fs.IntVar(&f.Attempts, "attempts", client.DefaultAttempts, "connection attempts before giving up")
	fs.DurationVar(&f.RetryDelay, "retry-delay", client.DefaultRetryDelay, "delay between connection attempts")

	return cmd
}

func runPlay(ctx context.Context, c playConfig, in io.Reader, out io.Writer) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	con := &console{w: out}
	p := &player{con: con}

	cl, err := client.New(client.Config{
		Addr:       c.Addr,
		Name:       c.Name,
		RoomCode:   c.Room,
		Attempts:   c.Attempts,
		RetryDelay: c.RetryDelay,
		Handlers:   p.handlers(cancel),
	})
	if err != nil {
		return err
	}

	con.printf("Connecting to %s...\n", c.Addr)
	if err := cl.Connect(ctx); err != nil {
		return err
	}
	defer cl.Disconnect()

	con.printf("Joined room %s as %s. %d questions; waiting for the host.\n", c.Room, c.Name, cl.TotalQuestions())

	lines := readLines(ctx, in)
	for {
		select {
		case <-ctx.Done():
			if cause := context.Cause(ctx); cause != ctx.Err() {
				return cause
			}
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch line {
			case "":
				continue
			case "quit", "q", "exit":
				return nil
			}

			answer, err := parseAnswer(line)
			if err != nil {
				con.printf("%v\n", err)
				continue
			}
			if p.answered.Load() >= 0 {
				con.printf("Only your first answer counts.\n")
				continue
			}
			if err := cl.SendAnswer(answer); err != nil {
				con.printf("Can't answer: %v\n", err)
				continue
			}
			p.answered.Store(int64(answer))
			con.printf("Answer %d sent.\n", answer+1)
		}
	}
}

// parseAnswer turns a 1-based option number typed by the player into an answer index.
func parseAnswer(line string) (int, error) {
	n, err := strconv.Atoi(line)
	if err != nil || n < 1 || n > domain.OptionCount {
		return 0, fmt.Errorf("type 1-%d to answer, or quit", domain.OptionCount)
	}
	return n - 1, nil
}

type player struct {
	con *console
	// answered is the index sent for the current question, or -1.
	answered atomic.Int64
}

func (p *player) handlers(cancel context.CancelCauseFunc) client.Handlers {
	p.answered.Store(-1)

	return client.Handlers{
		OnQuestion: func(q protocol.Question) {
			p.answered.Store(-1)
			p.con.printf("%s", formatQuestion(q.Number, q.Total, q.Question))
		},
		OnTimer: func(remaining int) {
			if showTick(remaining) {
				p.con.printf("  %ds left\n", remaining)
			}
		},
		OnTimeUp: func(t protocol.TimeUp) {
			verdict := "No answer."
			if a := p.answered.Load(); a >= 0 {
				verdict = "Wrong."
				if int(a) == t.CorrectAnswer {
					verdict = "Correct!"
				}
			}
			p.con.printf("Time's up! The answer was %d. %s\n", t.CorrectAnswer+1, verdict)
		},
		OnStandings: func(s []domain.Standing) {
			p.con.standings("Scores:", s)
		},
		OnResults: func(s []domain.Standing) {
			p.con.standings("\nFinal results:", s)
		},
		OnDisconnect: func(cause error) {
			p.con.printf("Disconnected: %v\n", cause)
			cancel(cause)
		},
	}
}
