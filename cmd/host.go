package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/victornm/livequiz/internal/answerlog"
	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/protocol"
	"github.com/victornm/livequiz/internal/quizfile"
	"github.com/victornm/livequiz/internal/room"
	"github.com/victornm/livequiz/internal/server"
)

type hostFlags struct {
	room        string
	addr        string
	quiz        string
	httpPort    int32
	grpcPort    int32
	revealDelay time.Duration
	logDir      string
	noLog       bool
	noQR        bool
}

func defaultServerConfig() server.Config {
	var c server.Config
	c.Room.Addr = fmt.Sprintf(":%d", room.DefaultPort)
	c.Room.KeepAliveInterval = room.DefaultKeepAliveInterval
	c.Room.LivenessTimeout = room.DefaultLivenessTimeout
	c.Room.HandshakeTimeout = room.DefaultHandshakeTimeout
	c.Room.WriteTimeout = room.DefaultWriteTimeout
	c.Room.RevealDelay = room.DefaultRevealDelay
	c.Redis.Prefix = "livequiz"
	c.AnswerLog.Enabled = true
	c.AnswerLog.Dir = answerlog.DefaultDir
	c.Log.Level = "info"
	c.Log.Format = "text"
	return c
}

func newHostCmd(root *rootFlags) *cobra.Command {
	f := &hostFlags{}

	cmd := &cobra.Command{
		Use:   "host",
		Short: "Host a quiz room and run the game from the terminal.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := defaultServerConfig()
			if err := root.loadConfig(&c); err != nil {
				return err
			}
			f.apply(cmd.Flags(), &c)

			if err := root.setupLogger(c.Log); err != nil {
				return err
			}

			return runHost(cmd.Context(), c, cmd.InOrStdin(), cmd.OutOrStdout(), !f.noQR)
		},
	}

	f.register(cmd.Flags())

	return cmd
}

func (f *hostFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.room, "room", "r", "", "room code; generated when empty")
	fs.StringVarP(&f.addr, "addr", "a", "", fmt.Sprintf("address players connect to (default \":%d\")", room.DefaultPort))
	fs.StringVarP(&f.quiz, "quiz", "q", "", "quiz YAML file")
	fs.Int32Var(&f.httpPort, "http-port", 0, "admin HTTP port; 0 disables")
	fs.Int32Var(&f.grpcPort, "grpc-port", 0, "gRPC health port; 0 disables")
	fs.DurationVar(&f.revealDelay, "reveal-delay", room.DefaultRevealDelay, "pause after time is up before moving on; 0 waits for the host")
	fs.StringVar(&f.logDir, "answer-log-dir", answerlog.DefaultDir, "directory for the answer CSV")
	fs.BoolVar(&f.noLog, "no-answer-log", false, "don't write the answer CSV")
	fs.BoolVar(&f.noQR, "no-qr", false, "don't print the join QR code")
}

// apply overrides c with the flags given on the command line.
func (f *hostFlags) apply(fs *pflag.FlagSet, c *server.Config) {
	if fs.Changed("room") {
		c.Room.Code = strings.ToUpper(f.room)
	}
	if fs.Changed("addr") {
		c.Room.Addr = f.addr
	}
	if fs.Changed("quiz") {
		c.Room.QuizFile = f.quiz
	}
	if fs.Changed("http-port") {
		c.HTTP.Port = f.httpPort
	}
	if fs.Changed("grpc-port") {
		c.GRPC.Port = f.grpcPort
	}
	if fs.Changed("reveal-delay") {
		c.Room.RevealDelay = f.revealDelay
	}
	if fs.Changed("answer-log-dir") {
		c.AnswerLog.Dir = f.logDir
	}
	if fs.Changed("no-answer-log") {
		c.AnswerLog.Enabled = !f.noLog
	}
}

func runHost(ctx context.Context, c server.Config, in io.Reader, out io.Writer, qr bool) error {
	if c.Room.QuizFile == "" {
		return fmt.Errorf("no quiz file: set --quiz or room.quizfile")
	}
	quiz, err := quizfile.Load(c.Room.QuizFile)
	if err != nil {
		return err
	}

	if c.Room.Code == "" {
		if c.Room.Code, err = room.NewCode(); err != nil {
			return err
		}
	}

	s, err := server.Init(c, quiz)
	if err != nil {
		return err
	}

	con := &console{w: out}
	watchRoom(s.EventBus(), con)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.Start(ctx); err != nil {
		s.Shutdown()
		return err
	}
	defer s.Shutdown()

	join := joinAddress(s.Room().Addr())
	con.printf("Quiz %q: %d questions\nRoom code: %s\nJoin at:   %s\n", quiz.Name, quiz.Len(), s.Room().Code(), join)
	if qr {
		if q, err := qrcode.New(fmt.Sprintf("livequiz://%s/%s", join, s.Room().Code()), qrcode.Medium); err == nil {
			con.printf("%s", q.ToSmallString(false))
		}
	}
	con.printf("Commands: start, next, results, players, quit\n")

	lines := readLines(ctx, in)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := hostCommand(s.Room(), con, line); quit {
				return nil
			}
		}
	}
}

// hostCommand runs one console command against r and reports whether the host asked to quit.
func hostCommand(r *room.Room, con *console, line string) bool {
	var err error
	switch line {
	case "":
	case "start", "s":
		err = r.StartGame()
	case "next", "n":
		err = r.NextQuestion()
	case "results", "r":
		err = r.ShowResults()
	case "players", "p":
		con.standings(fmt.Sprintf("Players in %s (%s):", r.Code(), r.Phase()), r.Standings())
	case "quit", "q", "exit":
		return true
	default:
		con.printf("Unknown command %q. Commands: start, next, results, players, quit\n", line)
	}
	if err != nil {
		con.printf("Can't %s: %v\n", line, err)
	}
	return false
}

// watchRoom prints room events in the order they happened.
func watchRoom(eb *event.Bus, con *console) {
	eb.SubscribeMany([]string{
		domain.EventNameRosterChanged,
		domain.EventNameQuestionStarted,
		domain.EventNameTimerTicked,
		domain.EventNameTimeUp,
		domain.EventNameStandingsUpdated,
		domain.EventNameResultsPublished,
		domain.EventNamePlayerDisconnected,
	}, func(_ context.Context, e event.Event) error {
		switch e := e.(type) {
		case domain.EventRosterChanged:
			con.standings(fmt.Sprintf("Players (%d):", len(e.Roster)), e.Roster)
		case domain.EventQuestionStarted:
			con.printf("%s", formatQuestion(e.Number, e.Total, protocol.NewQuestionPayload(e.Question)))
		case domain.EventTimerTicked:
			if showTick(e.Remaining) {
				con.printf("  %ds left\n", e.Remaining)
			}
		case domain.EventTimeUp:
			con.printf("Time's up! Correct answer: %d\n", e.CorrectAnswer+1)
		case domain.EventStandingsUpdated:
			con.standings("Scores:", e.Standings)
		case domain.EventResultsPublished:
			con.standings("\nFinal results:", e.Standings)
		case domain.EventPlayerDisconnected:
			con.printf("%s left (%s)\n", e.PlayerName, e.Reason)
		}
		return nil
	})
}

// joinAddress is the address players on the local network should dial.
func joinAddress(a net.Addr) string {
	port := room.DefaultPort
	if tcp, ok := a.(*net.TCPAddr); ok {
		port = tcp.Port
		if !tcp.IP.IsUnspecified() {
			return net.JoinHostPort(tcp.IP.String(), fmt.Sprint(port))
		}
	}
	return net.JoinHostPort(localIP(), fmt.Sprint(port))
}

func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, a := range addrs {
		if n, ok := a.(*net.IPNet); ok && !n.IP.IsLoopback() && n.IP.To4() != nil {
			return n.IP.String()
		}
	}
	return "127.0.0.1"
}
