package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/echolink/echolink-go/pkg/session"
)

func interactiveCmd(opts *rootOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:     "interactive",
		Aliases: []string{"i"},
		Short:   "Send typed lines and print each reply",
		Long: `Read lines from a prompt, send each one as a message and print the reply.
Lines starting with / are local commands; type /help for the list.
quit, exit or Ctrl-D leave.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := newClient(ctx, cmd, opts)
			if err != nil {
				return err
			}
			defer c.close()

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "echolink> ",
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return fmt.Errorf("failed to create readline: %w", err)
			}
			defer rl.Close()

			r := &repl{
				session: c.session,
				in:      rl,
				out:     rl.Stdout(),
				timeout: timeout,
			}
			return r.run(ctx)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Time allowed for each send and reply")

	return cmd
}

// lineReader is the part of *readline.Instance the prompt loop uses.
type lineReader interface {
	Readline() (string, error)
}

type repl struct {
	session *session.Session
	in      lineReader
	out     io.Writer
	timeout time.Duration
}

// run handles lines until quit, EOF or ctx cancellation.
func (r *repl) run(ctx context.Context) error {
	r.printHelp()

	for {
		if ctx.Err() != nil {
			return nil
		}

		line, err := r.in.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(r.out, "Exiting...")
			return nil
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		switch strings.ToLower(input) {
		case "quit", "exit", "/quit", "/exit":
			fmt.Fprintln(r.out, "Exiting...")
			return nil
		case "/help", "/?":
			r.printHelp()
			continue
		case "/state":
			fmt.Fprintf(r.out, "state: %s (%s)\n", r.session.State(), r.session.Manager().Endpoint())
			continue
		case "/stats":
			r.printStats()
			continue
		}
		if strings.HasPrefix(input, "/") {
			fmt.Fprintf(r.out, "unknown command %s, type /help\n", input)
			continue
		}

		reply, err := r.exchange(ctx, []byte(input))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(r.out, "error: %v\n", err)
			continue
		}
		fmt.Fprintf(r.out, "%s\n", reply)
	}
}

// exchange sends msg and waits for one reply. A dropped connection is
// re-established by the next exchange.
func (r *repl) exchange(ctx context.Context, msg []byte) ([]byte, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	if err := r.session.Send(ctx, msg); err != nil {
		return nil, err
	}
	return r.session.Receive(ctx)
}

func (r *repl) printHelp() {
	fmt.Fprintln(r.out, `Type a message and press Enter to send it.
  /state   connection state
  /stats   session counters
  /help    this help
  quit     leave`)
}

func (r *repl) printStats() {
	st := r.session.Stats()
	fmt.Fprintf(r.out, "sent=%d received=%d reconnects=%d lost=%d corrupt=%d skipped=%d\n",
		st.Sent, st.Received, st.Reconnects, st.ConnectionsLost, st.CorruptFrames, st.SkippedMessages)
	if st.LastError != nil {
		fmt.Fprintf(r.out, "last error: %v\n", st.LastError)
	}
}
