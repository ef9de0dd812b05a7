package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/echolink/echolink-go/pkg/session"
)

func runCmd(opts *rootOptions) *cobra.Command {
	var (
		payload  string
		interval time.Duration
		count    int
		maxLost  int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Send a payload repeatedly and print every reply",
		Long: `Send --payload every --interval and print each message the server sends
back. The connection is re-established whenever it drops. With --count the
command exits after that many replies; otherwise it runs until interrupted.
Interrupting a --count run before all replies arrived is an error.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return fmt.Errorf("interval must be positive, got %s", interval)
			}
			if count < 0 {
				return fmt.Errorf("count must not be negative, got %d", count)
			}
			if maxLost < 0 {
				return fmt.Errorf("max-lost must not be negative, got %d", maxLost)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := newClient(ctx, cmd, opts)
			if err != nil {
				return err
			}
			defer c.close()

			return runLoop(ctx, c, cmd.OutOrStdout(), []byte(payload), interval, count, maxLost)
		},
	}

	cmd.Flags().StringVar(&payload, "payload", "output", "Message to send")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Delay between messages")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "Exit after this many replies (0 runs forever)")
	cmd.Flags().IntVar(&maxLost, "max-lost", 10, "Give up after this many lost connections in a row without a reply (0 never gives up)")

	return cmd
}

// errTooManyLost ends a run whose connection keeps dropping without a
// single reply in between.
var errTooManyLost = errors.New("connection lost too often without a reply")

// runLoop feeds payload into the session every interval and prints each
// reply until count replies arrived or ctx ends.
//
// The feed stays open until the replies are in: a message whose reply died
// with its connection is made up for by the next one. More than maxLost
// losses in a row with no reply end the run.
func runLoop(ctx context.Context, c *client, out io.Writer, payload []byte, interval time.Duration, count, maxLost int) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	// ConnectionsLost as of the last reply.
	var lostAtReply atomic.Uint64
	tooManyLost := func() bool {
		lost := c.session.Stats().ConnectionsLost - lostAtReply.Load()
		return maxLost > 0 && lost > uint64(maxLost)
	}

	outgoing := make(chan []byte)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			if tooManyLost() {
				cancel(fmt.Errorf("%w (%d times)", errTooManyLost, maxLost+1))
				return
			}
			select {
			case outgoing <- payload:
			case <-ctx.Done():
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()

	var (
		received int
		welcomed bool
	)
	onMessage := func(msg []byte) {
		if w := c.session.Welcome(); w != nil && !welcomed {
			welcomed = true
			fmt.Fprintf(out, "welcome: %s\n", w)
		}
		received++
		lostAtReply.Store(c.session.Stats().ConnectionsLost)
		fmt.Fprintf(out, "%s\n", msg)
		if count > 0 && received >= count {
			cancel(nil)
		}
	}

	err := c.session.Run(ctx, onMessage, outgoing)

	st := c.session.Stats()
	c.logger.Info().
		Uint64("sent", st.Sent).
		Uint64("received", st.Received).
		Uint64("reconnects", st.Reconnects).
		Uint64("lost", st.ConnectionsLost).
		Msg("run finished")

	if cause := context.Cause(ctx); errors.Is(cause, errTooManyLost) {
		return cause
	}
	if !errors.Is(err, session.ErrCancelled) {
		return err
	}
	if count > 0 && received < count {
		return fmt.Errorf("stopped after %d of %d replies: %w", received, count, err)
	}
	return nil
}
