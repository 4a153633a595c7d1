// Package cli implements the interactive command-line gateway. A pending
// cancellation is surfaced as a yes/no prompt right after the reply.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/jkaninda/orderdesk/internal/confirmation"
	"github.com/jkaninda/orderdesk/internal/session"
)

// Gateway is the interactive command-line interface.
type Gateway struct {
	sessions *session.Manager
	logger   *slog.Logger
	in       io.Reader
	out      io.Writer
	done     chan struct{} // closed by Stop to signal shutdown
}

// NewGateway creates a CLI gateway reading stdin and writing stdout.
func NewGateway(sessions *session.Manager, logger *slog.Logger) *Gateway {
	return &Gateway{
		sessions: sessions,
		logger:   logger,
		in:       os.Stdin,
		out:      os.Stdout,
		done:     make(chan struct{}),
	}
}

// WithIO replaces stdin and stdout.
func (g *Gateway) WithIO(in io.Reader, out io.Writer) *Gateway {
	g.in = in
	g.out = out
	return g
}

// Start runs the REPL on one session. Blocks until ctx is cancelled, Stop
// is called, input ends, or the user types "exit".
func (g *Gateway) Start(ctx context.Context) error {
	scanner := bufio.NewScanner(g.in)
	sess, _ := g.sessions.GetOrCreate("")
	defer func() { _ = g.sessions.Close(sess.ID()) }()

	fmt.Fprintln(g.out, "Order assistant. Ask about your orders, or type \"exit\" to quit.")
	fmt.Fprintln(g.out)

	for {
		fmt.Fprint(g.out, "orders> ")

		select {
		case <-ctx.Done():
			fmt.Fprintln(g.out, "\nShutting down.")
			return nil
		case <-g.done:
			fmt.Fprintln(g.out, "\nShutting down.")
			return nil
		default:
		}

		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			fmt.Fprintln(g.out, "Goodbye.")
			return nil
		}

		res, err := sess.HandleTurn(ctx, line)
		if err != nil {
			fmt.Fprintf(g.out, "Error: %v\n", err)
			continue
		}
		fmt.Fprintln(g.out)
		fmt.Fprintln(g.out, res.Text)

		if res.Pending != nil {
			g.confirm(ctx, scanner, sess, res.Pending)
		}
		fmt.Fprintln(g.out)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}
	return nil
}

// Stop signals the REPL to shut down.
func (g *Gateway) Stop(_ context.Context) error {
	select {
	case <-g.done:
		// Already closed.
	default:
		close(g.done)
	}
	return nil
}

// confirm asks the user to approve the pending action. Anything but yes
// leaves it pending until the next turn drops it.
func (g *Gateway) confirm(ctx context.Context, scanner *bufio.Scanner, sess *session.Session, p *confirmation.PendingAction) {
	fmt.Fprintf(g.out, "\nConfirm cancellation of order %s (%s)? [y/N]: ", p.OrderID, p.ItemName)
	if !scanner.Scan() {
		return
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	if answer != "y" && answer != "yes" {
		fmt.Fprintln(g.out, "Cancellation not confirmed.")
		return
	}

	ar, err := sess.HandleApproval(ctx, p.ActionType, p.OrderID)
	if errors.Is(err, confirmation.ErrStaleConfirmation) {
		fmt.Fprintln(g.out, ar.Message)
		return
	}
	if err != nil {
		g.logger.ErrorContext(ctx, "approval failed",
			slog.String("session_id", sess.ID()),
			slog.String("order_id", p.OrderID),
			slog.String("error", err.Error()),
		)
		fmt.Fprintf(g.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(g.out, ar.Message)
}
