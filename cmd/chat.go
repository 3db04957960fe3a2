package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/chatphantom/phantomchat/internal/history"
	"github.com/chatphantom/phantomchat/internal/logger"
	"github.com/chatphantom/phantomchat/internal/services/chat"
	"github.com/chatphantom/phantomchat/internal/services/status"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var errQuit = errors.New("quit")

func newChatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chat ID",
		Short: "Chat with a phantom once it is ready",
		Long: `Chat with a phantom. Type a message and press enter to send it.

Commands:
  /older   load earlier messages
  /latest  jump back to the newest message
  /quit    leave the conversation`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return a.runChat(ctx, args[0], os.Stdin, os.Stdout)
		},
	}
}

func (a *app) runChat(ctx context.Context, id string, in io.Reader, out io.Writer) error {
	updates, unsubscribe := a.tracker.Subscribe(id)
	defer unsubscribe()
	_ = a.tracker.Track(ctx, id)

	fmt.Fprintln(out, dim.Sprintf("Waiting for %s to be ready...", id))
	if _, err := waitForChat(ctx, a.tracker, updates, id, func(s status.Snapshot) {
		fmt.Fprintln(out, viewLabel(s))
	}); err != nil {
		return err
	}

	surface := newTerminalSurface(terminalHeight())
	r := newRenderer(out, surface)
	session := chat.NewSession(a.client, surface, chat.Options{
		StreamTimeout: a.cfg.StreamTimeout,
		PageSize:      a.cfg.HistoryPageSize,
		EdgeThreshold: a.cfg.EdgeThreshold,
		Listener:      r.handle,
	})
	r.session = session

	if _, err := session.SwitchResource(ctx, id); err != nil {
		r.note("could not load history: %v", err)
	}

	lines := make(chan string)
	go readLines(in, lines)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return chatLoop(gctx, session, r, lines)
	})
	g.Go(func() error {
		return watchStatus(gctx, updates, r)
	})

	err := g.Wait()
	session.Cancel()
	if errors.Is(err, errQuit) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// readLines forwards stdin lines until EOF. It is not tied to a context
// because a blocked read on stdin cannot be interrupted.
func readLines(in io.Reader, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
}

func chatLoop(ctx context.Context, session *chat.Session, r *renderer, lines <-chan string) error {
	l := logger.With(logger.CHAT)

	for {
		var line string
		select {
		case <-ctx.Done():
			return ctx.Err()
		case next, ok := <-lines:
			if !ok {
				return errQuit
			}
			line = next
		}

		switch strings.TrimSpace(line) {
		case "":
			continue
		case "/quit", "/exit":
			return errQuit
		case "/latest":
			session.JumpToLatest()
			continue
		case "/older":
			loadOlder(ctx, session, r)
			continue
		}

		err := session.Submit(ctx, line)
		switch {
		case err == nil:
		case errors.Is(err, chat.ErrStreamIncomplete), errors.Is(err, chat.ErrStreamTimeout):
			// Reported by the renderer through the turn-failed event.
		case errors.Is(err, context.Canceled):
			return err
		default:
			l.Debug().Err(err).Msg("Turn not sent")
			r.note("not sent (%v); your message was: %s", err, line)
		}
	}
}

// loadOlder treats the command as a scroll to the top of the transcript.
func loadOlder(ctx context.Context, session *chat.Session, r *renderer) {
	r.surface.SetScrollOffset(0)
	if !session.OnScroll().LoadOlder {
		if session.HistoryState() == history.StateExhausted {
			r.note("no earlier messages")
		}
		return
	}

	res, err := session.LoadOlder(ctx)
	switch {
	case err != nil:
		r.note("could not load earlier messages: %v", err)
	case res.Outcome == history.DroppedExhausted || (res.Outcome == history.Merged && res.Merged == 0):
		r.note("no earlier messages")
	}
}

// watchStatus warns when a phantom leaves the ready state mid-conversation,
// for example after a recrawl.
func watchStatus(ctx context.Context, updates <-chan status.Snapshot, r *renderer) error {
	ready := true
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			if snap.View != status.ViewChat && ready {
				r.note("%s", color.New(color.FgYellow).Sprintf("phantom is being prepared again (%s)", viewLabel(snap)))
			}
			ready = snap.View == status.ViewChat
		}
	}
}
