package main

import (
	"context"
	"fmt"
	"time"

	"github.com/chatphantom/phantomchat/internal/services/status"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const firstStatusWait = 5 * time.Second

func newStatusCmd(a *app) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "status ID",
		Short: "Show a phantom's preparation status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id := args[0]

			updates, stop := a.tracker.Subscribe(id)
			defer stop()
			_ = a.tracker.Track(ctx, id)

			if !watch {
				snap := waitFirstStatus(ctx, a.tracker, updates, id)
				fmt.Printf("%s  %s\n", id, viewLabel(snap))
				return nil
			}

			snap, err := waitForChat(ctx, a.tracker, updates, id, func(s status.Snapshot) {
				fmt.Printf("%s  %s\n", color.New(color.FgHiBlack).Sprint(time.Now().Format(time.Kitchen)), viewLabel(s))
			})
			if err != nil {
				return err
			}
			color.New(color.FgGreen, color.Bold).Printf("%s is ready to chat\n", snap.PhantomID)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "follow status changes until the phantom is ready")
	return cmd
}

// waitFirstStatus returns once anything has been heard for id or the wait expires.
func waitFirstStatus(ctx context.Context, tracker *status.Tracker, updates <-chan status.Snapshot, id string) status.Snapshot {
	if snap, err := tracker.Status(ctx, id); err == nil && snap.Received {
		return snap
	}
	timer := time.NewTimer(firstStatusWait)
	defer timer.Stop()

	select {
	case snap, ok := <-updates:
		if ok {
			return snap
		}
	case <-timer.C:
	case <-ctx.Done():
	}
	snap, _ := tracker.Status(ctx, id)
	return snap
}

// waitForChat blocks until id presents the chat view, reporting every change.
func waitForChat(ctx context.Context, tracker *status.Tracker, updates <-chan status.Snapshot, id string, report func(status.Snapshot)) (status.Snapshot, error) {
	snap, err := tracker.Status(ctx, id)
	if err == nil && snap.View == status.ViewChat {
		return snap, nil
	}
	if snap.Received {
		report(snap)
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-ticker.C:
			if !tracker.Tracked(id) {
				return snap, fmt.Errorf("lost the status channel for %s", id)
			}
		case next, ok := <-updates:
			if !ok {
				return snap, fmt.Errorf("status channel for %s closed", id)
			}
			if next.Status == snap.Status && next.View == snap.View && sameProgress(next.Progress, snap.Progress) {
				continue
			}
			snap = next
			report(snap)
			if snap.View == status.ViewChat {
				return snap, nil
			}
		}
	}
}

func sameProgress(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
