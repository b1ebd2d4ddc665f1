package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vietddude/logsync/internal/core/channelstate"
	"github.com/vietddude/logsync/internal/core/domain"
	"github.com/vietddude/logsync/internal/indexing/fetch"
	"github.com/vietddude/logsync/internal/indexing/syncer"
)

var syncCmd = &cobra.Command{
	Use:   "sync [channel]",
	Short: "Synchronize a channel once in the foreground",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runSync(args[0], domain.TipAndBackfill())
	},
}

var fillGapCmd = &cobra.Command{
	Use:   "fill-gap [channel] [start] [end]",
	Short: "Synchronize exactly the given block range of a channel",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		start, end, err := parseBounds(args[1], args[2])
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		runSync(args[0], domain.TargetedGap(start, end))
	},
}

func init() {
	rootCmd.AddCommand(syncCmd, fillGapCmd)
}

func parseBounds(startArg, endArg string) (uint64, uint64, error) {
	start, err := strconv.ParseUint(startArg, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid start block: %w", err)
	}
	end, err := strconv.ParseUint(endArg, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid end block: %w", err)
	}
	return start, end, nil
}

func runSync(channel string, mode domain.SyncMode) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := openEngine(ctx)
	defer closeComponents(c)

	res, err := c.Engine.Synchronize(ctx, channel, mode, func(p syncer.Progress) {
		fmt.Printf("%-8s %-22s +%d msgs  tip %d / head %d\n", p.Phase, p.Range, p.Added, p.Tip, p.Head)
	})

	msg, code := describeResult(res, err)
	fmt.Println(msg)
	if code != 0 {
		closeComponents(c)
		os.Exit(code)
	}
}

// describeResult renders the terminal state of an operation and the exit
// code for it.
func describeResult(res *syncer.Result, err error) (string, int) {
	switch {
	case errors.Is(err, channelstate.ErrAlreadyRunning):
		return fmt.Sprintf("busy: %v", err), 1
	case errors.Is(err, syncer.ErrInvalidRange):
		return fmt.Sprintf("invalid: %v", err), 1
	case res == nil && err != nil:
		return fmt.Sprintf("failed: %v", err), 1
	case res == nil:
		return "failed: no result", 1
	}

	switch res.State {
	case domain.SyncStateAborted:
		return fmt.Sprintf("aborted after %d chunks (%d messages added)", res.RangesCommitted, res.MessagesAdded), 0
	case domain.SyncStateFailed:
		if errors.Is(res.Err, fetch.ErrTransport) {
			return fmt.Sprintf("failed (retryable): %v", res.Err), 1
		}
		return fmt.Sprintf("failed: %v", res.Err), 1
	default:
		if err != nil {
			slog.Debug("Unexpected error with result", "error", err)
		}
		return fmt.Sprintf("done: %d messages added in %d chunks, %d dropped, tip %d (head %d)",
			res.MessagesAdded, res.RangesCommitted, res.Dropped, res.Tip, res.Head), 0
	}
}
