package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var purgeAll bool

var purgeCmd = &cobra.Command{
	Use:   "purge [channel]",
	Short: "Delete the cached messages and scan state of a channel",
	Args: func(cmd *cobra.Command, args []string) error {
		if purgeAll {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	Run: runPurge,
}

var queueGapCmd = &cobra.Command{
	Use:   "queue-gap [channel] [start] [end]",
	Short: "Queue a block range for the rescan workers",
	Args:  cobra.ExactArgs(3),
	Run:   runQueueGap,
}

func init() {
	purgeCmd.Flags().BoolVar(&purgeAll, "all", false, "purge every channel")
	rootCmd.AddCommand(purgeCmd, queueGapCmd)
}

func runPurge(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	c := openEngine(ctx)
	defer closeComponents(c)

	var err error
	if purgeAll {
		err = c.Engine.PurgeAll(ctx)
	} else {
		err = c.Engine.PurgeChannel(ctx, args[0])
	}
	if err != nil {
		slog.Error("Failed to purge", "error", err)
		closeComponents(c)
		os.Exit(1)
	}

	if purgeAll {
		fmt.Println("purged all channels")
		return
	}
	fmt.Printf("purged %s\n", args[0])
}

func runQueueGap(cmd *cobra.Command, args []string) {
	start, end, err := parseBounds(args[1], args[2])
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	ctx := context.Background()
	c := openEngine(ctx)
	defer closeComponents(c)

	if err := c.Engine.QueueGapFill(ctx, args[0], start, end); err != nil {
		slog.Error("Failed to queue gap", "error", err)
		closeComponents(c)
		os.Exit(1)
	}
	fmt.Printf("queued [%d, %d] for %s\n", start, end, args[0])
}
