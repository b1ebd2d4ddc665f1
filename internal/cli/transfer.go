package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	exportChannels []string
	exportZstd     bool
)

var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write cached channels to a portable package",
	Args:  cobra.ExactArgs(1),
	Run:   runExport,
}

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Merge a package into the local cache",
	Args:  cobra.ExactArgs(1),
	Run:   runImport,
}

func init() {
	exportCmd.Flags().StringSliceVar(&exportChannels, "channel", nil, "channel to export (repeatable, default all)")
	exportCmd.Flags().BoolVar(&exportZstd, "zstd", false, "compress the package with zstd")
	rootCmd.AddCommand(exportCmd, importCmd)
}

func runExport(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	c := openEngine(ctx)
	defer closeComponents(c)

	data, err := c.Engine.ExportPackage(ctx, exportChannels, exportZstd)
	if err != nil {
		slog.Error("Failed to export", "error", err)
		closeComponents(c)
		os.Exit(1)
	}
	if err := os.WriteFile(args[0], data, 0o644); err != nil {
		slog.Error("Failed to write package", "file", args[0], "error", err)
		closeComponents(c)
		os.Exit(1)
	}
	fmt.Printf("exported %d bytes to %s\n", len(data), args[0])
}

func runImport(cmd *cobra.Command, args []string) {
	data, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Printf("failed to read %s: %v\n", args[0], err)
		os.Exit(1)
	}

	ctx := context.Background()
	c := openEngine(ctx)
	defer closeComponents(c)

	res, err := c.Engine.ImportPackage(ctx, data)
	if err != nil {
		slog.Error("Failed to import", "file", args[0], "error", err)
		closeComponents(c)
		os.Exit(1)
	}
	fmt.Printf("imported %d messages, %d ranges added\n", res.MessagesAdded, res.RangesTouched)
}
