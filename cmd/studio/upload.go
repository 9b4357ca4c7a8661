package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"mina-studio/internal/domain/model"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <category> <path-or-url>...",
	Short: "Upload reference assets and print their durable URLs",
	Long: `Uploads local files or imports remote URLs into the asset storage.
Categories are product, logo and inspiration unless configured otherwise.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runUpload,
}

func init() {
	rootCmd.AddCommand(uploadCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	cat := model.UploadCategory(args[0])
	for _, src := range args[1:] {
		if err := addOne(ctx, a, cat, src); err != nil {
			return err
		}
	}
	if err := a.uploads.Wait(ctx); err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSOURCE\tURL\tERROR")
	failed := 0
	for _, it := range a.uploads.Items(cat) {
		src := it.FileName
		if src == "" {
			src = it.PreviewRef
		}
		if it.Err != "" {
			failed++
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", it.ID, src, it.DurableURL, it.Err)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d upload(s) failed", failed)
	}
	return nil
}
