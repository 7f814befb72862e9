package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"sshpublish/pkg/logger"
	"sshpublish/pkg/progress"
	"sshpublish/pkg/storage"
	"sshpublish/pkg/upload"
)

func newUploadCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "upload [paths...]",
		Short: "Upload files to every configured server",
		Long: "Upload the given files or directories to every configured server.\n" +
			"Without arguments the sync.files list from the config is used.\n" +
			"Exits non-zero when any transfer failed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}

			paths := args
			if len(paths) == 0 {
				paths = cfg.Sync.Files
			}
			if len(paths) == 0 {
				return fmt.Errorf("no paths given and sync.files is empty")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log := logger.NewDefault()
			orchestrator := upload.NewOrchestrator(
				storage.NewDialer(),
				cfg.Upload,
				upload.WithLogger(log),
				upload.WithProgress(progress.NewLogSink(log, 25)),
			)

			summary, err := orchestrator.Upload(ctx, paths, &cfg.Sync)
			if err != nil {
				return err
			}

			printSummary(cmd.OutOrStdout(), summary)
			if summary.Failed > 0 {
				return fmt.Errorf("%d of %d uploads failed", summary.Failed, summary.Total)
			}
			if summary.Cancelled {
				return fmt.Errorf("upload cancelled")
			}
			return nil
		},
	}
}

func printSummary(w io.Writer, s *upload.Summary) {
	fmt.Fprintf(w, "uploaded %d/%d, failed %d, skipped %d (%s)\n", s.Success, s.Total, s.Failed, s.Skipped, s.Duration)
	for _, r := range s.Failures() {
		fmt.Fprintf(w, "  FAIL %s -> %s: %s\n", r.FilePath, r.Server, r.Error)
	}
	for _, skip := range s.Skips {
		fmt.Fprintf(w, "  SKIP %s: %s\n", skip.FilePath, skip.Reason)
	}
	if s.Cancelled {
		fmt.Fprintln(w, "  batch cancelled before all files were started")
	}
}
