package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"sshpublish/internal/daemon"
	"sshpublish/pkg/config"
	"sshpublish/pkg/logger"
	"sshpublish/pkg/publisher"
)

// set through ldflags at build time
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type globalFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:           "sshpublish",
		Short:         "Publish local files to SFTP servers and S3 buckets",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.configPath, "config", "/etc/sshpublish/config.toml", "path to config file")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides daemon.log_level")

	rootCmd.AddCommand(newUploadCmd(flags))
	rootCmd.AddCommand(newPublishCmd(flags))
	rootCmd.AddCommand(newDaemonCmd(flags))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// load reads the config file and applies the log level.
func (f *globalFlags) load() (*config.Config, error) {
	path, err := homedir.Expand(f.configPath)
	if err != nil {
		return nil, fmt.Errorf("expand config path: %w", err)
	}

	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, err
	}

	levelName := cfg.Daemon.LogLevel
	if f.logLevel != "" {
		levelName = f.logLevel
	}
	level, err := logger.ParseLevel(levelName)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(level)

	return cfg, nil
}

func newPublishCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "publish [paths...]",
		Short: "Enqueue an upload batch for the daemon",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}

			pub, err := publisher.NewPublisher(cfg)
			if err != nil {
				return fmt.Errorf("create publisher: %w", err)
			}
			defer pub.Close()

			taskID, err := pub.PublishUploadBatch(args)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), taskID)
			return nil
		},
	}
}

func newDaemonCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the queue worker and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}

			d, err := daemon.NewDaemonService(cfg)
			if err != nil {
				return fmt.Errorf("create daemon: %w", err)
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

			go func() {
				logger.Info("starting sshpublish daemon", nil)
				if err := d.Start(); err != nil {
					logger.Error("daemon start failed", err, nil)
				}
			}()

			sig := <-sigChan
			logger.Info("received shutdown signal", map[string]any{
				"signal": sig.String(),
			})

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := d.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("graceful shutdown failed: %w", err)
			}

			logger.Info("daemon stopped successfully", nil)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "sshpublish %s\n", version)
			fmt.Fprintf(out, "  commit: %s\n", commit)
			fmt.Fprintf(out, "  built:  %s\n", date)
			fmt.Fprintf(out, "  go:     %s\n", runtime.Version())
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.Error("command failed", err, nil)
		os.Exit(1)
	}
}
