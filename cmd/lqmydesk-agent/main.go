package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lqmydesk/agent/internal/confirm"
	"github.com/lqmydesk/agent/internal/config"
	"github.com/lqmydesk/agent/internal/input"
	"github.com/lqmydesk/agent/internal/logging"
	"github.com/lqmydesk/agent/internal/videopipe"
	"github.com/lqmydesk/agent/pkg/agentapi"
)

var (
	version = "0.1.0"
	cfgFile string
	srvAddr string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "lqmydesk-agent",
	Short: "Desktop sharing agent",
	Long:  "Exposes this computer's screen to remote peers over WebRTC and accepts remote input.",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the agent and block until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAgent()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("lqmydesk-agent v%s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		fmt.Printf("Server: %s\n", cfg.ServerURL)
		fmt.Printf("Data dir: %s\n", cfg.DataDir)
		fmt.Printf("Max sessions: %d\n", cfg.MaxSessions)
		for _, q := range cfg.Qualities {
			fmt.Printf("Quality %q: %dx%d @ %d fps, %d kbps\n", q.Name, q.Width, q.Height, q.FPS, q.BitrateKbps)
		}
		return nil
	},
}

var setServerCmd = &cobra.Command{
	Use:   "set-server <url>",
	Short: "Persist a new rendezvous server URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			cfg = config.Default()
		}
		cfg.ServerURL = args[0]
		return config.SaveTo(cfg, cfgFile)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default is platform-specific)")
	runCmd.Flags().StringVar(&srvAddr, "server", "", "override the configured rendezvous server URL")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(setServerCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initLogging wires up the configured sink and returns the underlying
// RotatingWriter, if any, so the caller can reopen it on SIGHUP.
func initLogging(cfg *config.Config) *logging.RotatingWriter {
	var output io.Writer = os.Stdout
	var rw *logging.RotatingWriter
	if cfg.LogFile != "" {
		var err error
		rw, err = logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v (logging to stdout)\n", cfg.LogFile, err)
			rw = nil
		} else {
			output = logging.TeeWriter(os.Stdout, rw)
		}
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, output)
	log = logging.L("main")
	return rw
}

func runAgent() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if srvAddr != "" {
		cfg.ServerURL = srvAddr
	}
	rotatingLog := initLogging(cfg)

	capturer := videopipe.NewStubCapturer(videopipe.DefaultCaptureConfig())

	agent, err := agentapi.New(cfg, capturer, input.NoopInjector{}, confirm.AlwaysDeny{})
	if err != nil {
		return fmt.Errorf("build agent: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := agent.Start(ctx); err != nil {
		return fmt.Errorf("start agent: %w", err)
	}
	log.Info("agent is running", "version", version)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			if rotatingLog == nil {
				continue
			}
			if err := rotatingLog.Reopen(); err != nil {
				log.Error("failed to reopen log file", logging.KeyError, err)
			} else {
				log.Info("log file reopened")
			}
			continue
		}
		break
	}

	log.Info("shutting down agent")
	agent.Stop()
	return nil
}
