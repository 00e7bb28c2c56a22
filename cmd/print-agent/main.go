// Command print-agent drives the store's thermal printers: it runs the
// job-queue worker and offers one-shot commands for testing the
// hardware from a shell.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/storeprint/print-agent/internal/agent"
	"github.com/storeprint/print-agent/internal/api"
	"github.com/storeprint/print-agent/internal/config"
	"github.com/storeprint/print-agent/internal/label"
	"github.com/storeprint/print-agent/internal/receipt"
	"github.com/storeprint/print-agent/internal/registry"
)

var (
	verbose bool
	envFile string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "print-agent",
	Short: "Store printer agent for receipts, labels and stickers",
	Long: `print-agent connects a store's thermal printers to the backend
job queue. It polls (or listens over SSE) for print jobs and drives the
Epson receipt printer and the Brother label printer.

One-shot subcommands print test documents without talking to the queue.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent against the job queue",
	Long: `Authenticates against the backend with the agent key pair,
syncs the connected printers and processes print jobs until interrupted.

Configuration comes from flags, or from the environment / .env file:
  PRINT_AGENT_API_URL, PRINT_AGENT_API_KEY, PRINT_AGENT_API_SECRET,
  PRINT_AGENT_POLL_INTERVAL, PRINT_AGENT_PING_INTERVAL,
  PRINT_AGENT_SYNC_INTERVAL, PRINT_AGENT_HEALTH_ADDR`,
	RunE: runAgent,
}

var (
	runAPIURL       string
	runAPIKey       string
	runAPISecret    string
	runPollInterval time.Duration
	runPingInterval time.Duration
	runSyncInterval time.Duration
	runTimeout      time.Duration
	runHealthAddr   string
	runDryRun       bool
	runDisableSSE   bool
	runInsecure     bool
)

func runAgent(cmd *cobra.Command, args []string) error {
	cfg := config.Load(envFile)
	if runAPIURL == "" {
		runAPIURL = cfg.APIURL
	}
	if runAPIKey == "" {
		runAPIKey = cfg.APIKey
	}
	if runAPISecret == "" {
		runAPISecret = cfg.APISecret
	}
	if !cmd.Flags().Changed("poll-interval") {
		runPollInterval = cfg.PollInterval
	}
	if !cmd.Flags().Changed("ping-interval") {
		runPingInterval = cfg.PingInterval
	}
	if !cmd.Flags().Changed("sync-interval") {
		runSyncInterval = cfg.SyncInterval
	}
	if runHealthAddr == "" {
		runHealthAddr = cfg.HealthAddr
	}

	if runAPIURL == "" {
		return fmt.Errorf("--api-url is required (or set PRINT_AGENT_API_URL)")
	}
	if runAPIKey == "" {
		return fmt.Errorf("--api-key is required (or set PRINT_AGENT_API_KEY)")
	}
	if runAPISecret == "" {
		return fmt.Errorf("--api-secret is required (or set PRINT_AGENT_API_SECRET)")
	}

	auth := api.NewAuthenticator(api.AuthConfig{
		BaseURL:   runAPIURL,
		APIKey:    runAPIKey,
		APISecret: runAPISecret,
		Insecure:  runInsecure,
	})
	client := api.NewClient(api.ClientConfig{
		BaseURL:  runAPIURL,
		Timeout:  runTimeout,
		Insecure: runInsecure,
	}, auth)

	reg := registry.New()

	agentCfg := agent.DefaultConfig()
	agentCfg.PollInterval = runPollInterval
	agentCfg.PingInterval = runPingInterval
	agentCfg.SyncInterval = runSyncInterval
	agentCfg.DryRun = runDryRun
	agentCfg.DisableSSE = runDisableSSE
	agentCfg.Insecure = runInsecure

	a := agent.New(client, auth, reg, logger, agentCfg)

	ctx, cancel := agent.SignalContext()
	defer cancel()

	if runHealthAddr != "" {
		health := agent.NewHealthServer(a, runHealthAddr)
		if err := health.Start(); err != nil {
			return fmt.Errorf("starting health server: %w", err)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = health.Stop(shutdownCtx)
		}()
	}

	return a.Start(ctx)
}

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "List the printer devices found on this host",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := registry.New()
		reg.Detect()

		printers := reg.List()
		if len(printers) == 0 {
			fmt.Println("No printers detected")
			return nil
		}
		for _, p := range printers {
			state := "offline"
			if p.Available {
				state = "online"
			}
			fmt.Printf("%-16s %-8s %-28s %s\n", p.ID, p.Type, p.DevicePath, state)
		}
		return nil
	},
}

var (
	receiptTestDevice string
	receiptTestSimple bool
)

var receiptTestCmd = &cobra.Command{
	Use:   "receipt-test",
	Short: "Print a sample receipt on the Epson printer",
	Long: `Prints a fixed sample receipt: letterhead, a few articles, the
total, payment line and a CODE128 ticket barcode. Useful to verify the
device path, character table and paper cut.

With --simple only a few numbered lines are printed, to check the
connection without spending paper.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		device := config.ResolveReceiptDevice(receiptTestDevice)
		logger.Info("printing sample receipt", zap.String("device", device))

		p := receipt.NewPrinter(device)
		p.Logger = logger
		if receiptTestSimple {
			if err := p.PrintConnectionTest(); err != nil {
				return fmt.Errorf("receipt test: %w", err)
			}
			fmt.Println("Connection test printed")
			return nil
		}
		r := receipt.SampleReceipt()
		fmt.Print(receipt.Preview(r))
		if err := p.PrintReceipt(r); err != nil {
			return fmt.Errorf("receipt test: %w", err)
		}
		fmt.Println("Sample receipt printed")
		return nil
	},
}

var openDrawerDevice string

var openDrawerCmd = &cobra.Command{
	Use:   "open-drawer",
	Short: "Fire the cash drawer pulse",
	RunE: func(cmd *cobra.Command, args []string) error {
		device := config.ResolveReceiptDevice(openDrawerDevice)
		p := receipt.NewPrinter(device)
		p.Logger = logger
		if err := p.OpenDrawer(); err != nil {
			return fmt.Errorf("open drawer: %w", err)
		}
		return nil
	},
}

var labelFooter string

var labelCmd = &cobra.Command{
	Use:   "label <name> <price> <barcode>",
	Short: "Print a price label on the Brother printer",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return label.PrintLabel(label.LabelOptions{
			Name:      args[0],
			PriceText: args[1],
			Barcode:   args[2],
			Footer:    labelFooter,
		})
	},
}

var stickerAddressCmd = &cobra.Command{
	Use:   "sticker-address <line1> <line2> [line3...]",
	Short: "Print an address sticker on the Brother printer",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		line3 := ""
		if len(args) > 2 {
			line3 = strings.Join(args[2:], " ")
		}
		return label.PrintLabel(label.LabelOptions{
			Name:      args[0],
			PriceText: args[1],
			Footer:    line3,
		})
	},
}

var stickerImageDevice string

var stickerImageCmd = &cobra.Command{
	Use:   "sticker-image <image-path>",
	Short: "Print an image file as a 62mm sticker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(args[0]); err != nil {
			return fmt.Errorf("image file not found: %s", args[0])
		}
		return label.PrintStickerImage(label.StickerImageOptions{
			ImagePath:  args[0],
			DevicePath: stickerImageDevice,
		})
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "path to .env file (default ./.env)")

	runCmd.Flags().StringVar(&runAPIURL, "api-url", "", "API base URL")
	runCmd.Flags().StringVar(&runAPIKey, "api-key", "", "API key for authentication")
	runCmd.Flags().StringVar(&runAPISecret, "api-secret", "", "API secret for authentication")
	runCmd.Flags().DurationVar(&runPollInterval, "poll-interval", 2*time.Second, "job poll interval")
	runCmd.Flags().DurationVar(&runPingInterval, "ping-interval", 30*time.Second, "heartbeat interval")
	runCmd.Flags().DurationVar(&runSyncInterval, "sync-interval", 10*time.Second, "printer sync check interval")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 30*time.Second, "HTTP request timeout")
	runCmd.Flags().StringVar(&runHealthAddr, "health-addr", "", "health check server address (e.g. :8080)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "log jobs without executing them")
	runCmd.Flags().BoolVar(&runDisableSSE, "no-sse", false, "disable push events, poll only")
	runCmd.Flags().BoolVar(&runInsecure, "insecure", false, "skip TLS certificate verification")

	receiptTestCmd.Flags().StringVar(&receiptTestDevice, "device", "", "printer device path")
	receiptTestCmd.Flags().BoolVar(&receiptTestSimple, "simple", false, "print a short connection test instead of the full receipt")
	openDrawerCmd.Flags().StringVar(&openDrawerDevice, "device", "", "printer device path")
	labelCmd.Flags().StringVar(&labelFooter, "footer", "", "footer text")
	stickerImageCmd.Flags().StringVar(&stickerImageDevice, "device", "", "sticker printer device")

	rootCmd.AddCommand(runCmd, detectCmd, receiptTestCmd, openDrawerCmd,
		labelCmd, stickerAddressCmd, stickerImageCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
