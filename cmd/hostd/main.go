package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/foveate/hostd/internal/config"
	"github.com/foveate/hostd/internal/coordinator"
	"github.com/foveate/hostd/internal/identity"
	"github.com/foveate/hostd/internal/logging"
	"github.com/foveate/hostd/internal/logsink"
	"github.com/foveate/hostd/internal/presenter"
)

var (
	version = "0.1.0"
	cfgFile string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "hostd",
	Short: "Foveate host session daemon",
	Long:  `foveate-hostd advertises this PC to nearby headset clients, pairs with them over a framed JSON session protocol, and supervises the co-resident media service.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the daemon",
	Run: func(cmd *cobra.Command, args []string) {
		runDaemon()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("foveate-hostd v%s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the configured endpoint and the host's server id",
	Run: func(cmd *cobra.Command, args []string) {
		checkStatus()
	},
}

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Print the host's server id, generating one if absent",
	Run: func(cmd *cobra.Command, args []string) {
		printIdentity()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/hostd/hostd.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(identityCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initLogging sets up structured logging from config. Call after config.Load().
func initLogging(cfg *config.Config) {
	var output io.Writer = os.Stdout
	logFileFallback := false

	if cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v (logging to stdout)\n", cfg.LogFile, err)
			logFileFallback = true
		} else {
			output = logging.TeeWriter(os.Stdout, rw)
		}
	}

	logging.Init(cfg.LogFormat, cfg.LogLevel, output)
	log = logging.L("main")

	if logFileFallback {
		log.Warn("log file fallback active, logging to stdout only", "requestedFile", cfg.LogFile)
	}
}

// runDaemon loads configuration, wires the coordinator, and blocks until a
// shutdown signal is received.
func runDaemon() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	initLogging(cfg)

	log.Info("starting hostd",
		"version", version,
		"bundleId", cfg.BundleID,
		"address", cfg.Address,
		"port", cfg.Port,
	)

	sink := logsink.New(500)
	pres := presenter.NewLogPresenter(sink)
	coord := coordinator.New(cfg, pres, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutdown signal received")
		cancel()
	}()

	runErr := coord.Run(ctx)

	log.Info("shutting down hostd")
	if err := coord.Close(); err != nil {
		log.Warn("coordinator close", "error", err)
	}

	if runErr != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "hostd exited with error: %v\n", runErr)
		os.Exit(1)
	}
	log.Info("hostd stopped")
}

func checkStatus() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Println("Status: not configured")
		return
	}

	store := identity.NewStore(cfg.IdentityFilePath)
	serverID, err := store.GetOrCreate()
	if err != nil {
		fmt.Printf("Status: identity unavailable: %v\n", err)
		return
	}

	fmt.Println("Status: configured")
	fmt.Printf("Server ID: %s\n", serverID)
	fmt.Printf("Bundle ID: %s\n", cfg.BundleID)
	fmt.Printf("Listening on: %s:%d\n", cfg.Address, cfg.Port)
	fmt.Printf("Force barcode: %v\n", cfg.ForceBarcode)
}

func printIdentity() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		cfg = config.Default()
	}

	store := identity.NewStore(cfg.IdentityFilePath)
	serverID, err := store.GetOrCreate()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to resolve server id: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(serverID)
}
