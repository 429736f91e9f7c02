package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/axel-blaze-11/pheonix/internal/config"
)

var (
	configPath string
	verbose    bool
	cfg        *config.Config
	rootCmd    *cobra.Command
)

func init() {
	rootCmd = &cobra.Command{
		Use:   "upisim",
		Short: "upisim - UPI payment switch simulator",
		Long: `upisim runs a five-node UPI network: Payer PSP, Switch, Remitter Bank,
Beneficiary Bank and Payee PSP.

Each node can run on its own (upisim switch, upisim rem-bank, ...) or all of
them together in one process (upisim run).`,
		PersistentPreRunE: loadConfig,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ~/.upisim/config.yaml and ./.upisim/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
}

// Execute runs the root command
func Execute(version string) error {
	// Add subcommands here to ensure proper initialization order
	rootCmd.AddCommand(switchCmd)
	rootCmd.AddCommand(remBankCmd)
	rootCmd.AddCommand(beneBankCmd)
	rootCmd.AddCommand(payerPSPCmd)
	rootCmd.AddCommand(payeePSPCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(payCmd)
	rootCmd.AddCommand(valAddCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "init" || cmd.Name() == "version" {
		return nil
	}

	loaded, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg = loaded

	if verbose {
		log.Printf("config loaded (explicit: %q)", configPath)
	}
	return nil
}

// setLogPrefix tags every log line with the node that wrote it.
func setLogPrefix(node string) {
	log.SetPrefix("[" + node + "] ")
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			log.Println("Shutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}
