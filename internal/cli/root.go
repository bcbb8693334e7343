// Package cli provides the command-line interface for cloudpin.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cloudpin/resumable/internal/logging"
)

var (
	// Global flags
	envFile string
	verbose bool
	quiet   bool

	// Global logger
	logger *logging.Logger
)

// Version information - set via LDFLAGS at release build time.
var (
	Version   = "v0.3.0-dev"
	BuildTime = "unknown"
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cloudpin",
		Short: "Resumable chunked file uploads to a remote object store",
		Long: `cloudpin ` + Version + ` - Built: ` + BuildTime + `
Uploads large files over an unreliable network using a resumable,
chunked, offset-addressed transfer protocol. Interrupted transfers
pick up from the last acknowledged byte instead of starting over.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.New(os.Stderr)
			if verbose {
				logging.SetGlobalLevel(zerolog.DebugLevel)
			}
			if quiet {
				logging.SetGlobalLevel(zerolog.ErrorLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Env file with endpoint and token (default: .env if present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress output and non-error logs")

	rootCmd.Version = Version + " (" + BuildTime + ")"

	rootCmd.AddCommand(newUploadCmd())

	return rootCmd
}

// Execute runs the CLI with signal-aware cancellation.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return NewRootCmd().ExecuteContext(ctx)
}
