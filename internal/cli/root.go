package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/watzon/cadence/internal/config"
	"github.com/watzon/cadence/internal/scheduler"
)

const version = "0.1.0-dev"

var (
	cfgFile string
	verbose bool

	// handlers is populated by programs embedding cadence before Execute.
	handlers = scheduler.NewRegistry()
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "cadence",
	Short: "Recurring rules with time zone aware scheduling",
	Long: `Cadence stores recurrence rules, computes their occurrences in the
rule's own time zone and dispatches overdue occurrences to handlers.

Run the scheduler:
  cadence run

Preview a rule:
  cadence preview --file rule.yaml --count 10`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(config.Default().Logging)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./cadence.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version())
		},
	})
}

// Registry returns the registry consulted by "cadence run". Register handlers
// and entity resolvers on it before calling Execute.
func Registry() *scheduler.Registry {
	return handlers
}

// loadConfig reads the configuration and applies its logging settings.
func loadConfig(onChange func(*config.Config)) (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{ConfigFile: cfgFile, OnChange: onChange})
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.Logging)
	return cfg, nil
}

// setupLogging configures the global zerolog logger.
func setupLogging(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	var output io.Writer = os.Stderr
	if cfg.Format != "json" && isatty.IsTerminal(os.Stderr.Fd()) {
		output = zerolog.ConsoleWriter{Out: os.Stderr}
	}

	ctx := zerolog.New(output).With().Timestamp()
	if cfg.Caller {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger()
}

// AddCommand adds a command to the root command.
func AddCommand(cmd *cobra.Command) {
	rootCmd.AddCommand(cmd)
}

// Version returns the version string.
func Version() string {
	return fmt.Sprintf("cadence version %s", version)
}
