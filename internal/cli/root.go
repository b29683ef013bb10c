// Package cli provides the command-line interface for the backtester.
package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"crypto-backtester/internal/config"
	"crypto-backtester/internal/logging"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2024-06-01"
)

// skipConfig marks commands that run without a loaded config file.
const skipConfig = "skip-config"

// App holds the application dependencies.
type App struct {
	Config     *config.Config
	ConfigPath string
	Logger     zerolog.Logger
}

// NewRootCmd creates the root command for the CLI. The config file is
// loaded before any command that needs it runs. The logger is taken from the
// execution context and replaced there once the config is loaded.
func NewRootCmd() *cobra.Command {
	app := &App{}

	rootCmd := &cobra.Command{
		Use:   "backtester",
		Short: "Event-driven crypto strategy backtester",
		Long: `backtester replays historical bars or ticks through a trading strategy,
simulates order fills per instrument and reports daily P&L and statistics.

Runs are configured by a TOML file (see 'backtester config init').`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			app.Logger = logging.FromContext(cmd.Context())
			app.ConfigPath, _ = cmd.Flags().GetString("config")
			debug, _ := cmd.Flags().GetBool("debug")

			if needsConfig(cmd) {
				cfg, err := config.Load(app.ConfigPath)
				if err != nil {
					return err
				}
				app.Config = cfg
				app.Logger = logging.NewLoggerWithConfig(cfg.Log)
			}

			// Handle debug flag
			if debug {
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			cmd.SetContext(logging.WithLogger(cmd.Context(), app.Logger))
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config file (default: ./backtest.toml or ~/.config/crypto-backtester/backtest.toml)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newOptimizeCmd(app))
	rootCmd.AddCommand(newDataCmd(app))
	rootCmd.AddCommand(newRunsCmd(app))
	rootCmd.AddCommand(newStrategiesCmd())

	return rootCmd
}

// needsConfig reports whether cmd runs against a loaded config file.
// Help and shell completion never do.
func needsConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[skipConfig] != "" {
			return false
		}
		switch c.Name() {
		case "help", "completion", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
			return false
		}
	}
	return true
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{skipConfig: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("Crypto Backtester v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "Create, view and validate the backtest configuration.",
	}

	initCmd := &cobra.Command{
		Use:         "init [path]",
		Short:       "Write a commented configuration template",
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			path := config.DefaultConfigPath()
			if len(args) == 1 {
				path = args[0]
			}
			force, _ := cmd.Flags().GetBool("force")

			if err := config.WriteTemplate(path, force); err != nil {
				output.Error("Failed to write template: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": path})
			}
			output.Success("✓ Configuration template written to %s", path)
			return nil
		},
	}
	initCmd.Flags().Bool("force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			return showConfig(output, app.Config)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:         "path",
		Short:       "Show the default configuration file path",
		Annotations: map[string]string{skipConfig: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": config.DefaultConfigPath()})
			} else {
				output.Println(config.DefaultConfigPath())
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Load already validated; reaching here means the file is valid
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) error {
	output.Bold("Backtest")
	output.Printf("  Capital:         %s\n", FormatMoney(cfg.Backtest.Capital))
	output.Printf("  Interval:        %s\n", cfg.Backtest.Interval)
	output.Printf("  Mode:            %s\n", cfg.Backtest.Mode)
	output.Printf("  Window:          %s .. %s\n", cfg.Backtest.Start, cfg.Backtest.End)
	output.Printf("  Idle Symbols:    %v\n", cfg.Backtest.IncludeIdleSymbols)
	output.Println()

	output.Bold("Instruments")
	table := NewTable(output, "Symbol", "Rate", "Slippage", "Size", "Tick", "Inverse")
	for _, inst := range cfg.Instruments {
		table.AddRow(
			inst.Instrument().VtSymbol(),
			FormatFloat(inst.Rate),
			FormatFloat(inst.Slippage),
			FormatFloat(inst.Size),
			FormatFloat(inst.PriceTick),
			FormatBool(inst.Inverse),
		)
	}
	table.Render()
	output.Println()

	output.Bold("Data")
	output.Printf("  Source:          %s\n", cfg.Data.Source)
	output.Printf("  SQLite:          %s\n", cfg.Data.SQLitePath)
	output.Printf("  CSV Dir:         %s\n", cfg.Data.CSVDir)
	output.Println()

	output.Bold("Strategy")
	output.Printf("  Name:            %s\n", cfg.Strategy.Name)
	for _, line := range FormatSettingsMap(cfg.Strategy.Settings) {
		output.Printf("  %s\n", line)
	}
	output.Println()

	output.Bold("Optimization")
	output.Printf("  Target:          %s\n", cfg.Optimization.Target)
	output.Printf("  Workers:         %d\n", cfg.Optimization.Workers)
	for _, p := range cfg.Optimization.Parameters {
		output.Printf("  %-16s %s .. %s step %s\n", p.Name+":", FormatFloat(p.Start), FormatFloat(p.End), FormatFloat(p.Step))
	}

	return nil
}
