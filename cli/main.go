package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opal-lang/datacube/internal/config"
	"github.com/opal-lang/datacube/internal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// app is the state shared by every subcommand.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	debug      bool
	noColor    bool

	cfg    *config.Config
	logger *slog.Logger
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		var names []string
		for _, c := range root.Commands() {
			names = append(names, c.Name())
		}
		FormatError(stderr, suggestCommand(err, names), ShouldUseColor(stderr, a.noColor))
		return 1
	}
	return 0
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:                "datacube",
		Short:              "Evaluate array expressions and run data-cube plans",
		SilenceUsage:       true,
		SilenceErrors:      true,
		DisableSuggestions: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to a YAML config file")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().BoolVar(&a.noColor, "no-color", false, "Disable colored output")

	root.AddCommand(
		a.evalCmd(),
		a.runCmd(),
		a.maskCmd(),
		a.validateCmd(),
		a.digestCmd(),
		a.exportCmd(),
		a.catalogCmd(),
		a.serveCmd(),
	)
	return root
}

// setup loads config and builds the logger.
func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return &CLIError{Type: "usage", Message: err.Error(), Hint: "check the config file and DATACUBE_* variables"}
	}
	if a.debug {
		cfg.LogLevel = "debug"
	}
	level, err := telemetry.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = telemetry.NewLogger(a.stderr, level)
	return nil
}

func (a *app) useColor() bool { return ShouldUseColor(a.stdout, a.noColor) }
