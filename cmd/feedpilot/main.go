package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/feedpilot/feedpilot/internal/config"
	"github.com/feedpilot/feedpilot/internal/logging"
)

// Version is set at build time.
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	cli := &app{in: in, out: out, errOut: errOut}
	defer cli.close()

	cmd := newRootCommand(cli)
	cmd.SetArgs(args)
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	return cmd.ExecuteContext(ctx)
}

// app carries the state shared by subcommands once the root pre-run has
// loaded configuration and opened the run log.
type app struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	configPath string
	verbose    bool

	cfg    *config.Config
	logs   *logging.RuntimeLogger
	logger *log.Logger
}

func (a *app) setup(ctx context.Context) error {
	if err := config.LoadDotEnv(); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load(ctx, a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	options := []logging.Option{
		logging.WithLevel(logging.ParseLevel(cfg.LogLevel)),
		logging.WithRotation(cfg.LogMaxSizeMB, cfg.LogMaxFiles),
	}
	if a.verbose {
		options = append(options, logging.WithLevel(log.DebugLevel), logging.WithMirror(a.errOut))
	}
	logs, err := logging.New(ctx, options...)
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}

	a.cfg = cfg
	a.logs = logs
	a.logger = logs.Logger
	return nil
}

func (a *app) close() {
	if a.logs == nil {
		return
	}
	if err := a.logs.Close(); err != nil {
		fmt.Fprintf(a.errOut, "failed to close logger: %v\n", err)
	}
	a.logs = nil
}

func newRootCommand(cli *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "feedpilot",
		Short:         "Supervised feed automation for Android devices and browsers",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}
	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")
	root.PersistentFlags().StringVar(&cli.configPath, "config", "", "config file overlaid after ~/.feedpilot and ./.feedpilot")
	root.PersistentFlags().BoolVarP(&cli.verbose, "verbose", "v", false, "mirror debug logs to stderr")

	root.AddCommand(
		newRunCommand(cli),
		newDoctorCommand(cli),
		newStatsCommand(cli),
		newBugreportCommand(cli),
	)

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if skipSetup(cmd) {
			return nil
		}
		if cli == nil {
			return errors.New("cli state is required")
		}
		if err := cli.setup(cmd.Context()); err != nil {
			return err
		}
		cli.logger.With("command", cmd.Name(), "args", redactArgs(os.Args[1:])).Debug("command invocation")
		return nil
	}
	return root
}

// skipSetup reports commands that run without config or a run log.
func skipSetup(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "help", "completion", "bugreport":
		return true
	}
	return cmd.Parent() != nil && cmd.Parent().Name() == "completion"
}
