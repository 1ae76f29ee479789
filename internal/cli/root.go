package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	charmlog "github.com/charmbracelet/log"

	"github.com/modelcell/envman/internal"
	"github.com/modelcell/envman/internal/paths"
	"github.com/modelcell/envman/internal/runtime/docker"
	"github.com/modelcell/envman/internal/session"
)

// Represents the root command for the envman CLI.
var RootCmd struct {
	Quiet   bool   `short:"q" help:"Suppress informational output."`
	Verbose bool   `short:"v" help:"Enable verbose output."`
	Debug   bool   `short:"d" help:"Enable debug output."`
	Config  string `short:"c" help:"Override the default configuration file path." placeholder:"PATH" type:"path"`

	Version   VersionCmd   `cmd:"" help:"Show version information."`
	Build     BuildCmd     `cmd:"" help:"Build the environment image."`
	BuildBase BuildBaseCmd `cmd:"" name:"build-base" help:"Build the dependency base image."`
	Pull      PullCmd      `cmd:"" help:"Pull the environment image from its registry."`
	Push      PushCmd      `cmd:"" help:"Push the environment image to its registry."`
	Rmi       RmiCmd       `cmd:"" help:"Remove the environment image."`
	Create    CreateCmd    `cmd:"" help:"Create and start a fresh environment container."`
	Setup     SetupCmd     `cmd:"" help:"Provision the latest environment container."`
	Up        UpCmd        `cmd:"" help:"Create and provision an environment container."`
	Ps        PsCmd        `cmd:"" help:"List environment containers."`
	Stats     StatsCmd     `cmd:"" help:"Show resource usage of environment containers."`
	Exec      ExecCmd      `cmd:"" help:"Run a command inside the latest environment container."`
	Cp        CpCmd        `cmd:"" help:"Copy files between the host and a container."`
	Stop      StopCmd      `cmd:"" help:"Stop the latest environment container."`
	Rm        RmCmd        `cmd:"" help:"Remove environment containers."`
}

// Parses arguments, configures logging, and runs the selected subcommand.
func Execute() error {

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kongCtx := kong.Parse(&RootCmd,
		kong.Name(internal.Name),
		kong.Description("Manages reproducible containerized development environments."),
		kong.UsageOnError(),
		kong.Vars{
			"version": internal.VersionString(),
		},
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	configureLogger()

	return kongCtx.Run()
}

// Configures the global logger based on CLI flags.
//
// Flags only ever raise the corresponding build-time mode, never lower
// it.
func configureLogger() {
	if RootCmd.Quiet {
		internal.SetQuiet(true)
	}
	if RootCmd.Debug {
		internal.SetDebug(true)
	}
	if RootCmd.Verbose {
		internal.SetVerbose(true)
	}

	opts := charmlog.Options{}
	switch {
	case internal.IsDebug():
		opts.Level = charmlog.DebugLevel
		opts.ReportCaller = true
	case internal.IsQuiet():
		opts.Level = charmlog.WarnLevel
	default:
		opts.Level = charmlog.InfoLevel
	}

	slog.SetDefault(slog.New(charmlog.NewWithOptions(os.Stderr, opts)))
}

// Loads the layered configuration for this invocation.
func loadConfig() (session.Config, error) {
	var cfg session.Config
	var err error

	if RootCmd.Config != "" {
		cfg, err = session.LoadConfig(RootCmd.Config, false)
	} else {
		cfg, err = session.LoadDefaultConfig()
	}
	if err != nil {
		return cfg, err
	}

	return cfg.Merge(session.Overrides{Verbose: RootCmd.Verbose}), nil
}

// Opens a session against the local Docker daemon.
//
// Explicit per-command overrides are merged on top of the loaded
// configuration, latest set last. The returned runtime must be closed
// by the caller.
func openSession(overrides ...session.Overrides) (*session.Session, *docker.Runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	for _, o := range overrides {
		cfg = cfg.Merge(o)
	}

	rt, err := docker.New()
	if err != nil {
		return nil, nil, err
	}

	resolver, err := paths.NewResolver()
	if err != nil {
		rt.Close()
		return nil, nil, err
	}

	s, err := session.New(rt, resolver, cfg)
	if err != nil {
		rt.Close()
		return nil, nil, err
	}
	return s, rt, nil
}
