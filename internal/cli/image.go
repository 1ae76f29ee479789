package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/modelcell/envman/internal"
	"github.com/modelcell/envman/internal/session"
)

// Represents the 'envman build' command.
type BuildCmd struct {
	ImageFlags `embed:""`
	ConfigDir  string `help:"Override the host configuration directory staged into the image." placeholder:"DIR" type:"path"`
}

// Executes the build command.
//
// Builds the environment image from the configured Dockerfile template
// and prints the build log in verbose mode. The log is always shown on
// failure so the broken step is visible.
func (c *BuildCmd) Run(ctx context.Context) error {
	s, rt, err := openSession(c.ImageFlags.overrides(), session.Overrides{ConfigDir: c.ConfigDir})
	if err != nil {
		return err
	}
	defer rt.Close()

	img, log, err := s.BuildImage(ctx)
	if err != nil {
		fmt.Fprint(os.Stderr, log)
		return err
	}
	if internal.IsVerbose() {
		fmt.Fprint(os.Stderr, log)
	}

	slog.Info("build complete", "ref", img.Ref(), "id", img.ID)
	return nil
}

// Represents the 'envman build-base' command.
type BuildBaseCmd struct{}

// Executes the build-base command.
func (c *BuildBaseCmd) Run(ctx context.Context) error {
	s, rt, err := openSession()
	if err != nil {
		return err
	}
	defer rt.Close()

	img, log, err := s.BuildBaseImage(ctx)
	if err != nil {
		fmt.Fprint(os.Stderr, log)
		return err
	}
	if internal.IsVerbose() {
		fmt.Fprint(os.Stderr, log)
	}

	slog.Info("base build complete", "ref", img.Ref(), "id", img.ID)
	return nil
}

// Represents the 'envman pull' command.
type PullCmd struct {
	ImageFlags `embed:""`
}

// Executes the pull command.
func (c *PullCmd) Run(ctx context.Context) error {
	s, rt, err := openSession(c.ImageFlags.overrides())
	if err != nil {
		return err
	}
	defer rt.Close()

	img, err := s.PullImage(ctx)
	if err != nil {
		return err
	}

	slog.Info("pull complete", "ref", img.Ref(), "id", img.ID)
	return nil
}

// Represents the 'envman push' command.
type PushCmd struct {
	ImageFlags `embed:""`
}

// Executes the push command.
func (c *PushCmd) Run(ctx context.Context) error {
	s, rt, err := openSession(c.ImageFlags.overrides())
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := s.PushImage(ctx); err != nil {
		return err
	}

	slog.Info("push complete")
	return nil
}

// Represents the 'envman rmi' command.
type RmiCmd struct {
	ImageFlags `embed:""`
	Force      bool `short:"f" help:"Remove even when containers still use the image."`
}

// Executes the rmi command.
func (c *RmiCmd) Run(ctx context.Context) error {
	s, rt, err := openSession(c.ImageFlags.overrides())
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := s.RemoveImage(ctx, c.Force); err != nil {
		return err
	}

	slog.Info("image removed")
	return nil
}
