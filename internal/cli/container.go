package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/modelcell/envman/internal/session"
)

// Represents the 'envman create' command.
type CreateCmd struct {
	ImageFlags     `embed:""`
	ContainerFlags `embed:""`
}

// Executes the create command.
func (c *CreateCmd) Run(ctx context.Context) error {
	co, err := c.ContainerFlags.overrides()
	if err != nil {
		return err
	}

	s, rt, err := openSession(c.ImageFlags.overrides(), co)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctr, err := s.Create(ctx)
	if err != nil {
		return err
	}

	fmt.Println(ctr.Name)
	return nil
}

// Represents the 'envman setup' command.
type SetupCmd struct {
	SetupFlags     `embed:""`
	ContainerFlags `embed:""`
	Upgrade        bool `short:"u" help:"Overwrite existing files and upgrade installed packages."`
}

// Executes the setup command against the latest managed container.
func (c *SetupCmd) Run(ctx context.Context) error {
	co, err := c.ContainerFlags.overrides()
	if err != nil {
		return err
	}

	s, rt, err := openSession(c.SetupFlags.overrides(), co)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := resolveContainer(ctx, s); err != nil {
		return err
	}
	return s.Setup(ctx, c.Upgrade)
}

// Represents the 'envman up' command.
type UpCmd struct {
	ImageFlags     `embed:""`
	ContainerFlags `embed:""`
	SetupFlags     `embed:""`
	Upgrade        bool `short:"u" help:"Overwrite existing files and upgrade installed packages."`
}

// Executes the up command: a create followed by a setup.
func (c *UpCmd) Run(ctx context.Context) error {
	co, err := c.ContainerFlags.overrides()
	if err != nil {
		return err
	}

	s, rt, err := openSession(c.ImageFlags.overrides(), c.SetupFlags.overrides(), co)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctr, err := s.Create(ctx)
	if err != nil {
		return err
	}
	if err := s.Setup(ctx, c.Upgrade); err != nil {
		return err
	}

	fmt.Println(ctr.Name)
	return nil
}

// Represents the 'envman stop' command.
type StopCmd struct {
	NameFormat string `help:"Override the container name layout (Go reference time)." placeholder:"LAYOUT"`
}

// Executes the stop command against the latest managed container.
func (c *StopCmd) Run(ctx context.Context) error {
	s, rt, err := openSession(session.Overrides{NameFormat: c.NameFormat})
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := resolveContainer(ctx, s); err != nil {
		return err
	}
	return s.Stop(ctx)
}

// Represents the 'envman rm' command.
type RmCmd struct {
	All        bool   `short:"a" help:"Remove every managed container, not just the latest."`
	Force      bool   `short:"f" help:"Remove running containers without stopping them first."`
	Network    bool   `help:"Also remove the helper network afterwards."`
	NameFormat string `help:"Override the container name layout (Go reference time)." placeholder:"LAYOUT"`
}

// Executes the rm command.
func (c *RmCmd) Run(ctx context.Context) error {
	s, rt, err := openSession(session.Overrides{NameFormat: c.NameFormat})
	if err != nil {
		return err
	}
	defer rt.Close()

	if c.All {
		removed, err := s.RemoveAll(ctx, c.Force)
		if err != nil {
			return err
		}
		slog.Info("containers removed", "count", removed)
	} else {
		if err := resolveContainer(ctx, s); err != nil {
			return err
		}
		if err := s.Teardown(ctx, c.Force); err != nil {
			return err
		}
	}

	if c.Network {
		if err := s.RemoveNetwork(ctx); err != nil {
			return err
		}
		slog.Info("helper network removed")
	}
	return nil
}

// Resolves the session and fails when no managed container exists.
func resolveContainer(ctx context.Context, s *session.Session) error {
	if err := s.Resolve(ctx); err != nil {
		return err
	}
	if s.Container() == nil {
		return fmt.Errorf("no environment container found; run 'envman create' first")
	}
	return nil
}
