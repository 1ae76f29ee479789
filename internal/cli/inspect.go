package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/docker/go-units"

	"github.com/modelcell/envman/internal/paths"
	"github.com/modelcell/envman/internal/runtime"
)

// Represents the 'envman ps' command.
type PsCmd struct {
	All bool `short:"a" help:"Include stopped containers."`
}

// Executes the ps command.
func (c *PsCmd) Run(ctx context.Context) error {
	s, rt, err := openSession()
	if err != nil {
		return err
	}
	defer rt.Close()

	containers, err := s.ListManaged(ctx, c.All)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tIMAGE\tSTATUS\tCREATED")
	for _, ctr := range containers {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s ago\n",
			ctr.Name, ctr.ImageRef, ctr.Status,
			units.HumanDuration(time.Since(ctr.CreatedAt)))
	}
	return w.Flush()
}

// Represents the 'envman stats' command.
type StatsCmd struct{}

// Executes the stats command.
//
// Samples each running managed container once and prints memory,
// network, and block I/O usage in human-readable units.
func (c *StatsCmd) Run(ctx context.Context) error {
	s, rt, err := openSession()
	if err != nil {
		return err
	}
	defer rt.Close()

	containers, err := s.ListManaged(ctx, false)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tMEM USAGE / LIMIT\tNET RX/TX\tBLOCK R/W")
	for _, ctr := range containers {
		st, err := rt.Stats(ctx, ctr.ID)
		if err != nil {
			fmt.Fprintf(w, "%s\t-\t-\t-\n", ctr.Name)
			continue
		}
		fmt.Fprintf(w, "%s\t%s / %s\t%s / %s\t%s / %s\n",
			ctr.Name,
			units.BytesSize(float64(st.MemoryUsage)), units.BytesSize(float64(st.MemoryLimit)),
			units.HumanSize(float64(st.NetworkRx)), units.HumanSize(float64(st.NetworkTx)),
			units.HumanSize(float64(st.IORead)), units.HumanSize(float64(st.IOWrite)))
	}
	return w.Flush()
}

// Represents the 'envman exec' command.
type ExecCmd struct {
	Root bool     `help:"Run as root instead of the container user."`
	Args []string `arg:"" help:"Command and arguments to run." passthrough:""`
}

// Executes the exec command inside the latest managed container.
//
// The host working directory is mapped through the mount table so the
// command runs in the corresponding in-container directory; when the
// working directory is not mounted, the command runs at the container
// default.
func (c *ExecCmd) Run(ctx context.Context) error {
	s, rt, err := openSession()
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := resolveContainer(ctx, s); err != nil {
		return err
	}

	id := runtime.ContainerUser
	if c.Root {
		id = runtime.Root
	}

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	res, err := s.Exec(ctx, c.Args, cwd, id)
	if errors.Is(err, paths.ErrNotMounted) {
		res, err = s.Exec(ctx, c.Args, "", id)
	}
	if err != nil {
		return err
	}

	os.Stdout.Write(res.Output)
	if res.ExitCode != 0 {
		return fmt.Errorf("command exited with code %d", res.ExitCode)
	}
	return nil
}

// Represents the 'envman cp' command.
type CpCmd struct {
	Src  string `arg:"" help:"Source path; prefix with ':' for a container path."`
	Dest string `arg:"" help:"Destination path; prefix with ':' for a container path."`
}

// Executes the cp command against the latest managed container.
//
// Exactly one side must be a container path, written as ":PATH".
func (c *CpCmd) Run(ctx context.Context) error {
	s, rt, err := openSession()
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := resolveContainer(ctx, s); err != nil {
		return err
	}
	name := s.Container().Name

	srcInContainer := strings.HasPrefix(c.Src, ":")
	destInContainer := strings.HasPrefix(c.Dest, ":")
	switch {
	case srcInContainer == destInContainer:
		return fmt.Errorf("exactly one of source and destination must be a container path (\":PATH\")")
	case srcInContainer:
		return rt.CopyFromContainer(ctx, name, strings.TrimPrefix(c.Src, ":"), c.Dest)
	default:
		return rt.CopyToContainer(ctx, c.Src, name, strings.TrimPrefix(c.Dest, ":"))
	}
}
