// Package naming derives container names from timestamps and recovers
// the most recently used managed container from a runtime listing.
//
// A container is "managed" when its name parses against the configured
// timestamp layout; that convention is the only marker separating
// envman's containers from unrelated ones on the same host. Name
// generation is deterministic for a given instant, so two containers
// created within the layout's granularity may collide; the runtime's
// name-conflict error is the backstop, and the looseness is kept so
// that existing tooling can keep matching names by pattern.
package naming

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/modelcell/envman/internal/runtime"
)

// Default name layout: a fixed prefix plus a second-granularity
// timestamp, in Go reference-time notation.
const DefaultFormat = "env-2006-01-02-15-04-05"

// Returns the container name for the given instant.
func NameFor(ts time.Time, format string) string {
	return ts.Format(format)
}

// Whether name parses against format, marking the container as one this
// system created.
func IsManaged(name, format string) bool {
	_, err := time.Parse(format, name)
	return err == nil
}

// Obtains the runtime-reported read time of a container's statistics
// sample.
type ReadTimeFunc func(ctx context.Context, containerID string) (time.Time, error)

// Selects the most recently used managed container.
//
// Filters the listing down to names matching format, orders by the live
// stats read time in descending order, and returns the first. The
// ordering key is deliberately the runtime-reported read time rather
// than the timestamp embedded in the name: the name records creation,
// not use. Containers whose stats cannot be read sort last. Returns nil
// when no managed container exists.
func SelectLatest(ctx context.Context, containers []runtime.Container, format string, readTime ReadTimeFunc) *runtime.Container {
	type candidate struct {
		container runtime.Container
		read      time.Time
	}

	var managed []candidate
	for _, c := range containers {
		if !IsManaged(c.Name, format) {
			continue
		}
		read, err := readTime(ctx, c.ID)
		if err != nil {
			slog.Debug("stats unavailable for container", "name", c.Name, "error", err)
		}
		managed = append(managed, candidate{container: c, read: read})
	}

	if len(managed) == 0 {
		return nil
	}

	sort.SliceStable(managed, func(i, j int) bool {
		return managed[i].read.After(managed[j].read)
	})

	latest := managed[0].container
	return &latest
}
