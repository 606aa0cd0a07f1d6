package health

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/monitorai/internal/reference"
)

// Pinger is implemented by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Postgres returns an optional checker that pings the reference database.
// Calls are still graded while it is down, only without calibration.
func Postgres(p Pinger) Checker {
	return Checker{Name: "postgres", Check: p.Ping, Optional: true}
}

// Redis returns an optional checker for the embedding cache. ping is usually
// func(ctx) error { return client.Ping(ctx).Err() }.
func Redis(ping func(ctx context.Context) error) Checker {
	return Checker{Name: "redis", Check: ping, Optional: true}
}

// LoadStatus is implemented by [*reference.Loader].
type LoadStatus interface {
	Status() (reference.Status, int)
}

// References returns an optional checker reporting the reference store load
// outcome. A store that has not been loaded yet is healthy.
func References(l LoadStatus) Checker {
	return Checker{
		Name:     "references",
		Optional: true,
		Detail: func() string {
			status, n := l.Status()
			if status == reference.StatusLoaded {
				return fmt.Sprintf("loaded (%d cases)", n)
			}
			return status.String()
		},
		Check: func(context.Context) error {
			status, n := l.Status()
			switch status {
			case reference.StatusAbsent, reference.StatusDegraded:
				return fmt.Errorf("reference store %s, calibration disabled", status)
			case reference.StatusLoaded:
				if n == 0 {
					return fmt.Errorf("reference store is empty")
				}
			}
			return nil
		},
	}
}

// CircuitReporter is implemented by the resilience fallback chains.
type CircuitReporter interface {
	OpenCircuits() []string
}

// Circuits returns an optional checker named name that is degraded while any
// backend of r has its circuit open. The chain keeps serving through its
// remaining backends, so this never fails readiness.
func Circuits(name string, r CircuitReporter) Checker {
	return Checker{
		Name:     name,
		Optional: true,
		Detail:   func() string { return "all circuits closed" },
		Check: func(context.Context) error {
			if open := r.OpenCircuits(); len(open) > 0 {
				return fmt.Errorf("circuit open: %s", strings.Join(open, ", "))
			}
			return nil
		},
	}
}
