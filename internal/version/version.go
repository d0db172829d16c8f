// Package version holds build metadata for ghostwall, injected with -ldflags,
// plus a few runtime facts reported by the health endpoint.
package version

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// Set via: -ldflags "-X ghostwall/internal/version.Version=..."
	Version = "unknown"

	// Set via: -ldflags "-X ghostwall/internal/version.BuildDate=..."
	BuildDate = "unknown"

	// Set via: -ldflags "-X ghostwall/internal/version.GitCommit=..."
	GitCommit = "unknown"
)

// Info holds build metadata and process identity.
type Info struct {
	Version    string    `json:"version"`
	GitCommit  string    `json:"git_commit"`
	BuildDate  string    `json:"build_date"`
	InstanceID string    `json:"instance_id"`
	Hostname   string    `json:"hostname"`
	StartedAt  time.Time `json:"started_at"`
}

var (
	once sync.Once
	info Info
)

// GetInfo returns build metadata. Runtime fields are computed on first call.
func GetInfo() Info {
	once.Do(func() {
		info = Info{
			Version:    Version,
			GitCommit:  GitCommit,
			BuildDate:  BuildDate,
			InstanceID: uuid.NewString(),
			Hostname:   getHostname(),
			StartedAt:  time.Now().UTC(),
		}
	})
	return info
}

func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}

// Uptime reports how long the process has been running as of now.
func (i Info) Uptime(now time.Time) time.Duration {
	if i.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(i.StartedAt).Truncate(time.Second)
}

// LogAttrs returns the fields attached to every log line.
func (i Info) LogAttrs() []any {
	return []any{
		slog.String("version", i.Version),
		slog.String("git_commit", i.GitCommit),
		slog.String("build_date", i.BuildDate),
		slog.String("instance_id", i.InstanceID),
	}
}

// String formats version info for CLI display.
func (i Info) String() string {
	return fmt.Sprintf("ghostwall version %s (commit: %s, built: %s)", i.Version, i.GitCommit, i.BuildDate)
}
