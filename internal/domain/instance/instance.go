// Package instance defines the Instance domain entity: a named, persisted
// configuration for one supervised GOWA child process.
package instance

import (
	"fmt"
	"strings"
	"time"

	"github.com/Strob0t/GowaManager/internal/domain"
	"github.com/Strob0t/GowaManager/internal/domain/resource"
)

// Status is the persisted lifecycle state of an instance.
type Status string

const (
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
	StatusError   Status = "error"
)

// VersionLatest is the floating version channel. Instances pinned to it are
// restarted by the auto-updater when a newer release lands.
const VersionLatest = "latest"

// Port bounds for child processes. The manager's own bind and privileged
// ports are never handed out.
const (
	PortMin = 8000
	PortMax = 65535
)

// MaxNameLen is the upper bound on the human label.
const MaxNameLen = 100

// Instance is the primary entity.
type Instance struct {
	ID           int64     `json:"id"`
	Key          string    `json:"key"`
	Name         string    `json:"name"`
	Port         *int      `json:"port"`
	Status       Status    `json:"status"`
	Config       Config    `json:"config"`
	GowaVersion  string    `json:"gowa_version"`
	ErrorMessage *string   `json:"error_message"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CreateRequest holds the fields accepted when creating an instance.
type CreateRequest struct {
	Name        string  `json:"name"`
	Config      *Config `json:"config"`
	GowaVersion string  `json:"gowa_version"`
}

// UpdateRequest holds the fields accepted when updating an instance.
// Nil pointers leave the current value untouched.
type UpdateRequest struct {
	Name        *string `json:"name"`
	Config      *Config `json:"config"`
	GowaVersion *string `json:"gowa_version"`
}

// StatusReport is the lifecycle engine's answer to status/start/stop calls.
type StatusReport struct {
	ID           int64            `json:"id"`
	Name         string           `json:"name"`
	Status       Status           `json:"status"`
	Port         *int             `json:"port,omitempty"`
	PID          int              `json:"pid,omitempty"`
	UptimeMS     int64            `json:"uptime_ms,omitempty"`
	ErrorMessage *string          `json:"error_message,omitempty"`
	Resources    *resource.Sample `json:"resources,omitempty"`
}

// ValidateName checks the human label bounds.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", domain.ErrValidation)
	}
	if len(name) > MaxNameLen {
		return fmt.Errorf("%w: name exceeds %d characters", domain.ErrValidation, MaxNameLen)
	}
	if strings.TrimSpace(name) != name {
		return fmt.Errorf("%w: name must not have leading or trailing whitespace", domain.ErrValidation)
	}
	return nil
}

// ValidatePort checks a child port is inside the allowed range.
func ValidatePort(port int) error {
	if port < PortMin || port > PortMax {
		return fmt.Errorf("%w: port %d outside [%d, %d]", domain.ErrValidation, port, PortMin, PortMax)
	}
	return nil
}

// BasePath returns the canonical base path for an instance key under the
// given proxy prefix, e.g. "/app/AB12CD34".
func BasePath(prefix, key string) string {
	return "/" + strings.Trim(prefix, "/") + "/" + key
}
