package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/foveate/hostd/internal/sessionerrors"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// ValidationResult splits validation failures into fatals, which block
// startup, and warnings, which are logged but otherwise ignored.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// AllErrors returns fatals followed by warnings, for callers that just want
// to log everything found regardless of severity.
func (r ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	all = append(all, r.Warnings...)
	return all
}

// ValidateTiered checks the config for invalid values, separating errors
// that must block startup (an unusable bundle id, port, or address) from
// ones that are safe to warn about and continue with defaults.
func (c *Config) ValidateTiered() ValidationResult {
	var r ValidationResult

	if strings.TrimSpace(c.BundleID) == "" {
		r.Fatals = append(r.Fatals, fmt.Errorf("%w: bundle_id must not be empty", sessionerrors.ErrInvalidConfiguration))
	}

	if c.Port < 1 || c.Port > 65535 {
		r.Fatals = append(r.Fatals, fmt.Errorf("%w: port %d is out of range 1-65535", sessionerrors.ErrInvalidConfiguration, c.Port))
	}

	if net.ParseIP(c.Address) == nil {
		r.Fatals = append(r.Fatals, fmt.Errorf("%w: address %q is not a valid IP", sessionerrors.ErrInvalidConfiguration, c.Address))
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
		c.LogLevel = "info"
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
		c.LogFormat = "text"
	}

	if c.LogMaxSizeMB < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_max_size_mb %d is below minimum 1, clamping", c.LogMaxSizeMB))
		c.LogMaxSizeMB = 1
	}

	if c.MediaServiceVersion != "" {
		// Loose major.minor.patch shape check only; the value is never
		// parsed locally. The session protocol engine does not pass it to
		// StartService: it always starts the media service at version 6.0.0.
		parts := strings.Split(c.MediaServiceVersion, ".")
		if len(parts) != 3 {
			r.Warnings = append(r.Warnings, fmt.Errorf("media_service_version %q does not look like major.minor.patch", c.MediaServiceVersion))
		}
	}

	return r
}
