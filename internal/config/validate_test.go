package config

import (
	"fmt"
	"strings"
	"testing"
)

func TestValidateTieredEmptyBundleIDIsFatal(t *testing.T) {
	cfg := Default()
	cfg.BundleID = "   "
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("empty bundle_id should be fatal")
	}
	found := false
	for _, err := range result.Fatals {
		if strings.Contains(err.Error(), "bundle_id") {
			found = true
		}
	}
	if !found {
		t.Fatal("expected bundle_id validation error in fatals")
	}
}

func TestValidateTieredPortOutOfRangeIsFatal(t *testing.T) {
	cfg := Default()
	cfg.BundleID = "com.example.host"
	cfg.Port = 70000
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("out of range port should be fatal")
	}
}

func TestValidateTieredInvalidAddressIsFatal(t *testing.T) {
	cfg := Default()
	cfg.BundleID = "com.example.host"
	cfg.Address = "not-an-ip"
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("invalid address should be fatal")
	}
}

func TestValidateTieredUnknownLogLevelIsWarningAndClamped(t *testing.T) {
	cfg := Default()
	cfg.BundleID = "com.example.host"
	cfg.LogLevel = "verbose"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("unknown log level should not be fatal")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for unknown log level")
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("LogLevel = %q, want clamped to info", cfg.LogLevel)
	}
}

func TestValidateTieredInvalidLogFormatIsWarningAndClamped(t *testing.T) {
	cfg := Default()
	cfg.BundleID = "com.example.host"
	cfg.LogFormat = "xml"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("invalid log format should not be fatal")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for invalid log format")
	}
	if cfg.LogFormat != "text" {
		t.Fatalf("LogFormat = %q, want clamped to text", cfg.LogFormat)
	}
}

func TestValidateTieredLogMaxSizeClamping(t *testing.T) {
	cfg := Default()
	cfg.BundleID = "com.example.host"
	cfg.LogMaxSizeMB = 0
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped log_max_size_mb should be warning: %v", result.Fatals)
	}
	if cfg.LogMaxSizeMB != 1 {
		t.Fatalf("LogMaxSizeMB = %d, want 1", cfg.LogMaxSizeMB)
	}
}

func TestValidateTieredMalformedMediaServiceVersionIsWarning(t *testing.T) {
	cfg := Default()
	cfg.BundleID = "com.example.host"
	cfg.MediaServiceVersion = "not-semver"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("malformed media_service_version should not be fatal")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning about media_service_version shape")
	}
}

func TestHasFatals(t *testing.T) {
	r := ValidationResult{}
	if r.HasFatals() {
		t.Fatal("HasFatals() on empty result should be false")
	}
	r.Fatals = append(r.Fatals, fmt.Errorf("test error"))
	if !r.HasFatals() {
		t.Fatal("HasFatals() should be true with a fatal error")
	}
}

func TestAllErrorsReturnsBoth(t *testing.T) {
	cfg := Default()
	cfg.Address = "not-an-ip" // fatal
	cfg.LogFormat = "xml"     // warning
	result := cfg.ValidateTiered()

	all := result.AllErrors()
	if len(all) < 2 {
		t.Fatalf("AllErrors() returned %d errors, expected at least 2 (fatals + warnings)", len(all))
	}
}

func TestValidConfigHasNoErrors(t *testing.T) {
	cfg := Default()
	cfg.BundleID = "com.example.host"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("valid config has fatals: %v", result.Fatals)
	}
	if len(result.Warnings) > 0 {
		t.Fatalf("valid config has warnings: %v", result.Warnings)
	}
}
