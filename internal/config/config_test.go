package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestNewConfig verifies that NewConfig returns a Config with all expected default values.
// This test ensures that defaults are documented through tests and that changes
// to defaults are intentional (tests will fail if defaults change unexpectedly).
func TestNewConfig(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()

	// Verify each default value explicitly
	// This serves as living documentation of the defaults
	t.Run("default Timeout is 15 seconds", func(t *testing.T) {
		t.Parallel()
		if cfg.Timeout != 15*time.Second {
			t.Errorf("expected Timeout to be 15s, got %v", cfg.Timeout)
		}
	})

	t.Run("default Delay is 1 second", func(t *testing.T) {
		t.Parallel()
		if cfg.Delay != 1*time.Second {
			t.Errorf("expected Delay to be 1s, got %v", cfg.Delay)
		}
	})

	t.Run("default page range is 0..40000", func(t *testing.T) {
		t.Parallel()
		if cfg.StartPage != "0" || cfg.EndPage != "40000" {
			t.Errorf("expected range 0..40000, got %s..%s", cfg.StartPage, cfg.EndPage)
		}
	})

	t.Run("default CheckpointEvery is 50", func(t *testing.T) {
		t.Parallel()
		if cfg.CheckpointEvery != 50 {
			t.Errorf("expected CheckpointEvery to be 50, got %d", cfg.CheckpointEvery)
		}
	})

	t.Run("default StopAfter is 50", func(t *testing.T) {
		t.Parallel()
		if cfg.StopAfter != 50 {
			t.Errorf("expected StopAfter to be 50, got %d", cfg.StopAfter)
		}
	})

	t.Run("default SampleSize is 20", func(t *testing.T) {
		t.Parallel()
		if cfg.SampleSize != 20 {
			t.Errorf("expected SampleSize to be 20, got %d", cfg.SampleSize)
		}
	})

	t.Run("default BatchSize is 4", func(t *testing.T) {
		t.Parallel()
		if cfg.BatchSize != 4 {
			t.Errorf("expected BatchSize to be 4, got %d", cfg.BatchSize)
		}
	})

	t.Run("default pattern matches the disclosure listing", func(t *testing.T) {
		t.Parallel()
		if cfg.PatternPrefix != "EFTA" || cfg.PatternDigits != 8 || cfg.PatternSuffix != ".pdf" {
			t.Errorf("unexpected default pattern %s/%d/%s", cfg.PatternPrefix, cfg.PatternDigits, cfg.PatternSuffix)
		}
	})

	t.Run("default PageParam is page", func(t *testing.T) {
		t.Parallel()
		if cfg.PageParam != "page" {
			t.Errorf("expected PageParam to be 'page', got %q", cfg.PageParam)
		}
	})
}

// TestConfigValidate tests the Validate method with various configurations.
// Each test case is designed to test one specific validation rule.
func TestConfigValidate(t *testing.T) {
	t.Parallel()

	// validConfig returns a minimal valid configuration.
	// Tests can modify specific fields to test validation rules.
	validConfig := func() *Config {
		cfg := NewConfig()
		cfg.Endpoints = []string{"https://example.com/listing"}
		return cfg
	}

	t.Run("valid config returns nil", func(t *testing.T) {
		t.Parallel()
		cfg := validConfig()
		if err := cfg.Validate(); err != nil {
			t.Errorf("expected no error, got %v", err)
		}
	})

	t.Run("multiple endpoints is valid", func(t *testing.T) {
		t.Parallel()
		cfg := validConfig()
		cfg.Endpoints = []string{
			"https://example.com/listing",
			"https://other.example/files",
		}

		if err := cfg.Validate(); err != nil {
			t.Errorf("expected no error, got %v", err)
		}
	})

	t.Run("empty endpoints returns ErrNoEndpoint", func(t *testing.T) {
		t.Parallel()
		cfg := validConfig()
		cfg.Endpoints = []string{}

		err := cfg.Validate()
		if !errors.Is(err, ErrNoEndpoint) {
			t.Errorf("expected ErrNoEndpoint, got %v", err)
		}
	})

	t.Run("nil endpoints returns ErrNoEndpoint", func(t *testing.T) {
		t.Parallel()
		cfg := validConfig()
		cfg.Endpoints = nil

		err := cfg.Validate()
		if !errors.Is(err, ErrNoEndpoint) {
			t.Errorf("expected ErrNoEndpoint, got %v", err)
		}
	})

	t.Run("zero timeout returns ErrInvalidTimeout", func(t *testing.T) {
		t.Parallel()
		cfg := validConfig()
		cfg.Timeout = 0

		err := cfg.Validate()
		if !errors.Is(err, ErrInvalidTimeout) {
			t.Errorf("expected ErrInvalidTimeout, got %v", err)
		}
	})

	t.Run("negative timeout returns ErrInvalidTimeout", func(t *testing.T) {
		t.Parallel()
		cfg := validConfig()
		cfg.Timeout = -1 * time.Second

		err := cfg.Validate()
		if !errors.Is(err, ErrInvalidTimeout) {
			t.Errorf("expected ErrInvalidTimeout, got %v", err)
		}
	})

	t.Run("negative delay returns ErrInvalidDelay", func(t *testing.T) {
		t.Parallel()
		cfg := validConfig()
		cfg.Delay = -1 * time.Second

		err := cfg.Validate()
		if !errors.Is(err, ErrInvalidDelay) {
			t.Errorf("expected ErrInvalidDelay, got %v", err)
		}
	})

	t.Run("zero delay is valid", func(t *testing.T) {
		t.Parallel()
		cfg := validConfig()
		cfg.Delay = 0

		if err := cfg.Validate(); err != nil {
			t.Errorf("expected no error, got %v", err)
		}
	})

	t.Run("zero batch size returns ErrInvalidBatchSize", func(t *testing.T) {
		t.Parallel()
		cfg := validConfig()
		cfg.BatchSize = 0

		err := cfg.Validate()
		if !errors.Is(err, ErrInvalidBatchSize) {
			t.Errorf("expected ErrInvalidBatchSize, got %v", err)
		}
	})

	t.Run("json and markdown both enabled returns ErrConflictingReportFormats", func(t *testing.T) {
		t.Parallel()
		cfg := validConfig()
		cfg.JSONReport = true
		cfg.MarkdownReport = true

		err := cfg.Validate()
		if !errors.Is(err, ErrConflictingReportFormats) {
			t.Errorf("expected ErrConflictingReportFormats, got %v", err)
		}
	})

	t.Run("json only is valid", func(t *testing.T) {
		t.Parallel()
		cfg := validConfig()
		cfg.JSONReport = true
		cfg.MarkdownReport = false

		if err := cfg.Validate(); err != nil {
			t.Errorf("expected no error, got %v", err)
		}
	})

	t.Run("markdown only is valid", func(t *testing.T) {
		t.Parallel()
		cfg := validConfig()
		cfg.JSONReport = false
		cfg.MarkdownReport = true

		if err := cfg.Validate(); err != nil {
			t.Errorf("expected no error, got %v", err)
		}
	})

	t.Run("non-numeric start page returns ErrInvalidPageRange", func(t *testing.T) {
		t.Parallel()
		cfg := validConfig()
		cfg.StartPage = "first"

		err := cfg.Validate()
		if !errors.Is(err, ErrInvalidPageRange) {
			t.Errorf("expected ErrInvalidPageRange, got %v", err)
		}
	})

	t.Run("end page beyond int64 is valid", func(t *testing.T) {
		t.Parallel()
		cfg := validConfig()
		cfg.EndPage = "184467440737095516150"

		if err := cfg.Validate(); err != nil {
			t.Errorf("expected no error, got %v", err)
		}
	})

	t.Run("pattern with zero digits is invalid", func(t *testing.T) {
		t.Parallel()
		cfg := validConfig()
		cfg.PatternDigits = 0

		if err := cfg.Validate(); err == nil {
			t.Error("expected error for zero-digit pattern")
		}
	})

	t.Run("negative max body size returns ErrInvalidMaxBodySize", func(t *testing.T) {
		t.Parallel()
		cfg := validConfig()
		cfg.MaxBodySize = -1

		err := cfg.Validate()
		if !errors.Is(err, ErrInvalidMaxBodySize) {
			t.Errorf("expected ErrInvalidMaxBodySize, got %v", err)
		}
	})
}

// TestFileGetProfile tests the GetProfile method.
func TestFileGetProfile(t *testing.T) {
	t.Parallel()

	t.Run("returns defaults when endpoint not found", func(t *testing.T) {
		t.Parallel()

		file := &File{
			Defaults: EndpointProfile{
				Cookie:    "default_cookie=abc",
				PageParam: "p",
			},
			Endpoints: map[string]EndpointProfile{},
		}

		profile := file.GetProfile("https://unknown.example/listing")
		if profile.Cookie != "default_cookie=abc" {
			t.Errorf("expected default cookie, got %q", profile.Cookie)
		}
		if profile.PageParam != "p" {
			t.Errorf("expected default page param, got %q", profile.PageParam)
		}
	})

	t.Run("returns endpoint-specific config", func(t *testing.T) {
		t.Parallel()

		file := &File{
			Defaults: EndpointProfile{
				Cookie: "default_cookie=abc",
			},
			Endpoints: map[string]EndpointProfile{
				"https://example.com/listing": {
					Cookie:    "session=xyz",
					PageParam: "offset",
				},
			},
		}

		profile := file.GetProfile("https://example.com/listing")
		if profile.Cookie != "session=xyz" {
			t.Errorf("expected endpoint cookie, got %q", profile.Cookie)
		}
		if profile.PageParam != "offset" {
			t.Errorf("expected endpoint page param, got %q", profile.PageParam)
		}
	})

	t.Run("merges headers from defaults and endpoint", func(t *testing.T) {
		t.Parallel()

		file := &File{
			Defaults: EndpointProfile{
				Headers: map[string]string{
					"X-Default": "value1",
				},
			},
			Endpoints: map[string]EndpointProfile{
				"https://example.com/listing": {
					Headers: map[string]string{
						"X-Custom": "value2",
					},
				},
			},
		}

		profile := file.GetProfile("https://example.com/listing")
		if profile.Headers["X-Default"] != "value1" {
			t.Errorf("expected default header, got %v", profile.Headers)
		}
		if profile.Headers["X-Custom"] != "value2" {
			t.Errorf("expected custom header, got %v", profile.Headers)
		}
	})

	t.Run("endpoint headers override default headers", func(t *testing.T) {
		t.Parallel()

		file := &File{
			Defaults: EndpointProfile{
				Headers: map[string]string{
					"Authorization": "default-token",
				},
			},
			Endpoints: map[string]EndpointProfile{
				"https://example.com/listing": {
					Headers: map[string]string{
						"Authorization": "endpoint-token",
					},
				},
			},
		}

		profile := file.GetProfile("https://example.com/listing")
		if profile.Headers["Authorization"] != "endpoint-token" {
			t.Errorf("expected endpoint token to override, got %q", profile.Headers["Authorization"])
		}
	})

	t.Run("endpoint pattern overrides defaults", func(t *testing.T) {
		t.Parallel()

		file := &File{
			Defaults: EndpointProfile{
				PatternPrefix: "EFTA",
				PatternDigits: 8,
				PatternSuffix: ".pdf",
			},
			Endpoints: map[string]EndpointProfile{
				"https://other.example/files": {
					PatternPrefix: "DOC",
					PatternDigits: 6,
				},
			},
		}

		profile := file.GetProfile("https://other.example/files")
		if profile.PatternPrefix != "DOC" {
			t.Errorf("expected prefix DOC, got %q", profile.PatternPrefix)
		}
		if profile.PatternDigits != 6 {
			t.Errorf("expected 6 digits, got %d", profile.PatternDigits)
		}
		if profile.PatternSuffix != ".pdf" {
			t.Errorf("expected default suffix, got %q", profile.PatternSuffix)
		}
	})

	t.Run("empty cookie uses default", func(t *testing.T) {
		t.Parallel()

		file := &File{
			Defaults: EndpointProfile{
				Cookie: "default=abc",
			},
			Endpoints: map[string]EndpointProfile{
				"https://example.com/listing": {
					PageParam: "offset", // no cookie specified
				},
			},
		}

		profile := file.GetProfile("https://example.com/listing")
		if profile.Cookie != "default=abc" {
			t.Errorf("expected default cookie, got %q", profile.Cookie)
		}
	})

	t.Run("nil endpoints map", func(t *testing.T) {
		t.Parallel()

		file := &File{
			Defaults: EndpointProfile{
				PageParam: "p",
			},
		}

		profile := file.GetProfile("https://any.example/listing")
		if profile.PageParam != "p" {
			t.Errorf("expected default page param, got %q", profile.PageParam)
		}
	})
}

// TestLoadConfigFile tests the LoadConfigFile function.
func TestLoadConfigFile(t *testing.T) {
	t.Parallel()

	t.Run("returns ErrConfigNotFound for non-existent file", func(t *testing.T) {
		t.Parallel()

		cfg, err := LoadConfigFile("/nonexistent/path/.driftscan")
		if err == nil {
			t.Fatal("expected error for non-existent file")
		}
		if !errors.Is(err, ErrConfigNotFound) {
			t.Fatalf("expected ErrConfigNotFound, got: %v", err)
		}
		if cfg != nil {
			t.Error("expected nil config when file not found")
		}
	})

	t.Run("loads valid YAML config", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, ".driftscan")

		content := `defaults:
  pageParam: "page"
  cookie: "default=abc"
endpoints:
  https://example.com/listing:
    cookie: "session=xyz"
    pageParam: "offset"
    patternPrefix: "DOC"
    patternDigits: 6
    headers:
      Authorization: "Bearer token"
`
		if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		cfg, err := LoadConfigFile(configPath)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if cfg.Defaults.PageParam != "page" {
			t.Errorf("expected default page param, got %q", cfg.Defaults.PageParam)
		}
		if cfg.Defaults.Cookie != "default=abc" {
			t.Errorf("expected default cookie, got %q", cfg.Defaults.Cookie)
		}

		profile, ok := cfg.Endpoints["https://example.com/listing"]
		if !ok {
			t.Fatal("expected example.com listing in endpoints")
		}
		if profile.Cookie != "session=xyz" {
			t.Errorf("expected endpoint cookie, got %q", profile.Cookie)
		}
		if profile.PatternPrefix != "DOC" || profile.PatternDigits != 6 {
			t.Errorf("unexpected pattern override %q/%d", profile.PatternPrefix, profile.PatternDigits)
		}
		if profile.Headers["Authorization"] != "Bearer token" {
			t.Errorf("expected Authorization header")
		}
	})

	t.Run("returns error for invalid YAML", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, ".driftscan")

		content := `invalid: yaml: content: [}`
		if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		_, err := LoadConfigFile(configPath)
		if err == nil {
			t.Error("expected error for invalid YAML")
		}
	})

	t.Run("initializes nil Endpoints map", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, ".driftscan")

		content := `defaults:
  pageParam: "p"
`
		if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		cfg, err := LoadConfigFile(configPath)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Endpoints == nil {
			t.Error("expected Endpoints map to be initialized")
		}
	})
}

// TestFindConfigFile tests the FindConfigFile function.
func TestFindConfigFile(t *testing.T) {
	t.Run("returns explicit path if exists", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "custom.yaml")

		if err := os.WriteFile(configPath, []byte("defaults: {}"), 0600); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		result := FindConfigFile(configPath)
		if result != configPath {
			t.Errorf("expected %q, got %q", configPath, result)
		}
	})

	t.Run("returns empty for non-existent explicit path", func(t *testing.T) {
		result := FindConfigFile("/nonexistent/path/config.yaml")
		if result != "" {
			t.Errorf("expected empty string, got %q", result)
		}
	})

	t.Run("returns empty when no config found", func(_ *testing.T) {
		result := FindConfigFile("")
		// This may or may not find a config depending on the system
		// Just ensure it doesn't panic
		_ = result
	})
}

// TestXDGDirs tests XDG directory functions.
func TestXDGDirs(t *testing.T) {
	t.Parallel()

	t.Run("XDGDataDir returns non-empty path", func(t *testing.T) {
		t.Parallel()

		dir := XDGDataDir()
		if dir == "" {
			t.Error("expected non-empty XDG data dir")
		}
	})

	t.Run("XDGConfigDir returns non-empty path", func(t *testing.T) {
		t.Parallel()

		dir := XDGConfigDir()
		if dir == "" {
			t.Error("expected non-empty XDG config dir")
		}
	})

	t.Run("XDGCacheDir returns non-empty path", func(t *testing.T) {
		t.Parallel()

		dir := XDGCacheDir()
		if dir == "" {
			t.Error("expected non-empty XDG cache dir")
		}
	})
}

// TestConfigPattern tests the Pattern accessor.
func TestConfigPattern(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()
	cfg.PatternPrefix = "DOC"
	cfg.PatternDigits = 6
	cfg.PatternSuffix = ".html"

	pattern := cfg.Pattern()
	if pattern.Prefix != "DOC" || pattern.Digits != 6 || pattern.Suffix != ".html" {
		t.Errorf("unexpected pattern %+v", pattern)
	}
}
