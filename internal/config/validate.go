package config

import (
	"fmt"
	"net/url"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"warning": true,
	"error": true,
}

// Validate checks the config for invalid values and returns all errors
// found. Dangerous zero-values that would cause panics or break invariants
// downstream (I1-I6) are clamped to safe defaults in place. Other validation
// errors are logged as warnings by the caller but never prevent startup.
func (c *Config) Validate() []error {
	var errs []error

	if c.ServerURL != "" {
		u, err := url.Parse(c.ServerURL)
		if err != nil {
			errs = append(errs, fmt.Errorf("server_url %q is not a valid URL: %w", c.ServerURL, err))
		} else if u.Scheme != "ws" && u.Scheme != "wss" {
			errs = append(errs, fmt.Errorf("server_url scheme must be ws or wss, got %q", u.Scheme))
		}
	}

	if c.MaxSessions < 1 {
		errs = append(errs, fmt.Errorf("max_sessions %d is below minimum 1, clamping", c.MaxSessions))
		c.MaxSessions = 1
	} else if c.MaxSessions > 64 {
		errs = append(errs, fmt.Errorf("max_sessions %d exceeds maximum 64, clamping", c.MaxSessions))
		c.MaxSessions = 64
	}

	if len(c.STUNServers) == 0 {
		errs = append(errs, fmt.Errorf("stun_servers is empty, defaulting to stun.l.google.com"))
		c.STUNServers = []string{"stun:stun.l.google.com:19302"}
	}

	seen := make(map[string]bool, len(c.Qualities))
	for i := range c.Qualities {
		q := &c.Qualities[i]
		if q.Name == "" {
			errs = append(errs, fmt.Errorf("quality at index %d has empty name, skipping", i))
			continue
		}
		if seen[q.Name] {
			errs = append(errs, fmt.Errorf("quality %q duplicated in config, first entry wins", q.Name))
		}
		seen[q.Name] = true

		if q.Width <= 0 || q.Height <= 0 {
			errs = append(errs, fmt.Errorf("quality %q has non-positive dimensions %dx%d", q.Name, q.Width, q.Height))
		}
		if q.Width%2 != 0 {
			q.Width++
		}
		if q.Height%2 != 0 {
			q.Height++
		}

		if q.FPS < 1 {
			errs = append(errs, fmt.Errorf("quality %q fps %d is below minimum 1, clamping", q.Name, q.FPS))
			q.FPS = 1
		} else if q.FPS > 120 {
			errs = append(errs, fmt.Errorf("quality %q fps %d exceeds maximum 120, clamping", q.Name, q.FPS))
			q.FPS = 120
		}

		if q.BitrateKbps <= 0 {
			errs = append(errs, fmt.Errorf("quality %q bitrate_kbps %d is non-positive, defaulting to 1000", q.Name, q.BitrateKbps))
			q.BitrateKbps = 1000
		}

		if q.KeyframeIntervalOv <= 0 {
			q.KeyframeIntervalOv = 2 * q.FPS
		}
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	return errs
}
