package config

import (
	"fmt"
)

var validPositions = map[string]bool{
	"top-left":     true,
	"top-right":    true,
	"bottom-left":  true,
	"bottom-right": true,
}

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// Validate checks the config for invalid values and returns all errors found.
// Dangerous zero-values that would break the render loop or the encoder are
// clamped to safe defaults; the clamp is still reported so it can be logged.
func (c *Config) Validate() []error {
	var errs []error

	if c.LogLevel != "" && !validLogLevels[c.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q is not one of debug/info/warn/error", c.LogLevel))
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q must be text or json", c.LogFormat))
	}

	if !validPositions[c.OverlayPosition] {
		errs = append(errs, fmt.Errorf("overlay_position %q is not a corner position, using bottom-right", c.OverlayPosition))
		c.OverlayPosition = "bottom-right"
	}
	if c.OverlayRatio <= 0 || c.OverlayRatio > 1 {
		errs = append(errs, fmt.Errorf("overlay_ratio %v must be in (0,1], using 0.2", c.OverlayRatio))
		c.OverlayRatio = 0.2
	}

	if c.VideoBitrate <= 0 {
		errs = append(errs, fmt.Errorf("video_bitrate %d must be positive, using 3000000", c.VideoBitrate))
		c.VideoBitrate = 3_000_000
	}
	if c.ChunkIntervalMs < 100 {
		errs = append(errs, fmt.Errorf("chunk_interval_ms %d is below minimum 100, clamping", c.ChunkIntervalMs))
		c.ChunkIntervalMs = 100
	}
	if c.FrameRate < 1 || c.FrameRate > 120 {
		errs = append(errs, fmt.Errorf("frame_rate %d outside 1..120, using 30", c.FrameRate))
		c.FrameRate = 30
	}
	if c.RefreshRate < c.FrameRate {
		errs = append(errs, fmt.Errorf("refresh_rate %d below frame_rate %d, clamping", c.RefreshRate, c.FrameRate))
		c.RefreshRate = c.FrameRate
	}
	if c.FallbackWidth <= 0 || c.FallbackHeight <= 0 {
		errs = append(errs, fmt.Errorf("fallback dimensions %dx%d must be positive, using 1920x1080", c.FallbackWidth, c.FallbackHeight))
		c.FallbackWidth = 1920
		c.FallbackHeight = 1080
	}

	if len(c.MimePreferences) == 0 {
		errs = append(errs, fmt.Errorf("mime_preferences is empty, restoring defaults"))
		c.MimePreferences = Default().MimePreferences
	}

	return errs
}
