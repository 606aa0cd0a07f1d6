package config

import "reflect"

// ConfigDiff describes what changed between two configs. Log level and the
// calibration settings are applied live; everything else needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	TopKChanged bool
	NewTopK     int

	CalibrationToggled bool
	CalibrationEnabled bool

	// RestartRequired lists the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.TopKChanged && !d.CalibrationToggled && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Calibration.TopK != new.Calibration.TopK {
		d.TopKChanged = true
		d.NewTopK = new.Calibration.TopK
	}
	if old.Calibration.IsEnabled() != new.Calibration.IsEnabled() {
		d.CalibrationToggled = true
		d.CalibrationEnabled = new.Calibration.IsEnabled()
	}

	// Compare the server section without the live-reloadable log level.
	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""

	sections := []struct {
		name     string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"providers", old.Providers, new.Providers},
		{"transcription", old.Transcription, new.Transcription},
		{"reference", old.Reference, new.Reference},
		{"grader", old.Grader, new.Grader},
		{"timeouts", old.Timeouts, new.Timeouts},
		{"batch", old.Batch, new.Batch},
		{"cache", old.Cache, new.Cache},
		{"archive", old.Archive, new.Archive},
		{"notify", old.Notify, new.Notify},
		{"feedback", old.Feedback, new.Feedback},
		{"mcp", old.MCP, new.MCP},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
