package entity

// Settings gates the pipeline. It is owned by the settings store; the
// pipeline only reads it.
type Settings struct {
	Enabled     bool `json:"enabled" yaml:"enabled" toml:"enabled" mapstructure:"enabled"`
	AutoAnalyze bool `json:"autoAnalyze" yaml:"autoAnalyze" toml:"autoAnalyze" mapstructure:"autoAnalyze"`
}

// DefaultSettings are used for keys the store does not hold.
var DefaultSettings = Settings{Enabled: true, AutoAnalyze: true}

// Active reports whether the pipeline should scan and analyze.
func (s Settings) Active() bool {
	return s.Enabled && s.AutoAnalyze
}

// SettingsDelta is a change notification. Nil fields are unchanged.
type SettingsDelta struct {
	Enabled     *bool `json:"enabled,omitempty"`
	AutoAnalyze *bool `json:"autoAnalyze,omitempty"`
}

// Apply returns s with the delta's non-nil fields applied.
func (s Settings) Apply(d SettingsDelta) Settings {
	if d.Enabled != nil {
		s.Enabled = *d.Enabled
	}
	if d.AutoAnalyze != nil {
		s.AutoAnalyze = *d.AutoAnalyze
	}
	return s
}

// Diff returns the delta that turns s into next.
func (s Settings) Diff(next Settings) SettingsDelta {
	var d SettingsDelta
	if s.Enabled != next.Enabled {
		v := next.Enabled
		d.Enabled = &v
	}
	if s.AutoAnalyze != next.AutoAnalyze {
		v := next.AutoAnalyze
		d.AutoAnalyze = &v
	}
	return d
}

// Empty reports whether the delta changes nothing.
func (d SettingsDelta) Empty() bool {
	return d.Enabled == nil && d.AutoAnalyze == nil
}
