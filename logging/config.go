package logging

import "time"

// Config tunes the router and its sinks. The zero value is usable but
// silent; start from DefaultConfig.
type Config struct {
	// EnabledSinks names the sinks the router forwards to; unknown names
	// are ignored at construction.
	EnabledSinks []string
	// BufferSize bounds the router queue; a full queue drops events.
	BufferSize int
	// MinimumSeverity is the global floor for forwarded events.
	MinimumSeverity Severity
	// CategoryMinimums raises the floor per category, for quieting chatty
	// subsystems (population sweeps, pipeline progress) without losing
	// their warnings.
	CategoryMinimums map[string]Severity
	// Fields are merged into every event's Extra map.
	Fields           map[string]any
	JSON             JSONConfig
	Console          ConsoleConfig
	DropWarnInterval time.Duration
}

type JSONConfig struct {
	FilePath      string
	MaxBatch      int
	FlushInterval time.Duration
}

type ConsoleConfig struct {
	UseColor bool
}

func DefaultConfig() Config {
	return Config{
		EnabledSinks:     []string{"console"},
		BufferSize:       512,
		MinimumSeverity:  SeverityInfo,
		DropWarnInterval: 5 * time.Second,
		JSON: JSONConfig{
			MaxBatch:      32,
			FlushInterval: 2 * time.Second,
		},
	}
}

// MinimumFor returns the severity floor for a category: the category
// override when one is set, the global minimum otherwise.
func (c Config) MinimumFor(category string) Severity {
	if min, ok := c.CategoryMinimums[category]; ok && min > c.MinimumSeverity {
		return min
	}
	return c.MinimumSeverity
}

func (c Config) HasSink(name string) bool {
	for _, s := range c.EnabledSinks {
		if s == name {
			return true
		}
	}
	return false
}

func (c Config) CloneFields() map[string]any {
	if len(c.Fields) == 0 {
		return nil
	}
	cloned := make(map[string]any, len(c.Fields))
	for k, v := range c.Fields {
		cloned[k] = v
	}
	return cloned
}
