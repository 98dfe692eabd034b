package config

import "time"

// TestConfig returns a config suitable for testing. Paths are left empty so
// callers point them at a t.TempDir.
func TestConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Timeout: 1 * time.Second,
		},
		Source: SourceConfig{
			Kind:         SourceAPI,
			URL:          "http://127.0.0.1/api/v3/noticias/",
			ImageBaseURL: "https://agenciadenoticias.ibge.gov.br/",
			HTTPTimeout:  5 * time.Second,
			UserAgent:    "newsync-test/1.0",
			AllowLocal:   true,
		},
		Sync: SyncConfig{
			Interval:   50 * time.Millisecond,
			Backoff:    BackoffFixed,
			MaxBackoff: 1 * time.Second,
		},
		Log: LogConfig{Level: "off"},
	}
}
