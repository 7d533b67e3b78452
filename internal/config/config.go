package config

import "time"

// Config holds client and stub configuration values.
type Config struct {
	LogLevel string        `mapstructure:"log_level" yaml:"log_level"`
	Backend  BackendConfig `mapstructure:"backend" yaml:"backend"`
	Sync     SyncConfig    `mapstructure:"sync" yaml:"sync"`
	Stub     StubConfig    `mapstructure:"stub" yaml:"stub"`
}

// BackendConfig points the client at the data platform.
type BackendConfig struct {
	URL      string `mapstructure:"url" yaml:"url"`
	Email    string `mapstructure:"email" yaml:"email"`
	Password string `mapstructure:"password" yaml:"password"`
}

// SyncConfig tunes the messaging sync engine.
type SyncConfig struct {
	PageSize        int           `mapstructure:"page_size" yaml:"page_size"`
	ScrollThreshold int           `mapstructure:"scroll_threshold" yaml:"scroll_threshold"`
	ResyncInterval  time.Duration `mapstructure:"resync_interval" yaml:"resync_interval"`
}

// StubConfig configures the development stub backend.
type StubConfig struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`
	JWTSecret         string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer         string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience       string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	TokenTTL          time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		LogLevel: "info",
		Backend: BackendConfig{
			URL:   "http://localhost:8080",
			Email: "dana@landtalk.local",
		},
		Sync: SyncConfig{
			PageSize:        20,
			ScrollThreshold: 100,
			ResyncInterval:  2 * time.Minute,
		},
		Stub: StubConfig{
			Addr:              ":8080",
			DatabasePath:      "landtalk.db",
			JWTSecret:         "dev-only-secret",
			JWTIssuer:         "landtalk-stub",
			JWTAudience:       "landtalk",
			TokenTTL:          24 * time.Hour,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   5 * time.Second,
		},
	}
}
