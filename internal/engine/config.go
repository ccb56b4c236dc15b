package engine

import (
	"github.com/caarlos0/env/v11"
)

// Config controls WebAuthn relying party settings.
type Config struct {
	RPDisplayName string   `env:"WILD_AI_ADVENTURE_WEBAUTHN_RP_DISPLAY_NAME" envDefault:"Wild AI Adventure"`
	RPID          string   `env:"WILD_AI_ADVENTURE_WEBAUTHN_RP_ID"           envDefault:"localhost"`
	RPOrigins     []string `env:"WILD_AI_ADVENTURE_WEBAUTHN_RP_ORIGINS"      envSeparator:","`
}

// LoadConfigFromEnv returns relying party configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{
			RPDisplayName: "Wild AI Adventure",
			RPID:          "localhost",
			RPOrigins:     []string{"http://localhost:8080"},
		}
	}
	if len(cfg.RPOrigins) == 0 {
		cfg.RPOrigins = []string{"http://localhost:8080"}
	}
	return cfg
}
