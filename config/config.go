// Package config loads the engine configuration from the environment.
package config

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port   string `envconfig:"PORT" default:"8080"`
	DBPath string `envconfig:"DB_PATH" default:"./data/mess.db"`

	// AdminToken guards the administrator endpoints. Empty disables
	// them entirely.
	AdminToken string `envconfig:"ADMIN_TOKEN"`

	// Threshold policy knobs. Requests for today's lunch/dinner close
	// at these hours (kitchen-local wall clock).
	LunchCutoffHour  int    `envconfig:"LUNCH_CUTOFF_HOUR" default:"11"`
	DinnerCutoffHour int    `envconfig:"DINNER_CUTOFF_HOUR" default:"17"`
	Timezone         string `envconfig:"TIMEZONE" default:"Asia/Kolkata"`

	// Conversion policy knobs.
	CreditsPerDay        int `envconfig:"CREDITS_PER_DAY" default:"2"`
	AutoConvertThreshold int `envconfig:"AUTO_CONVERT_THRESHOLD" default:"2"`
	MaxCredits           int `envconfig:"MAX_CREDITS" default:"30"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
