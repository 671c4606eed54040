package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	DBPath            string        `env:"DB_PATH"            envDefault:"db.sqlite"`
	OpenAIAPIKey      string        `env:"OPENAI_API_KEY,required,notEmpty"`
	OpenAIModel       string        `env:"OPENAI_MODEL"       envDefault:"gpt-4o-mini"`
	PollInterval      time.Duration `env:"POLL_INTERVAL"      envDefault:"10s"`
	SlideWorkers      int           `env:"SLIDE_WORKERS"      envDefault:"4"`
	GenerationTimeout time.Duration `env:"GENERATION_TIMEOUT" envDefault:"60s"`
	JobDeadline       time.Duration `env:"JOB_DEADLINE"       envDefault:"10m"`
	StaleAfter        time.Duration `env:"STALE_AFTER"        envDefault:"15m"`
	MaxAttempts       int64         `env:"MAX_ATTEMPTS"       envDefault:"3"`
	UploadsDir        string        `env:"UPLOADS_DIR"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
