package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port     string `yaml:"port"`
		Instance string `yaml:"instance"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		// TTL bounds room presence markers; empty keeps them until the room closes.
		TTL string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		TTL string `yaml:"ttl"`
	} `yaml:"quiz"`
	Game    Game    `yaml:"game"`
	Logging Logging `yaml:"logging"`
	NATS    struct {
		URL     string `yaml:"url"`
		Subject string `yaml:"subject"`
	} `yaml:"nats"`
}

// Game tunes rooms, scoring and fanout.
type Game struct {
	MaxPlayers           int    `yaml:"max_players"`
	BasePoints           int    `yaml:"base_points"`
	MaxTimePerQuestion   string `yaml:"max_time_per_question"`
	SpeedBonusMultiplier int    `yaml:"speed_bonus_multiplier"`
	MaxAnswerBytes       int    `yaml:"max_answer_bytes"`
	RosterDedupWindow    string `yaml:"roster_dedup_window"`
	TimeLimit            string `yaml:"time_limit"`
	ActionLogSize        int    `yaml:"action_log_size"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults returns the configuration used when a file leaves a field empty.
func Defaults() Config {
	var cfg Config
	cfg.Server.Port = "8080"
	cfg.Quiz.TTL = "10m"
	cfg.Game = Game{
		MaxPlayers:           10,
		BasePoints:           100,
		MaxTimePerQuestion:   "30s",
		SpeedBonusMultiplier: 2,
		MaxAnswerBytes:       1024,
		RosterDedupWindow:    "1s",
		ActionLogSize:        50,
	}
	cfg.Logging = Logging{Level: "info", Format: "text"}
	cfg.NATS.Subject = "quiz.games.finished"
	return cfg
}

// Load reads YAML config from path on top of Defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
