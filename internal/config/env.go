package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type BaseEnv struct {
	Env      string `envconfig:"ENV" default:"local"`
	HTTPHost string `envconfig:"HTTP_HOST" default:""`
	HTTPPort string `envconfig:"HTTP_PORT" default:"3001"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"debug"`
	// PublicURL is the externally reachable base URL of this server; it is
	// embedded into completion instructions so OpenClaw can call the webhook
	// back.
	PublicURL string `envconfig:"PUBLIC_URL" default:"http://localhost:3001"`
}

type StoreEnv struct {
	Path string `envconfig:"DB_PATH" default:".missionctl/missionctl.db"`
}

type ArchiveEnv struct {
	Type    string `envconfig:"ARCHIVE_TYPE" default:"local"`
	BaseDir string `envconfig:"ARCHIVE_BASE_DIR" default:".missionctl/archive"`
	// S3 settings (used when Type == "s3")
	S3Bucket string `envconfig:"S3_BUCKET"`
	S3Prefix string `envconfig:"S3_PREFIX" default:"missionctl/"`
	S3Region string `envconfig:"S3_REGION" default:"us-east-1"`
}

type PollEnv struct {
	IntervalMinutes   int `envconfig:"POLL_INTERVAL_MINUTES" default:"2"`
	StaleAfterMinutes int `envconfig:"POLL_STALE_AFTER_MINUTES" default:"5"`
}

type VAPIDEnv struct {
	PublicKey  string `envconfig:"VAPID_PUBLIC_KEY"`
	PrivateKey string `envconfig:"VAPID_PRIVATE_KEY"`
	Subscriber string `envconfig:"VAPID_SUBSCRIBER" default:"mailto:ops@missionctl.dev"`
}

type DemoEnv struct {
	FixturesPath string `envconfig:"DEMO_FIXTURES_PATH"`
	Watch        bool   `envconfig:"DEMO_FIXTURES_WATCH" default:"true"`
}

type Env struct {
	BaseEnv
	StoreEnv
	ArchiveEnv
	PollEnv
	VAPIDEnv
	DemoEnv
}

const namespace = "MISSIONCTL"

func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	return &env, nil
}

func (e *BaseEnv) SlogLevel() slog.Level {
	if e == nil {
		return slog.LevelDebug
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelDebug
	}
	return level
}

func (e *PollEnv) Interval() time.Duration {
	return time.Duration(e.IntervalMinutes) * time.Minute
}

func (e *PollEnv) StaleAfter() time.Duration {
	return time.Duration(e.StaleAfterMinutes) * time.Minute
}
