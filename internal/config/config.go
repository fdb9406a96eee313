package config

import (
	"log"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	DataPath     string `envconfig:"DATA_PATH" default:"./data"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:""`
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:":8400"`
	LogPath      string `envconfig:"LOG_PATH" default:""`

	// Probe settings
	PingInterval time.Duration `envconfig:"PING_INTERVAL" default:"5s"`
	PingTimeout  time.Duration `envconfig:"PING_TIMEOUT" default:"5s"`

	// Relay settings
	RelayBackend     string `envconfig:"RELAY_BACKEND" default:"auto"` // auto, process, docker
	RelayCommand     string `envconfig:"RELAY_COMMAND" default:"phantom"`
	RelayImage       string `envconfig:"RELAY_IMAGE" default:"jhead/phantom:latest"`
	RelayMemoryLimit string `envconfig:"RELAY_MEMORY_LIMIT" default:"256m"`
	DockerHost       string `envconfig:"DOCKER_HOST" default:""`

	BindAddress string `envconfig:"BIND_ADDRESS" default:"0.0.0.0"`
	BindPort    int    `envconfig:"BIND_PORT" default:"0"`
	IPv6        bool   `envconfig:"IPV6" default:"false"`

	// Bound on relay starts performed during registry initialization.
	StartTimeout time.Duration `envconfig:"START_TIMEOUT" default:"30s"`

	// Server list import/backup
	ImportPath     string `envconfig:"IMPORT_PATH" default:""`
	BackupSchedule string `envconfig:"BACKUP_SCHEDULE" default:"@hourly"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("LANWARD", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if Cfg.DatabasePath == "" {
		Cfg.DatabasePath = filepath.Join(Cfg.DataPath, "lanward.db")
	}
}
