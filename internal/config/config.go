package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	DatabasePath string `envconfig:"DATABASE_PATH" default:"/var/lib/logharvest/logharvest.db"`
	LogPath      string `envconfig:"LOG_PATH" default:"/var/log/logharvest/logharvest.log"`
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:":8080"`

	// SeedPath points at an optional YAML file declaring connections and
	// watch rules to create at startup. Empty disables seeding.
	SeedPath string `envconfig:"SEED_PATH" default:""`

	// Job intervals
	WatcherInterval time.Duration `envconfig:"WATCHER_INTERVAL" default:"60s"`
	IngestInterval  time.Duration `envconfig:"INGEST_INTERVAL" default:"30s"`

	// SSH timeouts. Connect covers the TCP dial and handshake, Probe
	// bounds the post-connect health check, Command bounds waiting for a
	// remote command to finish.
	SSHConnectTimeout time.Duration `envconfig:"SSH_CONNECT_TIMEOUT" default:"10s"`
	SSHProbeTimeout   time.Duration `envconfig:"SSH_PROBE_TIMEOUT" default:"5s"`
	SSHCommandTimeout time.Duration `envconfig:"SSH_COMMAND_TIMEOUT" default:"60s"`

	// Downstream indexer
	IndexerURL     string        `envconfig:"INDEXER_URL" default:"http://localhost:9700/v1/index"`
	IndexerTimeout time.Duration `envconfig:"INDEXER_TIMEOUT" default:"120s"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("LOGHARVEST", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}
