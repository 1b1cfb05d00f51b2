package config

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config top-level struct
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Client    ClientConfig    `yaml:"client"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers     []string `yaml:"brokers"`
	Topic       string   `yaml:"topic"`
	GossipTopic string   `yaml:"gossip_topic"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

// ClientConfig is everything the device-side binaries need: where the
// local ledger lives, who this device is on the network, and how to reach
// the authority in each environment.
type ClientConfig struct {
	StorePath        string   `yaml:"store_path"`
	PeerID           string   `yaml:"peer_id"`
	SenderID         string   `yaml:"sender_id"`
	DeviceKey        string   `yaml:"device_key"`
	Currency         string   `yaml:"currency"`
	SyncAddrs        []string `yaml:"sync_addrs"`
	GossipRelay      string   `yaml:"gossip_relay"`
	SyncTimeoutSec   int      `yaml:"sync_timeout_sec"`
	GossipTimeoutSec int      `yaml:"gossip_timeout_sec"`
}

// SyncTimeout returns the per-attempt deadline for authority calls.
func (c ClientConfig) SyncTimeout() time.Duration {
	return time.Duration(c.SyncTimeoutSec) * time.Second
}

// GossipTimeout returns the deadline for best-effort gossip announcements.
func (c ClientConfig) GossipTimeout() time.Duration {
	return time.Duration(c.GossipTimeoutSec) * time.Second
}

// Load reads yaml file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	// override DSN password from env if present
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		cfg.Postgres.DSN = cfg.Postgres.DSN + " password=" + pw
	}
	// device key never belongs in the yaml file in production
	if key := os.Getenv("OFFPAY_DEVICE_KEY"); key != "" {
		cfg.Client.DeviceKey = key
	}
	if addrs := os.Getenv("OFFPAY_SYNC_ADDRS"); addrs != "" {
		cfg.Client.SyncAddrs = strings.Split(addrs, ",")
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Client.Currency == "" {
		c.Client.Currency = "INR"
	}
	if c.Client.SyncTimeoutSec <= 0 {
		c.Client.SyncTimeoutSec = 10
	}
	if c.Client.GossipTimeoutSec <= 0 {
		c.Client.GossipTimeoutSec = 3
	}
	if c.Client.StorePath == "" {
		c.Client.StorePath = "offpay.db"
	}
}
