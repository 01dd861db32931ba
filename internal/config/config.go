// Package config loads the indexer's configuration from a YAML file plus
// environment overrides, adapted from the node-config loader this project
// was forked from: same viper-based merge-then-unmarshal shape, different
// schema.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"lorre/pkg/utils"
)

// Node describes how to reach a single Tezos-family node over HTTP.
type Node struct {
	Protocol   string `mapstructure:"protocol" json:"protocol"`
	Host       string `mapstructure:"host" json:"host"`
	Port       int    `mapstructure:"port" json:"port"`
	PathPrefix string `mapstructure:"path_prefix" json:"path_prefix"`
}

// BaseURL composes the node's base URL as described in spec §6:
// {protocol}://{host}:{port}/{path_prefix}/chains/main/.
func (n Node) BaseURL() string {
	prefix := n.PathPrefix
	if prefix != "" && prefix[len(prefix)-1] != '/' {
		prefix += "/"
	}
	return fmt.Sprintf("%s://%s:%d/%schains/main/", n.Protocol, n.Host, n.Port, prefix)
}

// Database holds the relational store's connection string.
type Database struct {
	DSN string `mapstructure:"dsn" json:"dsn"`
}

// Config is the unified configuration for the Lorre indexing loop.
type Config struct {
	Network string `mapstructure:"network" json:"network"`
	Node    Node   `mapstructure:"node" json:"node"`
	DB      Database `mapstructure:"db" json:"db"`

	FetchConcurrency         int           `mapstructure:"fetch_concurrency" json:"fetch_concurrency"`
	AccountsFetchConcurrency int           `mapstructure:"accounts_fetch_concurrency" json:"accounts_fetch_concurrency"`
	BatchSize                int           `mapstructure:"batch_size" json:"batch_size"`
	IdleInterval             time.Duration `mapstructure:"idle_interval" json:"idle_interval"`
	MaxBackoff               time.Duration `mapstructure:"max_backoff" json:"max_backoff"`
	RequestTimeout           time.Duration `mapstructure:"request_timeout" json:"request_timeout"`
	FeeWindow                int           `mapstructure:"fee_window" json:"fee_window"`
}

// Defaults mirrors the defaults named in spec §6.
func Defaults() Config {
	return Config{
		Network: "mainnet",
		Node: Node{
			Protocol:   "https",
			Host:       "127.0.0.1",
			Port:       8732,
			PathPrefix: "",
		},
		FetchConcurrency:         5,
		AccountsFetchConcurrency: 5,
		BatchSize:                500,
		IdleInterval:             5 * time.Second,
		MaxBackoff:               2 * time.Minute,
		RequestTimeout:           10 * time.Second,
		FeeWindow:                1000,
	}
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig = Defaults()

// Load reads an optional YAML config file and merges LORRE_*-prefixed
// environment variables on top. path may be empty, in which case only the
// compiled-in defaults and environment are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	v := viper.New()
	v.SetEnvPrefix("LORRE")
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, utils.Wrap(err, "load config")
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}

	AppConfig = cfg
	return &cfg, nil
}

// LoadFromEnv loads configuration using the LORRE_CONFIG environment
// variable to locate an optional file.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("LORRE_CONFIG", ""))
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("network", cfg.Network)
	v.SetDefault("node.protocol", cfg.Node.Protocol)
	v.SetDefault("node.host", cfg.Node.Host)
	v.SetDefault("node.port", cfg.Node.Port)
	v.SetDefault("node.path_prefix", cfg.Node.PathPrefix)
	v.SetDefault("fetch_concurrency", cfg.FetchConcurrency)
	v.SetDefault("accounts_fetch_concurrency", cfg.AccountsFetchConcurrency)
	v.SetDefault("batch_size", cfg.BatchSize)
	v.SetDefault("idle_interval", cfg.IdleInterval)
	v.SetDefault("max_backoff", cfg.MaxBackoff)
	v.SetDefault("request_timeout", cfg.RequestTimeout)
	v.SetDefault("fee_window", cfg.FeeWindow)
}
