// Package config loads the nested YAML configuration (spec.md §6
// "Configuration keys") shared by the Registry, Name, and Data services.
//
// Grounded on orbas1-Synnergy's cmd/cli/devnet.go, which reads a YAML file
// with yaml.Unmarshal into nested config structs; the teacher's
// internal/config instead reads flat env vars with os.Getenv fallbacks,
// which cannot express the spec's nested keys (server.port,
// metadata.mysql.host, …), so the teacher's env-first idiom is kept as an
// override layer rather than the primary transport: YAML file < env var.
// The only command-line flag is the config file path; individual keys
// cannot be overridden by flags.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Server holds the listener configuration every service shares (spec.md §6:
// "server.port", "server.advertised_host").
type Server struct {
	Port           int    `yaml:"port"`
	AdvertisedHost string `yaml:"advertised_host"`
	Token          string `yaml:"token"`
}

// Registry names the Registry addresses Name and Data services push to and
// (for Name) pull from (spec.md §6: "registry.addresses").
type Registry struct {
	Addresses []string `yaml:"addresses"`
}

// MySQL names the relational metadata backend's connection parameters
// (spec.md §6: "metadata.mysql.{host,port,database,user,password}").
type MySQL struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// Cache names the write-through LRU's tuning knobs (spec.md §6:
// "metadata.cache.{enabled,max-size,write-policy}").
type Cache struct {
	Enabled     bool   `yaml:"enabled"`
	MaxSize     int    `yaml:"max-size"`
	WritePolicy string `yaml:"write-policy"`
}

// Metadata selects and configures the Name service's metadata backend
// (spec.md §6: "metadata.mode∈{file,mysql}").
type Metadata struct {
	Mode  string `yaml:"mode"`
	Path  string `yaml:"path"` // file-backend log path
	MySQL MySQL  `yaml:"mysql"`
	Cache Cache  `yaml:"cache"`
}

// Storage names the Data service's storage roots (spec.md §6:
// "storage.paths").
type Storage struct {
	Paths []string `yaml:"paths"`
}

// Heartbeat names the Registry's eviction timeout (spec.md §6:
// "heartbeat.timeout_ms").
type Heartbeat struct {
	TimeoutMS int `yaml:"timeout_ms"`
}

// Name is the Name service's complete configuration.
type Name struct {
	Server   Server   `yaml:"server"`
	Registry Registry `yaml:"registry"`
	Metadata Metadata `yaml:"metadata"`
}

// Data is the Data service's complete configuration.
type Data struct {
	Server   Server   `yaml:"server"`
	Storage  Storage  `yaml:"storage"`
	Registry Registry `yaml:"registry"`
}

// RegistryConfig is the Registry's complete configuration. Named with a
// suffix to avoid colliding with the Registry struct above, which other
// services embed to name the addresses they talk to.
type RegistryConfig struct {
	Server    Server    `yaml:"server"`
	Heartbeat Heartbeat `yaml:"heartbeat"`
}

// LoadName reads a Name-service config from path, applying environment
// overrides, or returns built-in defaults if path is empty.
func LoadName(path string) (Name, error) {
	var cfg Name
	cfg.Server.Port = 9100
	cfg.Metadata.Mode = "file"
	cfg.Metadata.Path = "nameservice-metadata.log"
	cfg.Metadata.Cache.Enabled = true
	cfg.Metadata.Cache.MaxSize = 10000

	if err := loadYAML(path, &cfg); err != nil {
		return Name{}, err
	}

	applyServerEnv(&cfg.Server, "NAME")
	cfg.Registry.Addresses = overrideAddressList(cfg.Registry.Addresses, "NAME_REGISTRY_ADDRESSES")
	if v := os.Getenv("NAME_METADATA_MODE"); v != "" {
		cfg.Metadata.Mode = v
	}
	if v := os.Getenv("NAME_METADATA_MYSQL_HOST"); v != "" {
		cfg.Metadata.MySQL.Host = v
	}
	if v := os.Getenv("NAME_METADATA_MYSQL_PASSWORD"); v != "" {
		cfg.Metadata.MySQL.Password = v
	}
	return cfg, nil
}

// LoadData reads a Data-service config from path, applying environment
// overrides, or returns built-in defaults if path is empty.
func LoadData(path string) (Data, error) {
	var cfg Data
	cfg.Server.Port = 9000

	if err := loadYAML(path, &cfg); err != nil {
		return Data{}, err
	}

	applyServerEnv(&cfg.Server, "DATA")
	cfg.Registry.Addresses = overrideAddressList(cfg.Registry.Addresses, "DATA_REGISTRY_ADDRESSES")
	if v := os.Getenv("DATA_STORAGE_PATHS"); v != "" {
		cfg.Storage.Paths = splitCommaList(v)
	}
	if len(cfg.Storage.Paths) == 0 {
		cfg.Storage.Paths = []string{"data"}
	}
	return cfg, nil
}

// LoadRegistry reads a Registry config from path, applying environment
// overrides, or returns built-in defaults if path is empty.
func LoadRegistry(path string) (RegistryConfig, error) {
	var cfg RegistryConfig
	cfg.Server.Port = 9200
	cfg.Heartbeat.TimeoutMS = 30000

	if err := loadYAML(path, &cfg); err != nil {
		return RegistryConfig{}, err
	}

	applyServerEnv(&cfg.Server, "REGISTRY")
	if v := os.Getenv("REGISTRY_HEARTBEAT_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Heartbeat.TimeoutMS = n
		}
	}
	return cfg, nil
}

func loadYAML(path string, out interface{}) error {
	if path == "" {
		return nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(b, out); err != nil {
		return fmt.Errorf("config: parse %q: %w", path, err)
	}
	return nil
}

func applyServerEnv(s *Server, prefix string) {
	if v := os.Getenv(prefix + "_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.Port = n
		}
	}
	if v := os.Getenv(prefix + "_ADVERTISED_HOST"); v != "" {
		s.AdvertisedHost = v
	}
	if v := os.Getenv(prefix + "_TOKEN"); v != "" {
		s.Token = v
	}
}

func overrideAddressList(current []string, envKey string) []string {
	if v := os.Getenv(envKey); v != "" {
		return splitCommaList(v)
	}
	return current
}

// splitCommaList parses a comma-separated environment variable value (the
// *_REGISTRY_ADDRESSES and DATA_STORAGE_PATHS overrides) into a list. In
// the YAML file, registry.addresses is accepted only as a list; a single
// comma-separated string there fails to parse.
func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
