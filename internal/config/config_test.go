package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/zynqcloud/nimbusfs/internal/config"
)

func TestLoadNameDefaultsWithNoFile(t *testing.T) {
	cfg, err := config.LoadName("")
	if err != nil {
		t.Fatalf("LoadName: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("expected default port 9100, got %d", cfg.Server.Port)
	}
	if cfg.Metadata.Mode != "file" {
		t.Errorf("expected default mode file, got %q", cfg.Metadata.Mode)
	}
}

func TestLoadNameFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "name.yaml")
	yaml := `
server:
  port: 9101
  advertised_host: name1.internal
registry:
  addresses:
    - reg1:9200
    - reg2:9200
metadata:
  mode: mysql
  mysql:
    host: db.internal
    port: 3306
    database: nimbusfs
    user: svc
    password: secret
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := config.LoadName(path)
	if err != nil {
		t.Fatalf("LoadName: %v", err)
	}
	if cfg.Server.Port != 9101 || cfg.Server.AdvertisedHost != "name1.internal" {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if len(cfg.Registry.Addresses) != 2 {
		t.Fatalf("expected 2 registry addresses, got %v", cfg.Registry.Addresses)
	}
	if cfg.Metadata.Mode != "mysql" || cfg.Metadata.MySQL.Host != "db.internal" {
		t.Errorf("unexpected metadata config: %+v", cfg.Metadata)
	}
}

func TestLoadNameEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "name.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9101\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	t.Setenv("NAME_PORT", "9999")
	cfg, err := config.LoadName(path)
	if err != nil {
		t.Fatalf("LoadName: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("expected env override to win, got port %d", cfg.Server.Port)
	}
}

func TestLoadDataDefaultsStoragePath(t *testing.T) {
	cfg, err := config.LoadData("")
	if err != nil {
		t.Fatalf("LoadData: %v", err)
	}
	if len(cfg.Storage.Paths) != 1 || cfg.Storage.Paths[0] != "data" {
		t.Errorf("expected default storage path, got %v", cfg.Storage.Paths)
	}
}

func TestLoadRegistryDefaultTimeout(t *testing.T) {
	cfg, err := config.LoadRegistry("")
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	if cfg.Heartbeat.TimeoutMS != 30000 {
		t.Errorf("expected default timeout 30000, got %d", cfg.Heartbeat.TimeoutMS)
	}
}

func TestLoadRegistryMissingFileErrors(t *testing.T) {
	_, err := config.LoadRegistry(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}
