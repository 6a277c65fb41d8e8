package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoadConfigFile(t *testing.T) {
	dir := writeConfig(t, ""+
		"host:\n"+
		"  socket: /run/vsl.sock\n"+
		"  expiration: 250ms\n"+
		"  video:\n"+
		"    width: 1280\n")

	var c HostConfig
	if err := LoadConfig(&c, dir); err != nil {
		t.Fatal(err)
	}
	if c.Host.Socket != "/run/vsl.sock" {
		t.Errorf("socket = %q", c.Host.Socket)
	}
	if c.Host.Expiration != 250*time.Millisecond {
		t.Errorf("expiration = %v", c.Host.Expiration)
	}
	if c.Host.Video.Width != 1280 {
		t.Errorf("width = %d", c.Host.Video.Width)
	}
	// Fields the file does not set keep their defaults.
	if c.Host.Video.Height != 480 {
		t.Errorf("height = %d, want default 480", c.Host.Video.Height)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	dir := writeConfig(t, "host:\n  socket: /tmp/file.sock\n")
	t.Setenv(EnvPrefix+"_HOST_SOCKET", "/tmp/env.sock")

	var c HostConfig
	if err := LoadConfig(&c, dir); err != nil {
		t.Fatal(err)
	}
	if c.Host.Socket != "/tmp/env.sock" {
		t.Errorf("socket = %q, want env override", c.Host.Socket)
	}
}
