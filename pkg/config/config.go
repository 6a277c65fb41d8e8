package config

import (
	"os"

	"github.com/kkyr/fig"
)

const EnvPrefix = "VIDEOSTREAM"

// LoadConfig loads a configuration file into the given struct.
// The path param specifies a custom path to the configuration file.
// Environment variables prefixed with VIDEOSTREAM_ override file values.
func LoadConfig(config any, path string) error {
	dirs := []string{path}
	if path == "" {
		dirs = append(dirs, ".", "configs", "/etc/videostream")
		if home, err := os.UserHomeDir(); err == nil {
			dirs = append(dirs, home+"/.videostream")
		}
	}
	if err := fig.Load(config, fig.Dirs(dirs...), fig.UseEnv(EnvPrefix)); err != nil {
		return err
	}
	return nil
}
