// internal/config/load.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides, e.g. MODBUSD_ADMIN_LISTEN.
const EnvPrefix = "MODBUSD"

func setDefaults(v *viper.Viper) {
	v.SetDefault("manager.workers", 16)

	v.SetDefault("admin.enabled", true)
	v.SetDefault("admin.listen", ":8080")
	v.SetDefault("admin.shutdown_timeout", "10s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load reads the YAML file at path, applies defaults and environment
// overrides, and decodes it. The returned viper instance can be passed to
// Watch.
func Load(path string) (*Config, *viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return &cfg, nil
}

// Watch re-reads the file on every change and hands the validated,
// normalized result to onChange. Invalid edits are reported to onError
// and otherwise ignored.
func Watch(v *viper.Viper, onChange func(*Config), onError func(error)) {
	var last time.Time

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		// Editors often emit several events per save.
		if time.Since(last) < 100*time.Millisecond {
			return
		}
		last = time.Now()

		cfg, err := decode(v)
		if err == nil {
			err = Validate(cfg)
		}
		if err != nil {
			onError(fmt.Errorf("config: reload %s: %w", e.Name, err))
			return
		}
		Normalize(cfg)
		onChange(cfg)
	})
	v.WatchConfig()
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
