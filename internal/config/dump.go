package config

import (
	"fmt"
	"io"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const redacted = "<redacted>"

// Dump writes the effective configuration as YAML with secrets redacted.
func Dump(w io.Writer, cfg *Config) error {
	c := *cfg
	if c.Redis.Password != "" {
		c.Redis.Password = redacted
	}
	if c.Auth.JWTSecret != "" {
		c.Auth.JWTSecret = redacted
	}
	if c.Auth.Passcode != "" {
		c.Auth.Passcode = redacted
	}
	if c.Storage.AccessKeyID != "" {
		c.Storage.AccessKeyID = redacted
	}
	if c.Storage.SecretAccessKey != "" {
		c.Storage.SecretAccessKey = redacted
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

// Watch re-reads the config file whenever it changes and hands the new
// values to onChange. It is a no-op when no config file was found.
func Watch(onChange func(*Config, fsnotify.Event)) bool {
	if viper.ConfigFileUsed() == "" {
		return false
	}
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		onChange(fromViper(), e)
	})
	viper.WatchConfig()
	return true
}
