package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Load reads configuration from a file and environment variables.
func Load(logger *slog.Logger, fileName string) (*Config, error) {
	v := viper.New()

	// 1. Set default values
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.auth.jwtSecret", "default-secret-key-change-me")
	v.SetDefault("server.auth.tokenTTL", "24h")
	v.SetDefault("server.connectionLimit.maxPerUser", 0)
	v.SetDefault("server.connectionLimit.mode", "reject")
	v.SetDefault("transport.readTimeout", "60s")
	v.SetDefault("storage.path", "./teamchat.db")
	v.SetDefault("realtime.channelEventScope", "global")
	v.SetDefault("realtime.typingTTL", time.Duration(0))
	v.SetDefault("realtime.typingSweepInterval", "5s")
	v.SetDefault("logLevel", "info")

	// 2. Set config file details
	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".") // look for config in the working directory

	// 3. Set up environment variable handling
	v.SetEnvPrefix("TEAMCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Read the configuration file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			return nil, err
		}
		logger.Warn("Config file not found. ignoring error and relying on defaults/env vars")
	}

	// 5. Unmarshal the configuration into our struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	switch cfg.Realtime.ChannelEventScope {
	case "global", "eligible":
	default:
		return fmt.Errorf("invalid realtime.channelEventScope %q: must be \"global\" or \"eligible\"", cfg.Realtime.ChannelEventScope)
	}
	switch cfg.Server.ConnectionLimit.Mode {
	case "reject", "cycle":
	default:
		return fmt.Errorf("invalid server.connectionLimit.mode %q: must be \"reject\" or \"cycle\"", cfg.Server.ConnectionLimit.Mode)
	}
	if cfg.Realtime.TypingTTL > 0 && cfg.Realtime.TypingSweepInterval <= 0 {
		return fmt.Errorf("realtime.typingSweepInterval must be positive when typingTTL is set")
	}
	return nil
}
