package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Storage   StorageConfig
	Realtime  RealtimeConfig
	LogLevel  string `mapstructure:"logLevel"`
}

type ServerConfig struct {
	Address         string
	Auth            AuthConfig
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwtSecret"`
	TokenTTL  time.Duration `mapstructure:"tokenTTL"`
}

type ConnectionLimitConfig struct {
	MaxPerUser int    `mapstructure:"maxPerUser"`
	Mode       string `mapstructure:"mode"` // "reject" or "cycle"
}

type TransportConfig struct {
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
}

type StorageConfig struct {
	Path string `mapstructure:"path"`
}

type RealtimeConfig struct {
	// ChannelEventScope controls who receives channel:created and
	// channel:updated events: "global" sends them to every connection
	// (matching the original socket server), "eligible" restricts them
	// to connections of users allowed into the channel.
	ChannelEventScope string `mapstructure:"channelEventScope"`

	// TypingTTL expires typing indicators that were never followed by a
	// typing:stop (crashed clients). Zero disables the sweep.
	TypingTTL           time.Duration `mapstructure:"typingTTL"`
	TypingSweepInterval time.Duration `mapstructure:"typingSweepInterval"`
}
