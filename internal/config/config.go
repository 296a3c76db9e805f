// Package config loads agent settings from config files and the
// environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds everything the agent needs to run.
type Config struct {
	// ServerBaseURL is the meeting service the agent signals through.
	ServerBaseURL string `mapstructure:"server_base_url"`
	// AccessToken authenticates the agent against the meeting service.
	AccessToken string `mapstructure:"access_token"`
	// JWTSecret verifies the access token locally when set. Leave
	// empty to trust the token without verification.
	JWTSecret string `mapstructure:"jwt_secret"`
	// ControlToken protects the local control API. Empty means open.
	ControlToken string `mapstructure:"control_token"`
	// ListenAddr is where the local control API binds.
	ListenAddr string `mapstructure:"listen_addr"`
	// ICEServers are STUN/TURN URLs for the peer connection.
	ICEServers []string `mapstructure:"ice_servers"`

	PollInterval   time.Duration `mapstructure:"poll_interval"`
	MediaTimeout   time.Duration `mapstructure:"media_timeout"`
	OfferTimeout   time.Duration `mapstructure:"offer_timeout"`
	RingingTimeout time.Duration `mapstructure:"ringing_timeout"`

	LogLevel string `mapstructure:"log_level"`
}

// Load reads config.{json,yaml,...} from the working directory and
// layers MEETING_AGENT_* environment variables on top.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")

	v.SetEnvPrefix("meeting_agent")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Empty defaults register the keys so environment-only values
	// survive Unmarshal.
	v.SetDefault("server_base_url", "")
	v.SetDefault("access_token", "")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("control_token", "")
	v.SetDefault("listen_addr", "127.0.0.1:8089")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("poll_interval", 1500*time.Millisecond)
	v.SetDefault("media_timeout", 3*time.Second)
	v.SetDefault("offer_timeout", 5*time.Second)
	v.SetDefault("ringing_timeout", 60*time.Second)
	v.SetDefault("log_level", "info")

	if err := v.ReadInConfig(); err != nil {
		// Running on env vars alone is fine.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.ServerBaseURL == "" {
		return fmt.Errorf("server_base_url is required")
	}
	if c.AccessToken == "" {
		return fmt.Errorf("access_token is required")
	}
	return nil
}
