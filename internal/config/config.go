package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode      string        `mapstructure:"mode"`
	SignalURL string        `mapstructure:"signal_url"`
	Room      string        `mapstructure:"room"`
	DebugPort int           `mapstructure:"debug_port"`
	OpTimeout time.Duration `mapstructure:"op_timeout"`
	Audio     bool          `mapstructure:"audio"`
	Video     bool          `mapstructure:"video"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("signal_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("room", "lobby")
	v.SetDefault("debug_port", 8081)
	// No timeout by default: a hung signaling call hangs the join, matching
	// the relay's own connect timeout semantics. Set op_timeout to bound it.
	v.SetDefault("op_timeout", "0s")
	v.SetDefault("audio", true)
	v.SetDefault("video", true)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Signal: %s | Room: %s\n", cfg.Mode, cfg.SignalURL, cfg.Room)
	return &cfg, nil
}
