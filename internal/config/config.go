package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type EngineConfig struct {
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	ListenIP    string        `mapstructure:"listen_ip"`
	AnnouncedIP string        `mapstructure:"announced_ip"`
	UDPPortMin  uint16        `mapstructure:"udp_port_min"`
	UDPPortMax  uint16        `mapstructure:"udp_port_max"`
	ICEServers  []ICEServer   `mapstructure:"ice_servers"`
}

type ChatConfig struct {
	HistoryLimit int           `mapstructure:"history_limit"`
	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`
}

type SignalConfig struct {
	SendBuffer   int           `mapstructure:"send_buffer"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`

	Engine EngineConfig `mapstructure:"engine"`
	Chat   ChatConfig   `mapstructure:"chat"`
	Signal SignalConfig `mapstructure:"signal"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "huddle-dev-secret")
	v.SetDefault("log_level", "info")

	v.SetDefault("engine.call_timeout", "10s")
	v.SetDefault("engine.listen_ip", "0.0.0.0")
	v.SetDefault("engine.announced_ip", "")
	v.SetDefault("engine.udp_port_min", 40000)
	v.SetDefault("engine.udp_port_max", 49999)
	v.SetDefault("engine.ice_servers", []map[string]any{
		{"urls": []string{"stun:stun.l.google.com:19302"}},
	})

	v.SetDefault("chat.history_limit", 200)
	v.SetDefault("chat.rate_limit", 5)
	v.SetDefault("chat.rate_interval", "5s")

	v.SetDefault("signal.send_buffer", 64)
	v.SetDefault("signal.write_timeout", "5s")
}

// Load reads config/config.<CONFIG_ENV>.yaml; HUDDLE_* variables override it,
// e.g. HUDDLE_ENGINE_ANNOUNCED_IP.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("HUDDLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("static", cfg.StaticPath).
		Msg("config ready")
	return &cfg, nil
}

var ErrInvalidConfig = errors.New("invalid config")

func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Engine.UDPPortMin > c.Engine.UDPPortMax {
		errs = append(errs, fmt.Errorf("udp port range %d-%d inverted", c.Engine.UDPPortMin, c.Engine.UDPPortMax))
	}
	if c.Engine.CallTimeout <= 0 {
		errs = append(errs, errors.New("engine.call_timeout must be positive"))
	}
	if c.Chat.HistoryLimit < 0 {
		errs = append(errs, errors.New("chat.history_limit must not be negative"))
	}
	if c.Chat.RateLimit > 0 && c.Chat.RateInterval <= 0 {
		errs = append(errs, errors.New("chat.rate_interval must be positive when rate_limit is set"))
	}
	if c.PingPeriod <= 0 {
		errs = append(errs, errors.New("ping_period must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
