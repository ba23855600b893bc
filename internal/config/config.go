package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/phuslu/log"
	"github.com/spf13/viper"
)

type Config struct {
	Host              string
	Port              int
	LogLevel          string
	StrictUpdates     bool
	ProxyProtocol     bool
	SessionQueueLimit int
	SmsLogLimit       int
	WriteTimeout      time.Duration
	ReadLimit         int64
	NatsURL           string
	NatsSubject       string
	SessionSalt       string
}

func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *Config) Level() log.Level {
	return log.ParseLevel(c.LogLevel)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8000)
	v.SetDefault("log_level", "info")
	v.SetDefault("strict_updates", false)
	v.SetDefault("proxy_protocol", false)
	v.SetDefault("session_queue_limit", 0)
	v.SetDefault("sms_log_limit", 0)
	v.SetDefault("write_timeout", "10s")
	// 0 keeps the websocket library default
	v.SetDefault("read_limit", 0)
	v.SetDefault("nats_url", "")
	v.SetDefault("nats_subject", "devicerelay.events")
	v.SetDefault("session_salt", "devicerelay")
}

// Load reads defaults, then the optional file, then the environment.
// Environment keys are the upper-cased setting names (PORT, NATS_URL...).
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", file, err)
		}
	}

	c := &Config{
		Host:              v.GetString("host"),
		Port:              v.GetInt("port"),
		LogLevel:          v.GetString("log_level"),
		StrictUpdates:     v.GetBool("strict_updates"),
		ProxyProtocol:     v.GetBool("proxy_protocol"),
		SessionQueueLimit: v.GetInt("session_queue_limit"),
		SmsLogLimit:       v.GetInt("sms_log_limit"),
		WriteTimeout:      v.GetDuration("write_timeout"),
		ReadLimit:         v.GetInt64("read_limit"),
		NatsURL:           v.GetString("nats_url"),
		NatsSubject:       v.GetString("nats_subject"),
		SessionSalt:       v.GetString("session_salt"),
	}
	if c.Port <= 0 || c.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", c.Port)
	}
	if c.SessionQueueLimit < 0 || c.SmsLogLimit < 0 || c.ReadLimit < 0 {
		return nil, fmt.Errorf("limits must not be negative")
	}
	if c.WriteTimeout <= 0 {
		return nil, fmt.Errorf("invalid write_timeout %s", v.GetString("write_timeout"))
	}
	return c, nil
}
