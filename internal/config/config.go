package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port int `mapstructure:"port"`

	// BrowserURL is the browser's remote debugging endpoint.
	BrowserURL string `mapstructure:"browser_url"`
	// PublicURL is the address operators reach this worker on. When empty
	// it is discovered at launch.
	PublicURL   string `mapstructure:"public_url"`
	MetadataURL string `mapstructure:"metadata_url"`
	BlankURL    string `mapstructure:"blank_url"`

	PageScriptPath string `mapstructure:"page_script_path"`

	RegistryDriver string `mapstructure:"registry_driver"` // redis | memory
	RedisURL       string `mapstructure:"redis_url"`
	TasksEnabled   bool   `mapstructure:"tasks_enabled"`

	IdleTimeout          time.Duration `mapstructure:"idle_timeout"`
	WatchdogInterval     time.Duration `mapstructure:"watchdog_interval"`
	CommandTimeout       time.Duration `mapstructure:"command_timeout"`
	ResourcePollInterval time.Duration `mapstructure:"resource_poll_interval"`
	ResourcePollAttempts int           `mapstructure:"resource_poll_attempts"`
	ShutdownTimeout      time.Duration `mapstructure:"shutdown_timeout"`

	APIKey    string `mapstructure:"api_key"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // text | json
}

// SetDefaults registers every key so AutomaticEnv can resolve it.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", 25565)
	v.SetDefault("browser_url", "http://127.0.0.1:9222")
	v.SetDefault("public_url", "")
	v.SetDefault("metadata_url", "http://169.254.169.254/latest/meta-data/hostname")
	v.SetDefault("blank_url", "https://google.com")
	v.SetDefault("page_script_path", "")
	v.SetDefault("registry_driver", "redis")
	v.SetDefault("redis_url", "redis://127.0.0.1:6379")
	v.SetDefault("tasks_enabled", false)
	v.SetDefault("idle_timeout", 15*time.Second)
	v.SetDefault("watchdog_interval", time.Second)
	v.SetDefault("command_timeout", 10*time.Second)
	v.SetDefault("resource_poll_interval", 200*time.Millisecond)
	v.SetDefault("resource_poll_attempts", 15)
	v.SetDefault("shutdown_timeout", 10*time.Second)
	v.SetDefault("api_key", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
}

// Load reads defaults, the optional config file and the environment. Keys
// map to upper case environment names, so redis_url is REDIS_URL.
func Load(v *viper.Viper, configFile string) (Config, error) {
	SetDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.BrowserURL == "" {
		errs = append(errs, errors.New("browser_url is required"))
	}
	switch c.RegistryDriver {
	case "redis", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown registry_driver %q", c.RegistryDriver))
	}
	if (c.RegistryDriver == "redis" || c.TasksEnabled) && c.RedisURL == "" {
		errs = append(errs, errors.New("redis_url is required"))
	}
	if c.IdleTimeout <= 0 {
		errs = append(errs, errors.New("idle_timeout must be positive"))
	}
	if c.WatchdogInterval <= 0 {
		errs = append(errs, errors.New("watchdog_interval must be positive"))
	}
	if c.ResourcePollAttempts < 0 {
		errs = append(errs, errors.New("resource_poll_attempts must not be negative"))
	}
	return errors.Join(errs...)
}

func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
