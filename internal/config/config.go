package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Timezone string         `mapstructure:"timezone"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Playback PlaybackConfig `mapstructure:"playback"`
	Snooze   SnoozeConfig   `mapstructure:"snooze"`
	Targets  TargetsConfig  `mapstructure:"targets"`
	Pushover PushoverConfig `mapstructure:"pushover"`
	Janitor  JanitorConfig  `mapstructure:"janitor"`
}

type ServerConfig struct {
	Port      string  `mapstructure:"port"`
	Password  string  `mapstructure:"password"`
	LoginRate float64 `mapstructure:"login_rate"` // attempts per second
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StorageConfig struct {
	Driver      string        `mapstructure:"driver"`
	Path        string        `mapstructure:"path"`
	DSN         string        `mapstructure:"dsn"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
	Redis       RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type PlaybackConfig struct {
	RingWindow    time.Duration `mapstructure:"ring_window"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	MaxIdleWait   time.Duration `mapstructure:"max_idle_wait"`
	ErrorBackoff  time.Duration `mapstructure:"error_backoff"`
	MaxCycles     int           `mapstructure:"max_cycles"`
	StopTimeout   time.Duration `mapstructure:"stop_timeout"`
	AlarmSound    string        `mapstructure:"alarm_sound"`
	ReminderSound string        `mapstructure:"reminder_sound"`
}

type SnoozeConfig struct {
	DefaultMinutes int `mapstructure:"default_minutes"`
}

type TargetsConfig struct {
	Satellites   []string    `mapstructure:"satellites"`
	MediaPlayers []string    `mapstructure:"media_players"`
	MQTT         MQTTConfig  `mapstructure:"mqtt"`
	Media        MediaConfig `mapstructure:"media"`
}

type MQTTConfig struct {
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         byte   `mapstructure:"qos"`
}

type MediaConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type PushoverConfig struct {
	Token string `mapstructure:"token"`
	User  string `mapstructure:"user"`
}

type JanitorConfig struct {
	Schedule  string        `mapstructure:"schedule"`
	Retention time.Duration `mapstructure:"retention"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.login_rate", 0.2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("timezone", "Local")

	v.SetDefault("storage.driver", "file")
	v.SetDefault("storage.path", "data")
	v.SetDefault("storage.busy_timeout", "5s")
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.prefix", "alarmd")

	v.SetDefault("playback.ring_window", "60s")
	v.SetDefault("playback.poll_interval", "1s")
	v.SetDefault("playback.max_idle_wait", "30s")
	v.SetDefault("playback.error_backoff", "5s")
	v.SetDefault("playback.max_cycles", 10)
	v.SetDefault("playback.stop_timeout", "5s")
	v.SetDefault("playback.alarm_sound", "sounds/alarms/birds.mp3")
	v.SetDefault("playback.reminder_sound", "sounds/reminders/ringtone.mp3")

	v.SetDefault("snooze.default_minutes", 5)

	v.SetDefault("targets.mqtt.client_id", "alarmd")
	v.SetDefault("targets.mqtt.topic_prefix", "satellites")
	v.SetDefault("targets.media.timeout", "10s")

	v.SetDefault("janitor.schedule", "@daily")
	v.SetDefault("janitor.retention", "168h")
}

// Loader keeps the viper instance around so the file can be watched after the first load.
type Loader struct {
	v *viper.Viper
}

func NewLoader(path string) *Loader {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetEnvPrefix("ALARMD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// Load reads the config file. A missing file is not an error: defaults and
// environment overrides still apply.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch calls fn with the re-decoded config every time the file changes.
// Invalid intermediate states (half-written files) are reported through onErr.
func (l *Loader) Watch(fn func(*Config), onErr func(error)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := l.decode()
		if err != nil {
			if onErr != nil {
				onErr(err)
			}
			return
		}
		fn(cfg)
	})
	l.v.WatchConfig()
}

// LoadConfig is a one-shot load.
func LoadConfig(path string) (*Config, error) {
	return NewLoader(path).Load()
}

func (c *Config) Validate() error {
	if c.Snooze.DefaultMinutes < 1 || c.Snooze.DefaultMinutes > 60 {
		return fmt.Errorf("snooze.default_minutes: must be within 1..60, got %d", c.Snooze.DefaultMinutes)
	}
	if c.Playback.PollInterval <= 0 {
		return fmt.Errorf("playback.poll_interval: must be > 0")
	}
	if c.Playback.RingWindow <= 0 {
		return fmt.Errorf("playback.ring_window: must be > 0")
	}
	if c.Playback.MaxCycles < 0 {
		return fmt.Errorf("playback.max_cycles: must be >= 0")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves the configured timezone. "Local" and "" mean the host zone.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" || strings.EqualFold(tz, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("timezone: invalid %q: %w", tz, err)
	}
	return loc, nil
}
