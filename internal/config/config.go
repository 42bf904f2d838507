package config

import (
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	JoinKeyByProducer = "producer"
	JoinKeyByJoiner   = "joiner"

	SuppressOmit = "omit"
	SuppressZero = "zero"
)

type RTCConfig struct {
	PortMin uint16 `mapstructure:"port_min" validate:"required"`
	PortMax uint16 `mapstructure:"port_max" validate:"required,gtefield=PortMin"`
}

type ReconnectConfig struct {
	InitialInterval time.Duration `mapstructure:"initial_interval" validate:"gt=0"`
	MaxInterval     time.Duration `mapstructure:"max_interval" validate:"gtefield=InitialInterval"`
}

type OfferRateConfig struct {
	Limit    int           `mapstructure:"limit" validate:"min=1"`
	Interval time.Duration `mapstructure:"interval" validate:"gt=0"`
}

type Config struct {
	Mode          string   `mapstructure:"mode" validate:"oneof=debug release"`
	LogLevel      string   `mapstructure:"log_level"`
	HTTPPort      int      `mapstructure:"http_port" validate:"min=0,max=65535"`
	ControlURL    string   `mapstructure:"control_url" validate:"required,url"`
	PublicIP      string   `mapstructure:"public_ip" validate:"omitempty,ip"`
	UseExternalIP bool     `mapstructure:"use_external_ip"`
	STUNServers   []string `mapstructure:"stun_servers"`

	RTC RTCConfig `mapstructure:"rtc"`

	SpeakingThrottle    time.Duration `mapstructure:"speaking_throttle" validate:"gt=0"`
	FanoutWorkers       int           `mapstructure:"fanout_workers" validate:"min=1"`
	JoinBatchKeying     string        `mapstructure:"join_batch_keying" validate:"oneof=producer joiner"`
	SpeakingSuppression string        `mapstructure:"speaking_suppression" validate:"oneof=omit zero"`
	SendBuffer          int           `mapstructure:"send_buffer" validate:"min=1"`

	Reconnect ReconnectConfig `mapstructure:"reconnect"`
	OfferRate OfferRateConfig `mapstructure:"offer_rate"`
}

var DefaultStunServers = []string{"stun.l.google.com:19302"}

// RegisterFlags adds the command line overrides understood by NewLoader.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "path to a yaml config file (default config/config.$CONFIG_ENV.yaml)")
	flags.String("control-url", "", "websocket url of the central server")
	flags.String("log-level", "", "zerolog level")
	flags.Int("http-port", 0, "admin http port")
}

type Loader struct {
	v    *viper.Viper
	file string
}

// NewLoader prepares a viper instance reading from fsys. flags may be nil.
func NewLoader(fsys afero.Fs, flags *pflag.FlagSet) *Loader {
	v := viper.New()
	v.SetFs(fsys)
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	if flags != nil {
		if f, err := flags.GetString("config"); err == nil && f != "" {
			fileName = f
		}
		bindFlag(v, flags, "control_url", "control-url")
		bindFlag(v, flags, "log_level", "log-level")
		bindFlag(v, flags, "http_port", "http-port")
	}
	v.SetConfigFile(fileName)

	v.SetEnvPrefix("MEDIARELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("http_port", 8081)
	v.SetDefault("control_url", "ws://localhost:4444")
	v.SetDefault("use_external_ip", false)
	v.SetDefault("stun_servers", DefaultStunServers)
	v.SetDefault("rtc.port_min", 5000)
	v.SetDefault("rtc.port_max", 6000)
	v.SetDefault("speaking_throttle", "150ms")
	v.SetDefault("fanout_workers", 16)
	v.SetDefault("join_batch_keying", JoinKeyByProducer)
	v.SetDefault("speaking_suppression", SuppressOmit)
	v.SetDefault("send_buffer", 256)
	v.SetDefault("reconnect.initial_interval", "500ms")
	v.SetDefault("reconnect.max_interval", "30s")
	v.SetDefault("offer_rate.limit", 5)
	v.SetDefault("offer_rate.interval", "10s")

	return &Loader{v: v, file: fileName}
}

func bindFlag(v *viper.Viper, flags *pflag.FlagSet, key, name string) {
	if f := flags.Lookup(name); f != nil {
		_ = v.BindPFlag(key, f)
	}
}

func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrapf(err, "read config %s", l.file)
		}
		log.Warn().Str("module", "config").Str("file", l.file).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", l.file).Msg("loaded config")
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := l.v.Unmarshal(&cfg, hook); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(&cfg); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Str("control_url", cfg.ControlURL).
		Int("http_port", cfg.HTTPPort).
		Msg("config ready")
	return &cfg, nil
}

// Watch reloads the config whenever the file changes. Invalid edits are
// logged and ignored.
func (l *Loader) Watch(onChange func(*Config)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.Load()
		if err != nil {
			log.Error().Err(err).Str("module", "config").Str("file", e.Name).Msg("reload failed")
			return
		}
		log.Info().Str("module", "config").Str("file", e.Name).Str("op", e.Op.String()).Msg("config reloaded")
		onChange(cfg)
	})
	l.v.WatchConfig()
}
