// Package config loads motionguard settings. MOTIONGUARD_* environment
// variables override the YAML file, which overrides built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, with dots in the
// key replaced by underscores (MOTIONGUARD_ALERTS_TELEGRAM_TOKEN).
const EnvPrefix = "MOTIONGUARD"

// Mirror backends.
const (
	MirrorNone     = ""
	MirrorSQLite   = "sqlite"
	MirrorPostgres = "postgres"
	MirrorS3       = "s3"
)

// Config is the full motionguard configuration.
type Config struct {
	Trigger TriggerConfig `mapstructure:"trigger"`
	Camera  CameraConfig  `mapstructure:"camera"`
	Capture CaptureConfig `mapstructure:"capture"`
	Matcher MatcherConfig `mapstructure:"matcher"`
	Policy  PolicyConfig  `mapstructure:"policy"`
	Alerts  AlertsConfig  `mapstructure:"alerts"`
	Store   StoreConfig   `mapstructure:"store"`
	API     APIConfig     `mapstructure:"api"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// TriggerConfig selects the motion sensor link. Address, when set, wins over
// Port and dials a TCP serial bridge.
type TriggerConfig struct {
	Port           string   `mapstructure:"port"`
	Address        string   `mapstructure:"address"`
	Baud           int      `mapstructure:"baud"`
	Tokens         []string `mapstructure:"tokens"`
	ReadTimeoutMs  int      `mapstructure:"read_timeout_ms"`
	ResumeToken    string   `mapstructure:"resume_token"`
	ResumeSettleMs int      `mapstructure:"resume_settle_ms"`
}

// CameraConfig configures the GStreamer camera.
type CameraConfig struct {
	Device        string `mapstructure:"device"`
	Width         int    `mapstructure:"width"`
	Height        int    `mapstructure:"height"`
	Quality       int    `mapstructure:"quality"`
	GrabTimeoutMs int    `mapstructure:"grab_timeout_ms"`
}

// CaptureConfig controls the burst taken after each trigger.
type CaptureConfig struct {
	Frames  int    `mapstructure:"frames"`
	DelayMs int    `mapstructure:"delay_ms"`
	Dir     string `mapstructure:"dir"`
}

// MatcherConfig points at the enrolled gallery and the embedder worker.
type MatcherConfig struct {
	Gallery   string   `mapstructure:"gallery"`
	Command   string   `mapstructure:"command"`
	Args      []string `mapstructure:"args"`
	TimeoutMs int      `mapstructure:"timeout_ms"`
}

// PolicyConfig holds the verification rules.
type PolicyConfig struct {
	Threshold            float64  `mapstructure:"threshold"`
	AuthorizedLabel      string   `mapstructure:"authorized_label"`
	AuthorizedIdentities []string `mapstructure:"authorized_identities"`
}

type AlertsConfig struct {
	Telegram    TelegramConfig    `mapstructure:"telegram"`
	Mail        MailConfig        `mapstructure:"mail"`
	MQTT        MQTTConfig        `mapstructure:"mqtt"`
	Geolocation GeolocationConfig `mapstructure:"geolocation"`
}

type TelegramConfig struct {
	Token   string `mapstructure:"token"`
	ChatID  string `mapstructure:"chat_id"`
	APIBase string `mapstructure:"api_base"`
}

type MailConfig struct {
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

type MQTTConfig struct {
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         int    `mapstructure:"qos"`
}

type GeolocationConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Token   string `mapstructure:"token"`
}

// StoreConfig selects the journal location and the optional mirror.
type StoreConfig struct {
	Journal     string   `mapstructure:"journal"`
	Mirror      string   `mapstructure:"mirror"`
	SQLitePath  string   `mapstructure:"sqlite_path"`
	PostgresDSN string   `mapstructure:"postgres_dsn"`
	S3          S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKey       string `mapstructure:"access_key"`
	SecretKey       string `mapstructure:"secret_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	Bucket          string `mapstructure:"bucket"`
	UploadArtifacts bool   `mapstructure:"upload_artifacts"`
}

type APIConfig struct {
	Addr string `mapstructure:"addr"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns the stock configuration: serial sensor on /dev/ttyUSB0,
// five frames two seconds apart, journal only.
func Default() *Config {
	return &Config{
		Trigger: TriggerConfig{
			Port:           "/dev/ttyUSB0",
			Baud:           9600,
			Tokens:         []string{"motion"},
			ReadTimeoutMs:  1000,
			ResumeToken:    "resume",
			ResumeSettleMs: 500,
		},
		Camera: CameraConfig{
			Device:        "/dev/video0",
			Width:         640,
			Height:        480,
			Quality:       85,
			GrabTimeoutMs: 5000,
		},
		Capture: CaptureConfig{
			Frames:  5,
			DelayMs: 2000,
			Dir:     "data/captured",
		},
		Matcher: MatcherConfig{
			Gallery:   "data/gallery.yaml",
			Command:   "python3",
			Args:      []string{"embedder.py"},
			TimeoutMs: 30000,
		},
		Policy: PolicyConfig{
			Threshold:       0.4,
			AuthorizedLabel: "Authorized",
		},
		Alerts: AlertsConfig{
			Mail: MailConfig{
				Host: "smtp.gmail.com",
				Port: 587,
			},
			MQTT: MQTTConfig{
				TopicPrefix: "motionguard",
				QoS:         1,
			},
			Geolocation: GeolocationConfig{
				Enabled: true,
				URL:     "https://ipinfo.io/json",
			},
		},
		Store: StoreConfig{
			Journal:    "logs/detections.log",
			SQLitePath: "data/detections.db",
			S3: S3Config{
				UseSSL: true,
				Bucket: "motionguard",
			},
		},
		API: APIConfig{
			Addr: ":5000",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// ReadTimeout returns the per-read trigger timeout.
func (c TriggerConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutMs) * time.Millisecond
}

// ResumeSettle returns the wait after sending the resume token.
func (c TriggerConfig) ResumeSettle() time.Duration {
	return time.Duration(c.ResumeSettleMs) * time.Millisecond
}

// GrabTimeout returns the bound on a single camera frame.
func (c CameraConfig) GrabTimeout() time.Duration {
	return time.Duration(c.GrabTimeoutMs) * time.Millisecond
}

// Delay returns the inter-frame delay.
func (c CaptureConfig) Delay() time.Duration {
	return time.Duration(c.DelayMs) * time.Millisecond
}

// Timeout returns the embed round-trip bound.
func (c MatcherConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// SetDefaults registers default values with v. Every key is registered so
// that environment overrides reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := Default()

	// Trigger
	v.SetDefault("trigger.port", d.Trigger.Port)
	v.SetDefault("trigger.address", d.Trigger.Address)
	v.SetDefault("trigger.baud", d.Trigger.Baud)
	v.SetDefault("trigger.tokens", d.Trigger.Tokens)
	v.SetDefault("trigger.read_timeout_ms", d.Trigger.ReadTimeoutMs)
	v.SetDefault("trigger.resume_token", d.Trigger.ResumeToken)
	v.SetDefault("trigger.resume_settle_ms", d.Trigger.ResumeSettleMs)

	// Camera
	v.SetDefault("camera.device", d.Camera.Device)
	v.SetDefault("camera.width", d.Camera.Width)
	v.SetDefault("camera.height", d.Camera.Height)
	v.SetDefault("camera.quality", d.Camera.Quality)
	v.SetDefault("camera.grab_timeout_ms", d.Camera.GrabTimeoutMs)

	// Capture
	v.SetDefault("capture.frames", d.Capture.Frames)
	v.SetDefault("capture.delay_ms", d.Capture.DelayMs)
	v.SetDefault("capture.dir", d.Capture.Dir)

	// Matcher
	v.SetDefault("matcher.gallery", d.Matcher.Gallery)
	v.SetDefault("matcher.command", d.Matcher.Command)
	v.SetDefault("matcher.args", d.Matcher.Args)
	v.SetDefault("matcher.timeout_ms", d.Matcher.TimeoutMs)

	// Policy
	v.SetDefault("policy.threshold", d.Policy.Threshold)
	v.SetDefault("policy.authorized_label", d.Policy.AuthorizedLabel)
	v.SetDefault("policy.authorized_identities", d.Policy.AuthorizedIdentities)

	// Alerts
	v.SetDefault("alerts.telegram.token", d.Alerts.Telegram.Token)
	v.SetDefault("alerts.telegram.chat_id", d.Alerts.Telegram.ChatID)
	v.SetDefault("alerts.telegram.api_base", d.Alerts.Telegram.APIBase)
	v.SetDefault("alerts.mail.host", d.Alerts.Mail.Host)
	v.SetDefault("alerts.mail.port", d.Alerts.Mail.Port)
	v.SetDefault("alerts.mail.username", d.Alerts.Mail.Username)
	v.SetDefault("alerts.mail.password", d.Alerts.Mail.Password)
	v.SetDefault("alerts.mail.from", d.Alerts.Mail.From)
	v.SetDefault("alerts.mail.to", d.Alerts.Mail.To)
	v.SetDefault("alerts.mqtt.broker", d.Alerts.MQTT.Broker)
	v.SetDefault("alerts.mqtt.client_id", d.Alerts.MQTT.ClientID)
	v.SetDefault("alerts.mqtt.username", d.Alerts.MQTT.Username)
	v.SetDefault("alerts.mqtt.password", d.Alerts.MQTT.Password)
	v.SetDefault("alerts.mqtt.topic_prefix", d.Alerts.MQTT.TopicPrefix)
	v.SetDefault("alerts.mqtt.qos", d.Alerts.MQTT.QoS)
	v.SetDefault("alerts.geolocation.enabled", d.Alerts.Geolocation.Enabled)
	v.SetDefault("alerts.geolocation.url", d.Alerts.Geolocation.URL)
	v.SetDefault("alerts.geolocation.token", d.Alerts.Geolocation.Token)

	// Store
	v.SetDefault("store.journal", d.Store.Journal)
	v.SetDefault("store.mirror", d.Store.Mirror)
	v.SetDefault("store.sqlite_path", d.Store.SQLitePath)
	v.SetDefault("store.postgres_dsn", d.Store.PostgresDSN)
	v.SetDefault("store.s3.endpoint", d.Store.S3.Endpoint)
	v.SetDefault("store.s3.access_key", d.Store.S3.AccessKey)
	v.SetDefault("store.s3.secret_key", d.Store.S3.SecretKey)
	v.SetDefault("store.s3.use_ssl", d.Store.S3.UseSSL)
	v.SetDefault("store.s3.bucket", d.Store.S3.Bucket)
	v.SetDefault("store.s3.upload_artifacts", d.Store.S3.UploadArtifacts)

	// API
	v.SetDefault("api.addr", d.API.Addr)

	// Logging
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// New returns a viper instance with defaults, env overrides and the config
// file read in. An explicit configFile must exist; otherwise motionguard.yaml
// is searched in the working directory and ConfigDir, and its absence is
// not an error.
func New(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("motionguard")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(ConfigDir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// Load reads the configuration from v into a Config struct and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the per-user configuration directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "motionguard")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".motionguard"
	}
	return filepath.Join(home, ".config", "motionguard")
}
