package config

import (
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	// Recognition service.
	SpeechURL      string  `env:"SPEECH_URL" envDefault:"wss://eu2.rt.speechmatics.com/v2"`
	SpeechAPIKey   string  `env:"SPEECH_API_KEY,required"`
	KeyEndpoint    string  `env:"SPEECH_KEY_ENDPOINT" envDefault:"https://mp.speechmatics.com/v1/api_keys?type=rt"`
	Language       string  `env:"SPEECH_LANGUAGE" envDefault:"en"`
	OperatingPoint string  `env:"SPEECH_OPERATING_POINT" envDefault:"enhanced"`
	MaxDelay       float64 `env:"SPEECH_MAX_DELAY" envDefault:"2"`

	// Comma-separated translation target languages. Empty disables
	// translation.
	TargetLanguages string `env:"TARGET_LANGUAGES"`

	// Audio input: a raw pcm_f32le file replayed in real time, or a
	// directory watched for dropped chunks.
	AudioFile  string `env:"AUDIO_FILE"`
	AudioDir   string `env:"AUDIO_DIR"`
	SampleRate int    `env:"SAMPLE_RATE" envDefault:"48000"`

	// Downstream websocket to forward updates to. Empty disables it.
	ForwardURL string `env:"FORWARD_URL"`

	// Optional MQTT fanout.
	MQTTBrokerURL   string `env:"MQTT_BROKER_URL"`
	MQTTClientID    string `env:"MQTT_CLIENT_ID" envDefault:"lt-engine"`
	MQTTTopicPrefix string `env:"MQTT_TOPIC_PREFIX" envDefault:"lt-engine"`
	MQTTUsername    string `env:"MQTT_USERNAME"`
	MQTTPassword    string `env:"MQTT_PASSWORD"`

	// Snapshot database and audio blob storage.
	DataDir string `env:"DATA_DIR" envDefault:"./data"`
	BlobDir string `env:"BLOB_DIR" envDefault:"./blobs"`

	S3Bucket        string        `env:"S3_BUCKET"`
	S3Region        string        `env:"S3_REGION" envDefault:"us-east-1"`
	S3Endpoint      string        `env:"S3_ENDPOINT"`
	S3AccessKey     string        `env:"S3_ACCESS_KEY"`
	S3SecretKey     string        `env:"S3_SECRET_KEY"`
	S3Prefix        string        `env:"S3_PREFIX"`
	S3LocalCache    bool          `env:"S3_LOCAL_CACHE" envDefault:"true"`
	S3PresignExpiry time.Duration `env:"S3_PRESIGN_EXPIRY" envDefault:"1h"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	// WriteTimeout stays zero so SSE connections are not cut off.
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"0"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AuthToken string `env:"AUTH_TOKEN"`

	// Comma-separated allowed CORS origins. Empty allows all.
	CORSOrigins string `env:"CORS_ORIGINS"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
}

// TargetLanguageList splits TargetLanguages into clean entries.
func (c *Config) TargetLanguageList() []string {
	var out []string
	for _, l := range strings.Split(c.TargetLanguages, ",") {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

// CORSOriginList splits CORSOrigins into clean entries.
func (c *Config) CORSOriginList() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile    string
	HTTPAddr   string
	LogLevel   string
	SpeechURL  string
	AudioFile  string
	AudioDir   string
	ForwardURL string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	// Parse environment variables into config struct
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.SpeechURL != "" {
		cfg.SpeechURL = overrides.SpeechURL
	}
	if overrides.AudioFile != "" {
		cfg.AudioFile = overrides.AudioFile
	}
	if overrides.AudioDir != "" {
		cfg.AudioDir = overrides.AudioDir
	}
	if overrides.ForwardURL != "" {
		cfg.ForwardURL = overrides.ForwardURL
	}

	return cfg, nil
}
