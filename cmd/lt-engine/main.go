package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/lt-engine/internal/api"
	"github.com/snarg/lt-engine/internal/audio"
	"github.com/snarg/lt-engine/internal/auth"
	"github.com/snarg/lt-engine/internal/config"
	"github.com/snarg/lt-engine/internal/forward"
	"github.com/snarg/lt-engine/internal/live"
	"github.com/snarg/lt-engine/internal/session"
	"github.com/snarg/lt-engine/internal/speech"
	"github.com/snarg/lt-engine/internal/storage"
	"github.com/snarg/lt-engine/internal/store"
	"github.com/snarg/lt-engine/internal/stream"
)

var version = "dev"

// sessionControl binds the session manager to the configured audio input
// so the API can start sessions without knowing about sources.
type sessionControl struct {
	mgr       *session.Manager
	newSource func() (audio.Source, error)
}

func (c *sessionControl) Info() session.Info { return c.mgr.Info() }

func (c *sessionControl) Start(ctx context.Context) (string, error) {
	src, err := c.newSource()
	if err != nil {
		return "", err
	}
	return c.mgr.Start(ctx, src)
}

func (c *sessionControl) Stop(ctx context.Context) { c.mgr.Stop(ctx) }

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file")
	flag.StringVar(&overrides.HTTPAddr, "http-addr", "", "HTTP listen address")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (trace..error)")
	flag.StringVar(&overrides.SpeechURL, "speech-url", "", "realtime recognition endpoint")
	flag.StringVar(&overrides.AudioFile, "audio-file", "", "raw pcm_f32le file to replay")
	flag.StringVar(&overrides.AudioDir, "audio-dir", "", "directory to watch for audio chunks")
	flag.StringVar(&overrides.ForwardURL, "forward-url", "", "downstream websocket URL")
	flag.Parse()

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("lt-engine starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Snapshot store
	storeLog := log.With().Str("component", "store").Logger()
	db, err := store.Open(cfg.DataDir, storeLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open snapshot store")
	}
	defer db.Close()

	// Blob storage
	blobLog := log.With().Str("component", "storage").Logger()
	blobs, err := storage.New(storage.S3Options{
		Bucket:        cfg.S3Bucket,
		Region:        cfg.S3Region,
		Endpoint:      cfg.S3Endpoint,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		Prefix:        cfg.S3Prefix,
		PresignExpiry: cfg.S3PresignExpiry,
		LocalCache:    cfg.S3LocalCache,
	}, cfg.BlobDir, blobLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize blob storage")
	}

	// Live event bus
	bus := live.NewBus(256)

	// Forwarding sinks
	deps := api.Deps{
		Store:     db,
		Snapshots: db,
		Bus:       bus,
		Version:   version,
		StartTime: startTime,
	}
	var sinks []forward.Sink
	if cfg.ForwardURL != "" {
		streamLog := log.With().Str("component", "stream").Logger()
		mgr := stream.NewManager(stream.Options{URL: cfg.ForwardURL, Log: streamLog})
		mgr.Connect()
		defer mgr.Disconnect()
		sinks = append(sinks, forward.NewStreamSink(mgr, streamLog))
		deps.Stream = mgr
	}
	if cfg.MQTTBrokerURL != "" {
		mqttLog := log.With().Str("component", "mqtt").Logger()
		mqtt, err := forward.ConnectMQTT(forward.MQTTOptions{
			BrokerURL:   cfg.MQTTBrokerURL,
			ClientID:    cfg.MQTTClientID,
			TopicPrefix: cfg.MQTTTopicPrefix,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			Log:         mqttLog,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		sinks = append(sinks, mqtt)
		deps.MQTT = mqtt
	}
	var sink forward.Sink
	if len(sinks) > 0 {
		tee := forward.NewTee(log.With().Str("component", "forward").Logger(), sinks...)
		defer tee.Close()
		sink = tee
	}

	// Session manager
	tokens := auth.NewKeyRequestSource(cfg.KeyEndpoint, cfg.SpeechAPIKey, nil,
		log.With().Str("component", "auth").Logger())
	sessLog := log.With().Str("component", "session").Logger()
	mgr := session.NewManager(session.Options{
		Tokens:    tokens,
		SpeechURL: cfg.SpeechURL,
		Config: speech.Config{
			Language:        cfg.Language,
			OperatingPoint:  cfg.OperatingPoint,
			MaxDelay:        cfg.MaxDelay,
			TargetLanguages: cfg.TargetLanguageList(),
			SampleRate:      cfg.SampleRate,
		},
		Bus:   bus,
		Sink:  sink,
		Store: db,
		Blobs: blobs,
		Log:   sessLog,
	})
	audioLog := log.With().Str("component", "audio").Logger()
	deps.Sessions = &sessionControl{
		mgr: mgr,
		newSource: func() (audio.Source, error) {
			switch {
			case cfg.AudioFile != "":
				return audio.NewFileSource(cfg.AudioFile, cfg.SampleRate, 100, audioLog), nil
			case cfg.AudioDir != "":
				return audio.NewDirWatcher(cfg.AudioDir, ".pcm", audioLog), nil
			default:
				return nil, errors.New("no audio input configured, set AUDIO_FILE or AUDIO_DIR")
			}
		},
	}

	// HTTP server
	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(cfg, deps, httpLog)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mgr.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("lt-engine stopped")
}
