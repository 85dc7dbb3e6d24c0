package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/eleven-am/rtms-sentiment/internal/audio"
	"github.com/eleven-am/rtms-sentiment/internal/classifier"
	"github.com/eleven-am/rtms-sentiment/internal/metrics"
	"github.com/eleven-am/rtms-sentiment/internal/rtms"
	"github.com/eleven-am/rtms-sentiment/internal/signing"
	"github.com/eleven-am/rtms-sentiment/internal/sink"
	"github.com/eleven-am/rtms-sentiment/internal/transcript"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

func ProvideSigner(cfg *Config, logger *slog.Logger) (*signing.Signer, error) {
	s, err := signing.NewSigner(cfg.RTMSClientID, cfg.RTMSSecret)
	if err != nil {
		return nil, err
	}
	logger.Info("stream signer configured", "client_id", s.ClientID())
	return s, nil
}

// ProvideTokenIssuer returns nil when no Video SDK credentials are configured.
func ProvideTokenIssuer(cfg *Config, logger *slog.Logger) (*signing.TokenIssuer, error) {
	if !cfg.SDKConfigured() {
		logger.Info("video sdk credentials not configured, token endpoint disabled")
		return nil, nil
	}
	return signing.NewTokenIssuer(cfg.SDKKey, cfg.SDKSecret, cfg.SDKTokenTTL)
}

func ProvideClassifier(cfg *Config, logger *slog.Logger) (transcript.Classifier, error) {
	if cfg.ClassifierModelPath == "" {
		logger.Warn("no classifier model configured, transcripts will not be classified")
		return classifier.Unavailable{}, nil
	}
	c, err := classifier.Load(cfg.ClassifierModelPath)
	if err != nil {
		return nil, fmt.Errorf("load classifier: %w", err)
	}
	logger.Info("classifier loaded", "path", cfg.ClassifierModelPath, "labels", len(c.Labels()))
	return c, nil
}

func ProvideSink(client *redis.Client, logger *slog.Logger) sink.Sink {
	sinks := sink.Multi{sink.NewLogSink(logger)}
	if client != nil {
		sinks = append(sinks, sink.NewRedisSink(client, logger))
	}
	return sinks
}

// ProvideAudioSink returns nil when AUDIO_DUMP_DIR is unset.
func ProvideAudioSink(lc fx.Lifecycle, cfg *Config, logger *slog.Logger) (*audio.FileSink, error) {
	if cfg.AudioDumpDir == "" {
		return nil, nil
	}
	s, err := audio.NewFileSink(cfg.AudioDumpDir, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return s.Close()
		},
	})
	return s, nil
}

type ControllerParams struct {
	fx.In

	Config     *Config
	Signer     *signing.Signer
	Classifier transcript.Classifier
	Sink       sink.Sink
	Audio      *audio.FileSink
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

func ProvideController(lc fx.Lifecycle, p ControllerParams) (*rtms.Controller, error) {
	deps := rtms.Deps{
		Signer:     p.Signer,
		Classifier: p.Classifier,
		Deliver:    sink.Deliver(p.Sink, p.Logger),
		Logger:     p.Logger,
		Metrics:    p.Metrics,
	}
	if p.Audio != nil {
		deps.Audio = p.Audio
	}

	controller, err := rtms.NewController(rtms.Config{
		ContentTypes:     p.Config.ContentTypes,
		Transcript:       p.Config.Transcript,
		HandshakeTimeout: p.Config.HandshakeTimeout,
	}, deps)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			p.Logger.Info("stopping rtms sessions", "active", controller.Count())
			return controller.Close(ctx)
		},
	})
	return controller, nil
}

var RTMSModule = fx.Options(
	fx.Provide(
		ProvideSigner,
		ProvideTokenIssuer,
		ProvideClassifier,
		ProvideSink,
		ProvideAudioSink,
		ProvideController,
	),
)
