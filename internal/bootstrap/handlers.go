package bootstrap

import (
	"context"
	"log/slog"
	"os"

	"github.com/eleven-am/rtms-sentiment/internal/metrics"
	"github.com/eleven-am/rtms-sentiment/internal/rtms"
	"github.com/eleven-am/rtms-sentiment/internal/signing"
	"github.com/eleven-am/rtms-sentiment/internal/webhook"
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func ProvideLogger(cfg *Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
}

func ProvideWebhookHandler(controller *rtms.Controller, tokens *signing.TokenIssuer, m *metrics.Metrics, logger *slog.Logger) *webhook.Handler {
	return webhook.NewHandler(controller, tokens, m, logger.With("handler", "webhook"))
}

type HandlerParams struct {
	fx.In

	Lifecycle      fx.Lifecycle
	WebhookHandler *webhook.Handler
	Metrics        *metrics.Metrics
	Config         *Config
}

func RegisterRoutes(e *echo.Echo, params HandlerParams) {
	limit, stop := webhook.RateLimiter(webhook.RateLimiterConfig{
		RequestsPerSecond: params.Config.WebhookRateLimit,
		Burst:             params.Config.WebhookRateBurst,
	}, params.Metrics)
	params.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			stop()
			return nil
		},
	})

	params.WebhookHandler.RegisterRoutes(e, limit)
	e.GET("/metrics", echo.WrapHandler(params.Metrics.Handler()))
}

var HandlersModule = fx.Options(
	fx.Provide(
		ProvideWebhookHandler,
	),
	fx.Invoke(RegisterRoutes),
)
