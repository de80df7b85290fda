package main

import (
	"context"
	"log"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"licensing-controlplane/internal/httpapi"
	"licensing-controlplane/internal/server"
	"licensing-controlplane/pkg/config"
	"licensing-controlplane/pkg/db"
	"licensing-controlplane/pkg/health"
	"licensing-controlplane/pkg/logger"
	"licensing-controlplane/pkg/otelcol"
	"licensing-controlplane/pkg/otelcol/exporters"
	"licensing-controlplane/pkg/profiling"
	"licensing-controlplane/pkg/redis"
	"licensing-controlplane/pkg/task"
	"licensing-controlplane/services/approval"
	"licensing-controlplane/services/audit"
	"licensing-controlplane/services/license"
	"licensing-controlplane/services/notification"
	"licensing-controlplane/services/owner"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Client,
		profiling.Module,
		fx.Provide(
			provideTraceExporter,
			provideTracerProvider,
			provideMeterProvider,
			provideSnowflakeNode,
		),
		fx.Invoke(
			registerTracerProvider,
			registerMeterProvider,
			db.Otel,
			db.Metric,
		),
		health.Module,
		httpapi.Module,
		audit.Module,
		owner.Module,
		notification.Module,
		approval.Module,
		license.Module,
		fx.Provide(
			server.ProvideGRPCServer,
			server.ProvideHTTPServer,
		),
		fx.Invoke(
			server.StartGRPCServer,
			server.Run,
		),
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideTracerProvider() trace.TracerProvider {
	return otel.GetTracerProvider()
}

func provideMeterProvider() metric.MeterProvider {
	return otel.GetMeterProvider()
}

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func provideTraceExporter(cfg *config.Config) (*otlptrace.Exporter, error) {
	if cfg.Otel.Protocol == "http" {
		return exporters.ProvideHttp(cfg)
	}
	return exporters.ProvideGrpc(cfg)
}

func registerTracerProvider(lc fx.Lifecycle, cfg *config.Config, exporter *otlptrace.Exporter) {
	if cfg.Otel.Addr == "" {
		return
	}

	tp := otelcol.ProvideTrace(exporter)
	otel.SetTracerProvider(tp)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})
}

func registerMeterProvider(lc fx.Lifecycle, cfg *config.Config) error {
	if cfg.Otel.Addr == "" {
		return nil
	}

	reader, err := exporters.ProvideMetricReader(cfg)
	if err != nil {
		return err
	}

	mp := otelcol.ProvideMetric(reader)
	otel.SetMeterProvider(mp)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return mp.Shutdown(ctx)
		},
	})

	return nil
}
