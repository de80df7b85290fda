package exporters

import (
	"context"
	"time"

	"licensing-controlplane/pkg/config"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func ProvideMetricReader(cfg *config.Config) (sdkmetric.Reader, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithCompressor("gzip"),
		otlpmetricgrpc.WithEndpoint(cfg.Otel.Addr),
	)
	if err != nil {
		return nil, err
	}

	return sdkmetric.NewPeriodicReader(exporter), nil
}
