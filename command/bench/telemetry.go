package bench

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/armon/go-metrics"
	"github.com/armon/go-metrics/prometheus"
	"github.com/hashicorp/go-hclog"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricsServiceName = "tracertl"
	shutdownTimeout    = 5 * time.Second
)

// setupTelemetry installs the global metrics sinks. The in-memory sink is
// always present; with addr set the prometheus sink is served on addr.
func setupTelemetry(addr string, logger hclog.Logger) (func(), error) {
	inm := metrics.NewInmemSink(10*time.Second, time.Minute)

	sinks := metrics.FanoutSink{inm}

	var server *http.Server

	if addr != "" {
		promSink, err := prometheus.NewPrometheusSinkFrom(prometheus.PrometheusOpts{
			Name:       "tracertl_prometheus_sink",
			Expiration: 0,
		})
		if err != nil {
			return nil, err
		}

		sinks = append(sinks, promSink)
		server = startPrometheusServer(addr, inm, logger)
	}

	metricsConf := metrics.DefaultConfig(metricsServiceName)
	metricsConf.EnableHostname = false

	if _, err := metrics.NewGlobal(metricsConf, sinks); err != nil {
		return nil, err
	}

	shutdown := func() {
		if server == nil {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("unable to stop prometheus server", "err", err)
		}
	}

	return shutdown, nil
}

func startPrometheusServer(addr string, inm *metrics.InmemSink, logger hclog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/v1/metrics", func(w http.ResponseWriter, r *http.Request) {
		summary, err := inm.DisplayMetrics(w, r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)

			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w).Encode(summary)
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("Prometheus server started", "addr", addr)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Prometheus HTTP server ListenAndServe", "err", err)
		}
	}()

	return server
}
