package watch

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/DECODEproject/iotcommon/middleware"
	kitlog "github.com/go-kit/kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goji "goji.io"
	"goji.io/pat"

	"github.com/adeverne/kiwiglider/pkg/metrics"
	"github.com/adeverne/kiwiglider/pkg/version"
)

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "kiwiglider",
			Subsystem: "watch",
			Name:      "build_info",
			Help:      "Information about the current build of the service",
		}, []string{"name", "version", "build_date"},
	)
)

func init() {
	metrics.MustRegister(buildInfo)
}

// ServerConfig is the watch service's top level config. Populated by viper in
// the command setup, we then pass config down to the right places.
type ServerConfig struct {
	ListenAddr string
	BrokerAddr string
	Topic      string
}

// Server is the watch service's top level type: it owns the watcher and the
// status HTTP listener and is responsible for starting and stopping them in
// the correct order.
type Server struct {
	srv     *http.Server
	watcher *Watcher
	config  *ServerConfig
	logger  kitlog.Logger
}

// PulseHandler is the simplest possible handler function, exposing an endpoint
// a load balancer can ping to verify the service is running and accepting
// connections.
func PulseHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "ok")
	})
}

// NewServer wires the watcher into a status HTTP server.
func NewServer(config *ServerConfig, watcher *Watcher, logger kitlog.Logger) *Server {
	logger = kitlog.With(logger, "module", "server")

	buildInfo.WithLabelValues(version.BinaryName, version.Version, version.BuildDate)

	mux := goji.NewMux()

	mux.Handle(pat.Get("/pulse"), PulseHandler())
	mux.Handle(pat.Get("/metrics"), promhttp.Handler())

	mux.Use(middleware.RequestIDMiddleware)

	metricsMiddleware := middleware.MetricsMiddleware("kiwiglider", "watch", prometheus.DefaultRegisterer)
	mux.Use(metricsMiddleware)

	srv := &http.Server{
		Addr:    config.ListenAddr,
		Handler: mux,
	}

	return &Server{
		srv:     srv,
		watcher: watcher,
		config:  config,
		logger:  logger,
	}
}

// Start starts the server running: the watcher first, then its broker
// subscription, then the HTTP listener. We also create a channel listening for
// interrupt signals before gracefully shutting down.
func (s *Server) Start() error {
	if err := s.watcher.Start(); err != nil {
		return err
	}

	if err := s.watcher.Subscribe(s.config.BrokerAddr, s.config.Topic); err != nil {
		return err
	}

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt)

	go func() {
		s.logger.Log("listenAddr", s.srv.Addr, "broker", s.config.BrokerAddr, "topic", s.config.Topic, "msg", "starting server")

		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Log("err", err)
			os.Exit(1)
		}
	}()

	<-stopChan
	return s.Stop()
}

// Stop the server and all child components.
func (s *Server) Stop() error {
	s.logger.Log("msg", "stopping")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.watcher.Stop(); err != nil {
		return err
	}

	return s.srv.Shutdown(ctx)
}
