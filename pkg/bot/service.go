package bot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"promo-autoresponder/pkg/config"
	"promo-autoresponder/pkg/constants"
	"promo-autoresponder/pkg/cooldown"
	"promo-autoresponder/pkg/dispatcher"
	"promo-autoresponder/pkg/handlers"
	"promo-autoresponder/pkg/metrics"
	"promo-autoresponder/pkg/script"
	"promo-autoresponder/pkg/server"
	"promo-autoresponder/pkg/session"
)

type Service struct {
	config     *config.Config
	logger     *logrus.Logger
	metrics    *metrics.Metrics
	store      cooldown.Store
	supervisor *session.Supervisor
	server     *http.Server
	wg         sync.WaitGroup
}

func NewService(cfg *config.Config, factory session.Factory, store cooldown.Store, s *script.Script, gatherer prometheus.Gatherer, logger *logrus.Logger, metrics *metrics.Metrics) *Service {
	var qrOut io.Writer
	if cfg.QRTerminal {
		qrOut = os.Stdout
	}

	supervisor := session.NewSupervisor(factory, session.Options{
		ReconnectDelay:      cfg.ReconnectDelay(),
		MaxAttempts:         cfg.ReconnectMaxAttempts,
		Linear:              cfg.ReconnectLinear,
		HealthCheckSchedule: cfg.HealthCheckSchedule,
		QRTerminal:          qrOut,
	}, logger, metrics)

	dispatch := dispatcher.New(supervisor, supervisor, store, s, dispatcher.Options{
		ExcludeGroups: cfg.ExcludeGroups,
		SendTimeout:   constants.SecondsToDuration(constants.DefaultSendTimeoutSeconds),
	}, logger, metrics)
	supervisor.OnMessage(dispatch.Dispatch)

	handler := handlers.NewHandler(supervisor, store, cfg.InstanceID, logger)

	return &Service{
		config:     cfg,
		logger:     logger,
		metrics:    metrics,
		store:      store,
		supervisor: supervisor,
		server:     server.NewHTTPServer(cfg.Port, handler, gatherer, logger),
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("Starting promo auto-responder")

	// Start HTTP server
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// Start session supervisor
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.supervisor.Run(ctx); err != nil {
			s.logger.WithError(err).Error("Session supervisor failed")
		}
	}()

	// Start cool-down sweep routine
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sweepRoutine(ctx)
	}()

	s.logger.WithFields(logrus.Fields{
		"instance_id":   s.config.InstanceID,
		"greeting_mode": s.config.GreetingMode,
	}).Info("Promo auto-responder started successfully")
	return nil
}

// Stop shuts the HTTP server down and waits for the background routines,
// which exit once the context passed to Start is cancelled.
func (s *Service) Stop(ctx context.Context) error {
	s.logger.Info("Stopping promo auto-responder")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.WithError(err).Error("Failed to shutdown HTTP server gracefully")
		return err
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("background routines did not stop: %w", ctx.Err())
	}

	s.logger.Info("Promo auto-responder stopped")
	return nil
}

func (s *Service) Supervisor() *session.Supervisor {
	return s.supervisor
}

func (s *Service) startHTTPServer() error {
	go func() {
		s.logger.WithField("port", s.config.Port).Info("Starting HTTP server")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Fatal("HTTP server failed")
		}
	}()

	return nil
}

func (s *Service) sweepRoutine(ctx context.Context) {
	interval := s.config.SweepInterval()
	if interval <= 0 {
		interval = constants.SecondsToDuration(constants.DefaultSweepIntervalSeconds)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep evicts expired cool-down entries and refreshes the gauge
func (s *Service) sweep(ctx context.Context) {
	start := time.Now()
	removed, err := s.store.Sweep(ctx)
	s.metrics.CooldownSweepDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.logger.WithError(err).Error("Failed to sweep greeted senders")
		return
	}

	count, err := s.store.Len(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to count greeted senders")
		return
	}
	s.metrics.GreetedSendersCount.Set(float64(count))

	if removed > 0 {
		s.logger.WithFields(logrus.Fields{
			"removed_count": removed,
			"greeted_count": count,
		}).Info("Swept expired greeted senders")
	}
}
