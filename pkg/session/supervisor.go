// Package session owns the connection to the messaging platform.
//
// A Supervisor runs a single actor loop that creates connections through a
// Factory, tracks the session state, and replaces a connection when it drops.
// Each connection is tagged with a generation; events from a replaced
// connection are discarded.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mdp/qrterminal/v3"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"promo-autoresponder/pkg/constants"
	"promo-autoresponder/pkg/metrics"
	"promo-autoresponder/pkg/models"
)

var ErrNotConnected = errors.New("session not connected")

// Conn is a single connection attempt. It is discarded, never reused, once
// it disconnects.
type Conn interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
	// Reset drops the stored credentials so the next connection pairs again
	Reset(ctx context.Context) error
	SendText(ctx context.Context, to, text string) error
	SendMedia(ctx context.Context, to string, media models.MediaRef, caption string) error
}

// EmitFunc delivers connection events to the supervisor
type EmitFunc func(models.SessionEvent)

// Factory builds a new connection that reports through emit
type Factory func(ctx context.Context, emit EmitFunc) (Conn, error)

// MessageHandler is called for inbound messages of the live connection, on
// the connection's event goroutine.
type MessageHandler func(ctx context.Context, msg models.InboundMessage)

type Options struct {
	ReconnectDelay      time.Duration
	MaxAttempts         int
	Linear              bool
	HealthCheckSchedule string
	// QRTerminal receives a printable QR code when set
	QRTerminal io.Writer
	AfterFunc  func(d time.Duration, f func())
	Now        func() time.Time
}

type command int

const (
	cmdRestart command = iota
	cmdReconnect
	cmdHealthCheck
)

type request struct {
	cmd   command
	epoch uint64
}

type envelope struct {
	gen   uint64
	event models.SessionEvent
}

type Supervisor struct {
	factory Factory
	opts    Options
	logger  *logrus.Logger
	metrics *metrics.Metrics
	handler MessageHandler

	events   chan envelope
	requests chan request

	// generation of the live connection, bumped on every connect and teardown
	current atomic.Uint64

	mu             sync.RWMutex
	conn           Conn
	state          models.SessionState
	qr             string
	attempts       int
	lastTransition time.Time
}

func NewSupervisor(factory Factory, opts Options, logger *logrus.Logger, metrics *metrics.Metrics) *Supervisor {
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) { time.AfterFunc(d, f) }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Supervisor{
		factory:        factory,
		opts:           opts,
		logger:         logger,
		metrics:        metrics,
		events:         make(chan envelope, 64),
		requests:       make(chan request, 8),
		state:          models.StateDisconnected,
		lastTransition: opts.Now(),
	}
}

// OnMessage sets the inbound message handler. Call before Run.
func (s *Supervisor) OnMessage(handler MessageHandler) {
	s.handler = handler
}

// Run connects and supervises the session until ctx is cancelled
func (s *Supervisor) Run(ctx context.Context) error {
	if s.opts.HealthCheckSchedule != "" {
		sched := cron.New()
		if _, err := sched.AddFunc(s.opts.HealthCheckSchedule, func() {
			_ = s.enqueue(ctx, request{cmd: cmdHealthCheck})
		}); err != nil {
			return fmt.Errorf("invalid health check schedule %q: %w", s.opts.HealthCheckSchedule, err)
		}
		sched.Start()
		defer sched.Stop()
	}

	s.logger.Info("Starting session supervisor")
	s.connect(ctx)

	for {
		select {
		case <-ctx.Done():
			s.teardown()
			s.logger.Info("Session supervisor stopped")
			return nil
		case env := <-s.events:
			s.handleEvent(ctx, env)
		case req := <-s.requests:
			s.handleRequest(ctx, req)
		}
	}
}

// Restart replaces the current connection and resets the attempt counter
func (s *Supervisor) Restart(ctx context.Context) error {
	return s.enqueue(ctx, request{cmd: cmdRestart})
}

func (s *Supervisor) State() models.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// QRCode returns the pending pairing code, empty when none is pending
func (s *Supervisor) QRCode() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.qr
}

func (s *Supervisor) Status() models.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.SessionStatus{
		State:          s.state.String(),
		Ready:          s.state == models.StateReady,
		HasQR:          s.qr != "",
		Attempts:       s.attempts,
		LastTransition: s.lastTransition,
	}
}

func (s *Supervisor) SendText(ctx context.Context, to, text string) error {
	conn, err := s.readyConn()
	if err != nil {
		return err
	}
	return conn.SendText(ctx, to, text)
}

func (s *Supervisor) SendMedia(ctx context.Context, to string, media models.MediaRef, caption string) error {
	conn, err := s.readyConn()
	if err != nil {
		return err
	}
	return conn.SendMedia(ctx, to, media, caption)
}

func (s *Supervisor) readyConn() (Conn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil || s.state != models.StateReady {
		return nil, ErrNotConnected
	}
	return s.conn, nil
}

func (s *Supervisor) enqueue(ctx context.Context, req request) error {
	select {
	case s.requests <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// emit runs on the connection's goroutines
func (s *Supervisor) emit(ctx context.Context, gen uint64, event models.SessionEvent) {
	if gen != s.current.Load() {
		s.logger.WithFields(logrus.Fields{
			"generation": gen,
			"event":      event.Kind,
		}).Debug("Ignoring event from replaced connection")
		return
	}

	if event.Kind == models.EventMessage {
		if event.Message != nil && s.handler != nil {
			s.handler(ctx, *event.Message)
		}
		return
	}

	select {
	case s.events <- envelope{gen: gen, event: event}:
	case <-ctx.Done():
	}
}

func (s *Supervisor) connect(ctx context.Context) {
	gen := s.current.Add(1)
	log := s.logger.WithField("generation", gen)
	log.Info("Initializing session")

	conn, err := s.factory(ctx, func(event models.SessionEvent) {
		s.emit(ctx, gen, event)
	})
	if err != nil {
		log.WithError(err).Error("Failed to create session")
		s.teardown()
		s.retry(ctx, "initialization failed")
		return
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	if err := conn.Connect(ctx); err != nil {
		log.WithError(err).Error("Failed to connect session")
		s.teardown()
		s.retry(ctx, "connect failed")
	}
}

// teardown retires the live connection
func (s *Supervisor) teardown() {
	s.current.Add(1)

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.qr = ""
	s.mu.Unlock()

	s.setState(models.StateDisconnected)

	if conn != nil {
		conn.Disconnect()
	}
}

// retry schedules a reconnect according to the policy, or gives up once the
// attempts are exhausted. The caller has already torn the connection down.
func (s *Supervisor) retry(ctx context.Context, reason string) {
	s.mu.Lock()
	s.attempts++
	attempt := s.attempts
	s.mu.Unlock()

	log := s.logger.WithFields(logrus.Fields{
		"attempt":      attempt,
		"max_attempts": s.opts.MaxAttempts,
		"reason":       reason,
	})

	if s.opts.MaxAttempts > 0 && attempt > s.opts.MaxAttempts {
		log.Error("Reconnect attempts exhausted, waiting for a manual restart")
		return
	}

	delay := constants.ReconnectDelay(s.opts.ReconnectDelay, attempt, s.opts.Linear)
	epoch := s.current.Load()
	s.metrics.ReconnectAttempts.Inc()

	s.opts.AfterFunc(delay, func() {
		_ = s.enqueue(ctx, request{cmd: cmdReconnect, epoch: epoch})
	})
	log.WithField("delay", delay.String()).Warn("Scheduled session reconnect")
}

func (s *Supervisor) handleEvent(ctx context.Context, env envelope) {
	if env.gen != s.current.Load() {
		return
	}

	event := env.event
	switch event.Kind {
	case models.EventQR:
		s.mu.Lock()
		s.qr = event.QRCode
		s.mu.Unlock()
		s.setState(models.StateAwaitingQR)
		s.printQR(event.QRCode)

	case models.EventAuthenticated:
		s.mu.Lock()
		s.qr = ""
		s.mu.Unlock()
		if s.State() != models.StateReady {
			s.setState(models.StateAuthenticated)
		}

	case models.EventReady:
		s.mu.Lock()
		s.qr = ""
		s.attempts = 0
		s.mu.Unlock()
		s.setState(models.StateReady)

	case models.EventDisconnected:
		s.logger.WithField("reason", event.Reason).Warn("Session disconnected")
		s.teardown()
		s.retry(ctx, event.Reason)

	case models.EventAuthFailure:
		s.handleAuthFailure(ctx, event.Reason)
	}
}

// handleAuthFailure resets the stored credentials and reconnects at once
func (s *Supervisor) handleAuthFailure(ctx context.Context, reason string) {
	log := s.logger.WithField("reason", reason)
	log.Warn("Authentication failed, resetting credentials")

	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()

	if conn != nil {
		if err := conn.Reset(ctx); err != nil {
			log.WithError(err).Error("Failed to reset credentials")
		}
	}
	s.teardown()

	s.mu.Lock()
	s.attempts++
	attempt := s.attempts
	s.mu.Unlock()

	if s.opts.MaxAttempts > 0 && attempt > s.opts.MaxAttempts {
		log.WithField("attempt", attempt).Error("Reconnect attempts exhausted, waiting for a manual restart")
		return
	}

	s.metrics.ReconnectAttempts.Inc()
	s.connect(ctx)
}

func (s *Supervisor) handleRequest(ctx context.Context, req request) {
	switch req.cmd {
	case cmdRestart:
		s.logger.Info("Restarting session")
		s.teardown()
		s.mu.Lock()
		s.attempts = 0
		s.mu.Unlock()
		s.connect(ctx)

	case cmdReconnect:
		if req.epoch != s.current.Load() {
			s.logger.Debug("Skipping stale reconnect")
			return
		}
		s.connect(ctx)

	case cmdHealthCheck:
		s.mu.RLock()
		state, conn := s.state, s.conn
		s.mu.RUnlock()

		if state != models.StateReady {
			return
		}
		if conn != nil && conn.IsConnected() {
			s.logger.Debug("Session connection healthy")
			return
		}

		s.logger.Warn("Connection lost, reinitializing session")
		s.teardown()
		s.retry(ctx, "health check failed")
	}
}

func (s *Supervisor) setState(state models.SessionState) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	if prev != state {
		s.lastTransition = s.opts.Now()
	}
	s.mu.Unlock()

	if prev == state {
		return
	}

	s.metrics.SessionState.Set(float64(state))
	s.metrics.SessionTransitions.WithLabelValues(state.String()).Inc()
	s.logger.WithFields(logrus.Fields{
		"from": prev.String(),
		"to":   state.String(),
	}).Info("Session state changed")
}

func (s *Supervisor) printQR(code string) {
	if s.opts.QRTerminal == nil || code == "" {
		return
	}
	qrterminal.GenerateHalfBlock(code, qrterminal.L, s.opts.QRTerminal)
}
