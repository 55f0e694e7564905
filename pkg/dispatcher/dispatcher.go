// Package dispatcher decides and performs the replies for inbound messages.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"promo-autoresponder/pkg/cooldown"
	"promo-autoresponder/pkg/metrics"
	"promo-autoresponder/pkg/models"
	"promo-autoresponder/pkg/script"
)

// Sender performs outbound sends on the current session
type Sender interface {
	SendText(ctx context.Context, to, text string) error
	SendMedia(ctx context.Context, to string, media models.MediaRef, caption string) error
}

// StateSource reports the session state
type StateSource interface {
	State() models.SessionState
}

// Reply kinds used as metric labels
const (
	kindGreeting = "greeting"
	kindMenu     = "menu"
	kindReminder = "reminder"
	kindKeyword  = "keyword"
	kindFallback = "fallback"
	kindCaption  = "caption_fallback"
)

// Dispatch outcomes used as metric labels
const (
	resultNotReady   = "not_ready"
	resultDispatched = "dispatched"
	resultPanic      = "panic"
)

type Options struct {
	ExcludeGroups bool
	// SendTimeout bounds each outbound send; zero leaves it to the caller's context
	SendTimeout time.Duration
	// AfterFunc schedules the reminder follow-up. Defaults to time.AfterFunc.
	AfterFunc func(d time.Duration, f func())
}

type Dispatcher struct {
	sender  Sender
	state   StateSource
	store   cooldown.Store
	script  *script.Script
	opts    Options
	logger  *logrus.Logger
	metrics *metrics.Metrics
}

func New(sender Sender, state StateSource, store cooldown.Store, s *script.Script, opts Options, logger *logrus.Logger, metrics *metrics.Metrics) *Dispatcher {
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) { time.AfterFunc(d, f) }
	}
	return &Dispatcher{
		sender:  sender,
		state:   state,
		store:   store,
		script:  s,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
	}
}

// Dispatch handles one inbound message. Send failures are logged and
// counted, never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, msg models.InboundMessage) {
	log := d.logger.WithFields(logrus.Fields{
		"sender":     msg.Sender,
		"message_id": msg.ID,
	})

	defer d.recoverPanic(log, "Recovered from panic while handling message")

	if state := d.state.State(); state != models.StateReady {
		d.metrics.MessagesReceived.WithLabelValues(resultNotReady).Inc()
		log.WithField("state", state.String()).Debug("Dropping message, session not ready")
		return
	}
	d.metrics.MessagesReceived.WithLabelValues(resultDispatched).Inc()

	greeted := d.greet(ctx, log, msg)

	if reply, ok := d.script.Lookup(msg.Text); ok {
		d.sendKeywordReply(ctx, log, msg.Sender, reply, greeted)
		return
	}

	if d.shouldFallback(msg, greeted) {
		d.sendText(ctx, log, kindFallback, msg.Sender, d.script.Fallback)
	}
}

// greet sends the greeting when the sender is outside the cool-down window
// and reports whether it did.
func (d *Dispatcher) greet(ctx context.Context, log *logrus.Entry, msg models.InboundMessage) bool {
	if msg.IsGroup && d.opts.ExcludeGroups {
		return false
	}

	already, err := d.store.Contains(ctx, msg.Sender)
	if err != nil {
		// Skip the greeting rather than risk repeating it to everyone
		log.WithError(err).Warn("Failed to check greeted senders, skipping greeting")
		return false
	}
	if already {
		log.Debug("Sender already greeted, skipping greeting")
		return false
	}

	if err := d.store.Mark(ctx, msg.Sender); err != nil {
		log.WithError(err).Warn("Failed to mark sender as greeted")
	}

	log.Info("Greeting new sender")

	if d.script.HasMedia() {
		d.sendMedia(ctx, log, kindGreeting, msg.Sender, d.script.Caption)
	} else {
		d.sendText(ctx, log, kindGreeting, msg.Sender, d.script.Caption)
	}

	switch d.script.FollowUp {
	case script.FollowUpMenu:
		d.sendText(ctx, log, kindMenu, msg.Sender, d.script.Menu)
	case script.FollowUpReminder:
		d.scheduleReminder(log, msg.Sender)
	}

	return true
}

func (d *Dispatcher) scheduleReminder(log *logrus.Entry, to string) {
	delay := d.script.ReminderDelay
	d.opts.AfterFunc(delay, func() {
		defer d.recoverPanic(log, "Recovered from panic while sending reminder")

		if d.state.State() != models.StateReady {
			log.Debug("Session not ready, dropping reminder")
			return
		}
		d.sendText(context.Background(), log, kindReminder, to, d.script.Reminder)
	})
	log.WithField("delay", delay.String()).Debug("Scheduled reminder")
}

func (d *Dispatcher) sendKeywordReply(ctx context.Context, log *logrus.Entry, to string, reply script.Reply, greeted bool) {
	// The image already went out with the greeting in this turn
	if reply.WithMedia && d.script.HasMedia() && !greeted {
		d.sendMedia(ctx, log, kindKeyword, to, reply.Text)
		return
	}
	d.sendText(ctx, log, kindKeyword, to, reply.Text)
}

// shouldFallback reports whether an unmatched message gets the fallback text.
// Excluded group chats never do, since they are never greeted either.
func (d *Dispatcher) shouldFallback(msg models.InboundMessage, greeted bool) bool {
	if msg.IsGroup && d.opts.ExcludeGroups {
		return false
	}

	normalized := d.script.Normalize(msg.Text)
	if normalized == "" || d.script.IsGreeting(normalized) {
		return false
	}

	switch d.script.FallbackMode {
	case script.FallbackAlways:
		return true
	case script.FallbackUnlessGreeted:
		return !greeted
	default:
		return false
	}
}

func (d *Dispatcher) sendText(ctx context.Context, log *logrus.Entry, kind, to, text string) {
	ctx, cancel := d.sendContext(ctx)
	defer cancel()

	start := time.Now()
	err := d.sender.SendText(ctx, to, text)
	d.metrics.SendDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	if err != nil {
		d.metrics.RepliesSent.WithLabelValues(kind, "failed").Inc()
		log.WithError(err).WithField("kind", kind).Error("Failed to send text reply")
		return
	}

	d.metrics.RepliesSent.WithLabelValues(kind, "sent").Inc()
	log.WithField("kind", kind).Debug("Sent text reply")
}

// sendMedia sends the script image with caption, falling back once to the
// caption as plain text when the media send fails.
func (d *Dispatcher) sendMedia(ctx context.Context, log *logrus.Entry, kind, to, caption string) {
	media := models.MediaRef{
		Path:     d.script.MediaPath,
		MimeType: d.script.MediaMimeType,
	}

	sendCtx, cancel := d.sendContext(ctx)
	start := time.Now()
	err := d.sender.SendMedia(sendCtx, to, media, caption)
	d.metrics.SendDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	cancel()

	if err == nil {
		d.metrics.RepliesSent.WithLabelValues(kind, "sent").Inc()
		log.WithField("kind", kind).Debug("Sent media reply")
		return
	}

	d.metrics.RepliesSent.WithLabelValues(kind, "failed").Inc()
	log.WithError(err).WithFields(logrus.Fields{
		"kind":  kind,
		"media": media.Path,
	}).Error("Failed to send media reply, sending caption as text")

	if caption != "" {
		d.sendText(ctx, log, kindCaption, to, caption)
	}
}

// recoverPanic must be deferred directly. The reminder timer runs outside
// Dispatch and needs its own recovery.
func (d *Dispatcher) recoverPanic(log *logrus.Entry, msg string) {
	if r := recover(); r != nil {
		d.metrics.MessagesReceived.WithLabelValues(resultPanic).Inc()
		log.WithField("panic", fmt.Sprint(r)).Error(msg)
	}
}

func (d *Dispatcher) sendContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.opts.SendTimeout > 0 {
		return context.WithTimeout(ctx, d.opts.SendTimeout)
	}
	return context.WithCancel(ctx)
}
