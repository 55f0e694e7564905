package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promo-autoresponder/pkg/cooldown"
	"promo-autoresponder/pkg/metrics"
	"promo-autoresponder/pkg/models"
	"promo-autoresponder/pkg/script"
)

type sent struct {
	To      string
	Text    string
	Media   string
	IsMedia bool
}

type fakeSender struct {
	mu        sync.Mutex
	sent      []sent
	mediaErr  error
	textErr   error
	panicText string
}

func (f *fakeSender) SendText(_ context.Context, to, text string) error {
	if f.panicText != "" && text == f.panicText {
		panic("boom")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.textErr != nil {
		return f.textErr
	}
	f.sent = append(f.sent, sent{To: to, Text: text})
	return nil
}

func (f *fakeSender) SendMedia(_ context.Context, to string, media models.MediaRef, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mediaErr != nil {
		return f.mediaErr
	}
	f.sent = append(f.sent, sent{To: to, Text: caption, Media: media.Path, IsMedia: true})
	return nil
}

func (f *fakeSender) reset() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.sent
	f.sent = nil
	return out
}

type fakeState struct {
	mu    sync.Mutex
	state models.SessionState
}

func (f *fakeState) State() models.SessionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeState) Set(state models.SessionState) {
	f.mu.Lock()
	f.state = state
	f.mu.Unlock()
}

type scheduled struct {
	delay time.Duration
	fn    func()
}

type fakeTimers struct {
	pending []scheduled
}

func (f *fakeTimers) AfterFunc(d time.Duration, fn func()) {
	f.pending = append(f.pending, scheduled{delay: d, fn: fn})
}

func (f *fakeTimers) fireAll() {
	pending := f.pending
	f.pending = nil
	for _, p := range pending {
		p.fn()
	}
}

type errStore struct{}

func (errStore) Contains(context.Context, string) (bool, error) {
	return false, errors.New("store down")
}
func (errStore) Mark(context.Context, string) error    { return nil }
func (errStore) Release(context.Context, string) error { return nil }

func (errStore) Sweep(context.Context) (int, error) { return 0, nil }
func (errStore) Len(context.Context) (int, error)   { return 0, nil }

type harness struct {
	dispatcher *Dispatcher
	sender     *fakeSender
	state      *fakeState
	timers     *fakeTimers
	metrics    *metrics.Metrics
	now        time.Time
}

func (h *harness) advance(d time.Duration) {
	h.now = h.now.Add(d)
}

func newHarness(t *testing.T, preset string, opts Options) *harness {
	t.Helper()

	s, err := script.Load(preset, "")
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel) // Reduce noise in tests

	h := &harness{
		sender:  &fakeSender{},
		state:   &fakeState{state: models.StateReady},
		timers:  &fakeTimers{},
		metrics: metrics.NewMetrics(prometheus.NewRegistry()),
		now:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}

	store := cooldown.NewMemoryStore(cooldown.Options{
		TTL:   60 * time.Second,
		Clock: func() time.Time { return h.now },
	})

	opts.AfterFunc = h.timers.AfterFunc
	h.dispatcher = New(h.sender, h.state, store, s, opts, logger, h.metrics)
	return h
}

func message(sender, text string) models.InboundMessage {
	return models.InboundMessage{ID: "msg", Sender: sender, Text: text}
}

func TestDispatch_NewSenderGetsGreetingAndMenu(t *testing.T) {
	h := newHarness(t, script.PresetNumeric, Options{ExcludeGroups: true})
	ctx := context.Background()

	h.dispatcher.Dispatch(ctx, message("A", "hello"))

	out := h.sender.reset()
	require.Len(t, out, 2)
	assert.True(t, out[0].IsMedia)
	assert.Equal(t, "./trk.png", out[0].Media)
	assert.Contains(t, out[0].Text, "199 درهم")
	assert.False(t, out[1].IsMedia)
	assert.Contains(t, out[1].Text, "1. سعر المنتج")
}

func TestDispatch_GreetedSenderScenario(t *testing.T) {
	h := newHarness(t, script.PresetNumeric, Options{ExcludeGroups: true})
	ctx := context.Background()

	h.dispatcher.Dispatch(ctx, message("A", "hello"))
	assert.Len(t, h.sender.reset(), 2)

	h.dispatcher.Dispatch(ctx, message("A", "1"))
	out := h.sender.reset()
	require.Len(t, out, 1, "keyword reply only, no second greeting")
	assert.Equal(t, sent{To: "A", Text: "سعر المنتج هو 199 درهم."}, out[0])

	h.advance(30 * time.Second)
	h.dispatcher.Dispatch(ctx, message("A", "hello"))
	assert.Empty(t, h.sender.reset())
}

func TestDispatch_CooldownExpires(t *testing.T) {
	h := newHarness(t, script.PresetNumeric, Options{ExcludeGroups: true})
	ctx := context.Background()

	h.dispatcher.Dispatch(ctx, message("A", "hello"))
	assert.Len(t, h.sender.reset(), 2)

	h.advance(60 * time.Second)
	h.dispatcher.Dispatch(ctx, message("A", "hello"))
	assert.Len(t, h.sender.reset(), 2, "sender is greeted again once the window elapses")
}

func TestDispatch_KeywordRepliesRegardlessOfGreetedState(t *testing.T) {
	h := newHarness(t, script.PresetNumeric, Options{ExcludeGroups: true})
	ctx := context.Background()

	expected := map[string]string{
		"1": "سعر المنتج هو 199 درهم.",
		"2": "التوصيل مجاني لجميع المناطق 🚚.",
		"3": "جودة المنتج عالية جدًا.",
	}

	for keyword, reply := range expected {
		sender := "new-" + keyword
		h.dispatcher.Dispatch(ctx, message(sender, keyword))
		out := h.sender.reset()
		require.Len(t, out, 3)
		assert.Equal(t, reply, out[2].Text)

		h.dispatcher.Dispatch(ctx, message(sender, keyword))
		out = h.sender.reset()
		require.Len(t, out, 1)
		assert.Equal(t, reply, out[0].Text)
	}
}

func TestDispatch_NotReadyDropsMessage(t *testing.T) {
	h := newHarness(t, script.PresetNumeric, Options{ExcludeGroups: true})
	ctx := context.Background()

	for _, state := range []models.SessionState{models.StateDisconnected, models.StateAwaitingQR, models.StateAuthenticated} {
		h.state.Set(state)
		h.dispatcher.Dispatch(ctx, message("A", "1"))
	}
	assert.Empty(t, h.sender.reset())
	assert.Equal(t, float64(3), testutil.ToFloat64(h.metrics.MessagesReceived.WithLabelValues(resultNotReady)))

	// The dropped messages did not mark the sender
	h.state.Set(models.StateReady)
	h.dispatcher.Dispatch(ctx, message("A", "hello"))
	assert.Len(t, h.sender.reset(), 2)
}

func TestDispatch_ReconnectResumesDispatch(t *testing.T) {
	h := newHarness(t, script.PresetNumeric, Options{ExcludeGroups: true})
	ctx := context.Background()

	h.dispatcher.Dispatch(ctx, message("A", "hello"))
	h.sender.reset()

	h.state.Set(models.StateDisconnected)
	h.dispatcher.Dispatch(ctx, message("A", "2"))
	assert.Empty(t, h.sender.reset())

	h.state.Set(models.StateReady)
	h.dispatcher.Dispatch(ctx, message("A", "2"))
	out := h.sender.reset()
	require.Len(t, out, 1)
	assert.Equal(t, "التوصيل مجاني لجميع المناطق 🚚.", out[0].Text)
}

func TestDispatch_GroupsExcludedFromGreeting(t *testing.T) {
	h := newHarness(t, script.PresetNumeric, Options{ExcludeGroups: true})
	ctx := context.Background()

	msg := message("group@g.us", "hello")
	msg.IsGroup = true
	h.dispatcher.Dispatch(ctx, msg)
	assert.Empty(t, h.sender.reset())

	msg.Text = "3"
	h.dispatcher.Dispatch(ctx, msg)
	out := h.sender.reset()
	require.Len(t, out, 1)
	assert.Equal(t, "جودة المنتج عالية جدًا.", out[0].Text)
}

func TestDispatch_GroupsGreetedWhenNotExcluded(t *testing.T) {
	h := newHarness(t, script.PresetNumeric, Options{ExcludeGroups: false})

	msg := message("group@g.us", "hello")
	msg.IsGroup = true
	h.dispatcher.Dispatch(context.Background(), msg)
	assert.Len(t, h.sender.reset(), 2)
}

func TestDispatch_CommandPreset(t *testing.T) {
	h := newHarness(t, script.PresetCommand, Options{ExcludeGroups: true})
	ctx := context.Background()

	h.dispatcher.Dispatch(ctx, message("A", "START"))
	out := h.sender.reset()
	require.Len(t, out, 2)
	assert.True(t, out[0].IsMedia, "greeting carries the image")
	assert.False(t, out[1].IsMedia, "order form is not sent with a second image")
	assert.Contains(t, out[1].Text, "الاسم:")

	h.dispatcher.Dispatch(ctx, message("A", "start"))
	out = h.sender.reset()
	require.Len(t, out, 1)
	assert.True(t, out[0].IsMedia)
	assert.Contains(t, out[0].Text, "الاسم:")
}

func TestDispatch_CommandPresetFallback(t *testing.T) {
	h := newHarness(t, script.PresetCommand, Options{ExcludeGroups: true})
	ctx := context.Background()

	// Fallback is suppressed in the turn that greeted
	h.dispatcher.Dispatch(ctx, message("A", "xyz"))
	out := h.sender.reset()
	require.Len(t, out, 1)
	assert.True(t, out[0].IsMedia)

	h.dispatcher.Dispatch(ctx, message("A", "xyz"))
	out = h.sender.reset()
	require.Len(t, out, 1, "fallback is sent at most once per message")
	assert.Contains(t, out[0].Text, "help")

	h.dispatcher.Dispatch(ctx, message("A", "hello"))
	assert.Empty(t, h.sender.reset(), "greeting keywords never trigger the fallback")

	h.dispatcher.Dispatch(ctx, message("A", "   "))
	assert.Empty(t, h.sender.reset(), "empty text never triggers the fallback")
}

func TestDispatch_ReminderFollowUp(t *testing.T) {
	h := newHarness(t, script.PresetCommand, Options{ExcludeGroups: true})
	ctx := context.Background()

	h.dispatcher.Dispatch(ctx, message("A", "hi"))
	require.Len(t, h.sender.reset(), 1)
	require.Len(t, h.timers.pending, 1)
	assert.Equal(t, 30*time.Second, h.timers.pending[0].delay)

	h.timers.fireAll()
	out := h.sender.reset()
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Text, "start")
}

func TestDispatch_ReminderDroppedWhenNotReady(t *testing.T) {
	h := newHarness(t, script.PresetCommand, Options{ExcludeGroups: true})

	h.dispatcher.Dispatch(context.Background(), message("A", "hi"))
	h.sender.reset()

	h.state.Set(models.StateDisconnected)
	h.timers.fireAll()
	assert.Empty(t, h.sender.reset())
}

func TestDispatch_MediaFailureFallsBackToCaption(t *testing.T) {
	h := newHarness(t, script.PresetNumeric, Options{ExcludeGroups: true})
	h.sender.mediaErr = errors.New("upload failed")

	h.dispatcher.Dispatch(context.Background(), message("A", "hello"))

	out := h.sender.reset()
	require.Len(t, out, 2)
	assert.False(t, out[0].IsMedia)
	assert.Contains(t, out[0].Text, "199 درهم")
	assert.Contains(t, out[1].Text, "1. سعر المنتج")
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.RepliesSent.WithLabelValues(kindGreeting, "failed")))
}

func TestDispatch_SendFailureKeepsCooldown(t *testing.T) {
	h := newHarness(t, script.PresetNumeric, Options{ExcludeGroups: true})
	ctx := context.Background()

	h.sender.mediaErr = errors.New("upload failed")
	h.sender.textErr = errors.New("socket closed")
	h.dispatcher.Dispatch(ctx, message("A", "hello"))
	assert.Empty(t, h.sender.reset())

	h.sender.mediaErr = nil
	h.sender.textErr = nil
	h.dispatcher.Dispatch(ctx, message("A", "hello"))
	assert.Empty(t, h.sender.reset(), "sender stays greeted after a failed greeting")
}

func TestDispatch_StoreErrorSkipsGreeting(t *testing.T) {
	h := newHarness(t, script.PresetNumeric, Options{ExcludeGroups: true})
	h.dispatcher.store = errStore{}

	h.dispatcher.Dispatch(context.Background(), message("A", "1"))
	out := h.sender.reset()
	require.Len(t, out, 1)
	assert.Equal(t, "سعر المنتج هو 199 درهم.", out[0].Text)
}

func TestDispatch_RecoversFromPanic(t *testing.T) {
	h := newHarness(t, script.PresetNumeric, Options{ExcludeGroups: true})
	h.sender.panicText = "سعر المنتج هو 199 درهم."

	assert.NotPanics(t, func() {
		h.dispatcher.Dispatch(context.Background(), message("A", "1"))
	})
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.MessagesReceived.WithLabelValues(resultPanic)))

	// Other senders are unaffected
	h.sender.panicText = ""
	h.sender.reset()
	h.dispatcher.Dispatch(context.Background(), message("B", "hello"))
	assert.Len(t, h.sender.reset(), 2)
}

func TestDispatch_RecoversFromPanicInReminder(t *testing.T) {
	h := newHarness(t, script.PresetCommand, Options{ExcludeGroups: true})

	h.dispatcher.Dispatch(context.Background(), message("A", "hi"))
	h.sender.reset()
	require.Len(t, h.timers.pending, 1)

	h.sender.panicText = h.dispatcher.script.Reminder
	assert.NotPanics(t, h.timers.fireAll)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.MessagesReceived.WithLabelValues(resultPanic)))
	assert.Empty(t, h.sender.reset())
}

func TestDispatch_ExcludedGroupsGetNoFallback(t *testing.T) {
	h := newHarness(t, script.PresetCommand, Options{ExcludeGroups: true})
	ctx := context.Background()

	group := models.InboundMessage{ID: "g1", Sender: "120363@g.us", Text: "xyz", IsGroup: true}
	h.dispatcher.Dispatch(ctx, group)
	h.dispatcher.Dispatch(ctx, group)
	assert.Empty(t, h.sender.reset())

	// Keyword replies still apply in groups
	group.Text = "help"
	h.dispatcher.Dispatch(ctx, group)
	out := h.sender.reset()
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Text, "start")
}

func TestDispatch_GroupsGetFallbackWhenNotExcluded(t *testing.T) {
	h := newHarness(t, script.PresetCommand, Options{ExcludeGroups: false})
	ctx := context.Background()

	group := models.InboundMessage{ID: "g1", Sender: "120363@g.us", Text: "xyz", IsGroup: true}
	h.dispatcher.Dispatch(ctx, group)
	require.Len(t, h.sender.reset(), 1, "greeting only in the greeting turn")

	h.dispatcher.Dispatch(ctx, group)
	out := h.sender.reset()
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Text, "help")
}
