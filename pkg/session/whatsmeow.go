package session

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"golang.org/x/time/rate"
	"google.golang.org/protobuf/proto"

	"promo-autoresponder/pkg/logging"
	"promo-autoresponder/pkg/models"
)

type ConnectorConfig struct {
	Dialect string
	DSN     string
	// SendRatePerSec limits outbound sends; zero or less disables the limit
	SendRatePerSec float64
}

// Connector opens the device store once and builds whatsmeow connections
// on top of it.
type Connector struct {
	container *sqlstore.Container
	limiter   *rate.Limiter
	waLog     waLog.Logger
	logger    *logrus.Logger
}

func NewConnector(ctx context.Context, cfg ConnectorConfig, logger *logrus.Logger) (*Connector, error) {
	dialect := normalizeDialect(cfg.Dialect)
	if dialect == "sqlite3" {
		if err := ensureSQLiteDir(cfg.DSN); err != nil {
			return nil, err
		}
	}

	container, err := sqlstore.New(ctx, dialect, cfg.DSN, logging.ForWhatsmeow(logger, "Database"))
	if err != nil {
		return nil, fmt.Errorf("failed to open device store: %w", err)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.SendRatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.SendRatePerSec), 1)
	}

	logger.WithFields(logrus.Fields{
		"dialect":       dialect,
		"send_rate_sec": cfg.SendRatePerSec,
	}).Info("Device store opened")

	return &Connector{
		container: container,
		limiter:   limiter,
		waLog:     logging.ForWhatsmeow(logger, "Client"),
		logger:    logger,
	}, nil
}

// New is a Factory building a fresh client over the first stored device.
// A new device is created when the store is empty, which triggers pairing.
func (c *Connector) New(ctx context.Context, emit EmitFunc) (Conn, error) {
	device, err := c.container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load device: %w", err)
	}

	client := whatsmeow.NewClient(device, c.waLog)
	client.EnableAutoReconnect = false

	conn := &whatsmeowConn{
		client:  client,
		emit:    emit,
		limiter: c.limiter,
		logger:  c.logger,
	}
	client.AddEventHandler(conn.handleEvent)

	return conn, nil
}

func (c *Connector) Close() error {
	return c.container.Close()
}

type whatsmeowConn struct {
	client  *whatsmeow.Client
	emit    EmitFunc
	limiter *rate.Limiter
	logger  *logrus.Logger

	mu       sync.Mutex
	cancelQR context.CancelFunc
}

func (w *whatsmeowConn) Connect(ctx context.Context) error {
	if w.client.Store.ID != nil {
		if err := w.client.Connect(); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		return nil
	}

	qrCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancelQR = cancel
	w.mu.Unlock()

	qrChan, err := w.client.GetQRChannel(qrCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to open QR channel: %w", err)
	}

	if err := w.client.Connect(); err != nil {
		cancel()
		return fmt.Errorf("failed to connect: %w", err)
	}

	go w.watchQR(qrChan)
	return nil
}

func (w *whatsmeowConn) watchQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			w.emit(models.SessionEvent{Kind: models.EventQR, QRCode: item.Code})
		case whatsmeow.QRChannelSuccess.Event:
			w.emit(models.SessionEvent{Kind: models.EventAuthenticated})
		case whatsmeow.QRChannelTimeout.Event:
			w.emit(models.SessionEvent{Kind: models.EventDisconnected, Reason: "qr timeout"})
		default:
			reason := item.Event
			if item.Error != nil {
				reason = fmt.Sprintf("%s: %v", item.Event, item.Error)
			}
			w.emit(models.SessionEvent{Kind: models.EventDisconnected, Reason: reason})
		}
	}
}

func (w *whatsmeowConn) Disconnect() {
	w.mu.Lock()
	if w.cancelQR != nil {
		w.cancelQR()
		w.cancelQR = nil
	}
	w.mu.Unlock()

	w.client.Disconnect()
}

func (w *whatsmeowConn) IsConnected() bool {
	return w.client.IsConnected() && w.client.IsLoggedIn()
}

// Reset logs the device out when possible and always deletes it from the
// store, so the next connection starts pairing from scratch.
func (w *whatsmeowConn) Reset(ctx context.Context) error {
	if w.client.Store.ID == nil {
		return nil
	}

	if w.client.IsConnected() {
		err := w.client.Logout(ctx)
		if err == nil {
			return nil
		}
		w.logger.WithError(err).Warn("Logout failed, deleting device from store")
	}

	if err := w.client.Store.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	return nil
}

func (w *whatsmeowConn) SendText(ctx context.Context, to, text string) error {
	jid, err := types.ParseJID(to)
	if err != nil {
		return fmt.Errorf("invalid recipient %q: %w", to, err)
	}
	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}

	_, err = w.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return fmt.Errorf("failed to send text: %w", err)
	}
	return nil
}

func (w *whatsmeowConn) SendMedia(ctx context.Context, to string, media models.MediaRef, caption string) error {
	jid, err := types.ParseJID(to)
	if err != nil {
		return fmt.Errorf("invalid recipient %q: %w", to, err)
	}

	data, err := os.ReadFile(media.Path)
	if err != nil {
		return fmt.Errorf("failed to read media: %w", err)
	}

	mimeType := media.MimeType
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(media.Path))
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}

	uploaded, err := w.client.Upload(ctx, data, whatsmeow.MediaImage)
	if err != nil {
		return fmt.Errorf("failed to upload media: %w", err)
	}

	_, err = w.client.SendMessage(ctx, jid, &waE2E.Message{
		ImageMessage: &waE2E.ImageMessage{
			Caption:       proto.String(caption),
			Mimetype:      proto.String(mimeType),
			URL:           &uploaded.URL,
			DirectPath:    &uploaded.DirectPath,
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    &uploaded.FileLength,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send media: %w", err)
	}
	return nil
}

func (w *whatsmeowConn) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.PairSuccess:
		w.logger.WithField("jid", v.ID.String()).Info("Device paired")
		w.emit(models.SessionEvent{Kind: models.EventAuthenticated})

	case *events.Connected:
		w.emit(models.SessionEvent{Kind: models.EventAuthenticated})
		w.emit(models.SessionEvent{Kind: models.EventReady})

	case *events.Disconnected:
		w.emit(models.SessionEvent{Kind: models.EventDisconnected, Reason: "connection closed"})

	case *events.StreamReplaced:
		w.emit(models.SessionEvent{Kind: models.EventDisconnected, Reason: "stream replaced"})

	case *events.TemporaryBan:
		w.emit(models.SessionEvent{Kind: models.EventDisconnected, Reason: v.String()})

	case *events.ConnectFailure:
		if v.Reason.IsLoggedOut() {
			w.emit(models.SessionEvent{Kind: models.EventAuthFailure, Reason: v.Reason.String()})
			return
		}
		w.emit(models.SessionEvent{Kind: models.EventDisconnected, Reason: v.Reason.String()})

	case *events.LoggedOut:
		w.emit(models.SessionEvent{Kind: models.EventAuthFailure, Reason: v.Reason.String()})

	case *events.Message:
		if msg, ok := inboundMessage(v); ok {
			w.emit(models.SessionEvent{Kind: models.EventMessage, Message: msg})
		}
	}
}

// inboundMessage converts a whatsmeow message event. Own messages and status
// broadcasts are skipped.
func inboundMessage(v *events.Message) (*models.InboundMessage, bool) {
	if v.Info.IsFromMe || v.Info.Chat == types.StatusBroadcastJID {
		return nil, false
	}

	return &models.InboundMessage{
		ID:        v.Info.ID,
		Sender:    v.Info.Chat.String(),
		Text:      messageText(v.Message),
		IsGroup:   v.Info.IsGroup,
		HasMedia:  hasMedia(v.Message),
		Timestamp: v.Info.Timestamp,
	}, true
}

func messageText(msg *waE2E.Message) string {
	switch {
	case msg.GetConversation() != "":
		return msg.GetConversation()
	case msg.GetExtendedTextMessage() != nil:
		return msg.GetExtendedTextMessage().GetText()
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage().GetCaption()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage().GetCaption()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage().GetCaption()
	}
	return ""
}

func hasMedia(msg *waE2E.Message) bool {
	return msg.GetImageMessage() != nil ||
		msg.GetVideoMessage() != nil ||
		msg.GetAudioMessage() != nil ||
		msg.GetDocumentMessage() != nil ||
		msg.GetStickerMessage() != nil
}

func normalizeDialect(dialect string) string {
	switch strings.ToLower(strings.TrimSpace(dialect)) {
	case "postgres", "postgresql":
		return "postgres"
	default:
		return "sqlite3"
	}
}

// ensureSQLiteDir creates the directory of a file DSN such as
// "file:sessions/whatsapp.db?_foreign_keys=on"
func ensureSQLiteDir(dsn string) error {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create session directory %s: %w", dir, err)
	}
	return nil
}
