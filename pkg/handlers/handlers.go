package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"html/template"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/skip2/go-qrcode"

	"promo-autoresponder/pkg/constants"
	"promo-autoresponder/pkg/cooldown"
	"promo-autoresponder/pkg/models"
)

const (
	alreadyReadyText = "WhatsApp client is already ready!"
	qrPendingText    = "QR Code not yet generated. Please wait and refresh..."
	qrImageSize      = 256
)

// Session is the part of the session supervisor served over HTTP
type Session interface {
	State() models.SessionState
	QRCode() string
	Status() models.SessionStatus
	Restart(ctx context.Context) error
}

var qrPage = template.Must(template.New("qr").Parse(`<html>
	<head>
		<title>WhatsApp QR Code</title>
		<meta name="viewport" content="width=device-width, initial-scale=1">
		<meta http-equiv="refresh" content="{{.Refresh}}">
		<style>
			body { display: flex; justify-content: center; align-items: center; height: 100vh; margin: 0; background-color: #f0f2f5; }
			.container { text-align: center; padding: 20px; background: white; border-radius: 10px; box-shadow: 0 2px 5px rgba(0,0,0,0.1); }
			img { max-width: 300px; height: auto; }
		</style>
	</head>
	<body>
		<div class="container">
			<h2>Scan QR Code to Login</h2>
			<img src="{{.Image}}" alt="WhatsApp QR Code"/>
			<p>Status: Waiting for scan...</p>
			<p>Page will refresh automatically every {{.Refresh}} seconds</p>
		</div>
	</body>
</html>
`))

type Handler struct {
	session    Session
	store      cooldown.Store
	instanceID string
	logger     *logrus.Logger
}

func NewHandler(session Session, store cooldown.Store, instanceID string, logger *logrus.Logger) *Handler {
	return &Handler{
		session:    session,
		store:      store,
		instanceID: instanceID,
		logger:     logger,
	}
}

// QRPage renders the pending pairing code, or a plain notice when the
// session is ready or no code has been issued yet.
func (h *Handler) QRPage(w http.ResponseWriter, r *http.Request) {
	if h.session.State() == models.StateReady {
		writeText(w, http.StatusOK, alreadyReadyText)
		return
	}

	code := h.session.QRCode()
	if code == "" {
		writeText(w, http.StatusOK, qrPendingText)
		return
	}

	png, err := qrcode.Encode(code, qrcode.Medium, qrImageSize)
	if err != nil {
		h.logger.WithError(err).Error("Failed to render QR code")
		http.Error(w, "Failed to render QR code", http.StatusInternalServerError)
		return
	}

	data := struct {
		Image   template.URL
		Refresh int
	}{
		Image:   template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(png)),
		Refresh: constants.DefaultQRRefreshSeconds,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := qrPage.Execute(w, data); err != nil {
		h.logger.WithError(err).Error("Failed to write QR page")
	}
}

func (h *Handler) QRImage(w http.ResponseWriter, r *http.Request) {
	code := h.session.QRCode()
	if code == "" {
		http.Error(w, "No pending QR code", http.StatusNotFound)
		return
	}

	png, err := qrcode.Encode(code, qrcode.Medium, qrImageSize)
	if err != nil {
		h.logger.WithError(err).Error("Failed to render QR code")
		http.Error(w, "Failed to render QR code", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(png)
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	status := h.session.Status()

	greeted, err := h.store.Len(r.Context())
	if err != nil {
		h.logger.WithError(err).Warn("Failed to count greeted senders")
		greeted = -1
	}

	readiness := "waiting"
	if status.Ready {
		readiness = "ready"
	}

	response := map[string]interface{}{
		"status":          readiness,
		"state":           status.State,
		"session":         status,
		"greeted_senders": greeted,
		"instance_id":     h.instanceID,
		"timestamp":       time.Now(),
	}

	writeJSON(w, http.StatusOK, response)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.Len(r.Context()); err != nil {
		h.logger.WithError(err).Error("Health check failed")
		http.Error(w, "Health check failed", http.StatusServiceUnavailable)
		return
	}

	state := h.session.State()
	response := map[string]interface{}{
		"status":      "healthy",
		"state":       state.String(),
		"ready":       state == models.StateReady,
		"instance_id": h.instanceID,
		"timestamp":   time.Now(),
	}

	writeJSON(w, http.StatusOK, response)
}

func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusOK, constants.PingResponse)
}

func (h *Handler) Restart(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Restart(r.Context()); err != nil {
		h.logger.WithError(err).Error("Failed to request session restart")
		http.Error(w, "Failed to restart session", http.StatusServiceUnavailable)
		return
	}

	h.logger.WithField("remote", r.RemoteAddr).Info("Session restart requested")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "WhatsApp client is restarting...",
	})
}

// ReleaseSender drops a sender from the greeted set so their next message
// is greeted again. Once-mode entries are released the same way.
func (h *Handler) ReleaseSender(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sender := vars["sender"]

	if sender == "" {
		http.Error(w, "Missing sender", http.StatusBadRequest)
		return
	}

	if err := h.store.Release(r.Context(), sender); err != nil {
		h.logger.WithError(err).WithField("sender", sender).Error("Failed to release greeted sender")
		http.Error(w, "Failed to release sender", http.StatusServiceUnavailable)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"sender": sender,
		"remote": r.RemoteAddr,
	}).Info("Greeted sender released")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "released",
		"sender": sender,
	})
}

func writeText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(text))
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
