package order_api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"ms-tickets/internal/reconcile"
	"ms-tickets/internal/utils"
)

// ConfirmationStream drives a reconcile.Poller for one checkout and streams
// its snapshots as "status" events. The stream ends after a terminal
// snapshot; the client reconnects to retry. A webhook for the same order or
// session wakes the poller early.
func (h *Handler) ConfirmationStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	orderID := r.URL.Query().Get("order_id")
	if sessionID == "" && orderID == "" {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Missing reference", "session_id or order_id is required"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	cfg := reconcile.Config{
		SessionID:    sessionID,
		OrderID:      orderID,
		MaxRetries:   h.Poll.MaxRetries,
		Interval:     h.Poll.Interval,
		After:        h.Poll.After,
		SupportEmail: h.Poll.SupportEmail,
		Logger:       h.Logger,
		Metrics:      h.Metrics,
	}
	if h.Hub != nil {
		cfg.Wake = h.Hub.Subscribe(ctx, orderID, sessionID)
	}

	// the poller may run ahead of a slow client; only the latest snapshot matters
	changed := make(chan struct{}, 1)
	cfg.OnChange = func(reconcile.Snapshot) {
		select {
		case changed <- struct{}{}:
		default:
		}
	}

	poller := reconcile.New(h.OrderService, cfg)
	defer poller.Close()

	h.setupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.Logger.Info("SSE", fmt.Sprintf("Confirmation stream opened: session=%s order=%s", sessionID, orderID))
	poller.Start(ctx)

	resolved := orderID
	for {
		select {
		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Client disconnected: session=%s order=%s", sessionID, resolved))
			return
		case <-changed:
		}

		snap := poller.Snapshot()
		if resolved == "" && snap.OrderID != "" {
			resolved = snap.OrderID
			writeEvent(w, "resolved", map[string]string{"orderId": resolved})
		}
		if err := writeEvent(w, "status", snap); err != nil {
			h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize snapshot: %v", err))
			return
		}
		flusher.Flush()

		if snap.State.Terminal() {
			h.Logger.Info("SSE", fmt.Sprintf("Confirmation stream closed in %s for %s", snap.State, firstNonEmpty(resolved, sessionID)))
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (h *Handler) setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("X-XSS-Protection", "0")
	w.Header().Set("Referrer-Policy", "no-referrer")
}
