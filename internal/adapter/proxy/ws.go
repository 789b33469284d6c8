package proxy

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/Strob0t/GowaManager/internal/domain/instance"
)

// WebSocket proxies an upgrade on /<prefix>/<key>/ws to the child. A plain
// HTTP request on the same path falls through to the HTTP forwarder.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if !isUpgrade(r) {
		h.Forward(w, r)
		return
	}

	inst, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if inst.Status != instance.StatusRunning || inst.Port == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error":       "Instance is not running",
			"instanceKey": inst.Key,
			"success":     false,
		})
		return
	}

	upstream := "ws://127.0.0.1:" + strconv.Itoa(*inst.Port) + r.URL.Path
	if r.URL.RawQuery != "" {
		upstream += "?" + r.URL.RawQuery
	}

	// Forward handshake headers (cookies, auth) but let the dialer own the
	// upgrade mechanics.
	hdr := make(http.Header)
	copyHeaders(hdr, r.Header)
	for _, k := range []string{"Sec-Websocket-Key", "Sec-Websocket-Version", "Sec-Websocket-Protocol", "Sec-Websocket-Extensions"} {
		hdr.Del(k)
	}

	ctx := r.Context()
	up, _, err := websocket.Dial(ctx, upstream, &websocket.DialOptions{
		HTTPHeader:   hdr,
		Subprotocols: subprotocols(r),
	})
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error": err.Error(), "success": false,
		})
		return
	}

	acceptOpts := &websocket.AcceptOptions{InsecureSkipVerify: true}
	if sp := up.Subprotocol(); sp != "" {
		acceptOpts.Subprotocols = []string{sp}
	}
	client, err := websocket.Accept(w, r, acceptOpts)
	if err != nil {
		_ = up.Close(websocket.StatusInternalError, "client upgrade failed")
		return
	}

	connID := uuid.NewString()
	h.trackWS(inst.Key, connID, up)
	defer h.untrackWS(inst.Key, connID)

	slog.Info("websocket proxied", "key", inst.Key, "conn", connID, "upstream", upstream)

	pipeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 2)
	go func() { done <- pipe(pipeCtx, up, client) }()
	go func() { done <- pipe(pipeCtx, client, up) }()

	// First side to fail (or close) tears down both.
	err = <-done
	cancel()
	closeBoth(client, up, err)
	<-done
}

// pipe copies frames from src to dst until either side fails.
func pipe(ctx context.Context, dst, src *websocket.Conn) error {
	for {
		typ, data, err := src.Read(ctx)
		if err != nil {
			return err
		}
		if err := dst.Write(ctx, typ, data); err != nil {
			return err
		}
	}
}

// closeBoth propagates the close status from whichever side ended first.
func closeBoth(a, b *websocket.Conn, err error) {
	status := websocket.CloseStatus(err)
	reason := ""
	if status == -1 {
		status = websocket.StatusAbnormalClosure
		if err != nil {
			reason = err.Error()
		}
	}
	if len(reason) > 120 {
		reason = reason[:120]
	}
	_ = a.Close(status, reason)
	_ = b.Close(status, reason)
}

// trackWS registers an open upstream connection for bookkeeping.
func (h *Handler) trackWS(key, connID string, conn *websocket.Conn) {
	h.wsMu.Lock()
	defer h.wsMu.Unlock()
	m := h.ws[key]
	if m == nil {
		m = make(map[string]*websocket.Conn)
		h.ws[key] = m
	}
	m[connID] = conn
}

func (h *Handler) untrackWS(key, connID string) {
	h.wsMu.Lock()
	defer h.wsMu.Unlock()
	if m := h.ws[key]; m != nil {
		delete(m, connID)
		if len(m) == 0 {
			delete(h.ws, key)
		}
	}
}

// OpenConnections reports the number of proxied sockets per instance key.
func (h *Handler) OpenConnections() map[string]int {
	h.wsMu.Lock()
	defer h.wsMu.Unlock()
	out := make(map[string]int, len(h.ws))
	for key, m := range h.ws {
		out[key] = len(m)
	}
	return out
}

// CloseAll tears down every proxied upstream socket; used on shutdown.
func (h *Handler) CloseAll() {
	h.wsMu.Lock()
	defer h.wsMu.Unlock()
	for key, m := range h.ws {
		for id, conn := range m {
			_ = conn.Close(websocket.StatusGoingAway, "manager shutting down")
			delete(m, id)
		}
		delete(h.ws, key)
	}
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

func subprotocols(r *http.Request) []string {
	raw := r.Header.Get("Sec-Websocket-Protocol")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
