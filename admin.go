package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/skip2/go-qrcode"
)

const (
	inviteQRSize     = 256
	statsEventDays   = 7
	statsRecentLimit = 20
)

// Admin serves the operator endpoints
type Admin struct {
	world   *World
	hub     *Hub
	auth    *AdminAuth // nil disables login and stats
	journal *Journal
}

// NewAdmin creates the admin handlers
func NewAdmin(world *World, hub *Hub, auth *AdminAuth, journal *Journal) *Admin {
	return &Admin{world: world, hub: hub, auth: auth, journal: journal}
}

type adminLoginReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// HandleLogin exchanges admin credentials for a bearer token
// POST /admin/login {"username": "...", "password": "..."}
func (a *Admin) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if a.auth == nil {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req adminLoginReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	token, err := a.auth.Login(req.Username, req.Password, extractIP(r))
	if err != nil {
		Log.Warnw("admin login failed", "remote", extractIP(r), "err", err)
		status := http.StatusInternalServerError
		if errors.Is(err, ErrAuth) {
			status = http.StatusUnauthorized
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, map[string]string{"token": token})
}

// HandleStats reports world, metrics and journal figures
// GET /admin/stats with Authorization: Bearer <token>
func (a *Admin) HandleStats(w http.ResponseWriter, r *http.Request) {
	if a.auth == nil {
		http.NotFound(w, r)
		return
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}
	if _, err := a.auth.ValidateToken(token); err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	payload := map[string]any{
		"world":   a.world.Stats(),
		"sockets": a.hub.TotalConns(),
		"metrics": a.world.Metrics().Snapshot(),
	}
	if counts, err := a.journal.EventCounts(statsEventDays); err != nil {
		Log.Errorf("stats: event counts: %v", err)
	} else if counts != nil {
		payload["events"] = counts
	}
	if recent, err := a.journal.RecentEvents(statsRecentLimit); err != nil {
		Log.Errorf("stats: recent events: %v", err)
	} else if recent != nil {
		payload["recent"] = recent
	}
	writeJSON(w, payload)
}

// HandleInvite renders a QR code of this server's websocket URL
func (a *Admin) HandleInvite(w http.ResponseWriter, r *http.Request) {
	scheme := "ws"
	if r.TLS != nil {
		scheme = "wss"
	}
	png, err := qrcode.Encode(scheme+"://"+r.Host+"/ws", qrcode.Medium, inviteQRSize)
	if err != nil {
		http.Error(w, "qr encode failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(png)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
