package main

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Hub accepts websocket connections into the world and enforces the
// connection limits.
type Hub struct {
	world *World

	maxConnsPerIP int
	maxTotalConns int

	// Connection limiting (mutex-protected, accessed from HTTP handlers)
	connMu     sync.Mutex
	ipConns    map[string]int
	totalConns int
}

// NewHub creates a Hub serving the given world
func NewHub(world *World, cfg *Config) *Hub {
	return &Hub{
		world:         world,
		maxConnsPerIP: cfg.MaxConnsPerIP,
		maxTotalConns: cfg.MaxTotalConns,
		ipConns:       make(map[string]int),
	}
}

// TryAccept reserves a connection slot for ip, or reports that a limit is hit
func (h *Hub) TryAccept(ip string) bool {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.totalConns >= h.maxTotalConns {
		return false
	}
	if h.ipConns[ip] >= h.maxConnsPerIP {
		return false
	}
	h.ipConns[ip]++
	h.totalConns++
	return true
}

// TrackDisconnect releases a slot reserved by TryAccept
func (h *Hub) TrackDisconnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]--
	if h.ipConns[ip] <= 0 {
		delete(h.ipConns, ip)
	}
	h.totalConns--
}

// TotalConns returns the tracked connection count
func (h *Hub) TotalConns() int {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	return h.totalConns
}

// Serve registers an upgraded connection with the world and starts its pumps
func (h *Hub) Serve(conn *websocket.Conn, codec Codec, ip string) *Client {
	client := NewClient(h, conn, codec, ip)
	client.sess = h.world.Connect(client, ip)
	Log.Infow("socket opened", "conn", client.sess.ConnID, "remote", ip, "codec", codec.Name())

	go client.WritePump()
	go client.ReadPump()
	return client
}
