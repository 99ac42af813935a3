// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/uwb_tag/internal/config"
)

// Report kinds, used as /api/<kind> paths and as the websocket envelope type.
const (
	kindRange    = "range"
	kindPosition = "position"
	kindStats    = "stats"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// envelope wraps a report pushed to websocket clients.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// webServer keeps the latest payload of each report kind and fans updates
// out to websocket clients.
type webServer struct {
	mu     sync.RWMutex
	latest map[string]json.RawMessage

	clientsMu sync.Mutex
	clients   map[*websocket.Conn]bool

	staticDir string
}

func newWebServer(staticDir string) *webServer {
	return &webServer{
		latest:    map[string]json.RawMessage{},
		clients:   map[*websocket.Conn]bool{},
		staticDir: staticDir,
	}
}

// update stores payload as the latest report of kind and broadcasts it.
func (s *webServer) update(kind string, payload []byte) error {
	if !json.Valid(payload) {
		return fmt.Errorf("invalid %s payload", kind)
	}
	raw := json.RawMessage(append([]byte(nil), payload...))

	s.mu.Lock()
	s.latest[kind] = raw
	s.mu.Unlock()

	msg, err := json.Marshal(envelope{Type: kind, Data: raw})
	if err != nil {
		return err
	}
	s.broadcast(msg)
	return nil
}

func (s *webServer) broadcast(msg []byte) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for c := range s.clients {
		if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
			log.Printf("web: websocket write error: %v", err)
			delete(s.clients, c)
			if err := closeClient(c); err != nil {
				log.Printf("web: failed to close websocket: %v", err)
			}
		}
	}
}

func (s *webServer) handleLatest(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		raw, ok := s.latest[kind]
		s.mu.RUnlock()

		if !ok {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write(raw); err != nil {
			log.Printf("web: write error: %v", err)
		}
	}
}

// handleWS upgrades to a websocket, replays the latest reports and registers
// the client for broadcasts.
func (s *webServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.clientsMu.Lock()
	s.mu.RLock()
	for _, kind := range []string{kindRange, kindPosition, kindStats} {
		raw, ok := s.latest[kind]
		if !ok {
			continue
		}
		msg, err := json.Marshal(envelope{Type: kind, Data: raw})
		if err == nil {
			_ = conn.WriteMessage(websocket.TextMessage, msg)
		}
	}
	s.mu.RUnlock()
	s.clients[conn] = true
	s.clientsMu.Unlock()

	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, conn)
			s.clientsMu.Unlock()
			if err := closeClient(conn); err != nil {
				log.Printf("web: failed to close websocket: %v", err)
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// closeClient closes c. A conn already closed by the other side of the
// broadcast/reader pair is not an error.
func closeClient(c *websocket.Conn) error {
	if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (s *webServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/range", s.handleLatest(kindRange))
	mux.HandleFunc("/api/position", s.handleLatest(kindPosition))
	mux.HandleFunc("/api/stats", s.handleLatest(kindStats))
	mux.HandleFunc("/ws", s.handleWS)

	// Static files from ./web as the root
	mux.Handle("/", http.FileServer(http.Dir(s.staticDir)))
	return mux
}

func RunWeb() error {
	cfg := config.Get()
	srv := newWebServer("web")

	// 1) Connect to MQTT broker
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDWeb)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	log.Printf("web: connected to MQTT broker at %s", cfg.MQTTBroker)

	// 2) Subscribe to every report topic
	topics := map[string]string{
		cfg.TopicRange:    kindRange,
		cfg.TopicPosition: kindPosition,
		cfg.TopicStats:    kindStats,
	}
	for topic, kind := range topics {
		token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			if err := srv.update(kind, msg.Payload()); err != nil {
				log.Printf("web: %s: %v", topic, err)
			}
		})
		token.Wait()
		if token.Error() != nil {
			return token.Error()
		}
		log.Printf("web: subscribed to MQTT topic %s", topic)
	}

	addr := fmt.Sprintf(":%d", cfg.WebServerPort)
	log.Printf("web: server listening on %s", addr)
	return http.ListenAndServe(addr, srv.handler())
}
