// Package websocket streams live alerts to the admin dashboard.
package websocket

import (
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/estatia/backend/internal/events"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     buildCheckOrigin(),
}

// buildCheckOrigin validates origins against ALLOWED_ORIGINS in production
// and allows everything elsewhere.
func buildCheckOrigin() func(r *http.Request) bool {
	env := os.Getenv("APP_ENV")
	allowedRaw := os.Getenv("ALLOWED_ORIGINS")

	if env == "production" && allowedRaw != "" {
		allowed := make(map[string]bool)
		for _, origin := range strings.Split(allowedRaw, ",") {
			allowed[strings.TrimSpace(origin)] = true
		}
		return func(r *http.Request) bool {
			return allowed[r.Header.Get("Origin")]
		}
	}

	return func(r *http.Request) bool { return true }
}

// AlertStream fans alert events out to connected dashboard sockets.
type AlertStream struct {
	bus    *events.EventBus
	logger *log.Logger
}

// NewAlertStream creates the stream over the in-memory side of the bus.
func NewAlertStream(bus *events.EventBus) *AlertStream {
	return &AlertStream{
		bus:    bus,
		logger: log.New(log.Writer(), "[WS-ALERTS] ", log.LstdFlags),
	}
}

// HandleWebSocket upgrades the connection and forwards alert events until
// the client disconnects. Each connection gets its own bus subscription;
// slow clients miss events rather than blocking the bus.
func (as *AlertStream) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		as.logger.Printf("Upgrade failed: %v", err)
		return
	}

	sub := as.bus.Subscribe(events.TypeAlertRaised)
	as.logger.Printf("Dashboard connected: %s", r.RemoteAddr)

	defer func() {
		as.bus.Unsubscribe(sub)
		conn.Close()
		as.logger.Printf("Dashboard disconnected: %s", r.RemoteAddr)
	}()

	// Reader goroutine: we only care about close/error detection.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case event, ok := <-sub:
			if !ok {
				return
			}
			payload, err := event.JSON()
			if err != nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
