package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"pesanaja/backend/internal/notifier"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsPingInterval = 30 * time.Second
	wsReadLimit    = 4 << 10
)

// wsFrame is the wire envelope for both directions of the real-time
// channel.
type wsFrame struct {
	Type      string `json:"type"`
	DataType  string `json:"dataType,omitempty"`
	Data      any    `json:"data,omitempty"`
	Status    string `json:"status,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// handleWS upgrades the connection and streams change events until the
// client goes away. Tokens arrive via the Authorization header or, for
// clients that cannot set headers on the upgrade request, a token query
// parameter.
func (a *API) handleWS(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			token = strings.TrimSpace(authorization[len("Bearer "):])
		}
	}
	if _, err := a.auth.ParseToken(token); err != nil {
		writeError(w, http.StatusUnauthorized, errors.New("missing or invalid token"))
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     a.checkWSOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}

	sub := a.hub.Subscribe()
	defer a.hub.Unsubscribe(sub)
	defer conn.Close()

	conn.SetReadLimit(wsReadLimit)

	// All writes go through the writer goroutine; gorilla connections
	// support one concurrent writer only.
	outbound := make(chan wsFrame, 16)
	done := make(chan struct{})
	go wsWriter(conn, sub, outbound, done)
	defer close(done)

	outbound <- wsFrame{
		Type:      "connection_status",
		Status:    "connected",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	// Reader loop: ping and subscribe control frames only. Anything else is
	// ignored so old client builds do not get disconnected.
	for {
		var frame wsFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		switch frame.Type {
		case "ping":
			select {
			case outbound <- wsFrame{Type: "pong", Timestamp: time.Now().UTC().Format(time.RFC3339)}:
			case <-done:
				return
			}
		case "subscribe":
			select {
			case outbound <- wsFrame{Type: "subscribed", Timestamp: time.Now().UTC().Format(time.RFC3339)}:
			case <-done:
				return
			}
		}
	}
}

// wsWriter pumps hub events and control replies to the client and sends
// transport-level pings so half-open connections are detected and reaped.
func wsWriter(conn *websocket.Conn, sub *notifier.Subscriber, outbound <-chan wsFrame, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(wsWriteTimeout))
				_ = conn.Close()
				return
			}
			if err := writeFrame(conn, wsFrame{
				Type:      "data_change",
				DataType:  event.Kind,
				Data:      event.Payload,
				Timestamp: event.Timestamp.Format(time.RFC3339),
			}); err != nil {
				_ = conn.Close()
				return
			}
		case frame := <-outbound:
			if err := writeFrame(conn, frame); err != nil {
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				_ = conn.Close()
				return
			}
		case <-done:
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, frame wsFrame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (a *API) checkWSOrigin(r *http.Request) bool {
	if a.allowedOrigin == "*" {
		return true
	}
	origin := r.Header.Get("Origin")
	// Native device apps send no Origin header.
	return origin == "" || origin == a.allowedOrigin
}
