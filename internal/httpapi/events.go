package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/halfmoon-games/lobbycore/internal/notify"
)

type eventMsg struct {
	Channel string `json:"channel"`
	Payload any    `json:"payload,omitempty"`
}

// events streams every bus event to the client as JSON frames. Slow
// consumers lose events rather than stalling the loop.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	token := "http-events-" + uuid.NewString()
	out := make(chan notify.Event, 64)

	s.loop.Post(func() {
		s.bus.SubscribeAll(token, func(ev notify.Event) {
			select {
			case out <- ev:
			default:
				// Dropped; the snapshot endpoints recover the state.
			}
		})
	})
	// Unsubscribe and close on the same loop pass: no send can race the
	// close, and the close releases the writer goroutine.
	defer s.loop.Post(func() {
		s.bus.UnsubscribeAll(token)
		close(out)
	})

	// Writer goroutine
	writeCtx, writeCancel := context.WithCancel(r.Context())
	defer writeCancel()
	go func() {
		for ev := range out {
			payload, err := json.Marshal(eventMsg{Channel: ev.Channel, Payload: ev.Payload})
			if err != nil {
				s.log.Warn("event encode failed", zap.String("channel", ev.Channel), zap.Error(err))
				continue
			}
			ctx, cancel := context.WithTimeout(writeCtx, 3*time.Second)
			werr := conn.Write(ctx, websocket.MessageText, payload)
			cancel()
			if werr != nil {
				return
			}
		}
	}()

	// Reader loop; clients send nothing, we just wait for the close.
	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			return
		}
	}
}
