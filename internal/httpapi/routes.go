// Package httpapi exposes the session layer for inspection: JSON
// snapshots of the party, queue, and lobby state, and a websocket stream
// of bus events. Handlers never touch controller state directly; every
// read is posted onto the event loop and answered over a reply channel.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/halfmoon-games/lobbycore/internal/custom"
	"github.com/halfmoon-games/lobbycore/internal/notify"
	"github.com/halfmoon-games/lobbycore/internal/party"
	"github.com/halfmoon-games/lobbycore/internal/queue"
	"github.com/halfmoon-games/lobbycore/internal/runloop"
)

const replyTimeout = 2 * time.Second

// Server wires the controllers into an http.Handler.
type Server struct {
	log    *zap.Logger
	loop   *runloop.Loop
	bus    *notify.Bus
	party  *party.Reconciler
	queue  *queue.Controller
	custom *custom.Controller
}

func NewServer(log *zap.Logger, loop *runloop.Loop, bus *notify.Bus, p *party.Reconciler, q *queue.Controller, c *custom.Controller) *Server {
	return &Server{
		log:    log.Named("http"),
		loop:   loop,
		bus:    bus,
		party:  p,
		queue:  q,
		custom: c,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.healthz)
	r.Get("/party", s.partyState)
	r.Get("/queue", s.queueState)
	r.Get("/custom", s.customState)
	r.Get("/events", s.events)
	return r
}

// onLoop runs fn on the event loop and returns its result, failing when
// the loop does not answer in time.
func (s *Server) onLoop(fn func() any) (any, bool) {
	reply := make(chan any, 1)
	s.loop.Post(func() { reply <- fn() })
	select {
	case v := <-reply:
		return v, true
	case <-time.After(replyTimeout):
		return nil, false
	}
}
