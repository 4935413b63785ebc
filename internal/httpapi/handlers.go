package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/halfmoon-games/lobbycore/internal/custom"
	"github.com/halfmoon-games/lobbycore/internal/party"
)

type partyView struct {
	SessionID string         `json:"session_id"`
	InParty   bool           `json:"in_party"`
	IsLeader  bool           `json:"is_leader"`
	Maxed     bool           `json:"maxed"`
	MaxSize   int            `json:"max_size"`
	Members   []party.Member `json:"members"`
}

type queueView struct {
	Status        string `json:"status"`
	CanQueue      bool   `json:"can_queue"`
	QueueID       string `json:"queue_id,omitempty"`
	SelectedQueue string `json:"selected_queue"`
	TimeInQueueMS int64  `json:"time_in_queue_ms"`
	KnownQueues   int    `json:"known_queues"`
}

type customView struct {
	InLobby   bool            `json:"in_lobby"`
	SessionID string          `json:"session_id,omitempty"`
	IsHost    bool            `json:"is_host"`
	Map       string          `json:"map,omitempty"`
	Members   []custom.Member `json:"members"`
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) partyState(w http.ResponseWriter, r *http.Request) {
	v, ok := s.onLoop(func() any {
		return partyView{
			SessionID: s.party.PartySessionID(),
			InParty:   s.party.IsInParty(),
			IsLeader:  s.party.IsLeader(),
			Maxed:     s.party.PartyMaxed(),
			MaxSize:   s.party.MaxPartySize(),
			Members:   s.party.Members(),
		}
	})
	s.writeJSON(w, v, ok)
}

func (s *Server) queueState(w http.ResponseWriter, r *http.Request) {
	v, ok := s.onLoop(func() any {
		qv := queueView{
			Status:        s.queue.CurrentMatchStatus().String(),
			CanQueue:      s.queue.CanQueue(),
			SelectedQueue: s.queue.SelectedQueueID(),
			TimeInQueueMS: s.queue.TimeInQueue().Milliseconds(),
			KnownQueues:   len(s.queue.Queues()),
		}
		if id, queued := s.queue.QueuedQueueID(); queued {
			qv.QueueID = id
		}
		return qv
	})
	s.writeJSON(w, v, ok)
}

func (s *Server) customState(w http.ResponseWriter, r *http.Request) {
	v, ok := s.onLoop(func() any {
		cv := customView{
			InLobby: s.custom.InLobby(),
			IsHost:  s.custom.IsLocalLeader(),
			Map:     s.custom.MapName(),
			Members: s.custom.Members(),
		}
		if sess := s.custom.LobbySession(); sess != nil {
			cv.SessionID = sess.ID
		}
		return cv
	})
	s.writeJSON(w, v, ok)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any, ok bool) {
	if !ok {
		http.Error(w, "state unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("response encode failed", zap.Error(err))
	}
}
