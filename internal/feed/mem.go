// Package feed provides an in-memory session feed: an authoritative
// session store that applies commands and emits the same push events the
// production transport would. Tests use it to script command/push races;
// the demo daemon uses it as a stand-in backend.
package feed

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/halfmoon-games/lobbycore/internal/session"
)

// Command names accepted by FailNext.
const (
	OpCreateOrJoin    = "create_or_join"
	OpJoinByID        = "join_by_id"
	OpJoinQueue       = "join_queue"
	OpLeaveQueue      = "leave_queue"
	OpLeave           = "leave"
	OpInvitePlayer    = "invite_player"
	OpChangeTeam      = "change_team"
	OpUpdateInfo      = "update_info"
	OpRequestInstance = "request_instance"
)

type subscriber struct {
	name string
	ev   session.Events
}

var _ session.Feed = (*Mem)(nil)

// Mem implements session.Feed against an in-memory session table. By
// default commands complete inline; with Defer set they queue until
// Flush, so tests can interleave pushes between a command and its
// completion.
type Mem struct {
	// Local is the player all commands act on behalf of.
	Local uuid.UUID
	// TeamLayout gives the team max sizes used when creating a session
	// of a given type. Types without an entry get one unbounded team.
	TeamLayout map[string][]int
	// Queues is returned by SearchQueues.
	Queues []session.QueueInfo
	// BrowserSessions is returned by SearchSessions.
	BrowserSessions []*session.Session
	// InstanceJoinStatus is assigned to instances spun up by
	// RequestInstance.
	InstanceJoinStatus session.JoinStatus
	// Defer queues command effects until Flush.
	Defer bool

	sessions []*session.Session
	subs     []subscriber
	watched  map[string]bool
	failNext map[string]bool
	pending  []func()
	nextID   int
}

func NewMem(local uuid.UUID) *Mem {
	return &Mem{
		Local:              local,
		TeamLayout:         make(map[string][]int),
		InstanceJoinStatus: session.JoinStatusJoinable,
		watched:            make(map[string]bool),
		failNext:           make(map[string]bool),
	}
}

// FailNext makes the next command with the given op name report failure
// without touching state.
func (m *Mem) FailNext(op string) {
	m.failNext[op] = true
}

// Watched reports whether presence watching is enabled for a session.
func (m *Mem) Watched(sessionID string) bool {
	return m.watched[sessionID]
}

// Flush runs queued command effects in order. A no-op when Defer is off.
func (m *Mem) Flush() {
	for len(m.pending) > 0 {
		fn := m.pending[0]
		m.pending = m.pending[1:]
		fn()
	}
}

func (m *Mem) run(fn func()) {
	if m.Defer {
		m.pending = append(m.pending, fn)
		return
	}
	fn()
}

func (m *Mem) takeFailure(op string) bool {
	if m.failNext[op] {
		delete(m.failNext, op)
		return true
	}
	return false
}

// --- queries ---

func (m *Mem) SessionByID(id string) *session.Session {
	for _, s := range m.sessions {
		if s.ID == id {
			return s
		}
	}
	return nil
}

func (m *Mem) FirstSessionByType(sessionType string) *session.Session {
	for _, s := range m.sessions {
		if s.Type == sessionType {
			return s
		}
	}
	return nil
}

func (m *Mem) FirstJoinedByType(sessionType string) *session.Session {
	for _, s := range m.sessions {
		if s.Type == sessionType && s.Shape == session.ShapeJoined {
			return s
		}
	}
	return nil
}

func (m *Mem) JoinedByType(sessionType string) []*session.Session {
	var out []*session.Session
	for _, s := range m.sessions {
		if s.Type == sessionType && s.Shape == session.ShapeJoined {
			out = append(out, s)
		}
	}
	return out
}

func (m *Mem) InvitedByType(sessionType string) []*session.Session {
	var out []*session.Session
	for _, s := range m.sessions {
		if s.Type == sessionType && s.Shape == session.ShapeInvited {
			out = append(out, s)
		}
	}
	return out
}

// --- commands ---

func (m *Mem) CreateOrJoin(p session.CreateParams, done session.CommandFunc) {
	m.run(func() {
		if m.takeFailure(OpCreateOrJoin) {
			complete(done, false, nil)
			return
		}
		if existing := m.FirstJoinedByType(p.Type); existing != nil {
			complete(done, true, existing)
			return
		}
		layout := m.TeamLayout[p.Type]
		if len(layout) == 0 {
			layout = []int{0}
		}
		s := &session.Session{
			ID:       m.newID(p.Type),
			Type:     p.Type,
			Shape:    session.ShapeJoined,
			RegionID: p.RegionID,
			Joinable: true,
			Custom:   make(map[string]string),
			Browser:  make(map[string]string),
		}
		for _, size := range layout {
			s.Teams = append(s.Teams, session.Team{MaxSize: size})
		}
		s.Teams[0].Players = append(s.Teams[0].Players, session.Player{ID: m.Local, Status: session.StatusLeader})
		m.sessions = append(m.sessions, s)
		m.emitAdded(s)
		complete(done, true, s)
	})
}

func (m *Mem) JoinByID(id string, teamID int, done session.CommandFunc) {
	m.run(func() {
		if m.takeFailure(OpJoinByID) {
			complete(done, false, nil)
			return
		}
		s := m.SessionByID(id)
		if s == nil {
			// Allow joining straight out of browser search results.
			for _, b := range m.BrowserSessions {
				if b.ID == id {
					s = b
					m.sessions = append(m.sessions, s)
					break
				}
			}
		}
		if s == nil {
			complete(done, false, nil)
			return
		}
		s.Shape = session.ShapeJoined
		if entry := s.Player(m.Local); entry != nil {
			entry.Status = session.StatusJoined
		} else {
			if teamID < 0 || teamID >= len(s.Teams) {
				teamID = 0
			}
			s.Teams[teamID].Players = append(s.Teams[teamID].Players, session.Player{ID: m.Local, Status: session.StatusJoined})
		}
		m.emitAdded(s)
		complete(done, true, s)
	})
}

func (m *Mem) JoinQueue(sessionID, queueID string, extraMembers []string, done session.CommandFunc) {
	m.run(func() {
		s := m.SessionByID(sessionID)
		if m.takeFailure(OpJoinQueue) || s == nil {
			complete(done, false, nil)
			return
		}
		s.InQueue = true
		s.QueueID = queueID
		m.emitUpdated(s)
		complete(done, true, s)
	})
}

func (m *Mem) LeaveQueue(sessionID string, done session.CommandFunc) {
	m.run(func() {
		s := m.SessionByID(sessionID)
		if m.takeFailure(OpLeaveQueue) || s == nil {
			complete(done, false, nil)
			return
		}
		s.InQueue = false
		s.QueueID = ""
		m.emitUpdated(s)
		complete(done, true, s)
	})
}

func (m *Mem) Leave(sessionID string, notifyOthers bool, done session.CommandFunc) {
	m.run(func() {
		s := m.SessionByID(sessionID)
		if m.takeFailure(OpLeave) || s == nil {
			complete(done, false, nil)
			return
		}
		m.removeRosterEntry(s, m.Local)
		m.drop(s)
		complete(done, true, nil)
	})
}

func (m *Mem) InvitePlayer(sessionID string, player uuid.UUID, teamID int, meta map[string]string, done session.CommandFunc) {
	m.run(func() {
		s := m.SessionByID(sessionID)
		if m.takeFailure(OpInvitePlayer) || s == nil {
			complete(done, false, nil)
			return
		}
		if s.Player(player) == nil {
			if teamID < 0 || teamID >= len(s.Teams) {
				teamID = 0
			}
			s.Teams[teamID].Players = append(s.Teams[teamID].Players, session.Player{
				ID:        player,
				Status:    session.StatusInvited,
				InvitedBy: m.Local,
			})
		}
		m.emitUpdated(s)
		complete(done, true, s)
	})
}

func (m *Mem) KickPlayer(sessionID string, player uuid.UUID) {
	m.run(func() {
		s := m.SessionByID(sessionID)
		if s == nil {
			return
		}
		if !m.removeRosterEntry(s, player) {
			return
		}
		if player == m.Local {
			m.drop(s)
			return
		}
		m.emitUpdated(s)
	})
}

func (m *Mem) SetLeader(sessionID string, player uuid.UUID) {
	m.run(func() {
		s := m.SessionByID(sessionID)
		if s == nil || s.Player(player) == nil {
			return
		}
		for ti := range s.Teams {
			for pi := range s.Teams[ti].Players {
				p := &s.Teams[ti].Players[pi]
				switch {
				case p.ID == player:
					p.Status = session.StatusLeader
				case p.Status == session.StatusLeader:
					p.Status = session.StatusJoined
				}
			}
		}
		m.emitUpdated(s)
	})
}

func (m *Mem) ChangeTeam(sessionID string, player uuid.UUID, teamID int, done session.CommandFunc) {
	m.run(func() {
		s := m.SessionByID(sessionID)
		if m.takeFailure(OpChangeTeam) || s == nil || teamID < 0 || teamID >= len(s.Teams) {
			complete(done, false, nil)
			return
		}
		entry := s.Player(player)
		if entry == nil {
			complete(done, false, nil)
			return
		}
		moved := *entry
		m.removeRosterEntry(s, player)
		s.Teams[teamID].Players = append(s.Teams[teamID].Players, moved)
		m.emitUpdated(s)
		complete(done, true, s)
	})
}

func (m *Mem) UpdateInfo(sessionID string, u session.InfoUpdate, done session.CommandFunc) {
	m.run(func() {
		s := m.SessionByID(sessionID)
		if m.takeFailure(OpUpdateInfo) || s == nil {
			complete(done, false, nil)
			return
		}
		if u.RegionID != "" {
			s.RegionID = u.RegionID
		}
		for k, v := range u.Custom {
			if s.Custom == nil {
				s.Custom = make(map[string]string)
			}
			s.Custom[k] = v
		}
		m.emitUpdated(s)
		complete(done, true, s)
	})
}

func (m *Mem) UpdateBrowserInfo(sessionID string, visible bool, meta map[string]string) {
	m.run(func() {
		s := m.SessionByID(sessionID)
		if s == nil {
			return
		}
		s.BrowserVisible = visible
		if s.Browser == nil {
			s.Browser = make(map[string]string)
		}
		for k, v := range meta {
			s.Browser[k] = v
		}
	})
}

func (m *Mem) RequestInstance(sessionID string, req session.InstanceRequest, done session.CommandFunc) {
	m.run(func() {
		s := m.SessionByID(sessionID)
		if m.takeFailure(OpRequestInstance) || s == nil {
			complete(done, false, nil)
			return
		}
		s.Instance = &session.Instance{
			JoinStatus: m.InstanceJoinStatus,
			Map:        req.Map,
			Mode:       req.Mode,
			Dedicated:  req.Dedicated,
		}
		m.emitUpdated(s)
		complete(done, true, s)
	})
}

func (m *Mem) WatchPlayers(sessionID string, watch bool) {
	m.watched[sessionID] = watch
}

func (m *Mem) SearchQueues(p session.QueueSearchParams, done session.SearchQueuesFunc) {
	m.run(func() {
		if done != nil {
			done(true, session.QueueSearchResult{Queues: m.Queues})
		}
	})
}

func (m *Mem) SearchSessions(p session.BrowserSearchParams, done session.SearchSessionsFunc) {
	m.run(func() {
		var out []*session.Session
		for _, s := range m.BrowserSessions {
			if p.Type == "" || s.Type == p.Type {
				out = append(out, s)
			}
		}
		if done != nil {
			done(true, session.BrowserSearchResult{Sessions: out})
		}
	})
}

// --- subscriptions ---

func (m *Mem) Subscribe(name string, ev session.Events) {
	for i := range m.subs {
		if m.subs[i].name == name {
			m.subs[i].ev = ev
			return
		}
	}
	m.subs = append(m.subs, subscriber{name: name, ev: ev})
}

func (m *Mem) Unsubscribe(name string) {
	for i := range m.subs {
		if m.subs[i].name == name {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			return
		}
	}
}

// --- server-side push helpers for tests and the demo daemon ---

// Push installs (or replaces) a session as if the server delivered it,
// emitting added or updated accordingly.
func (m *Mem) Push(s *session.Session) {
	for i := range m.sessions {
		if m.sessions[i].ID == s.ID {
			m.sessions[i] = s
			m.emitUpdated(s)
			return
		}
	}
	m.sessions = append(m.sessions, s)
	m.emitAdded(s)
}

// Touch re-emits an updated event for a session tests mutated in place.
func (m *Mem) Touch(id string) {
	if s := m.SessionByID(id); s != nil {
		m.emitUpdated(s)
	}
}

// Drop removes a session as if the server ended it.
func (m *Mem) Drop(id string) {
	if s := m.SessionByID(id); s != nil {
		m.drop(s)
	}
}

// LoginPoll signals login-poll completion to all subscribers.
func (m *Mem) LoginPoll(ok bool) {
	for _, sub := range m.subs {
		if sub.ev.LoginPollComplete != nil {
			sub.ev.LoginPollComplete(ok)
		}
	}
}

// --- internals ---

func (m *Mem) newID(sessionType string) string {
	m.nextID++
	return fmt.Sprintf("%s-%d-%s", sessionType, m.nextID, uuid.NewString()[:8])
}

func (m *Mem) removeRosterEntry(s *session.Session, player uuid.UUID) bool {
	for ti := range s.Teams {
		players := s.Teams[ti].Players
		for pi := range players {
			if players[pi].ID == player {
				s.Teams[ti].Players = append(players[:pi], players[pi+1:]...)
				return true
			}
		}
	}
	return false
}

func (m *Mem) drop(s *session.Session) {
	for i := range m.sessions {
		if m.sessions[i].ID == s.ID {
			m.sessions = append(m.sessions[:i], m.sessions[i+1:]...)
			break
		}
	}
	m.emitRemoved(s)
}

func (m *Mem) emitAdded(s *session.Session) {
	for _, sub := range m.subs {
		if sub.ev.Added != nil {
			sub.ev.Added(s)
		}
	}
}

func (m *Mem) emitUpdated(s *session.Session) {
	for _, sub := range m.subs {
		if sub.ev.Updated != nil {
			sub.ev.Updated(s)
		}
	}
}

func (m *Mem) emitRemoved(s *session.Session) {
	for _, sub := range m.subs {
		if sub.ev.Removed != nil {
			sub.ev.Removed(s)
		}
	}
}

func complete(done session.CommandFunc, ok bool, s *session.Session) {
	if done != nil {
		done(ok, s)
	}
}
