package session

import "github.com/google/uuid"

// Shape describes how the local player relates to a session.
type Shape int

const (
	// ShapeView is a read-only session, e.g. a browser search result.
	ShapeView Shape = iota
	// ShapeInvited means the local player has a pending invite.
	ShapeInvited
	// ShapeJoined means the local player is a member.
	ShapeJoined
)

func (s Shape) String() string {
	switch s {
	case ShapeInvited:
		return "invited"
	case ShapeJoined:
		return "joined"
	default:
		return "view"
	}
}

// PlayerStatus is a roster entry's membership state.
type PlayerStatus int

const (
	StatusInvited PlayerStatus = iota
	StatusJoined
	StatusLeader
)

func (s PlayerStatus) String() string {
	switch s {
	case StatusLeader:
		return "leader"
	case StatusJoined:
		return "joined"
	default:
		return "invited"
	}
}

// JoinStatus is the joinability of a session's game instance.
type JoinStatus int

const (
	JoinStatusPending JoinStatus = iota
	JoinStatusJoinable
	JoinStatusClosed
)

// Player is one roster entry on a session team.
type Player struct {
	ID        uuid.UUID
	Status    PlayerStatus
	InvitedBy uuid.UUID // zero when the entry was not created by an invite
}

// Team is one slot group on a session roster. MaxSize of zero means
// the team is unbounded.
type Team struct {
	MaxSize int
	Players []Player
}

// Full reports whether the team cannot take another roster entry.
func (t Team) Full() bool {
	return t.MaxSize > 0 && len(t.Players) >= t.MaxSize
}

// Instance is the game instance attached to a session, if any.
type Instance struct {
	JoinStatus JoinStatus
	Map        string
	Mode       string
	Dedicated  bool
}

// Session is the client-side snapshot of a remote session. The Feed owns
// these; everyone else holds ids and treats a nil lookup as a normal
// outcome, not an error.
type Session struct {
	ID              string
	Type            string
	Shape           Shape
	RegionID        string
	Joinable        bool
	Beacon          bool
	FromMatchmaking bool
	InQueue         bool
	QueueID         string
	Teams           []Team
	Custom          map[string]string
	Browser         map[string]string
	BrowserVisible  bool
	Instance        *Instance
}

// Player finds the roster entry for the given player across all teams.
func (s *Session) Player(id uuid.UUID) *Player {
	for ti := range s.Teams {
		for pi := range s.Teams[ti].Players {
			if s.Teams[ti].Players[pi].ID == id {
				return &s.Teams[ti].Players[pi]
			}
		}
	}
	return nil
}

// TeamOf returns the team index holding the given player, or -1.
func (s *Session) TeamOf(id uuid.UUID) int {
	for ti := range s.Teams {
		for pi := range s.Teams[ti].Players {
			if s.Teams[ti].Players[pi].ID == id {
				return ti
			}
		}
	}
	return -1
}

// Leader returns the roster entry with leader status, if any.
func (s *Session) Leader() (Player, bool) {
	for _, t := range s.Teams {
		for _, p := range t.Players {
			if p.Status == StatusLeader {
				return p, true
			}
		}
	}
	return Player{}, false
}

// PlayerCount is the total roster size across teams, pending invites
// included.
func (s *Session) PlayerCount() int {
	n := 0
	for _, t := range s.Teams {
		n += len(t.Players)
	}
	return n
}

// CustomValue reads a key from the session's custom metadata.
func (s *Session) CustomValue(key string) (string, bool) {
	v, ok := s.Custom[key]
	return v, ok
}

// BrowserValue reads a key from the session's browser metadata.
func (s *Session) BrowserValue(key string) (string, bool) {
	v, ok := s.Browser[key]
	return v, ok
}

// InstanceJoinable reports whether the session has an instance a client
// could join right now.
func (s *Session) InstanceJoinable() bool {
	return s.Instance != nil && s.Instance.JoinStatus == JoinStatusJoinable
}
