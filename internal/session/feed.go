package session

import "github.com/google/uuid"

// CommandFunc reports completion of an asynchronous feed command. The
// session argument is the post-command snapshot and may be nil on failure
// or when the command removed the session.
type CommandFunc func(ok bool, s *Session)

// QueueInfo is one entry of the remote queue catalog.
type QueueInfo struct {
	QueueID string
	Active  bool
}

// QueueSearchParams narrows a queue catalog search.
type QueueSearchParams struct {
	PageSize int
}

// QueueSearchResult carries the outcome of SearchQueues.
type QueueSearchResult struct {
	Queues []QueueInfo
}

// SearchQueuesFunc reports completion of a queue search.
type SearchQueuesFunc func(ok bool, result QueueSearchResult)

// BrowserSearchParams narrows a session browser search.
type BrowserSearchParams struct {
	Type         string
	CacheDetails bool
}

// BrowserSearchResult carries the sessions found by SearchSessions.
type BrowserSearchResult struct {
	Sessions []*Session
}

// SearchSessionsFunc reports completion of a session search.
type SearchSessionsFunc func(ok bool, result BrowserSearchResult)

// CreateParams describes a create-or-join request.
type CreateParams struct {
	Type          string
	RegionID      string
	ClientVersion string
}

// InfoUpdate is a partial session update; nil / empty fields are left
// unchanged.
type InfoUpdate struct {
	RegionID string
	Custom   map[string]string
}

// InstanceRequest asks the backend to spin up a game instance for a
// session.
type InstanceRequest struct {
	Map       string
	Mode      string
	Dedicated bool
}

// Events is the set of push notifications a subscriber receives from the
// feed. Nil handlers are skipped.
type Events struct {
	Added             func(*Session)
	Updated           func(*Session)
	Removed           func(*Session)
	LoginPollComplete func(ok bool)
}

// Feed is the session service contract this layer consumes. Queries are
// synchronous local cache reads; commands are asynchronous and report
// through a completion callback, which may resolve before or after
// unrelated push events. The concrete transport is out of scope.
type Feed interface {
	SessionByID(id string) *Session
	FirstSessionByType(sessionType string) *Session
	FirstJoinedByType(sessionType string) *Session
	JoinedByType(sessionType string) []*Session
	InvitedByType(sessionType string) []*Session

	CreateOrJoin(p CreateParams, done CommandFunc)
	JoinByID(id string, teamID int, done CommandFunc)
	JoinQueue(sessionID, queueID string, extraMembers []string, done CommandFunc)
	LeaveQueue(sessionID string, done CommandFunc)
	Leave(sessionID string, notifyOthers bool, done CommandFunc)
	InvitePlayer(sessionID string, player uuid.UUID, teamID int, meta map[string]string, done CommandFunc)
	KickPlayer(sessionID string, player uuid.UUID)
	SetLeader(sessionID string, player uuid.UUID)
	ChangeTeam(sessionID string, player uuid.UUID, teamID int, done CommandFunc)
	UpdateInfo(sessionID string, u InfoUpdate, done CommandFunc)
	UpdateBrowserInfo(sessionID string, visible bool, meta map[string]string)
	RequestInstance(sessionID string, req InstanceRequest, done CommandFunc)
	WatchPlayers(sessionID string, watch bool)

	SearchQueues(p QueueSearchParams, done SearchQueuesFunc)
	SearchSessions(p BrowserSearchParams, done SearchSessionsFunc)

	Subscribe(name string, ev Events)
	Unsubscribe(name string)
}

// InstanceSyncer hands a session off to the game-instance lifecycle layer
// (out of scope here) so the client can travel into its instance.
type InstanceSyncer interface {
	SyncToSession(s *Session)
}
