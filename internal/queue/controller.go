// Package queue layers matchmaking state on top of the session feed. The
// player's match status is never stored: it is derived from the session
// cache on every read, so it cannot drift from what the server last said.
package queue

import (
	"time"

	"go.uber.org/zap"

	"github.com/halfmoon-games/lobbycore/internal/notify"
	"github.com/halfmoon-games/lobbycore/internal/runloop"
	"github.com/halfmoon-games/lobbycore/internal/session"
)

const feedToken = "queue"

// Custom-data key shared with the party package over the session.
const selectedQueueIDKey = "SelectedQueueId"

// MatchStatus is the player's standing in matchmaking, ordered by how far
// along the flow they are.
type MatchStatus int

const (
	StatusNotQueued MatchStatus = iota
	StatusDeclined
	StatusQueued
	StatusInvited
	StatusAccepted
	StatusMatching
	StatusWaiting
	StatusInGame
	StatusSpectatorInvited
	StatusSpectatorAccepted
	StatusSpectatorMatching
	StatusSpectatorWaiting
	StatusSpectatorInGame
)

func (s MatchStatus) String() string {
	switch s {
	case StatusNotQueued:
		return "not_queued"
	case StatusDeclined:
		return "declined"
	case StatusQueued:
		return "queued"
	case StatusInvited:
		return "invited"
	case StatusAccepted:
		return "accepted"
	case StatusMatching:
		return "matching"
	case StatusWaiting:
		return "waiting"
	case StatusInGame:
		return "in_game"
	case StatusSpectatorInvited:
		return "spectator_invited"
	case StatusSpectatorAccepted:
		return "spectator_accepted"
	case StatusSpectatorMatching:
		return "spectator_matching"
	case StatusSpectatorWaiting:
		return "spectator_waiting"
	case StatusSpectatorInGame:
		return "spectator_in_game"
	default:
		return "unknown"
	}
}

// PartyView is the slice of party state queue decisions depend on.
type PartyView interface {
	PartySession() *session.Session
	IsInParty() bool
	IsLeader() bool
	SetSelectedQueueID(queueID string) bool
}

// Config tunes the controller.
type Config struct {
	GameSessionType string
	PollInterval    time.Duration
	DefaultQueueID  string
}

// Controller derives queue state and issues matchmaking commands. All
// methods must run on the event loop.
type Controller struct {
	log   *zap.Logger
	feed  session.Feed
	bus   *notify.Bus
	party PartyView
	sched runloop.Scheduler
	cfg   Config

	syncer session.InstanceSyncer
	now    func() time.Time

	details    map[string]session.QueueInfo
	selectedID string
	queuedAt   time.Time
	rejoinID   string
	lastStatus MatchStatus

	poll *runloop.Task
}

func New(log *zap.Logger, feed session.Feed, bus *notify.Bus, party PartyView, sched runloop.Scheduler, cfg Config) *Controller {
	if cfg.GameSessionType == "" {
		cfg.GameSessionType = "game"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	return &Controller{
		log:        log.Named("queue"),
		feed:       feed,
		bus:        bus,
		party:      party,
		sched:      sched,
		cfg:        cfg,
		now:        time.Now,
		details:    make(map[string]session.QueueInfo),
		selectedID: cfg.DefaultQueueID,
	}
}

// SetInstanceSyncer wires the component that attaches the client to a
// match instance.
func (c *Controller) SetInstanceSyncer(s session.InstanceSyncer) { c.syncer = s }

// Start subscribes to feed pushes and begins the catalog poll.
func (c *Controller) Start() {
	c.feed.Subscribe(feedToken, session.Events{
		Added:             c.handleSessionEvent,
		Updated:           c.handleSessionEvent,
		Removed:           c.handleSessionEvent,
		LoginPollComplete: c.handleLoginPoll,
	})
	c.lastStatus = c.CurrentMatchStatus()
	c.RefreshCatalog()
	c.poll = c.sched.Every(c.cfg.PollInterval, c.RefreshCatalog)
}

// Stop unsubscribes and halts polling.
func (c *Controller) Stop() {
	c.feed.Unsubscribe(feedToken)
	c.poll.Stop()
}

// --- derived state ---

// CurrentMatchStatus derives the player's matchmaking standing from the
// session cache. Higher states win: an in-progress match outranks an
// invite, which outranks sitting in queue.
func (c *Controller) CurrentMatchStatus() MatchStatus {
	for _, s := range c.feed.JoinedByType(c.cfg.GameSessionType) {
		if !s.Beacon && s.InstanceJoinable() {
			return StatusInGame
		}
	}
	if len(c.feed.InvitedByType(c.cfg.GameSessionType)) > 0 {
		return StatusInvited
	}
	if ps := c.party.PartySession(); ps != nil && ps.InQueue {
		return StatusQueued
	}
	return StatusNotQueued
}

// IsQueued reports whether the party is sitting in a matchmaking queue.
func (c *Controller) IsQueued() bool {
	ps := c.party.PartySession()
	return ps != nil && ps.InQueue
}

// QueuedQueueID returns the queue the party is in, if any.
func (c *Controller) QueuedQueueID() (string, bool) {
	ps := c.party.PartySession()
	if ps == nil || !ps.InQueue {
		return "", false
	}
	return ps.QueueID, true
}

// CanQueue reports whether a join-queue command would be accepted
// locally: not already queued, and not a non-leader riding along in
// someone else's party.
func (c *Controller) CanQueue() bool {
	if c.IsQueued() {
		return false
	}
	if c.party.IsInParty() && !c.party.IsLeader() {
		return false
	}
	return true
}

// TimeInQueue reports how long the party has been queued, zero when it
// is not.
func (c *Controller) TimeInQueue() time.Duration {
	if !c.IsQueued() || c.queuedAt.IsZero() {
		return 0
	}
	return c.now().Sub(c.queuedAt)
}

// --- queue catalog ---

// RefreshCatalog re-fetches the queue list. Also runs on a timer.
func (c *Controller) RefreshCatalog() {
	c.feed.SearchQueues(session.QueueSearchParams{}, func(ok bool, res session.QueueSearchResult) {
		if !ok {
			c.log.Warn("queue catalog refresh failed")
			return
		}
		c.details = make(map[string]session.QueueInfo, len(res.Queues))
		for _, q := range res.Queues {
			c.details[q.QueueID] = q
		}
		c.bus.Publish(notify.QueueDataUpdated, len(res.Queues))
	})
}

// Details returns catalog info for one queue.
func (c *Controller) Details(queueID string) (session.QueueInfo, bool) {
	q, ok := c.details[queueID]
	return q, ok
}

// Queues returns the cached catalog.
func (c *Controller) Queues() []session.QueueInfo {
	out := make([]session.QueueInfo, 0, len(c.details))
	for _, q := range c.details {
		out = append(out, q)
	}
	return out
}

// IsQueueActive reports whether a queue is known and accepting players.
// Unknown queues count as active so a stale catalog cannot block play.
func (c *Controller) IsQueueActive(queueID string) bool {
	q, ok := c.details[queueID]
	if !ok {
		return true
	}
	return q.Active
}

// SelectedQueueID is the queue a join command defaults to.
func (c *Controller) SelectedQueueID() string { return c.selectedID }

// SelectQueue records the player's queue choice and, when leading a
// party, shares it with the other members over the session.
func (c *Controller) SelectQueue(queueID string) {
	if queueID == c.selectedID {
		return
	}
	c.selectedID = queueID
	if c.party.IsLeader() {
		c.party.SetSelectedQueueID(queueID)
	}
	c.bus.Publish(notify.QueueSelected, queueID)
}

// --- commands ---

// JoinQueue puts the party into a matchmaking queue. An empty queueID
// uses the current selection. Rejected locally when CanQueue is false or
// the queue is known to be inactive.
func (c *Controller) JoinQueue(queueID string) bool {
	if queueID == "" {
		queueID = c.selectedID
	}
	if queueID == "" {
		c.log.Warn("join queue with no queue selected")
		return false
	}
	if !c.CanQueue() {
		c.log.Warn("join queue rejected locally", zap.String("queue", queueID))
		return false
	}
	if !c.IsQueueActive(queueID) {
		c.log.Warn("queue is not active", zap.String("queue", queueID))
		return false
	}
	ps := c.party.PartySession()
	if ps == nil {
		return false
	}
	c.log.Info("joining queue", zap.String("queue", queueID), zap.String("session", ps.ID))
	c.feed.JoinQueue(ps.ID, queueID, nil, func(ok bool, _ *session.Session) {
		if !ok {
			c.log.Warn("join queue failed", zap.String("queue", queueID))
			return
		}
		c.queuedAt = c.now()
		c.bus.Publish(notify.QueueJoined, queueID)
	})
	return true
}

// LeaveQueue takes the party out of its queue. Rejected locally when not
// queued, so callers can use it as an unconditional side effect.
func (c *Controller) LeaveQueue() bool {
	ps := c.party.PartySession()
	if ps == nil || !ps.InQueue {
		return false
	}
	c.log.Info("leaving queue", zap.String("queue", ps.QueueID), zap.String("session", ps.ID))
	c.feed.LeaveQueue(ps.ID, func(ok bool, _ *session.Session) {
		if !ok {
			c.log.Warn("leave queue failed")
			return
		}
		c.queuedAt = time.Time{}
		c.bus.Publish(notify.QueueLeft, nil)
	})
	return true
}

// --- match rejoin ---

// PendingRejoin returns the id of the match session waiting on a rejoin
// decision.
func (c *Controller) PendingRejoin() (string, bool) {
	return c.rejoinID, c.rejoinID != ""
}

// AcceptRejoin reattaches the client to the match found at login.
func (c *Controller) AcceptRejoin() bool {
	if c.rejoinID == "" {
		return false
	}
	s := c.feed.SessionByID(c.rejoinID)
	c.rejoinID = ""
	if s == nil {
		c.log.Warn("rejoin target disappeared")
		return false
	}
	c.log.Info("rejoining match", zap.String("session", s.ID))
	if c.syncer != nil {
		c.syncer.SyncToSession(s)
	}
	return true
}

// DeclineRejoin abandons the match found at login, along with any other
// lingering match sessions.
func (c *Controller) DeclineRejoin() bool {
	if c.rejoinID == "" {
		return false
	}
	c.log.Info("declining match rejoin", zap.String("session", c.rejoinID))
	c.rejoinID = ""
	c.LeaveMatch()
	return true
}

// LeaveMatch leaves every joined match session. Returns whether there
// was anything to leave.
func (c *Controller) LeaveMatch() bool {
	sessions := c.feed.JoinedByType(c.cfg.GameSessionType)
	if len(sessions) == 0 {
		return false
	}
	for _, s := range sessions {
		c.log.Info("leaving match session", zap.String("session", s.ID))
		c.feed.Leave(s.ID, true, nil)
	}
	return true
}

// --- feed push handlers ---

func (c *Controller) handleSessionEvent(s *session.Session) {
	ps := c.party.PartySession()
	isParty := ps != nil && s.ID == ps.ID
	if s.Type != c.cfg.GameSessionType && !isParty {
		return
	}
	if isParty {
		// The leader may have shared a new queue selection over the
		// session.
		if sel, ok := s.CustomValue(selectedQueueIDKey); ok && sel != c.selectedID && !c.party.IsLeader() {
			c.selectedID = sel
			c.bus.Publish(notify.QueueSelected, sel)
		}
		if !s.InQueue {
			c.queuedAt = time.Time{}
		}
	}
	c.checkStatusChange()
}

func (c *Controller) handleLoginPoll(ok bool) {
	if !ok {
		return
	}
	// A live match session in the cache at login means the client
	// disconnected mid-game; offer to rejoin.
	for _, s := range c.feed.JoinedByType(c.cfg.GameSessionType) {
		if !s.Beacon && s.InstanceJoinable() {
			c.rejoinID = s.ID
			c.log.Info("match rejoin available", zap.String("session", s.ID))
			c.bus.Publish(notify.MatchRejoinPrompt, s.ID)
			break
		}
	}
	c.checkStatusChange()
}

func (c *Controller) checkStatusChange() {
	status := c.CurrentMatchStatus()
	if status == c.lastStatus {
		return
	}
	c.log.Debug("match status changed",
		zap.String("from", c.lastStatus.String()),
		zap.String("to", status.String()))
	c.lastStatus = status
	c.bus.Publish(notify.QueueStatusChanged, status)
}
