package queue

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/halfmoon-games/lobbycore/internal/feed"
	"github.com/halfmoon-games/lobbycore/internal/notify"
	"github.com/halfmoon-games/lobbycore/internal/runloop"
	"github.com/halfmoon-games/lobbycore/internal/session"
)

type stubParty struct {
	feed      *feed.Mem
	sessionID string
	inParty   bool
	leader    bool
	selected  string
}

func (p *stubParty) PartySession() *session.Session { return p.feed.SessionByID(p.sessionID) }
func (p *stubParty) IsInParty() bool                { return p.inParty }
func (p *stubParty) IsLeader() bool                 { return p.leader }

func (p *stubParty) SetSelectedQueueID(queueID string) bool {
	p.selected = queueID
	return true
}

type stubSyncer struct {
	synced []*session.Session
}

func (s *stubSyncer) SyncToSession(sess *session.Session) {
	s.synced = append(s.synced, sess)
}

type fixture struct {
	feed   *feed.Mem
	bus    *notify.Bus
	party  *stubParty
	sched  *runloop.Manual
	ctrl   *Controller
	events []notify.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	local := uuid.New()
	f := &fixture{
		feed:  feed.NewMem(local),
		bus:   notify.NewBus(),
		sched: runloop.NewManual(),
	}
	f.party = &stubParty{feed: f.feed, leader: true}
	f.bus.SubscribeAll("test", func(ev notify.Event) {
		f.events = append(f.events, ev)
	})
	f.ctrl = New(zap.NewNop(), f.feed, f.bus, f.party, f.sched, Config{
		GameSessionType: "game",
		DefaultQueueID:  "casual",
	})

	// Party session the commands act on.
	ps := &session.Session{
		ID:    "party-1",
		Type:  "party",
		Shape: session.ShapeJoined,
		Teams: []session.Team{{Players: []session.Player{{ID: local, Status: session.StatusLeader}}}},
	}
	f.feed.Push(ps)
	f.party.sessionID = ps.ID
	return f
}

func (f *fixture) reset() { f.events = nil }

func (f *fixture) published(channel string) []notify.Event {
	var out []notify.Event
	for _, ev := range f.events {
		if ev.Channel == channel {
			out = append(out, ev)
		}
	}
	return out
}

func gameSession(id string, shape session.Shape, joinable bool) *session.Session {
	s := &session.Session{ID: id, Type: "game", Shape: shape}
	if joinable {
		s.Instance = &session.Instance{JoinStatus: session.JoinStatusJoinable}
	}
	return s
}

func TestCanQueue(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Start()

	assert.True(t, f.ctrl.CanQueue())

	f.party.inParty = true
	f.party.leader = false
	assert.False(t, f.ctrl.CanQueue(), "non-leader party member cannot queue")

	f.party.leader = true
	assert.True(t, f.ctrl.CanQueue())

	require.True(t, f.ctrl.JoinQueue("casual"))
	assert.False(t, f.ctrl.CanQueue(), "already queued")
}

func TestJoinAndLeaveQueue(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Start()

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	f.ctrl.now = func() time.Time { return base }

	f.reset()
	require.True(t, f.ctrl.JoinQueue("casual"))

	require.Len(t, f.published(notify.QueueJoined), 1)
	changes := f.published(notify.QueueStatusChanged)
	require.Len(t, changes, 1)
	assert.Equal(t, StatusQueued, changes[0].Payload.(MatchStatus))

	id, ok := f.ctrl.QueuedQueueID()
	require.True(t, ok)
	assert.Equal(t, "casual", id)

	f.ctrl.now = func() time.Time { return base.Add(42 * time.Second) }
	assert.Equal(t, 42*time.Second, f.ctrl.TimeInQueue())

	f.reset()
	require.True(t, f.ctrl.LeaveQueue())

	require.Len(t, f.published(notify.QueueLeft), 1)
	changes = f.published(notify.QueueStatusChanged)
	require.Len(t, changes, 1)
	assert.Equal(t, StatusNotQueued, changes[0].Payload.(MatchStatus))
	assert.Zero(t, f.ctrl.TimeInQueue())
	assert.False(t, f.ctrl.LeaveQueue(), "second leave is rejected locally")
}

func TestJoinQueueRejectedWhenInactive(t *testing.T) {
	f := newFixture(t)
	f.feed.Queues = []session.QueueInfo{
		{QueueID: "casual", Active: true},
		{QueueID: "ranked", Active: false},
	}
	f.ctrl.Start()

	assert.False(t, f.ctrl.JoinQueue("ranked"))
	assert.True(t, f.ctrl.JoinQueue("casual"))
}

func TestStatusDerivationOrdering(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Start()

	require.True(t, f.ctrl.JoinQueue(""))
	assert.Equal(t, StatusQueued, f.ctrl.CurrentMatchStatus())

	// A match invite outranks sitting in queue.
	f.feed.Push(gameSession("game-1", session.ShapeInvited, false))
	assert.Equal(t, StatusInvited, f.ctrl.CurrentMatchStatus())

	// A live match outranks everything.
	f.feed.Push(gameSession("game-2", session.ShapeJoined, true))
	assert.Equal(t, StatusInGame, f.ctrl.CurrentMatchStatus())

	changes := f.published(notify.QueueStatusChanged)
	var seen []MatchStatus
	for _, ev := range changes {
		seen = append(seen, ev.Payload.(MatchStatus))
	}
	assert.Equal(t, []MatchStatus{StatusQueued, StatusInvited, StatusInGame}, seen)
}

func TestStatusIsDerivedNotCached(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Start()

	f.feed.Push(gameSession("game-1", session.ShapeJoined, true))
	assert.Equal(t, StatusInGame, f.ctrl.CurrentMatchStatus())

	// The session disappearing flips the answer with no command in
	// between.
	f.feed.Drop("game-1")
	assert.Equal(t, StatusNotQueued, f.ctrl.CurrentMatchStatus())
}

func TestBeaconSessionsAreNotMatches(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Start()

	s := gameSession("game-beacon", session.ShapeJoined, true)
	s.Beacon = true
	f.feed.Push(s)

	assert.Equal(t, StatusNotQueued, f.ctrl.CurrentMatchStatus())
}

func TestCatalogRefresh(t *testing.T) {
	f := newFixture(t)
	f.feed.Queues = []session.QueueInfo{{QueueID: "casual", Active: true}}
	f.ctrl.Start()

	require.NotEmpty(t, f.published(notify.QueueDataUpdated))
	q, ok := f.ctrl.Details("casual")
	require.True(t, ok)
	assert.True(t, q.Active)
	assert.True(t, f.ctrl.IsQueueActive("casual"))
	assert.True(t, f.ctrl.IsQueueActive("unknown"), "unknown queues default to active")

	// The poll timer picks up catalog changes.
	f.feed.Queues = append(f.feed.Queues, session.QueueInfo{QueueID: "ranked", Active: false})
	f.reset()
	f.sched.Tick()

	require.NotEmpty(t, f.published(notify.QueueDataUpdated))
	assert.Len(t, f.ctrl.Queues(), 2)
	assert.False(t, f.ctrl.IsQueueActive("ranked"))
}

func TestSelectQueueSharedByLeader(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Start()
	f.reset()

	f.ctrl.SelectQueue("ranked")

	assert.Equal(t, "ranked", f.ctrl.SelectedQueueID())
	assert.Equal(t, "ranked", f.party.selected)
	require.Len(t, f.published(notify.QueueSelected), 1)

	f.reset()
	f.ctrl.SelectQueue("ranked")
	assert.Empty(t, f.events, "reselecting the same queue is a no-op")
}

func TestFollowerAdoptsLeaderSelection(t *testing.T) {
	f := newFixture(t)
	f.party.inParty = true
	f.party.leader = false
	f.ctrl.Start()
	f.reset()

	ps := f.feed.SessionByID("party-1")
	ps.Custom = map[string]string{selectedQueueIDKey: "ranked"}
	f.feed.Touch(ps.ID)

	assert.Equal(t, "ranked", f.ctrl.SelectedQueueID())
	selected := f.published(notify.QueueSelected)
	require.Len(t, selected, 1)
	assert.Equal(t, "ranked", selected[0].Payload.(string))
}

func TestRejoinPromptFlow(t *testing.T) {
	f := newFixture(t)
	syncer := &stubSyncer{}
	f.ctrl.SetInstanceSyncer(syncer)
	f.ctrl.Start()

	f.feed.Push(gameSession("game-live", session.ShapeJoined, true))
	f.reset()
	f.feed.LoginPoll(true)

	prompts := f.published(notify.MatchRejoinPrompt)
	require.Len(t, prompts, 1)
	assert.Equal(t, "game-live", prompts[0].Payload.(string))

	id, ok := f.ctrl.PendingRejoin()
	require.True(t, ok)
	assert.Equal(t, "game-live", id)

	require.True(t, f.ctrl.AcceptRejoin())
	require.Len(t, syncer.synced, 1)
	assert.Equal(t, "game-live", syncer.synced[0].ID)
	_, ok = f.ctrl.PendingRejoin()
	assert.False(t, ok)
	assert.False(t, f.ctrl.AcceptRejoin(), "nothing pending anymore")
}

func TestLeaveMatch(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Start()

	assert.False(t, f.ctrl.LeaveMatch(), "nothing to leave")

	f.feed.Push(gameSession("game-1", session.ShapeJoined, true))
	f.feed.Push(gameSession("game-2", session.ShapeJoined, false))

	require.True(t, f.ctrl.LeaveMatch())
	assert.Nil(t, f.feed.SessionByID("game-1"))
	assert.Nil(t, f.feed.SessionByID("game-2"))
}

func TestDeclineRejoinLeavesMatch(t *testing.T) {
	f := newFixture(t)
	f.ctrl.Start()

	f.feed.Push(gameSession("game-live", session.ShapeJoined, true))
	f.feed.LoginPoll(true)

	require.True(t, f.ctrl.DeclineRejoin())
	assert.Nil(t, f.feed.SessionByID("game-live"))
	_, ok := f.ctrl.PendingRejoin()
	assert.False(t, ok)
}
