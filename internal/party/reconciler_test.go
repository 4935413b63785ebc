package party_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/halfmoon-games/lobbycore/internal/feed"
	"github.com/halfmoon-games/lobbycore/internal/invite"
	"github.com/halfmoon-games/lobbycore/internal/notify"
	"github.com/halfmoon-games/lobbycore/internal/party"
	"github.com/halfmoon-games/lobbycore/internal/players"
	"github.com/halfmoon-games/lobbycore/internal/runloop"
	"github.com/halfmoon-games/lobbycore/internal/session"
)

type fixture struct {
	t      *testing.T
	feed   *feed.Mem
	bus    *notify.Bus
	dir    *players.MemDirectory
	local  *players.MemLocal
	sched  *runloop.Manual
	rec    *party.Reconciler
	events []notify.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	localID := uuid.New()
	f := &fixture{
		t:     t,
		feed:  feed.NewMem(localID),
		bus:   notify.NewBus(),
		dir:   players.NewMemDirectory(),
		local: players.NewMemLocal(localID),
		sched: runloop.NewManual(),
	}
	f.local.SetPreferredRegion("us-east-1")
	f.dir.Add(players.Info{ID: localID, DisplayName: "Local", Presence: players.PresenceOnline})
	f.bus.SubscribeAll("test", func(ev notify.Event) {
		f.events = append(f.events, ev)
	})
	log := zap.NewNop()
	f.rec = party.New(log, f.feed, f.bus, f.dir, f.local, f.sched, party.Config{
		SessionType: "party",
		MaxSize:     4,
	})
	f.rec.SetInviteEvaluator(invite.NewCoordinator(log, f.dir, f.local, f.rec))
	return f
}

// login runs the bootstrap sequence so a solo party exists afterwards.
func (f *fixture) login() {
	f.t.Helper()
	f.rec.Start()
	f.feed.LoginPoll(true)
	require.NotEmpty(f.t, f.rec.PartySessionID())
}

// grow invites a second player and marks them joined on the session, as
// the backend would after they accept.
func (f *fixture) grow(name string) uuid.UUID {
	f.t.Helper()
	mate := f.dir.Add(players.Info{DisplayName: name, Presence: players.PresenceOnline})
	require.True(f.t, f.rec.InviteMember(mate))
	s := f.feed.SessionByID(f.rec.PartySessionID())
	require.NotNil(f.t, s)
	entry := s.Player(mate)
	require.NotNil(f.t, entry)
	entry.Status = session.StatusJoined
	f.feed.Touch(s.ID)
	return mate
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

func TestLoginCreatesSoloParty(t *testing.T) {
	f := newFixture(t)
	f.login()

	members := f.rec.Members()
	require.Len(t, members, 1)
	assert.Equal(t, f.local.LocalID(), members[0].PlayerID)
	assert.True(t, members[0].IsLeader)
	assert.False(t, f.rec.IsInParty(), "a solo party is not in-party")
	assert.True(t, f.rec.IsLeader())
	assert.True(t, f.feed.Watched(f.rec.PartySessionID()))
	assert.NotEmpty(t, f.published(notify.PartyDataUpdated))
}

func TestSoloSynthesisWaitsForRegion(t *testing.T) {
	f := newFixture(t)
	f.local.RegionKnown = false
	f.local.Region = ""

	f.rec.Start()
	f.feed.LoginPoll(true)
	assert.Empty(t, f.rec.PartySessionID())

	f.local.SetPreferredRegion("eu-central-1")
	f.rec.PreferredRegionUpdated()

	require.NotEmpty(t, f.rec.PartySessionID())
	s := f.rec.PartySession()
	require.NotNil(t, s)
	assert.Equal(t, "eu-central-1", s.RegionID)
}

func TestInviteAcceptRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.login()
	f.reset()

	mate := f.dir.Add(players.Info{DisplayName: "Mate", Presence: players.PresenceOnline})
	require.True(t, f.rec.InviteMember(mate))

	require.NotEmpty(t, f.published(notify.PartyInvitationSent))
	added := f.published(notify.PendingPartyMemberDataAdded)
	require.Len(t, added, 1)
	m := added[0].Payload.(party.Member)
	assert.Equal(t, mate, m.PlayerID)
	assert.True(t, m.IsPending)

	got, ok := f.rec.MemberByID(mate)
	require.True(t, ok)
	assert.True(t, got.IsPending)
	assert.False(t, f.rec.IsInParty(), "pending invites alone do not make a party")

	// Backend reports the acceptance.
	f.reset()
	s := f.feed.SessionByID(f.rec.PartySessionID())
	s.Player(mate).Status = session.StatusJoined
	f.feed.Touch(s.ID)

	require.Len(t, f.published(notify.PendingPartyMemberAccepted), 1)
	require.Len(t, f.published(notify.PartyMemberDataUpdated), 1)
	got, ok = f.rec.MemberByID(mate)
	require.True(t, ok)
	assert.False(t, got.IsPending)
	assert.True(t, f.rec.IsInParty())
}

func TestReconcileIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.login()
	f.grow("Mate")
	f.reset()

	// Redelivering an unchanged snapshot must produce nothing.
	f.feed.Touch(f.rec.PartySessionID())
	assert.Empty(t, f.events)
}

func TestMemberLeft(t *testing.T) {
	f := newFixture(t)
	f.login()
	mate := f.grow("Mate")
	f.reset()

	s := f.feed.SessionByID(f.rec.PartySessionID())
	require.True(t, removeFromRoster(s, mate))
	f.feed.Touch(s.ID)

	left := f.published(notify.PartyMemberLeft)
	require.Len(t, left, 1)
	assert.Equal(t, mate, left[0].Payload.(party.Member).PlayerID)
	assert.False(t, f.rec.IsMember(mate))
}

func TestLeavePartyAttribution(t *testing.T) {
	f := newFixture(t)
	f.login()
	f.grow("Mate")
	oldID := f.rec.PartySessionID()
	f.reset()

	require.True(t, f.rec.LeaveParty())

	assert.Len(t, f.published(notify.PartyLocalPlayerLeft), 1)
	assert.Empty(t, f.published(notify.PartyDisbanded))
	assert.Empty(t, f.published(notify.PartyLocalPlayerKicked))

	// A fresh solo party replaces the one we left.
	require.NotEmpty(t, f.rec.PartySessionID())
	assert.NotEqual(t, oldID, f.rec.PartySessionID())
	assert.Len(t, f.rec.Members(), 1)
}

func TestLeaveIntentSurvivesInterveningUpdate(t *testing.T) {
	f := newFixture(t)
	f.login()
	f.grow("Mate")
	partyID := f.rec.PartySessionID()
	f.reset()

	// Hold the leave's round trip open and slip an unrelated update push
	// in before the removal lands.
	f.feed.Defer = true
	require.True(t, f.rec.LeaveParty())
	f.feed.Touch(partyID)
	f.feed.Defer = false
	f.feed.Flush()

	assert.Len(t, f.published(notify.PartyLocalPlayerLeft), 1)
	assert.Empty(t, f.published(notify.PartyDisbanded))
	require.NotEmpty(t, f.rec.PartySessionID())
	assert.NotEqual(t, partyID, f.rec.PartySessionID())
}

func TestServerRemovalReportsDisband(t *testing.T) {
	f := newFixture(t)
	f.login()
	f.grow("Mate")
	f.reset()

	f.feed.Drop(f.rec.PartySessionID())

	assert.Len(t, f.published(notify.PartyDisbanded), 1)
	assert.Empty(t, f.published(notify.PartyLocalPlayerLeft))
	require.NotEmpty(t, f.rec.PartySessionID(), "solo party recreated after disband")
}

func TestKickedAttribution(t *testing.T) {
	f := newFixture(t)
	f.login()
	f.grow("Mate")
	f.reset()

	f.rec.MarkKicked()
	f.feed.Drop(f.rec.PartySessionID())

	assert.Len(t, f.published(notify.PartyLocalPlayerKicked), 1)
	assert.Empty(t, f.published(notify.PartyDisbanded))
}

func TestRosterNeverExceedsMaxSize(t *testing.T) {
	f := newFixture(t)
	f.rec.Start()

	s := &session.Session{
		ID:    "party-oversized",
		Type:  "party",
		Shape: session.ShapeJoined,
		Teams: []session.Team{{}},
	}
	s.Teams[0].Players = append(s.Teams[0].Players, session.Player{ID: f.local.LocalID(), Status: session.StatusLeader})
	for i := 0; i < 5; i++ {
		s.Teams[0].Players = append(s.Teams[0].Players, session.Player{ID: uuid.New(), Status: session.StatusJoined})
	}
	f.feed.Push(s)

	assert.Len(t, f.rec.Members(), 4)
	assert.True(t, f.rec.PartyMaxed())
}

func TestCrossplayInviteGate(t *testing.T) {
	f := newFixture(t)
	f.login()
	f.local.Crossplay = false

	platform := players.PlatformID{Platform: "steam", Handle: "mate#1"}
	stranger := f.dir.Add(players.Info{DisplayName: "Stranger"})
	buddy := f.dir.Add(players.Info{DisplayName: "Buddy", Platforms: []players.PlatformID{platform}})
	f.dir.Relations[platform] = true

	f.reset()
	require.True(t, f.rec.InviteMember(stranger), "command is accepted, delivery is gated")
	assert.Empty(t, f.published(notify.PartyInvitationSent))
	assert.False(t, f.rec.IsMember(stranger))

	require.True(t, f.rec.InviteMember(buddy))
	assert.Len(t, f.published(notify.PartyInvitationSent), 1)
	assert.True(t, f.rec.IsMember(buddy))
}

func TestInvitePrivileges(t *testing.T) {
	f := newFixture(t)
	f.login()
	mate := f.grow("Mate")

	f.rec.SetInviteMode(party.InviteModeLeaderOnly)
	assert.True(t, f.rec.HasInvitePrivileges(f.local.LocalID()))
	assert.False(t, f.rec.HasInvitePrivileges(mate))

	f.rec.SetInviteMode(party.InviteModeAllMembers)
	assert.True(t, f.rec.HasInvitePrivileges(mate))
}

func TestPromoteAndKickAreLeaderGated(t *testing.T) {
	f := newFixture(t)
	f.login()
	mate := f.grow("Mate")

	require.True(t, f.rec.PromoteToLeader(mate))
	assert.False(t, f.rec.IsLeader())
	leader, ok := f.rec.Leader()
	require.True(t, ok)
	assert.Equal(t, mate, leader)

	// No longer the leader, so kick and promote are rejected.
	assert.False(t, f.rec.KickMember(mate))
	assert.False(t, f.rec.PromoteToLeader(f.local.LocalID()))
}

func TestKickReportsRemovalNotDeparture(t *testing.T) {
	f := newFixture(t)
	f.login()
	mate := f.grow("Mate")
	f.reset()

	require.True(t, f.rec.KickMember(mate))

	removed := f.published(notify.PartyMemberRemoved)
	require.Len(t, removed, 1)
	assert.Equal(t, mate, removed[0].Payload.(uuid.UUID))
	assert.Empty(t, f.published(notify.PartyMemberLeft))
	assert.False(t, f.rec.IsMember(mate))
}

func TestInvitationReceivedSurfaced(t *testing.T) {
	f := newFixture(t)
	f.login()
	f.reset()

	inviter := f.dir.Add(players.Info{DisplayName: "Captain", Presence: players.PresenceOnline})
	f.feed.Push(invitedSession("party-abc", f.local.LocalID(), inviter))

	recv := f.published(notify.PartyInvitationReceived)
	require.Len(t, recv, 1)
	inv := recv[0].Payload.(party.Invitation)
	assert.Equal(t, inviter, inv.Inviter)
	assert.Equal(t, "Captain", inv.Name)

	got, ok := f.rec.Inviter()
	require.True(t, ok)
	assert.Equal(t, inviter, got)
}

func TestInvitationFromBlockedPlayerDeclined(t *testing.T) {
	f := newFixture(t)
	f.login()
	f.reset()

	inviter := f.dir.Add(players.Info{DisplayName: "Creep"})
	f.dir.Blocked[inviter] = true
	f.feed.Push(invitedSession("party-blk", f.local.LocalID(), inviter))

	assert.Empty(t, f.published(notify.PartyInvitationReceived))
	assert.Nil(t, f.feed.SessionByID("party-blk"), "declined invite is left")
}

func TestAcceptInvitationJoins(t *testing.T) {
	f := newFixture(t)
	f.login()
	soloID := f.rec.PartySessionID()

	inviter := f.dir.Add(players.Info{DisplayName: "Captain"})
	s := invitedSession("party-join", f.local.LocalID(), inviter)
	s.Teams[0].Players = append(s.Teams[0].Players, session.Player{ID: inviter, Status: session.StatusLeader})
	f.feed.Push(s)
	f.reset()

	require.True(t, f.rec.AcceptInvitation())

	assert.Len(t, f.published(notify.PartyInvitationAccepted), 1)
	assert.Equal(t, "party-join", f.rec.PartySessionID())
	assert.True(t, f.rec.IsInParty())
	assert.Nil(t, f.feed.SessionByID(soloID), "old solo party is left behind")
	_, ok := f.rec.Inviter()
	assert.False(t, ok)
}

func TestDenyInvitation(t *testing.T) {
	f := newFixture(t)
	f.login()

	inviter := f.dir.Add(players.Info{DisplayName: "Captain"})
	f.feed.Push(invitedSession("party-deny", f.local.LocalID(), inviter))
	f.reset()

	require.True(t, f.rec.DenyInvitation())

	assert.Len(t, f.published(notify.PartyInvitationRejected), 1)
	assert.Nil(t, f.feed.SessionByID("party-deny"))
	assert.False(t, f.rec.AcceptInvitation(), "nothing left to accept")
}

func TestFriendUpdatesDebounced(t *testing.T) {
	f := newFixture(t)
	f.login()
	mate := f.grow("Mate")
	f.reset()

	f.rec.FriendsUpdated()
	f.rec.FriendsUpdated()
	f.rec.FriendsUpdated()
	assert.Equal(t, 1, f.sched.PendingCount())

	f.dir.Friends[mate] = true
	f.sched.Tick()

	updated := f.published(notify.PartyMemberDataUpdated)
	require.Len(t, updated, 1)
	assert.True(t, updated[0].Payload.(party.Member).IsFriend)
}

func TestRegionUpdateFailureRevertsLeader(t *testing.T) {
	f := newFixture(t)
	f.login()
	f.grow("Mate")
	sessionRegion := f.rec.PartySession().RegionID

	f.local.SetPreferredRegion("ap-south-1")
	f.feed.FailNext(feed.OpUpdateInfo)
	f.reset()

	f.rec.PreferredRegionUpdated()

	region, _ := f.local.PreferredRegion()
	assert.Equal(t, sessionRegion, region, "local setting reverted to the session's region")
	assert.Len(t, f.published(notify.PartyError), 1)
}

func TestRegionUpdateMovesSoloParty(t *testing.T) {
	f := newFixture(t)
	f.login()

	f.local.SetPreferredRegion("ap-south-1")
	f.rec.PreferredRegionUpdated()

	s := f.rec.PartySession()
	require.NotNil(t, s)
	assert.Equal(t, "ap-south-1", s.RegionID)
}

func TestSelectedQueueIDSharedOverSession(t *testing.T) {
	f := newFixture(t)
	f.login()

	require.True(t, f.rec.SetSelectedQueueID("ranked"))
	assert.Equal(t, "ranked", f.rec.SelectedQueueID())
}

// invitedSession builds an invited-shape party session snapshot with the
// given player pending on team zero.
func invitedSession(id string, invitee, inviter uuid.UUID) *session.Session {
	return &session.Session{
		ID:    id,
		Type:  "party",
		Shape: session.ShapeInvited,
		Teams: []session.Team{{
			Players: []session.Player{{ID: invitee, Status: session.StatusInvited, InvitedBy: inviter}},
		}},
	}
}

func removeFromRoster(s *session.Session, id uuid.UUID) bool {
	for ti := range s.Teams {
		for pi := range s.Teams[ti].Players {
			if s.Teams[ti].Players[pi].ID == id {
				s.Teams[ti].Players = append(s.Teams[ti].Players[:pi], s.Teams[ti].Players[pi+1:]...)
				return true
			}
		}
	}
	return false
}
