// Package party keeps the local view of the player's party in agreement
// with whatever session the feed says the party is. Local commands and
// server pushes race freely; the reconcile pass is idempotent, and the
// pendingLeave/kicked intent flags attribute an observed session removal
// to the right cause exactly once.
package party

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/halfmoon-games/lobbycore/internal/invite"
	"github.com/halfmoon-games/lobbycore/internal/notify"
	"github.com/halfmoon-games/lobbycore/internal/players"
	"github.com/halfmoon-games/lobbycore/internal/runloop"
	"github.com/halfmoon-games/lobbycore/internal/session"
)

const feedToken = "party"

// Custom-data key shared with the rest of the party over the session.
const selectedQueueIDKey = "SelectedQueueId"

// InviteMode controls who may invite into the party.
type InviteMode int

const (
	InviteModeAllMembers InviteMode = iota
	InviteModeLeaderOnly
)

// Member is the party roster as the UI sees it. Comparable on purpose:
// structural equality is how a no-op merge is detected.
type Member struct {
	PlayerID  uuid.UUID
	IsLeader  bool
	IsPending bool
	IsFriend  bool
	Online    bool
	CanInvite bool
}

// Invitation is the payload for invitation-received events.
type Invitation struct {
	Inviter uuid.UUID
	Name    string
}

// QueueService is the slice of the queue controller the reconciler needs
// for its leave-queue side effects. Injected after construction to break
// the party/queue dependency cycle.
type QueueService interface {
	LeaveQueue() bool
}

// InviteEvaluator gates inbound invites; see the invite package.
type InviteEvaluator interface {
	Evaluate(inviter uuid.UUID, opts invite.Options) invite.Verdict
}

// Config tunes the reconciler.
type Config struct {
	SessionType   string
	MaxSize       int
	ClientVersion string
}

// Reconciler owns PartyState. All methods must be called from the event
// loop; nothing here is internally synchronized.
type Reconciler struct {
	log   *zap.Logger
	feed  session.Feed
	bus   *notify.Bus
	dir   players.Directory
	local players.Local
	sched runloop.Scheduler
	cfg   Config

	queue QueueService
	eval  InviteEvaluator

	partyID      string
	members      []Member
	maxed        bool
	inviteMode   InviteMode
	pendingLeave bool
	kicked       bool
	pendingKicks map[uuid.UUID]bool
	inviterID    uuid.UUID
	lastLogin    uuid.UUID

	refresh *runloop.Task
}

func New(log *zap.Logger, feed session.Feed, bus *notify.Bus, dir players.Directory, local players.Local, sched runloop.Scheduler, cfg Config) *Reconciler {
	if cfg.SessionType == "" {
		cfg.SessionType = "party"
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 4
	}
	return &Reconciler{
		log:          log.Named("party"),
		feed:         feed,
		bus:          bus,
		dir:          dir,
		local:        local,
		sched:        sched,
		cfg:          cfg,
		inviteMode:   InviteModeAllMembers,
		pendingKicks: make(map[uuid.UUID]bool),
	}
}

// SetQueueService wires the leave-queue side effect.
func (r *Reconciler) SetQueueService(q QueueService) { r.queue = q }

// SetInviteEvaluator wires inbound invite gating.
func (r *Reconciler) SetInviteEvaluator(e InviteEvaluator) { r.eval = e }

// SetInviteMode changes who may invite into the party.
func (r *Reconciler) SetInviteMode(m InviteMode) { r.inviteMode = m }

// Start subscribes to feed pushes and bootstraps from the current cache.
func (r *Reconciler) Start() {
	r.feed.Subscribe(feedToken, session.Events{
		Added:             r.handleSessionAdded,
		Updated:           r.handleSessionUpdated,
		Removed:           r.handleSessionRemoved,
		LoginPollComplete: r.handleLoginPoll,
	})
	r.PostLogin()
}

// Stop unsubscribes and cleans up; with forceLeave it also issues a
// best-effort leave for the current party.
func (r *Reconciler) Stop(forceLeave bool) {
	r.feed.Unsubscribe(feedToken)
	r.refresh.Stop()
	r.DenyInvitation()
	if forceLeave && r.partyID != "" {
		r.feed.Leave(r.partyID, false, nil)
	}
}

// PostLogin resets state and reconciles against whatever the feed already
// has. The full bootstrap happens when the login poll completes.
func (r *Reconciler) PostLogin() {
	r.log.Debug("post-login reset")
	r.partyID = ""
	r.members = nil
	r.maxed = false
	r.pendingLeave = false
	r.kicked = false
	r.pendingKicks = make(map[uuid.UUID]bool)
	if s := r.feed.FirstJoinedByType(r.cfg.SessionType); s != nil {
		r.reconcile(s)
	}
}

// PostLogoff tears the party state down for logout.
func (r *Reconciler) PostLogoff() {
	r.Stop(true)
	r.partyID = ""
	r.members = nil
	r.maxed = false
	r.pendingLeave = false
	r.kicked = false
	r.pendingKicks = make(map[uuid.UUID]bool)
	r.lastLogin = uuid.Nil
}

// --- accessors ---

// PartySession returns the current party session snapshot, or nil.
func (r *Reconciler) PartySession() *session.Session {
	if r.partyID == "" {
		return nil
	}
	return r.feed.SessionByID(r.partyID)
}

// PartySessionID returns the current party session id, empty when solo
// synthesis is still pending.
func (r *Reconciler) PartySessionID() string { return r.partyID }

// Members returns a copy of the cached roster.
func (r *Reconciler) Members() []Member {
	out := make([]Member, len(r.members))
	copy(out, r.members)
	return out
}

// MemberByID finds a cached member.
func (r *Reconciler) MemberByID(id uuid.UUID) (Member, bool) {
	for _, m := range r.members {
		if m.PlayerID == id {
			return m, true
		}
	}
	return Member{}, false
}

// IsMember reports whether the player is on the cached roster, pending
// invites included.
func (r *Reconciler) IsMember(id uuid.UUID) bool {
	_, ok := r.MemberByID(id)
	return ok
}

// IsInParty reports whether the player is in a party with anyone else.
// A solo party does not count, nor do invitees who have not accepted yet.
func (r *Reconciler) IsInParty() bool {
	if r.partyID == "" {
		return false
	}
	joined := 0
	for _, m := range r.members {
		if !m.IsPending {
			joined++
		}
	}
	return joined > 1
}

// IsLeader reports whether the local player leads the current party.
func (r *Reconciler) IsLeader() bool {
	return r.isLeader(r.local.LocalID())
}

func (r *Reconciler) isLeader(id uuid.UUID) bool {
	s := r.PartySession()
	if s == nil {
		return false
	}
	p := s.Player(id)
	return p != nil && p.Status == session.StatusLeader
}

// Leader returns the party leader's id.
func (r *Reconciler) Leader() (uuid.UUID, bool) {
	s := r.PartySession()
	if s == nil {
		return uuid.Nil, false
	}
	p, ok := s.Leader()
	return p.ID, ok
}

// MaxPartySize is the configured roster cap.
func (r *Reconciler) MaxPartySize() int { return r.cfg.MaxSize }

// PartyMaxed reports whether the roster is at capacity.
func (r *Reconciler) PartyMaxed() bool { return r.maxed }

// Inviter returns who sent the currently surfaced party invite.
func (r *Reconciler) Inviter() (uuid.UUID, bool) {
	return r.inviterID, r.inviterID != uuid.Nil
}

// HasInvitePrivileges reports whether the player may invite others.
func (r *Reconciler) HasInvitePrivileges(id uuid.UUID) bool {
	return r.isLeader(id) || r.inviteMode == InviteModeAllMembers
}

// --- party custom metadata ---

// SetPartyInfo writes a key into the party session's custom metadata.
// Leader only.
func (r *Reconciler) SetPartyInfo(key, value string) bool {
	if r.partyID == "" || !r.IsLeader() {
		return false
	}
	r.feed.UpdateInfo(r.partyID, session.InfoUpdate{Custom: map[string]string{key: value}}, nil)
	return true
}

// PartyInfo reads a key from the party session's custom metadata.
func (r *Reconciler) PartyInfo(key string) string {
	if s := r.PartySession(); s != nil {
		if v, ok := s.CustomValue(key); ok {
			return v
		}
	}
	return ""
}

// SetSelectedQueueID shares the leader's queue selection with the party.
func (r *Reconciler) SetSelectedQueueID(queueID string) bool {
	return r.SetPartyInfo(selectedQueueIDKey, queueID)
}

// SelectedQueueID reads the queue selection shared over the session.
func (r *Reconciler) SelectedQueueID() string {
	return r.PartyInfo(selectedQueueIDKey)
}

// --- commands ---

// InviteMember invites a player into the party. Returns whether the
// command was accepted for processing; delivery is reported on the bus.
func (r *Reconciler) InviteMember(target uuid.UUID) bool {
	s := r.PartySession()
	if s == nil || target == uuid.Nil {
		return false
	}
	localID := r.local.LocalID()
	if s.Player(localID) == nil || !r.HasInvitePrivileges(localID) {
		return false
	}

	if !r.local.CrossplayEnabled() {
		// Without crossplay an invite only goes out if we share a
		// platform relationship with the invitee; otherwise drop it
		// silently.
		r.dir.LinkedPlatforms(target, func(ok bool, platforms []players.PlatformID) {
			if !ok || r.partyID == "" {
				return
			}
			for _, p := range platforms {
				if r.dir.HasPlatformRelationship(p) {
					r.sendInvite(target)
					return
				}
			}
			r.log.Debug("suppressing invite, no platform relationship",
				zap.String("target", target.String()))
		})
		return true
	}

	r.sendInvite(target)
	return true
}

func (r *Reconciler) sendInvite(target uuid.UUID) {
	r.feed.InvitePlayer(r.partyID, target, 0, nil, func(ok bool, _ *session.Session) {
		if ok {
			r.bus.Publish(notify.PartyInvitationSent, target)
			return
		}
		r.dir.DisplayName(target, func(nameOK bool, name string) {
			if !nameOK {
				name = target.String()
			}
			r.log.Warn("party invite failed", zap.String("target", name))
			r.bus.Publish(notify.PartyInvitationError, fmt.Sprintf("Could not invite %s to party.", name))
		})
	})
}

// AcceptInvitation joins the first pending party invite.
func (r *Reconciler) AcceptInvitation() bool {
	invites := r.feed.InvitedByType(r.cfg.SessionType)
	if len(invites) == 0 {
		return false
	}
	r.log.Info("accepting party invite", zap.String("session", invites[0].ID))
	r.inviterID = uuid.Nil
	r.bus.Publish(notify.PartyInvitationAccepted, nil)
	r.feed.JoinByID(invites[0].ID, 0, func(ok bool, _ *session.Session) {
		if !ok {
			r.bus.Publish(notify.PartyInvitationError, "Failed to join party session.")
		}
	})
	return true
}

// DenyInvitation declines the first pending party invite.
func (r *Reconciler) DenyInvitation() bool {
	invites := r.feed.InvitedByType(r.cfg.SessionType)
	if len(invites) == 0 {
		return false
	}
	r.log.Info("denying party invite", zap.String("session", invites[0].ID))
	r.inviterID = uuid.Nil
	r.bus.Publish(notify.PartyInvitationRejected, nil)
	r.feed.Leave(invites[0].ID, true, nil)
	return true
}

// PromoteToLeader transfers leadership. Leader only.
func (r *Reconciler) PromoteToLeader(target uuid.UUID) bool {
	if r.partyID == "" || !r.IsMember(target) || !r.IsLeader() {
		r.log.Warn("cannot promote player", zap.String("target", target.String()))
		return false
	}
	r.log.Info("promoting party member", zap.String("target", target.String()))
	r.feed.SetLeader(r.partyID, target)
	return true
}

// KickMember removes a member. Leader only. The intent flag makes the
// eventual roster removal report as a kick, not a departure.
func (r *Reconciler) KickMember(target uuid.UUID) bool {
	if r.partyID == "" || !r.IsMember(target) || !r.IsLeader() {
		r.log.Warn("cannot kick player", zap.String("target", target.String()))
		return false
	}
	r.log.Info("kicking party member", zap.String("target", target.String()))
	r.pendingKicks[target] = true
	r.feed.KickPlayer(r.partyID, target)
	return true
}

// LeaveParty leaves the current party. The local intent is authoritative
// for the UI before the server round-trip completes; pendingLeave makes
// the eventual session-removed push attribute correctly.
func (r *Reconciler) LeaveParty() bool {
	if r.partyID == "" {
		return false
	}
	r.log.Info("leaving party", zap.String("session", r.partyID))
	if r.queue != nil {
		r.queue.LeaveQueue()
	}
	r.pendingLeave = true
	r.feed.Leave(r.partyID, false, nil)
	r.createSoloParty()
	return true
}

// MarkKicked records that the local player's upcoming removal from the
// party was a kick, so the removal is not reported as a disband.
func (r *Reconciler) MarkKicked() {
	r.kicked = true
}

// FriendsUpdated coalesces friend/presence bursts into one reconcile on
// the next tick.
func (r *Reconciler) FriendsUpdated() {
	if r.refresh != nil && !r.refresh.Stopped() {
		return
	}
	r.refresh = r.sched.NextTick(func() {
		r.refresh = nil
		r.reconcile(r.PartySession())
	})
}

// PreferredRegionUpdated reacts to a change of the player's preferred
// region: the leader (or a solo player) moves the session, and a player
// whose solo synthesis was deferred for want of a region retries it.
func (r *Reconciler) PreferredRegionUpdated() {
	s := r.PartySession()
	if s == nil {
		if r.lastLogin != uuid.Nil && r.lastLogin == r.local.LocalID() {
			// Login poll already completed; solo synthesis must have
			// been deferred waiting for this region.
			r.createSoloParty()
		}
		return
	}
	if r.IsInParty() && !r.IsLeader() {
		return
	}
	region, ok := r.local.PreferredRegion()
	if !ok {
		r.log.Warn("preferred region update without a region")
		return
	}
	if region == s.RegionID {
		return
	}
	r.feed.UpdateInfo(r.partyID, session.InfoUpdate{RegionID: region}, r.handleRegionUpdateDone)
}

func (r *Reconciler) handleRegionUpdateDone(ok bool, _ *session.Session) {
	if ok {
		return
	}
	r.log.Warn("session region update failed")
	if r.IsInParty() {
		if r.IsLeader() {
			// Revert the local setting to match the session we could
			// not move.
			if s := r.PartySession(); s != nil {
				r.local.SetPreferredRegion(s.RegionID)
				r.bus.Publish(notify.PartyError, "Failed to update region; region setting was reverted.")
			}
		}
		return
	}
	// Solo: recreate the party at the new region instead.
	r.LeaveParty()
}

// --- feed push handlers ---

func (r *Reconciler) handleSessionAdded(s *session.Session) {
	if s.Type != r.cfg.SessionType {
		return
	}
	switch s.Shape {
	case session.ShapeInvited:
		r.processInvites()
	case session.ShapeJoined:
		r.broadcastMemberStatuses(s)
		r.reconcile(s)
	}
}

func (r *Reconciler) handleSessionUpdated(s *session.Session) {
	if s.Type != r.cfg.SessionType {
		return
	}
	switch s.Shape {
	case session.ShapeInvited:
		r.processInvites()
	case session.ShapeJoined:
		if s.ID == r.partyID && s.Player(r.local.LocalID()) == nil {
			// Still cached as our party but we are off the roster: the
			// upcoming removal is a kick, not a disband.
			r.kicked = true
		}
		r.reconcile(s)
	}
	// A team reduced to one player changes that player's solo/party
	// standing; let presence surfaces know.
	for _, t := range s.Teams {
		if len(t.Players) == 1 {
			r.bus.Publish(notify.PartyMemberStatusChanged, t.Players[0].ID)
		}
	}
}

func (r *Reconciler) handleSessionRemoved(s *session.Session) {
	if s.Type != r.cfg.SessionType {
		return
	}
	switch s.Shape {
	case session.ShapeInvited:
		r.processInvites()
	case session.ShapeJoined:
		if s.ID == r.partyID {
			r.reconcile(nil)
		}
	}
	r.broadcastMemberStatuses(s)
}

func (r *Reconciler) handleLoginPoll(ok bool) {
	r.log.Debug("login poll complete", zap.Bool("ok", ok))
	if ok {
		if s := r.feed.FirstJoinedByType(r.cfg.SessionType); s != nil {
			r.reconcile(s)
		} else {
			r.createSoloParty()
		}
	}
	r.lastLogin = r.local.LocalID()
}

func (r *Reconciler) broadcastMemberStatuses(s *session.Session) {
	for _, t := range s.Teams {
		for _, p := range t.Players {
			r.bus.Publish(notify.PartyMemberStatusChanged, p.ID)
		}
	}
}

// --- invite push processing ---

func (r *Reconciler) processInvites() {
	if r.eval == nil {
		return
	}
	localID := r.local.LocalID()
	if localID == uuid.Nil {
		return
	}
	for _, inv := range r.feed.InvitedByType(r.cfg.SessionType) {
		entry := inv.Player(localID)
		if entry == nil {
			continue
		}
		inviter := entry.InvitedBy
		verdict := r.eval.Evaluate(inviter, invite.Options{})
		if verdict.Decision == invite.AutoDecline {
			r.log.Info("auto-declining party invite",
				zap.String("session", inv.ID),
				zap.String("reason", verdict.Reason))
			r.feed.Leave(inv.ID, true, nil)
			if verdict.Reason == "inviter blocked" {
				continue
			}
			return
		}

		r.inviterID = inviter
		if inviter == uuid.Nil {
			r.bus.Publish(notify.PartyInvitationReceived, Invitation{})
			return
		}
		r.dir.DisplayName(inviter, func(ok bool, name string) {
			if !ok {
				name = inviter.String()
			}
			r.log.Info("party invite received", zap.String("from", name))
			r.bus.Publish(notify.PartyInvitationReceived, Invitation{Inviter: inviter, Name: name})
		})
		return
	}
}

// --- reconciliation ---

// reconcile merges a fresh party session snapshot into the cached state.
// Safe to call repeatedly with the same snapshot: a fully reconciled
// session produces no notifications.
func (r *Reconciler) reconcile(s *session.Session) {
	oldID := r.partyID
	needsLeaveQueue := false

	switch {
	case s == nil && oldID == "":
		return

	case s == nil:
		// party -> no-party
		r.log.Info("leaving in-party state", zap.String("session", oldID))
		r.partyID = ""
		r.members = nil
		r.maxed = false
		r.pendingKicks = make(map[uuid.UUID]bool)
		needsLeaveQueue = true

		r.feed.WatchPlayers(oldID, false)
		r.feed.Leave(oldID, false, nil) // courtesy; usually already gone

		r.bus.Publish(notify.PartyDataUpdated, nil)

		switch {
		case r.pendingLeave:
			r.pendingLeave = false
			r.bus.Publish(notify.PartyLocalPlayerLeft, nil)
		case r.kicked:
			r.kicked = false
			r.bus.Publish(notify.PartyLocalPlayerKicked, nil)
		default:
			// We were not leaving and not kicked: someone else's
			// departure dissolved the party.
			r.bus.Publish(notify.PartyDisbanded, nil)
		}

		r.createSoloParty()

	case oldID != s.ID:
		// no-party -> party, or hopped sessions
		// Adopt the new id before leaving the old session, so the
		// removal push for the old one is not mistaken for losing the
		// party we are joining.
		r.partyID = s.ID
		if oldID != "" {
			r.log.Warn("party session replaced while one was active",
				zap.String("old", oldID), zap.String("new", s.ID))
			r.feed.WatchPlayers(oldID, false)
			r.feed.Leave(oldID, false, nil)
		}
		r.feed.WatchPlayers(s.ID, true)
		r.members = r.buildMembers(s)
		r.pendingLeave = false
		r.pendingKicks = make(map[uuid.UUID]bool)
		r.log.Info("joined party", zap.String("session", s.ID), zap.Int("members", len(r.members)))
		r.bus.Publish(notify.PartyDataUpdated, nil)
		needsLeaveQueue = true

	default:
		// same session, content update
		cached := make([]Member, len(r.members))
		copy(cached, r.members)
		for _, m := range cached {
			entry := s.Player(m.PlayerID)
			if entry == nil {
				if r.removeMember(m.PlayerID) {
					if r.pendingKicks[m.PlayerID] {
						delete(r.pendingKicks, m.PlayerID)
						r.bus.Publish(notify.PartyMemberRemoved, m.PlayerID)
					} else {
						r.bus.Publish(notify.PartyMemberLeft, m)
					}
					needsLeaveQueue = true
				}
				continue
			}
			fresh := r.buildMember(*entry)
			if fresh == m {
				continue
			}
			accepted := m.IsPending && !fresh.IsPending
			if !r.updateMember(fresh) {
				r.log.Warn("failed to update cached party member",
					zap.String("player", fresh.PlayerID.String()))
				continue
			}
			if accepted {
				r.bus.Publish(notify.PendingPartyMemberAccepted, fresh)
				needsLeaveQueue = true
			}
			r.bus.Publish(notify.PartyMemberDataUpdated, fresh)
		}

		// Pick up roster entries we have not cached yet: new pending
		// invites or joins that raced ahead of us.
		for _, t := range s.Teams {
			for _, p := range t.Players {
				if r.IsMember(p.ID) {
					continue
				}
				if len(r.members) >= r.cfg.MaxSize {
					r.log.Warn("roster exceeds max party size, ignoring entry",
						zap.String("player", p.ID.String()))
					continue
				}
				nm := r.buildMember(p)
				r.dir.NoteRecentPlayer(p.ID)
				r.members = append(r.members, nm)
				r.bus.Publish(notify.PendingPartyMemberDataAdded, nm)
				needsLeaveQueue = true
			}
		}
	}

	r.maxed = len(r.members) >= r.cfg.MaxSize

	if needsLeaveQueue && r.queue != nil {
		r.queue.LeaveQueue()
	}
}

func (r *Reconciler) buildMembers(s *session.Session) []Member {
	var out []Member
	for _, t := range s.Teams {
		for _, p := range t.Players {
			if len(out) >= r.cfg.MaxSize {
				r.log.Warn("roster exceeds max party size, truncating")
				return out
			}
			r.dir.NoteRecentPlayer(p.ID)
			out = append(out, r.buildMember(p))
		}
	}
	return out
}

func (r *Reconciler) buildMember(p session.Player) Member {
	m := Member{
		PlayerID:  p.ID,
		IsLeader:  p.Status == session.StatusLeader,
		IsPending: p.Status == session.StatusInvited,
		IsFriend:  r.dir.IsFriend(p.ID),
		Online:    true, // assume online when presence is unavailable
	}
	if info, ok := r.dir.Info(p.ID); ok && info.Presence != players.PresenceUnknown {
		m.Online = info.Presence == players.PresenceOnline || info.Presence == players.PresenceAway
	}
	m.CanInvite = m.IsLeader
	return m
}

func (r *Reconciler) updateMember(m Member) bool {
	for i := range r.members {
		if r.members[i].PlayerID == m.PlayerID {
			r.members[i] = m
			return true
		}
	}
	return false
}

func (r *Reconciler) removeMember(id uuid.UUID) bool {
	for i := range r.members {
		if r.members[i].PlayerID == id {
			r.members = append(r.members[:i], r.members[i+1:]...)
			return true
		}
	}
	return false
}

// createSoloParty synthesizes a fresh solo party when no party session
// exists. Deferred when the preferred region is not known yet; retried
// from PreferredRegionUpdated.
func (r *Reconciler) createSoloParty() {
	if r.feed.FirstJoinedByType(r.cfg.SessionType) != nil {
		r.log.Debug("solo party synthesis skipped, party already exists")
		return
	}
	region, ok := r.local.PreferredRegion()
	if !ok {
		r.log.Warn("solo party synthesis deferred, preferred region unknown")
		return
	}
	r.feed.CreateOrJoin(session.CreateParams{
		Type:          r.cfg.SessionType,
		RegionID:      region,
		ClientVersion: r.cfg.ClientVersion,
	}, func(ok bool, s *session.Session) {
		if ok {
			r.reconcile(s)
		}
	})
}
