// Package custom runs player-hosted match lobbies: creating them,
// filling their teams by invite or through the session browser, and
// kicking off the match instance. Like the party layer it holds no
// authoritative state; the session cache is the truth and the cached
// roster is rebuilt wholesale from every snapshot.
package custom

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/halfmoon-games/lobbycore/internal/invite"
	"github.com/halfmoon-games/lobbycore/internal/notify"
	"github.com/halfmoon-games/lobbycore/internal/party"
	"github.com/halfmoon-games/lobbycore/internal/players"
	"github.com/halfmoon-games/lobbycore/internal/session"
)

const feedToken = "custom"

// Session custom-data and browser-metadata keys.
const (
	mapKey        = "MapName"
	modeKey       = "GameMode"
	leaderNameKey = "leader_name"
)

// Member is one lobby roster entry.
type Member struct {
	PlayerID        uuid.UUID
	TeamID          int
	IsPendingInvite bool
	IsFriend        bool
}

// Invite is the payload for invite-received events.
type Invite struct {
	SessionID string
	Inviter   uuid.UUID
	Name      string
}

// PartyService is the slice of party state lobby flows consult.
type PartyService interface {
	IsInParty() bool
	IsLeader() bool
	Members() []party.Member
}

// QueueLeaver drops the party out of matchmaking before a lobby join.
type QueueLeaver interface {
	LeaveQueue() bool
}

// InviteEvaluator gates inbound invites; see the invite package.
type InviteEvaluator interface {
	Evaluate(inviter uuid.UUID, opts invite.Options) invite.Verdict
}

// Config tunes the controller.
type Config struct {
	SessionType string
	DefaultMap  string
	DefaultMode string
}

// Controller owns the custom-lobby view. All methods must run on the
// event loop.
type Controller struct {
	log   *zap.Logger
	feed  session.Feed
	bus   *notify.Bus
	dir   players.Directory
	local players.Local
	cfg   Config

	party  PartyService
	queue  QueueLeaver
	eval   InviteEvaluator
	syncer session.InstanceSyncer

	lobbyID    string
	members    []Member
	lastMap    string
	surfacedID string
	syncedID   string
	loggedIn   bool
	searchHits []*session.Session
}

func New(log *zap.Logger, feed session.Feed, bus *notify.Bus, dir players.Directory, local players.Local, cfg Config) *Controller {
	if cfg.SessionType == "" {
		cfg.SessionType = "browser_game"
	}
	return &Controller{
		log:   log.Named("custom"),
		feed:  feed,
		bus:   bus,
		dir:   dir,
		local: local,
		cfg:   cfg,
	}
}

func (c *Controller) SetPartyService(p PartyService)             { c.party = p }
func (c *Controller) SetQueueLeaver(q QueueLeaver)               { c.queue = q }
func (c *Controller) SetInviteEvaluator(e InviteEvaluator)       { c.eval = e }
func (c *Controller) SetInstanceSyncer(s session.InstanceSyncer) { c.syncer = s }

// Start subscribes to feed pushes.
func (c *Controller) Start() {
	c.feed.Subscribe(feedToken, session.Events{
		Added:             c.handleSessionAdded,
		Updated:           c.handleSessionUpdated,
		Removed:           c.handleSessionRemoved,
		LoginPollComplete: c.handleLoginPoll,
	})
}

// Stop unsubscribes, leaving the current lobby best-effort.
func (c *Controller) Stop() {
	c.feed.Unsubscribe(feedToken)
	if c.lobbyID != "" {
		c.feed.Leave(c.lobbyID, true, nil)
		c.clearLobby()
	}
}

// --- accessors ---

// InLobby reports whether a custom lobby is active.
func (c *Controller) InLobby() bool { return c.lobbyID != "" }

// LobbySession returns the current lobby session snapshot, or nil.
func (c *Controller) LobbySession() *session.Session {
	if c.lobbyID == "" {
		return nil
	}
	return c.feed.SessionByID(c.lobbyID)
}

// Members returns a copy of the cached lobby roster.
func (c *Controller) Members() []Member {
	out := make([]Member, len(c.members))
	copy(out, c.members)
	return out
}

// IsLocalLeader reports whether the local player hosts the lobby.
func (c *Controller) IsLocalLeader() bool {
	s := c.LobbySession()
	if s == nil {
		return false
	}
	p := s.Player(c.local.LocalID())
	return p != nil && p.Status == session.StatusLeader
}

// CanControl reports whether the local player may act on the target's
// slot: players control themselves, the host controls everyone.
func (c *Controller) CanControl(target uuid.UUID) bool {
	if target == c.local.LocalID() {
		return true
	}
	return c.IsLocalLeader()
}

// CanKick reports whether a kick of the target would be accepted.
func (c *Controller) CanKick(target uuid.UUID) bool {
	return c.IsLocalLeader() && target != c.local.LocalID() && c.isMember(target)
}

// CanPromote reports whether a host transfer to the target would be
// accepted.
func (c *Controller) CanPromote(target uuid.UUID) bool {
	if !c.IsLocalLeader() || target == c.local.LocalID() {
		return false
	}
	m, ok := c.memberByID(target)
	return ok && !m.IsPendingInvite
}

// PlayerTeamID returns the team a lobby member sits on.
func (c *Controller) PlayerTeamID(id uuid.UUID) (int, bool) {
	m, ok := c.memberByID(id)
	if !ok {
		return 0, false
	}
	return m.TeamID, true
}

// TeamMemberCount counts roster entries on one team, pending invites
// included.
func (c *Controller) TeamMemberCount(teamID int) int {
	n := 0
	for _, m := range c.members {
		if m.TeamID == teamID {
			n++
		}
	}
	return n
}

// MapName returns the lobby's configured map.
func (c *Controller) MapName() string {
	if s := c.LobbySession(); s != nil {
		if v, ok := s.CustomValue(mapKey); ok {
			return v
		}
	}
	return ""
}

// LeaderNameOf reads the host display name a lobby advertises in the
// session browser.
func LeaderNameOf(s *session.Session) string {
	v, _ := s.BrowserValue(leaderNameKey)
	return v
}

func (c *Controller) isMember(id uuid.UUID) bool {
	_, ok := c.memberByID(id)
	return ok
}

func (c *Controller) memberByID(id uuid.UUID) (Member, bool) {
	for _, m := range c.members {
		if m.PlayerID == id {
			return m, true
		}
	}
	return Member{}, false
}

// --- commands ---

// Create opens a new custom lobby in the given region. When the player
// leads a party, the other members are invited along automatically.
func (c *Controller) Create(regionID string) bool {
	if regionID == "" {
		c.log.Warn("create lobby without a region")
		return false
	}
	if c.lobbyID != "" {
		c.log.Warn("create lobby while one is active", zap.String("session", c.lobbyID))
		return false
	}
	c.log.Info("creating custom lobby", zap.String("region", regionID))
	c.feed.CreateOrJoin(session.CreateParams{
		Type:     c.cfg.SessionType,
		RegionID: regionID,
	}, func(ok bool, s *session.Session) {
		if !ok {
			c.log.Warn("lobby creation failed")
			return
		}
		c.advertise(s.ID)
		c.invitePartyAlong()
	})
	return true
}

// advertise publishes the host's name to the session browser.
func (c *Controller) advertise(sessionID string) {
	c.dir.DisplayName(c.local.LocalID(), func(ok bool, name string) {
		if !ok {
			name = "Host"
		}
		c.feed.UpdateBrowserInfo(sessionID, true, map[string]string{leaderNameKey: name})
	})
}

func (c *Controller) invitePartyAlong() {
	if c.party == nil || !c.party.IsInParty() || !c.party.IsLeader() {
		return
	}
	localID := c.local.LocalID()
	for _, m := range c.party.Members() {
		if m.PlayerID == localID || m.IsPending {
			continue
		}
		c.InviteToLobby(m.PlayerID, 0)
	}
}

// InviteToLobby invites a player onto a team. When that team is full the
// invite lands on the first team with room instead. Re-inviting someone
// already on the roster is rejected.
func (c *Controller) InviteToLobby(target uuid.UUID, teamID int) bool {
	s := c.LobbySession()
	if s == nil || target == uuid.Nil {
		return false
	}
	if s.Player(target) != nil {
		c.log.Debug("player already on lobby roster", zap.String("target", target.String()))
		return false
	}
	if teamID < 0 || teamID >= len(s.Teams) {
		teamID = 0
	}
	if s.Teams[teamID].Full() {
		redirected := -1
		for ti := range s.Teams {
			if !s.Teams[ti].Full() {
				redirected = ti
				break
			}
		}
		if redirected < 0 {
			c.log.Warn("lobby is full, dropping invite", zap.String("target", target.String()))
			return false
		}
		c.log.Debug("team full, redirecting invite",
			zap.Int("from", teamID), zap.Int("to", redirected))
		teamID = redirected
	}
	c.log.Info("inviting player to lobby",
		zap.String("target", target.String()), zap.Int("team", teamID))
	c.feed.InvitePlayer(s.ID, target, teamID, nil, func(ok bool, _ *session.Session) {
		if !ok {
			c.log.Warn("lobby invite failed", zap.String("target", target.String()))
		}
	})
	return true
}

// KickFromLobby removes a player from the lobby. Host only.
func (c *Controller) KickFromLobby(target uuid.UUID) bool {
	if !c.CanKick(target) {
		return false
	}
	c.log.Info("kicking lobby member", zap.String("target", target.String()))
	c.feed.KickPlayer(c.lobbyID, target)
	return true
}

// PromoteToHost transfers lobby leadership. Host only.
func (c *Controller) PromoteToHost(target uuid.UUID) bool {
	if !c.CanPromote(target) {
		return false
	}
	c.log.Info("promoting lobby member", zap.String("target", target.String()))
	c.feed.SetLeader(c.lobbyID, target)
	return true
}

// ChangeTeam moves a player to another team. Players move themselves;
// the host moves anyone.
func (c *Controller) ChangeTeam(target uuid.UUID, teamID int) bool {
	s := c.LobbySession()
	if s == nil || !c.CanControl(target) || s.Player(target) == nil {
		return false
	}
	if teamID < 0 || teamID >= len(s.Teams) || s.Teams[teamID].Full() {
		return false
	}
	c.feed.ChangeTeam(s.ID, target, teamID, nil)
	return true
}

// SetMap changes the lobby's map. Host only.
func (c *Controller) SetMap(mapName string) bool {
	if c.lobbyID == "" || !c.IsLocalLeader() {
		return false
	}
	c.feed.UpdateInfo(c.lobbyID, session.InfoUpdate{
		Custom: map[string]string{mapKey: mapName},
	}, nil)
	return true
}

// SetMode changes the lobby's game mode. Host only.
func (c *Controller) SetMode(mode string) bool {
	if c.lobbyID == "" || !c.IsLocalLeader() {
		return false
	}
	c.feed.UpdateInfo(c.lobbyID, session.InfoUpdate{
		Custom: map[string]string{modeKey: mode},
	}, nil)
	return true
}

// Leave exits the lobby. A departing host kicks everyone else out first
// so no one is stranded in a headless lobby. The local view clears
// immediately; the server removal confirms it.
func (c *Controller) Leave() bool {
	s := c.LobbySession()
	if s == nil {
		return false
	}
	if c.IsLocalLeader() {
		localID := c.local.LocalID()
		for _, m := range c.Members() {
			if m.PlayerID != localID {
				c.feed.KickPlayer(s.ID, m.PlayerID)
			}
		}
	}
	c.log.Info("leaving custom lobby", zap.String("session", s.ID))
	c.feed.Leave(s.ID, true, nil)
	// The removal push may have cleared the lobby already; only clear
	// optimistically when it has not.
	if c.lobbyID == s.ID {
		c.clearLobby()
		c.bus.Publish(notify.CustomMatchLeft, nil)
	}
	return true
}

// StartMatch requests a game instance for the lobby. Pending invitees
// who never answered are dropped so the match starts with a settled
// roster. Host only.
func (c *Controller) StartMatch(dedicated bool) bool {
	s := c.LobbySession()
	if s == nil || !c.IsLocalLeader() {
		return false
	}
	for _, m := range c.Members() {
		if m.IsPendingInvite {
			c.feed.KickPlayer(s.ID, m.PlayerID)
		}
	}
	mapName := c.MapName()
	if mapName == "" {
		mapName = c.cfg.DefaultMap
	}
	mode, _ := s.CustomValue(modeKey)
	if mode == "" {
		mode = c.cfg.DefaultMode
	}
	c.log.Info("starting custom match",
		zap.String("session", s.ID), zap.String("map", mapName), zap.String("mode", mode))
	c.feed.RequestInstance(s.ID, session.InstanceRequest{
		Map:       mapName,
		Mode:      mode,
		Dedicated: dedicated,
	}, func(ok bool, res *session.Session) {
		if !ok {
			c.log.Warn("instance request failed", zap.String("session", s.ID))
			return
		}
		c.maybeSync(res)
	})
	return true
}

// AcceptInvite joins the surfaced lobby invite, dropping out of
// matchmaking and any current lobby first.
func (c *Controller) AcceptInvite() bool {
	invites := c.feed.InvitedByType(c.cfg.SessionType)
	if len(invites) == 0 {
		return false
	}
	target := invites[0]
	if c.queue != nil {
		c.queue.LeaveQueue()
	}
	if c.lobbyID != "" && c.lobbyID != target.ID {
		c.Leave()
	}
	c.surfacedID = ""
	c.log.Info("accepting lobby invite", zap.String("session", target.ID))
	teamID := 0
	if entry := target.Player(c.local.LocalID()); entry != nil {
		if ti := target.TeamOf(c.local.LocalID()); ti >= 0 {
			teamID = ti
		}
	}
	c.feed.JoinByID(target.ID, teamID, func(ok bool, _ *session.Session) {
		if !ok {
			c.log.Warn("lobby invite join failed", zap.String("session", target.ID))
		}
	})
	return true
}

// DeclineInvite turns the surfaced lobby invite down.
func (c *Controller) DeclineInvite() bool {
	invites := c.feed.InvitedByType(c.cfg.SessionType)
	if len(invites) == 0 {
		return false
	}
	c.surfacedID = ""
	c.log.Info("declining lobby invite", zap.String("session", invites[0].ID))
	c.feed.Leave(invites[0].ID, true, nil)
	return true
}

// Search queries the session browser for open lobbies. Empty shells
// whose last player already left are filtered out.
func (c *Controller) Search() {
	c.feed.SearchSessions(session.BrowserSearchParams{
		Type:         c.cfg.SessionType,
		CacheDetails: true,
	}, func(ok bool, res session.BrowserSearchResult) {
		if !ok {
			c.log.Warn("lobby search failed")
			return
		}
		hits := make([]*session.Session, 0, len(res.Sessions))
		for _, s := range res.Sessions {
			if s.PlayerCount() == 0 {
				continue
			}
			hits = append(hits, s)
		}
		c.searchHits = hits
		c.bus.Publish(notify.CustomSearchResults, c.SearchResults())
	})
}

// SearchResults returns the last browser search outcome.
func (c *Controller) SearchResults() []*session.Session {
	out := make([]*session.Session, len(c.searchHits))
	copy(out, c.searchHits)
	return out
}

// JoinBrowserSession joins a lobby found through Search. Lobbies we are
// already attached to, and ones no longer joinable, are rejected.
func (c *Controller) JoinBrowserSession(sessionID string) bool {
	var target *session.Session
	for _, s := range c.searchHits {
		if s.ID == sessionID {
			target = s
			break
		}
	}
	if target == nil || !target.Joinable {
		return false
	}
	if cached := c.feed.SessionByID(sessionID); cached != nil && cached.Shape != session.ShapeView {
		c.log.Debug("already attached to browsed lobby", zap.String("session", sessionID))
		return false
	}
	if c.queue != nil {
		c.queue.LeaveQueue()
	}
	c.log.Info("joining browsed lobby", zap.String("session", sessionID))
	teamID := 0
	if len(target.Teams) > 1 {
		teamID = 1
	}
	c.feed.JoinByID(sessionID, teamID, func(ok bool, _ *session.Session) {
		if !ok {
			c.log.Warn("browsed lobby join failed", zap.String("session", sessionID))
		}
	})
	return true
}

// --- feed push handlers ---

func (c *Controller) handleSessionAdded(s *session.Session) {
	if s.Type != c.cfg.SessionType {
		return
	}
	if !c.loggedIn {
		// Initial cache population; the login-poll sweep picks it up.
		return
	}
	switch s.Shape {
	case session.ShapeInvited:
		c.processInvite(s)
	case session.ShapeJoined:
		first := c.lobbyID == ""
		c.lobbyID = s.ID
		c.rebuild(s)
		if first {
			c.bus.Publish(notify.CustomMatchJoined, s.ID)
		}
	}
}

func (c *Controller) handleSessionUpdated(s *session.Session) {
	if s.Type != c.cfg.SessionType || s.ID != c.lobbyID {
		return
	}
	c.rebuild(s)
	c.maybeSync(s)
}

// maybeSync attaches the client to the lobby's instance once per lobby,
// whether the joinable instance arrives via command completion or push.
func (c *Controller) maybeSync(s *session.Session) {
	if !s.InstanceJoinable() || c.syncer == nil || c.syncedID == s.ID {
		return
	}
	c.syncedID = s.ID
	c.syncer.SyncToSession(s)
}

func (c *Controller) handleSessionRemoved(s *session.Session) {
	if s.Type != c.cfg.SessionType {
		return
	}
	if s.ID == c.surfacedID {
		c.surfacedID = ""
	}
	if s.ID != c.lobbyID {
		return
	}
	c.clearLobby()
	c.bus.Publish(notify.CustomMatchLeft, nil)
}

func (c *Controller) handleLoginPoll(ok bool) {
	c.loggedIn = true
	if !ok {
		return
	}
	if s := c.feed.FirstJoinedByType(c.cfg.SessionType); s != nil && c.lobbyID == "" {
		c.lobbyID = s.ID
		c.rebuild(s)
		c.bus.Publish(notify.CustomMatchJoined, s.ID)
	}
	for _, s := range c.feed.InvitedByType(c.cfg.SessionType) {
		c.processInvite(s)
	}
}

// processInvite decides an inbound lobby invite's fate. A matchmade
// invite is the server placing the party into its match lobby and joins
// without asking.
func (c *Controller) processInvite(s *session.Session) {
	if !c.loggedIn {
		// Processed in bulk once the login poll settles.
		return
	}
	entry := s.Player(c.local.LocalID())
	if entry == nil {
		return
	}
	if s.FromMatchmaking {
		c.log.Info("auto-joining matchmade lobby", zap.String("session", s.ID))
		c.feed.JoinByID(s.ID, s.TeamOf(c.local.LocalID()), nil)
		return
	}
	if c.eval == nil {
		return
	}
	verdict := c.eval.Evaluate(entry.InvitedBy, invite.Options{
		OtherPending:  c.surfacedID != "" && c.surfacedID != s.ID,
		AllowAutoJoin: true,
	})
	switch verdict.Decision {
	case invite.AutoDecline:
		c.log.Info("auto-declining lobby invite",
			zap.String("session", s.ID), zap.String("reason", verdict.Reason))
		c.feed.Leave(s.ID, true, nil)
	case invite.AutoJoin:
		c.log.Info("auto-joining lobby behind party leader", zap.String("session", s.ID))
		c.feed.JoinByID(s.ID, s.TeamOf(c.local.LocalID()), nil)
	default:
		c.surfacedID = s.ID
		inviter := entry.InvitedBy
		if inviter == uuid.Nil {
			c.bus.Publish(notify.CustomMatchInviteReceived, Invite{SessionID: s.ID})
			return
		}
		c.dir.DisplayName(inviter, func(ok bool, name string) {
			if !ok {
				name = inviter.String()
			}
			c.bus.Publish(notify.CustomMatchInviteReceived, Invite{
				SessionID: s.ID,
				Inviter:   inviter,
				Name:      name,
			})
		})
	}
}

// --- internals ---

func (c *Controller) clearLobby() {
	c.lobbyID = ""
	c.members = nil
	c.lastMap = ""
	c.syncedID = ""
}

// rebuild replaces the cached roster from the snapshot. Unlike the party
// view there is no per-member diffing; lobby UIs redraw wholesale.
func (c *Controller) rebuild(s *session.Session) {
	var members []Member
	for ti := range s.Teams {
		for _, p := range s.Teams[ti].Players {
			members = append(members, Member{
				PlayerID:        p.ID,
				TeamID:          ti,
				IsPendingInvite: p.Status == session.StatusInvited,
				IsFriend:        c.dir.IsFriend(p.ID),
			})
		}
	}
	c.members = members
	c.bus.Publish(notify.CustomMatchDataChanged, s.ID)

	if mapName, ok := s.CustomValue(mapKey); ok && mapName != c.lastMap {
		c.lastMap = mapName
		c.bus.Publish(notify.CustomMatchMapChanged, mapName)
	}
}
