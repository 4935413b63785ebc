// Package notify is the event bus between the session controllers and
// whatever renders their state. Each named channel fans out to an ordered
// subscriber list; subscription is keyed by token so a double subscribe
// replaces rather than duplicates.
package notify

// Channel names published by the controllers.
const (
	PartyDataUpdated            = "party.data_updated"
	PartyMemberDataUpdated      = "party.member_updated"
	PartyMemberLeft             = "party.member_left"
	PartyMemberRemoved          = "party.member_removed"
	PendingPartyMemberDataAdded = "party.pending_member_added"
	PendingPartyMemberAccepted  = "party.pending_member_accepted"
	PartyDisbanded              = "party.disbanded"
	PartyLocalPlayerLeft        = "party.local_player_left"
	PartyLocalPlayerKicked      = "party.local_player_kicked"
	PartyMemberStatusChanged    = "party.member_status_changed"
	PartyInvitationReceived     = "party.invitation_received"
	PartyInvitationSent         = "party.invitation_sent"
	PartyInvitationAccepted     = "party.invitation_accepted"
	PartyInvitationRejected     = "party.invitation_rejected"
	PartyInvitationError        = "party.invitation_error"
	PartyError                  = "party.error"

	QueueJoined        = "queue.joined"
	QueueLeft          = "queue.left"
	QueueStatusChanged = "queue.status_changed"
	QueueDataUpdated   = "queue.data_updated"
	QueueSelected      = "queue.selected"
	MatchRejoinPrompt  = "queue.match_rejoin_prompt"

	CustomMatchJoined         = "custom.joined"
	CustomMatchLeft           = "custom.left"
	CustomMatchDataChanged    = "custom.data_changed"
	CustomMatchMapChanged     = "custom.map_changed"
	CustomMatchInviteReceived = "custom.invite_received"
	CustomSearchResults       = "custom.search_results"
)

// Event is what subscribers receive.
type Event struct {
	Channel string
	Payload any
}

// HandlerFunc consumes a published event.
type HandlerFunc func(Event)

type subscription struct {
	token string
	fn    HandlerFunc
}

// Bus routes events to subscribers. It is not internally synchronized:
// all use happens on the controllers' event loop.
type Bus struct {
	channels map[string][]subscription
	all      []subscription
}

func NewBus() *Bus {
	return &Bus{channels: make(map[string][]subscription)}
}

// Subscribe registers fn on a channel. Resubscribing with the same token
// replaces the handler in place, keeping its position in the dispatch
// order.
func (b *Bus) Subscribe(channel, token string, fn HandlerFunc) {
	subs := b.channels[channel]
	for i := range subs {
		if subs[i].token == token {
			subs[i].fn = fn
			return
		}
	}
	b.channels[channel] = append(subs, subscription{token: token, fn: fn})
}

// SubscribeAll registers fn for every channel, with the same replace
// semantics as Subscribe.
func (b *Bus) SubscribeAll(token string, fn HandlerFunc) {
	for i := range b.all {
		if b.all[i].token == token {
			b.all[i].fn = fn
			return
		}
	}
	b.all = append(b.all, subscription{token: token, fn: fn})
}

// Unsubscribe removes the token's handler from one channel. Unknown
// tokens are a no-op.
func (b *Bus) Unsubscribe(channel, token string) {
	subs := b.channels[channel]
	for i := range subs {
		if subs[i].token == token {
			b.channels[channel] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// UnsubscribeAll removes the token from every channel and from the
// SubscribeAll list.
func (b *Bus) UnsubscribeAll(token string) {
	for ch := range b.channels {
		b.Unsubscribe(ch, token)
	}
	for i := range b.all {
		if b.all[i].token == token {
			b.all = append(b.all[:i], b.all[i+1:]...)
			break
		}
	}
}

// Publish delivers the event to the channel's subscribers in subscription
// order, then to the SubscribeAll list.
func (b *Bus) Publish(channel string, payload any) {
	ev := Event{Channel: channel, Payload: payload}
	for _, s := range b.channels[channel] {
		s.fn(ev)
	}
	for _, s := range b.all {
		s.fn(ev)
	}
}
