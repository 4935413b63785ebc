// Package players holds the identity/presence/friends collaborators the
// session controllers consult. The real implementations live in the
// platform SDK; this package defines the contracts plus in-memory
// versions for tests and the demo daemon.
package players

import "github.com/google/uuid"

// Presence is a player's last known online status.
type Presence int

const (
	PresenceUnknown Presence = iota
	PresenceOffline
	PresenceOnline
	PresenceAway
	PresenceBusy
)

// PlatformID identifies a player on an external platform.
type PlatformID struct {
	Platform string
	Handle   string
}

// Info is the directory's view of a single player.
type Info struct {
	ID          uuid.UUID
	DisplayName string
	Presence    Presence
	PortalID    string
	Platforms   []PlatformID
}

// DisplayNameFunc reports an asynchronous display-name lookup.
type DisplayNameFunc func(ok bool, name string)

// PlatformsFunc reports an asynchronous linked-platforms lookup.
type PlatformsFunc func(ok bool, platforms []PlatformID)

// Directory looks up player identity, presence, and relationships.
// Lookups failing or returning nothing is a normal outcome.
type Directory interface {
	Info(id uuid.UUID) (Info, bool)
	DisplayName(id uuid.UUID, done DisplayNameFunc)
	LinkedPlatforms(id uuid.UUID, done PlatformsFunc)
	IsFriend(id uuid.UUID) bool
	IsBlocked(id uuid.UUID) bool
	HasPlatformRelationship(p PlatformID) bool
	// NoteRecentPlayer records that the local player encountered this
	// player, for recent-players surfaces elsewhere.
	NoteRecentPlayer(id uuid.UUID)
}

// Local exposes the local player's identity and platform settings.
type Local interface {
	LocalID() uuid.UUID
	PortalID() string
	CommunicationEnabled() bool
	CrossplayEnabled() bool
	PreferredRegion() (string, bool)
	SetPreferredRegion(regionID string)
}
