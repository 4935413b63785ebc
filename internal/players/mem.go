package players

import "github.com/google/uuid"

// MemDirectory is an in-memory Directory. Async lookups complete inline.
type MemDirectory struct {
	Players   map[uuid.UUID]Info
	Friends   map[uuid.UUID]bool
	Blocked   map[uuid.UUID]bool
	Relations map[PlatformID]bool
	Recent    []uuid.UUID

	// FailNames makes DisplayName report failure, to exercise fallback
	// paths.
	FailNames bool
}

func NewMemDirectory() *MemDirectory {
	return &MemDirectory{
		Players:   make(map[uuid.UUID]Info),
		Friends:   make(map[uuid.UUID]bool),
		Blocked:   make(map[uuid.UUID]bool),
		Relations: make(map[PlatformID]bool),
	}
}

// Add registers a player and returns its id for convenience.
func (d *MemDirectory) Add(info Info) uuid.UUID {
	if info.ID == uuid.Nil {
		info.ID = uuid.New()
	}
	d.Players[info.ID] = info
	return info.ID
}

func (d *MemDirectory) Info(id uuid.UUID) (Info, bool) {
	info, ok := d.Players[id]
	return info, ok
}

func (d *MemDirectory) DisplayName(id uuid.UUID, done DisplayNameFunc) {
	if done == nil {
		return
	}
	info, ok := d.Players[id]
	if d.FailNames || !ok || info.DisplayName == "" {
		done(false, "")
		return
	}
	done(true, info.DisplayName)
}

func (d *MemDirectory) LinkedPlatforms(id uuid.UUID, done PlatformsFunc) {
	if done == nil {
		return
	}
	info, ok := d.Players[id]
	if !ok {
		done(false, nil)
		return
	}
	done(true, info.Platforms)
}

func (d *MemDirectory) IsFriend(id uuid.UUID) bool {
	return d.Friends[id]
}

func (d *MemDirectory) IsBlocked(id uuid.UUID) bool {
	return d.Blocked[id]
}

func (d *MemDirectory) HasPlatformRelationship(p PlatformID) bool {
	return d.Relations[p]
}

func (d *MemDirectory) NoteRecentPlayer(id uuid.UUID) {
	d.Recent = append(d.Recent, id)
}

// MemLocal is an in-memory Local.
type MemLocal struct {
	ID            uuid.UUID
	Portal        string
	Communication bool
	Crossplay     bool
	Region        string
	RegionKnown   bool
}

func NewMemLocal(id uuid.UUID) *MemLocal {
	return &MemLocal{ID: id, Communication: true, Crossplay: true}
}

func (l *MemLocal) LocalID() uuid.UUID         { return l.ID }
func (l *MemLocal) PortalID() string           { return l.Portal }
func (l *MemLocal) CommunicationEnabled() bool { return l.Communication }
func (l *MemLocal) CrossplayEnabled() bool     { return l.Crossplay }

func (l *MemLocal) PreferredRegion() (string, bool) {
	return l.Region, l.RegionKnown
}

func (l *MemLocal) SetPreferredRegion(regionID string) {
	l.Region = regionID
	l.RegionKnown = true
}
