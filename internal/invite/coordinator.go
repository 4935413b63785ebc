// Package invite decides what happens to an inbound session invite
// before any UI gets involved: join it silently, decline it silently, or
// surface it to the player. The party and custom-lobby controllers share
// this logic so their gating rules cannot drift apart.
package invite

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/halfmoon-games/lobbycore/internal/players"
)

// Decision is the outcome for a single invite.
type Decision int

const (
	// Surface hands the invite to the player for accept/decline.
	Surface Decision = iota
	// AutoJoin accepts without asking.
	AutoJoin
	// AutoDecline declines without asking.
	AutoDecline
)

func (d Decision) String() string {
	switch d {
	case AutoJoin:
		return "auto_join"
	case AutoDecline:
		return "auto_decline"
	default:
		return "surface"
	}
}

// Verdict carries the decision plus the rule that produced it.
type Verdict struct {
	Decision Decision
	Reason   string
}

// PartyStatus is the read-only slice of party state the rules consult.
type PartyStatus interface {
	IsInParty() bool
	IsLeader() bool
	Leader() (uuid.UUID, bool)
}

// Options tweaks evaluation per call site.
type Options struct {
	// OtherPending: another invite of the same kind is already waiting
	// on the player. At most one may be surfaced at a time.
	OtherPending bool
	// AllowAutoJoin enables the party-leader auto-join rule. The party
	// invite path disables it; joining a party is always explicit.
	AllowAutoJoin bool
}

// Coordinator evaluates invites against local settings, block lists, and
// party state. Rules run in a fixed order; the first match wins.
type Coordinator struct {
	log   *zap.Logger
	dir   players.Directory
	local players.Local
	party PartyStatus
}

func NewCoordinator(log *zap.Logger, dir players.Directory, local players.Local, party PartyStatus) *Coordinator {
	return &Coordinator{log: log, dir: dir, local: local, party: party}
}

// Evaluate decides the fate of an invite from the given player. A zero
// inviter id is treated as an unknown inviter and surfaced.
func (c *Coordinator) Evaluate(inviter uuid.UUID, opts Options) Verdict {
	if opts.OtherPending {
		return Verdict{Decision: AutoDecline, Reason: "another invite already pending"}
	}

	if !c.local.CommunicationEnabled() {
		return Verdict{Decision: AutoDecline, Reason: "communications disabled"}
	}

	if inviter != uuid.Nil && c.dir.IsBlocked(inviter) {
		return Verdict{Decision: AutoDecline, Reason: "inviter blocked"}
	}

	if opts.AllowAutoJoin && inviter != uuid.Nil && c.party != nil {
		if c.party.IsInParty() && !c.party.IsLeader() {
			if leader, ok := c.party.Leader(); ok && leader == inviter {
				return Verdict{Decision: AutoJoin, Reason: "invited by own party leader"}
			}
		}
	}

	if !c.local.CrossplayEnabled() && inviter != uuid.Nil {
		if info, ok := c.dir.Info(inviter); ok && info.PortalID != "" && info.PortalID == c.local.PortalID() {
			c.log.Info("auto-declining invite, crossplay disabled",
				zap.String("inviter", inviter.String()),
				zap.String("portal", info.PortalID))
			return Verdict{Decision: AutoDecline, Reason: "crossplay disabled, same portal"}
		}
	}

	return Verdict{Decision: Surface, Reason: "no gate matched"}
}
