package pool

import (
	"strings"

	"github.com/richxcame/airpool/internal/route"
	"github.com/richxcame/airpool/pkg/models"
)

// Separator joins a route signature and an entry id into one pool
// member. Signatures are lowercase hex and ids are UUID-based, so the
// separator can never appear inside either side.
const Separator = "::"

// Membership is a parsed pool member.
type Membership struct {
	Signature route.Signature
	EntryID   string
}

// JoinMember builds the membership string stored in the lex set.
func JoinMember(sig route.Signature, entryID string) string {
	return string(sig) + Separator + entryID
}

// ParseMember splits a raw pool member into signature and entry id.
func ParseMember(member string) (Membership, bool) {
	sig, id, found := strings.Cut(member, Separator)
	if !found || sig == "" || id == "" {
		return Membership{}, false
	}
	return Membership{Signature: route.Signature(sig), EntryID: id}, true
}

// Record returns the raw membership string, suitable for removal.
func (m Membership) Record() string {
	return JoinMember(m.Signature, m.EntryID)
}

// IsTrip reports whether the member belongs to a forming trip entry.
func (m Membership) IsTrip() bool {
	return models.IsTripID(m.EntryID)
}
