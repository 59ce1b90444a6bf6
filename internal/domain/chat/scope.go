package chat

import (
	"sort"
	"strconv"
	"strings"
)

// Scope ties a conversation to at most one listing. The zero value means a general conversation.
type Scope struct {
	ItemID    string
	ServiceID string
}

// NewScope trims the references and rejects a scope naming both an item and a service.
func NewScope(itemID, serviceID string) (Scope, error) {
	s := Scope{ItemID: strings.TrimSpace(itemID), ServiceID: strings.TrimSpace(serviceID)}
	if s.ItemID != "" && s.ServiceID != "" {
		return Scope{}, ErrScopeConflict
	}
	return s, nil
}

func (s Scope) key() string {
	switch {
	case s.ItemID != "":
		return "item:" + s.ItemID
	case s.ServiceID != "":
		return "service:" + s.ServiceID
	default:
		return "general"
	}
}

// PairKey is the canonical identity of a conversation: the unordered participant
// pair plus the scope. (a, b) and (b, a) produce the same key. Each id is length
// prefixed so no id content can shift the boundary between participants.
func PairKey(participants []string, scope Scope) string {
	var b strings.Builder
	for _, id := range NormalizeParticipants(participants) {
		b.WriteString(strconv.Itoa(len(id)))
		b.WriteByte(':')
		b.WriteString(id)
	}
	b.WriteByte('#')
	b.WriteString(scope.key())
	return b.String()
}

// NormalizeParticipants trims, de-duplicates and sorts participant ids.
func NormalizeParticipants(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
