package condition

import "backend/internal/alarmmodel"

// ExtractEntityIds walks a condition tree and returns the set of entity ids
// it references, as a reverse-index write path would need in order to keep
// RuleEntityRef rows in sync with a rule's definition.
//
// An alarm_state_in node contributes the synthetic entity id
// alarmmodel.AlarmStateEntityID rather than any real entity, so alarm-state
// transitions route through the dispatcher/reverse-index path exactly like
// any other entity change.
func ExtractEntityIds(node Node) []string {
	seen := map[string]bool{}
	extractInto(node, seen)
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out
}

func extractInto(node Node, seen map[string]bool) {
	switch n := node.(type) {
	case EntityState:
		if n.EntityID != "" {
			seen[n.EntityID] = true
		}
	case AlarmStateIn:
		seen[alarmmodel.AlarmStateEntityID] = true
	case All:
		for _, c := range n.Children {
			extractInto(c, seen)
		}
	case Any:
		for _, c := range n.Children {
			extractInto(c, seen)
		}
	case Not:
		extractInto(n.Child, seen)
	case For:
		extractInto(n.Child, seen)
	}
}
