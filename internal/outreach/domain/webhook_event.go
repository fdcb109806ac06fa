package domain

import "strings"

// EventKind is the closed set of webhook event categories the engine
// understands. Vendor event names vary (hyphens, spaces, casing); anything
// unrecognized maps to EventUnknown and is kept only in the raw log.
type EventKind string

const (
	EventNewMessage         EventKind = "new_message"
	EventInvitationAccepted EventKind = "invitation_accepted"
	EventInvitationSent     EventKind = "invitation_sent"
	EventMessageReaction    EventKind = "message_reaction"
	EventMessageEdit        EventKind = "message_edit"
	EventMessageDelete      EventKind = "message_delete"
	EventMessageRead        EventKind = "message_read"
	EventUnknown            EventKind = "unknown"
)

// classifyRule pairs substring needles with a kind. Rules are evaluated in
// order, most specific first, so e.g. "relation accepted" is not swallowed
// by a generic message rule.
type classifyRule struct {
	needles []string
	kind    EventKind
}

var classifyRules = []classifyRule{
	{[]string{"REACTION"}, EventMessageReaction},
	{[]string{"MESSAGE", "EDIT"}, EventMessageEdit},
	{[]string{"MESSAGE", "DELET"}, EventMessageDelete},
	{[]string{"MESSAGE", "READ"}, EventMessageRead},
	{[]string{"SEEN"}, EventMessageRead},
	{[]string{"INVIT", "ACCEPT"}, EventInvitationAccepted},
	{[]string{"RELATION", "ACCEPT"}, EventInvitationAccepted},
	{[]string{"CONNECTION", "ACCEPT"}, EventInvitationAccepted},
	// Some providers signal acceptance as a brand new relation/connection.
	{[]string{"NEW", "RELATION"}, EventInvitationAccepted},
	{[]string{"NEW", "CONNECTION"}, EventInvitationAccepted},
	{[]string{"INVIT", "SENT"}, EventInvitationSent},
	{[]string{"INVIT", "REQUEST"}, EventInvitationSent},
	{[]string{"MESSAGE"}, EventNewMessage},
}

// ClassifyEventKind normalizes a vendor event-type string and maps it into
// the closed EventKind set.
func ClassifyEventKind(raw string) EventKind {
	normalized := strings.ToUpper(raw)
	normalized = strings.NewReplacer("-", " ", "_", " ", ".", " ").Replace(normalized)

	for _, rule := range classifyRules {
		matched := true
		for _, needle := range rule.needles {
			if !strings.Contains(normalized, needle) {
				matched = false
				break
			}
		}
		if matched {
			return rule.kind
		}
	}
	return EventUnknown
}
