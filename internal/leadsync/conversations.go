package leadsync

import "sort"

// ConversationSummary is the latest activity for one lead.
type ConversationSummary struct {
	Lead        Lead    `json:"lead"`
	LastMessage Message `json:"lastMessage"`
	Unread      bool    `json:"unread"`
}

// BuildConversations derives one summary per lead that has at least one message.
//
// The last message of a lead is the one with the greatest sentAt. On a tie the
// message seen later in messages wins. Summaries are ordered by that message's
// sentAt, most recent first. Messages whose lead is unknown are ignored.
func BuildConversations(leads []Lead, messages []Message) []ConversationSummary {
	byID := make(map[string]Lead, len(leads))
	for _, lead := range leads {
		byID[lead.ID] = lead
	}

	latest := map[string]Message{}
	order := make([]string, 0)
	for _, msg := range messages {
		cur, seen := latest[msg.LeadID]
		if !seen {
			order = append(order, msg.LeadID)
			latest[msg.LeadID] = msg
			continue
		}
		if !msg.SentAt.Before(cur.SentAt) {
			latest[msg.LeadID] = msg
		}
	}

	out := make([]ConversationSummary, 0, len(order))
	for _, leadID := range order {
		lead, ok := byID[leadID]
		if !ok {
			continue
		}
		last := latest[leadID]
		out = append(out, ConversationSummary{
			Lead:        lead,
			LastMessage: last,
			Unread:      last.Direction == DirectionInbound,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastMessage.SentAt.After(out[j].LastMessage.SentAt)
	})
	return out
}

// UnreadCount counts summaries whose last message is inbound.
func UnreadCount(summaries []ConversationSummary) int {
	n := 0
	for _, s := range summaries {
		if s.Unread {
			n++
		}
	}
	return n
}
