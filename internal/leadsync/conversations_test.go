package leadsync

import "testing"

func TestBuildConversationsOrdersByLatestMessage(t *testing.T) {
	leads := []Lead{{ID: "A", Name: "A"}, {ID: "B", Name: "B"}}
	got := BuildConversations(leads, []Message{
		{ID: "1", LeadID: "A", SentAt: at(0)},
		{ID: "2", LeadID: "A", SentAt: at(5)},
		{ID: "3", LeadID: "B", SentAt: at(-10)},
	})
	if len(got) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(got))
	}
	if got[0].Lead.ID != "A" || !got[0].LastMessage.SentAt.Equal(at(5)) {
		t.Fatalf("expected A with last message at 10:05 first, got %+v", got[0])
	}
	if got[1].Lead.ID != "B" {
		t.Fatalf("expected B second, got %s", got[1].Lead.ID)
	}
}

func TestBuildConversationsInterleavedLeads(t *testing.T) {
	leads := []Lead{{ID: "A"}, {ID: "B"}}
	got := BuildConversations(leads, []Message{
		{ID: "1", LeadID: "A", SentAt: at(0), Direction: DirectionOutbound},
		{ID: "2", LeadID: "B", SentAt: at(5), Direction: DirectionInbound},
		{ID: "3", LeadID: "A", SentAt: at(-10), Direction: DirectionInbound},
	})
	if len(got) != 2 || got[0].Lead.ID != "B" || got[1].Lead.ID != "A" {
		t.Fatalf("unexpected order: %+v", got)
	}
	if !got[0].Unread {
		t.Fatalf("expected B unread, its last message is inbound")
	}
	if got[1].Unread || got[1].LastMessage.ID != "1" {
		t.Fatalf("expected A read with last message 1, got %+v", got[1])
	}
}

func TestBuildConversationsTieGoesToLaterMessage(t *testing.T) {
	leads := []Lead{{ID: "A"}}
	got := BuildConversations(leads, []Message{
		{ID: "first", LeadID: "A", SentAt: at(0), Direction: DirectionInbound},
		{ID: "second", LeadID: "A", SentAt: at(0), Direction: DirectionOutbound},
	})
	if len(got) != 1 || got[0].LastMessage.ID != "second" {
		t.Fatalf("expected later message to win the tie, got %+v", got)
	}
	if got[0].Unread {
		t.Fatalf("expected outbound last message to be read")
	}
}

func TestBuildConversationsSkipsUnknownLeadsAndSilentLeads(t *testing.T) {
	leads := []Lead{{ID: "A"}, {ID: "silent"}}
	got := BuildConversations(leads, []Message{
		{ID: "1", LeadID: "A", SentAt: at(0), Direction: DirectionInbound},
		{ID: "2", LeadID: "ghost", SentAt: at(9)},
	})
	if len(got) != 1 || got[0].Lead.ID != "A" {
		t.Fatalf("expected only A, got %+v", got)
	}
	if UnreadCount(got) != 1 {
		t.Fatalf("expected 1 unread, got %d", UnreadCount(got))
	}
	if empty := BuildConversations(nil, nil); len(empty) != 0 {
		t.Fatalf("expected no summaries, got %d", len(empty))
	}
}
