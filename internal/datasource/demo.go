package datasource

import (
	"time"

	"github.com/agentworkforce/leadsync/internal/leadsync"
)

// DemoTerminalStageID is the booked stage in DemoDocument.
const DemoTerminalStageID = "4"

// DemoDocument returns a small pipeline anchored at now, covering every freshness status.
func DemoDocument(now time.Time) Document {
	now = now.UTC()
	ago := func(d time.Duration) time.Time { return now.Add(-d) }
	str := func(v string) *string { return &v }
	secs := func(v int64) *int64 { return &v }
	ts := func(v time.Time) *time.Time { return &v }

	return Document{
		Stages: []leadsync.Stage{
			{ID: "1", Name: "New", SortOrder: 1},
			{ID: "2", Name: "Contacted", SortOrder: 2},
			{ID: "3", Name: "Qualified", SortOrder: 3},
			{ID: "4", Name: "Booked", SortOrder: 4},
		},
		Leads: []leadsync.Lead{
			{ID: "demo-1", ClientID: "demo", Name: "Maria Lopez", Phone: str("+1 555 0101"), Source: "website", StageID: "1", CreatedAt: ago(2 * time.Minute)},
			{ID: "demo-2", ClientID: "demo", Name: "James Park", Email: str("james@example.com"), Source: "facebook", StageID: "1", CreatedAt: ago(12 * time.Minute)},
			{ID: "demo-3", ClientID: "demo", Name: "Priya Shah", Phone: str("+1 555 0103"), Source: "google", StageID: "2", CreatedAt: ago(47 * time.Minute)},
			{ID: "demo-4", ClientID: "demo", Name: "Tom Becker", Email: str("tom@example.com"), Source: "website", StageID: "3", CreatedAt: ago(26 * time.Hour), LastContactAt: ts(ago(25 * time.Hour)), ResponseTimeSeconds: secs(45)},
			{ID: "demo-5", ClientID: "demo", Name: "Aisha Khan", Phone: str("+1 555 0105"), Source: "referral", StageID: "4", CreatedAt: ago(72 * time.Hour), LastContactAt: ts(ago(71 * time.Hour)), ResponseTimeSeconds: secs(240)},
			{ID: "demo-6", ClientID: "demo", Name: "Noah Fischer", Source: "", StageID: "3", CreatedAt: ago(5 * time.Hour), LastContactAt: ts(ago(4 * time.Hour)), ResponseTimeSeconds: secs(900)},
		},
		Messages: []leadsync.Message{
			{ID: "demo-m1", LeadID: "demo-4", Direction: leadsync.DirectionOutbound, Channel: "sms", Content: "Hi Tom, thanks for reaching out!", SentAt: ago(25 * time.Hour), Status: "delivered"},
			{ID: "demo-m2", LeadID: "demo-4", Direction: leadsync.DirectionInbound, Channel: "sms", Content: "Can we do Thursday?", SentAt: ago(24 * time.Hour), Status: "received"},
			{ID: "demo-m3", LeadID: "demo-5", Direction: leadsync.DirectionOutbound, Channel: "email", Content: "Your appointment is confirmed.", SentAt: ago(70 * time.Hour), Status: "delivered"},
			{ID: "demo-m4", LeadID: "demo-6", Direction: leadsync.DirectionOutbound, Channel: "sms", Content: "Following up on your request.", SentAt: ago(4 * time.Hour), Status: "delivered"},
			{ID: "demo-m5", LeadID: "demo-6", Direction: leadsync.DirectionInbound, Channel: "sms", Content: "What are your prices?", SentAt: ago(3 * time.Hour), Status: "received"},
		},
	}
}
