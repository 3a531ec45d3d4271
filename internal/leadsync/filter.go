package leadsync

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type SortKey string

const (
	SortCreatedAt      SortKey = "created_at"
	SortName           SortKey = "name"
	SortLastContact    SortKey = "last_contact"
	SortStage          SortKey = "stage_name"
	SortResponseStatus SortKey = "response_status"
)

// missingRank sorts a lead with no response time or unknown stage after the rest.
const missingRank = 999999

// LeadQuery filters and orders the lead list.
type LeadQuery struct {
	Search  string
	StageID string
	Source  string
	Created DateRange
	SortBy  SortKey
	Desc    bool
}

func ParseSortKey(raw string) (SortKey, error) {
	switch key := SortKey(strings.TrimSpace(raw)); key {
	case "":
		return SortCreatedAt, nil
	case SortCreatedAt, SortName, SortLastContact, SortStage, SortResponseStatus:
		return key, nil
	default:
		return "", fmt.Errorf("%w: unknown sort key %q", ErrInvalidInput, raw)
	}
}

// FilterLeads applies q to leads. stages resolve sort order for SortStage.
func FilterLeads(leads []Lead, stages []Stage, q LeadQuery) []Lead {
	search := strings.ToLower(strings.TrimSpace(q.Search))
	out := make([]Lead, 0, len(leads))
	for _, lead := range leads {
		if search != "" && !leadMatchesSearch(lead, search) {
			continue
		}
		if q.StageID != "" && lead.StageID != q.StageID {
			continue
		}
		if q.Source != "" && lead.Source != q.Source {
			continue
		}
		if !q.Created.Contains(lead.CreatedAt) {
			continue
		}
		out = append(out, lead)
	}

	stageOrder := make(map[string]int, len(stages))
	for _, stage := range stages {
		stageOrder[stage.ID] = stage.SortOrder
	}
	key := q.SortBy
	if key == "" {
		key = SortCreatedAt
	}
	sort.SliceStable(out, func(i, j int) bool {
		c := compareLeads(out[i], out[j], key, stageOrder)
		if q.Desc {
			return c > 0
		}
		return c < 0
	})
	return out
}

func leadMatchesSearch(lead Lead, needle string) bool {
	if strings.Contains(strings.ToLower(lead.Name), needle) {
		return true
	}
	if lead.Email != nil && strings.Contains(strings.ToLower(*lead.Email), needle) {
		return true
	}
	if lead.Phone != nil && strings.Contains(strings.ToLower(*lead.Phone), needle) {
		return true
	}
	return false
}

func compareLeads(a, b Lead, key SortKey, stageOrder map[string]int) int {
	switch key {
	case SortName:
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	case SortLastContact:
		return compareTime(zeroIfNil(a.LastContactAt), zeroIfNil(b.LastContactAt))
	case SortStage:
		return compareInt(int64(stageRank(stageOrder, a.StageID)), int64(stageRank(stageOrder, b.StageID)))
	case SortResponseStatus:
		return compareInt(responseRank(a.ResponseTimeSeconds), responseRank(b.ResponseTimeSeconds))
	default:
		return compareTime(a.CreatedAt, b.CreatedAt)
	}
}

func stageRank(order map[string]int, id string) int {
	if rank, ok := order[id]; ok {
		return rank
	}
	return missingRank
}

func responseRank(v *int64) int64 {
	if v == nil {
		return missingRank
	}
	return *v
}

func zeroIfNil(ts *time.Time) time.Time {
	if ts == nil {
		return time.Time{}
	}
	return *ts
}

func compareTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// UniqueSources lists distinct non-empty sources, sorted.
func UniqueSources(leads []Lead) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0)
	for _, lead := range leads {
		if lead.Source == "" {
			continue
		}
		if _, ok := seen[lead.Source]; ok {
			continue
		}
		seen[lead.Source] = struct{}{}
		out = append(out, lead.Source)
	}
	sort.Strings(out)
	return out
}
