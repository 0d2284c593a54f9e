package board

import (
	"slices"
	"strings"
)

// DefaultAttentionLimit is how many attention entries the board shows before
// collapsing the rest into a "more" count.
const DefaultAttentionLimit = 12

// FilterKey selects a severity bucket for the all-queues view.
type FilterKey string

const (
	FilterAll       FilterKey = "all"
	FilterAttention FilterKey = "attention"
)

// ParseFilterKey accepts all, attention or a severity name. Unknown or empty
// values fall back to all.
func ParseFilterKey(s string) FilterKey {
	switch k := FilterKey(strings.ToLower(strings.TrimSpace(s))); k {
	case FilterAttention,
		FilterKey(SeverityOK), FilterKey(SeverityWarning), FilterKey(SeverityCritical), FilterKey(SeverityOff):
		return k
	default:
		return FilterAll
	}
}

// Filter narrows the all-queues view.
type Filter struct {
	Key    FilterKey
	Search string
	Server string
}

func (f Filter) match(q *Queue, search string) bool {
	if f.Server != "" && q.ServerName != f.Server {
		return false
	}
	if search != "" && !strings.Contains(strings.ToLower(q.DisplayName), search) {
		return false
	}
	switch f.Key {
	case "", FilterAll:
		return true
	case FilterAttention:
		return q.Severity.NeedsAttention()
	default:
		return q.Severity == Severity(f.Key)
	}
}

// AttentionPage is the head of the attention list plus how many were cut.
type AttentionPage struct {
	Queues []Queue `json:"queues"`
	Total  int     `json:"total"`
	More   int     `json:"more"`
}

// Attention returns every unacknowledged warning or critical queue, most
// severe first and most recently active first within a severity. Ties fall
// back to display name.
func (r *Registry) Attention() []Queue {
	out := make([]Queue, 0)
	for _, q := range r.Snapshot() {
		if q.Severity.NeedsAttention() && !q.Acknowledged {
			out = append(out, q)
		}
	}
	slices.SortStableFunc(out, compareAttention)
	return out
}

// AttentionPage returns the first limit attention entries. A limit <= 0
// uses DefaultAttentionLimit.
func (r *Registry) AttentionPage(limit int) AttentionPage {
	if limit <= 0 {
		limit = DefaultAttentionLimit
	}
	all := r.Attention()
	page := AttentionPage{Queues: all, Total: len(all)}
	if len(all) > limit {
		page.Queues = all[:limit]
		page.More = len(all) - limit
	}
	return page
}

func compareAttention(a, b Queue) int {
	if d := b.Severity.Weight() - a.Severity.Weight(); d != 0 {
		return d
	}
	if c := b.LastEventAt.Compare(a.LastEventAt); c != 0 {
		return c
	}
	return strings.Compare(a.DisplayName, b.DisplayName)
}

// All returns the queues matching f, ordered by the first letter of the
// server name and then by display name.
func (r *Registry) All(f Filter) []Queue {
	search := strings.ToLower(strings.TrimSpace(f.Search))
	out := make([]Queue, 0)
	for _, q := range r.Snapshot() {
		if f.match(&q, search) {
			out = append(out, q)
		}
	}
	slices.SortStableFunc(out, func(a, b Queue) int {
		if c := strings.Compare(letter(a.ServerName), letter(b.ServerName)); c != 0 {
			return c
		}
		return strings.Compare(a.DisplayName, b.DisplayName)
	})
	return out
}

// letter is the index letter a server files under.
func letter(server string) string {
	if server == "" {
		return "Q"
	}
	r := []rune(server)
	return strings.ToUpper(string(r[0]))
}

// Counts is the number of queues per severity.
type Counts struct {
	Critical int `json:"critical"`
	Warning  int `json:"warning"`
	Off      int `json:"off"`
	OK       int `json:"ok"`
	Total    int `json:"total"`
}

// Counts tallies the current queues by severity.
func (r *Registry) Counts() Counts {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var c Counts
	for i := range r.queues {
		switch r.queues[i].Severity {
		case SeverityCritical:
			c.Critical++
		case SeverityWarning:
			c.Warning++
		case SeverityOff:
			c.Off++
		default:
			c.OK++
		}
	}
	c.Total = len(r.queues)
	return c
}
