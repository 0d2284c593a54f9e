package board

import (
	"cmp"
	"slices"
	"strings"
)

// ParseServerStatus maps the configured-servers feed status onto
// ServerStatus. Matching is case-insensitive; anything unrecognised is unknown.
func ParseServerStatus(s string) ServerStatus {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "UNREACHABLE":
		return ServerUnreachable
	case "OK", "REACHABLE":
		return ServerReachable
	default:
		return ServerUnknown
	}
}

// ServerTiles builds one tile per configured server, sorted by name, from
// the given queues. Servers that report queues but are not configured are
// left out: configuration decides which servers exist. Unreachable servers
// get no queue counts.
func ServerTiles(configured []ConfiguredServer, queues []Queue) []ServerTile {
	byServer := make(map[string][]*Queue)
	for i := range queues {
		q := &queues[i]
		byServer[q.ServerName] = append(byServer[q.ServerName], q)
	}

	servers := slices.Clone(configured)
	slices.SortStableFunc(servers, func(a, b ConfiguredServer) int {
		return strings.Compare(a.Name, b.Name)
	})

	tiles := make([]ServerTile, 0, len(servers))
	for _, s := range servers {
		status := s.Status
		if status == "" {
			status = ServerUnknown
		}
		tile := ServerTile{Name: s.Name, Status: status}
		if status == ServerUnreachable {
			tile.Unreachable = true
			tiles = append(tiles, tile)
			continue
		}
		for _, q := range byServer[s.Name] {
			tile.QueueIDs = append(tile.QueueIDs, q.ID)
			switch q.Severity {
			case SeverityCritical:
				tile.ErrorCount++
			case SeverityWarning:
				tile.WarningCount++
			}
		}
		tile.QueueCount = len(tile.QueueIDs)
		tiles = append(tiles, tile)
	}
	return tiles
}

// ServerQueueRow is one line of a live per-server queue listing.
type ServerQueueRow struct {
	QueueName    string   `json:"queue_name"`
	MessageCount int64    `json:"message_count"`
	Status       string   `json:"status,omitempty"`
	Severity     Severity `json:"severity"`
}

// SortMode orders a per-server listing.
type SortMode string

const (
	SortByName      SortMode = "name"
	SortByCountAsc  SortMode = "countAsc"
	SortByCountDesc SortMode = "countDesc"
	SortByStatus    SortMode = "status"
)

// ParseSortMode returns the matching mode, defaulting to SortByName.
func ParseSortMode(s string) SortMode {
	switch m := SortMode(s); m {
	case SortByCountAsc, SortByCountDesc, SortByStatus:
		return m
	default:
		return SortByName
	}
}

// ServerQueueRows classifies records for a per-server listing and sorts them.
// Excluded queues are dropped, and a non-empty search keeps only queue names
// containing it (case-insensitive).
func ServerQueueRows(records []RawQueueRecord, mode SortMode, search string) []ServerQueueRow {
	search = strings.ToLower(strings.TrimSpace(search))
	rows := make([]ServerQueueRow, 0, len(records))
	for _, r := range records {
		if Excluded(r.QueueName) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(r.QueueName), search) {
			continue
		}
		count := max(r.MessageCount, 0)
		rows = append(rows, ServerQueueRow{
			QueueName:    r.QueueName,
			MessageCount: count,
			Status:       r.Status,
			Severity:     Classify(r.Status, count),
		})
	}

	switch mode {
	case SortByCountAsc:
		slices.SortStableFunc(rows, func(a, b ServerQueueRow) int { return cmp.Compare(a.MessageCount, b.MessageCount) })
	case SortByCountDesc:
		slices.SortStableFunc(rows, func(a, b ServerQueueRow) int { return cmp.Compare(b.MessageCount, a.MessageCount) })
	case SortByStatus:
		slices.SortStableFunc(rows, func(a, b ServerQueueRow) int {
			if d := b.Severity.Weight() - a.Severity.Weight(); d != 0 {
				return d
			}
			return cmp.Compare(b.MessageCount, a.MessageCount)
		})
	default:
		slices.SortStableFunc(rows, func(a, b ServerQueueRow) int { return strings.Compare(a.QueueName, b.QueueName) })
	}
	return rows
}
