package board

import (
	"fmt"
	"strings"
	"time"
)

// excludedQueueFragment suppresses a known noisy queue family.
const excludedQueueFragment = "pms.fcweb.cache"

// Excluded reports whether a queue name matches the suppression rule.
func Excluded(queueName string) bool {
	return strings.Contains(strings.ToLower(queueName), excludedQueueFragment)
}

// QueueID builds the id of the record at position idx of refresh gen.
func QueueID(gen uint64, idx int) string {
	return fmt.Sprintf("g%d-q%d", gen, idx)
}

// DisplayName is the presentation label for a queue.
func DisplayName(server, queue string) string {
	return server + " / " + queue
}

// Normalize turns decoded records into fresh queues for refresh gen, in
// record order, dropping excluded ones. Ids keep the record's original
// position so they stay deterministic for a given input. New queues are
// seeded with synthetic depth and connection events; Registry.Replace swaps
// those for the prior history when the key already exists.
func Normalize(gen uint64, records []RawQueueRecord, now time.Time) []Queue {
	out := make([]Queue, 0, len(records))
	for idx, r := range records {
		if Excluded(r.QueueName) {
			continue
		}
		count := r.MessageCount
		if count < 0 {
			count = 0
		}
		out = append(out, Queue{
			ID:           QueueID(gen, idx),
			ServerName:   r.ServerName,
			QueueName:    r.QueueName,
			DisplayName:  DisplayName(r.ServerName, r.QueueName),
			MessageCount: count,
			Status:       r.Status,
			Severity:     Classify(r.Status, count),
			LastEventAt:  now,
			Events: []Event{
				{Time: now, Message: fmt.Sprintf("Queue depth: %d messages", count)},
				{Time: now.Add(-30 * time.Second), Message: "Connected to " + r.ServerName},
			},
		})
	}
	return out
}
