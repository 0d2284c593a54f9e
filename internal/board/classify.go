package board

// Depth thresholds. A count strictly above the threshold escalates.
const (
	CriticalDepth = 10000
	WarningDepth  = 5000
)

// Classify maps a reported status and message count to a severity. An
// explicit "critical" or "warning" status always wins; the depth thresholds
// only escalate records that report less. It keeps no history, so a queue
// drops back as soon as its count does.
func Classify(status string, messageCount int64) Severity {
	switch {
	case status == string(SeverityCritical) || messageCount > CriticalDepth:
		return SeverityCritical
	case status == string(SeverityWarning) || messageCount > WarningDepth:
		return SeverityWarning
	default:
		return SeverityOK
	}
}
