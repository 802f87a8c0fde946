package objectstore

import "strings"

// Canonical key layout.
//
//	manuscripts/{userId}/{manuscriptId}  raw or extracted plaintext
//	runs/{reportId}                      serialized pipeline run
//	reports/{reportId}/{stageId}.json    per-stage result
//	status/{reportId}                    status record, TTL ~7 days
const (
	prefixManuscripts = "manuscripts/"
	prefixRuns        = "runs/"
	prefixReports     = "reports/"
	prefixStatus      = "status/"
)

// ManuscriptKey returns the storage key for a manuscript's plaintext.
func ManuscriptKey(userID, manuscriptID string) string {
	return prefixManuscripts + userID + "/" + manuscriptID
}

// RunKey returns the storage key for a report's serialized pipeline run.
func RunKey(reportID string) string {
	return prefixRuns + reportID
}

// ResultKey returns the storage key for one stage's result payload.
func ResultKey(reportID, stageID string) string {
	return prefixReports + reportID + "/" + stageID + ".json"
}

// ReportPrefix returns the prefix under which all of a report's artifacts live.
func ReportPrefix(reportID string) string {
	return prefixReports + reportID + "/"
}

// CancelKey returns the storage key for a report's cancel marker. The
// leasing worker checks this key at suspension points.
func CancelKey(reportID string) string {
	return prefixRuns + reportID + ".cancel"
}

// StatusKey returns the storage key for a report's status record.
func StatusKey(reportID string) string {
	return prefixStatus + reportID
}

// StatusPrefix is the sweep prefix for expiring status records.
func StatusPrefix() string {
	return prefixStatus
}

// Immutable reports whether the key is write-once. Status records and run
// state are overwritten on every transition; everything else is immutable.
func Immutable(key string) bool {
	if strings.HasPrefix(key, prefixStatus) || strings.HasPrefix(key, prefixRuns) {
		return false
	}
	return true
}
