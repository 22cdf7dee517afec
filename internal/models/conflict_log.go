package models

// ConflictLog records a detected same-timestamp divergence for user or
// policy resolution. The sync core never auto-merges conflicting content;
// it surfaces the conflict and keeps the local record as-is.
type ConflictLog struct {
	ID              string `db:"id" json:"id"`
	Table           string `db:"tbl" json:"table"`
	RecordID        string `db:"record_id" json:"record_id"`
	LocalTimestamp  int64  `db:"local_timestamp" json:"local_timestamp"`
	RemoteTimestamp int64  `db:"remote_timestamp" json:"remote_timestamp"`
	LocalHash       string `db:"local_hash" json:"local_hash,omitempty"`
	RemoteHash      string `db:"remote_hash" json:"remote_hash,omitempty"`
	DetectedAt      int64  `db:"detected_at" json:"detected_at"`
}

// TableName returns the durable store collection name for ConflictLog.
func (ConflictLog) TableName() string {
	return "conflict_log"
}
