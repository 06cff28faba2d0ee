package database

import "time"

// RecordStatus is the closed set of consumption states for a FileRecord.
type RecordStatus string

const (
	// StatusPending marks a fingerprinted file waiting for ingestion.
	StatusPending RecordStatus = "pending"
	// StatusIndexed marks a file whose content was accepted by the indexer.
	StatusIndexed RecordStatus = "indexed"
	// StatusDuplicate marks a file whose fingerprint matched an earlier
	// record. Duplicates are never ingested.
	StatusDuplicate RecordStatus = "duplicate"
	// StatusFailed marks a file whose ingestion failed; it is eligible for
	// a future retry pass but is not re-attempted within the same run.
	StatusFailed RecordStatus = "failed"
)

// ConnectionConfig identifies a remote host reachable over SSH.
type ConnectionConfig struct {
	Name      string    `gorm:"primaryKey;size:64" json:"name"`
	Host      string    `gorm:"not null" json:"host"`
	Port      int       `gorm:"not null;default:22" json:"port"`
	Username  string    `gorm:"not null" json:"username"`
	Password  string    `gorm:"not null" json:"-"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// WatchRule describes one directory to monitor on a remote host.
type WatchRule struct {
	Name           string    `gorm:"primaryKey;size:64" json:"name"`
	ConnectionName string    `gorm:"not null;index" json:"connection_name"`
	WatchDir       string    `gorm:"not null" json:"watch_dir"`
	RecurDepth     int       `gorm:"not null;default:1" json:"recur_depth"`
	FilePrefix     string    `json:"file_prefix"`
	FileContains   string    `json:"file_contains"`
	FilePostfix    string    `json:"file_postfix"`
	ArchivedLogs   bool      `gorm:"not null;default:false" json:"archived_logs"`
	Enabled        bool      `gorm:"not null;default:true" json:"enabled"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// FileRecord is one ledger row per distinct file instance seen by a watch
// rule. The ID is assigned by the database, never by a coordinator. A row
// with DuplicateOfPath set must never reach StatusIndexed.
type FileRecord struct {
	ID            uint         `gorm:"primaryKey;autoIncrement" json:"id"`
	WatchRuleName string       `gorm:"not null;index:idx_rule_instance" json:"watch_rule_name"`
	FullPath      string       `gorm:"not null;index:idx_rule_instance" json:"full_path"`
	FileName      string       `gorm:"not null" json:"file_name"`
	FileSize      int64        `gorm:"not null;index:idx_rule_instance" json:"file_size"`
	RemoteModTime int64        `gorm:"not null;index:idx_rule_instance" json:"remote_mod_time"` // milliseconds since epoch
	FileHash      string       `gorm:"size:64;index" json:"file_hash"`
	Status        RecordStatus `gorm:"not null;default:pending;index" json:"status"`
	IndexedDocs   int          `gorm:"not null;default:0" json:"indexed_docs"`
	// DuplicateOfPath points at the path of the earlier record that shares
	// this record's fingerprint. Nil for non-duplicates.
	DuplicateOfPath *string   `json:"duplicate_of_path,omitempty"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
