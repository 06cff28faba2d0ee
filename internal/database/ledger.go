package database

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrConnectionInUse is returned when deleting a ConnectionConfig that is
// still referenced by an enabled WatchRule.
var ErrConnectionInUse = errors.New("connection referenced by enabled watch rule")

// checkedWrite runs fn inside tx and verifies it affected exactly want
// rows. A mismatch returns a PersistenceError, rolling the batch back.
func checkedWrite(tx *gorm.DB, op string, want int64, fn func(tx *gorm.DB) *gorm.DB) error {
	res := fn(tx)
	if res.Error != nil {
		return fmt.Errorf("%s: %w", op, res.Error)
	}
	if res.RowsAffected != want {
		return &PersistenceError{Op: op, Submitted: want, Affected: res.RowsAffected}
	}
	return nil
}

// CreateFileRecords inserts a batch of ledger rows all-or-nothing. IDs are
// assigned by the database and written back into the given records.
func CreateFileRecords(records []*FileRecord) error {
	if len(records) == 0 {
		return nil
	}
	return DB.Transaction(func(tx *gorm.DB) error {
		return checkedWrite(tx, "insert file records", int64(len(records)), func(tx *gorm.DB) *gorm.DB {
			return tx.Create(records)
		})
	})
}

// UpdateFileRecords saves full rows by primary key, all-or-nothing.
func UpdateFileRecords(records []*FileRecord) error {
	if len(records) == 0 {
		return nil
	}
	return DB.Transaction(func(tx *gorm.DB) error {
		for _, rec := range records {
			if err := checkedWrite(tx, "update file record", 1, func(tx *gorm.DB) *gorm.DB {
				return tx.Model(&FileRecord{}).Where("id = ?", rec.ID).Select("*").Omit("id", "created_at").Updates(rec)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteFileRecords removes rows by primary key, all-or-nothing.
func DeleteFileRecords(ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return DB.Transaction(func(tx *gorm.DB) error {
		return checkedWrite(tx, "delete file records", int64(len(ids)), func(tx *gorm.DB) *gorm.DB {
			return tx.Delete(&FileRecord{}, ids)
		})
	})
}

// FindRecordExact looks up the ledger row for an exact (rule, path, size,
// mtime) combination. Returns (nil, nil) when no such row exists.
func FindRecordExact(ruleName, fullPath string, size, modTimeMs int64) (*FileRecord, error) {
	var rec FileRecord
	err := DB.Where("watch_rule_name = ? AND full_path = ? AND file_size = ? AND remote_mod_time = ?",
		ruleName, fullPath, size, modTimeMs).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindRecordByHash returns the earliest ledger row carrying the given
// content fingerprint, or (nil, nil) if the fingerprint is unseen.
func FindRecordByHash(hash string) (*FileRecord, error) {
	var rec FileRecord
	err := DB.Where("file_hash = ?", hash).Order("id").First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// PendingRecords returns rows awaiting ingestion. Duplicates never qualify.
func PendingRecords() ([]FileRecord, error) {
	var recs []FileRecord
	err := DB.Where("status = ? AND duplicate_of_path IS NULL", StatusPending).Order("id").Find(&recs).Error
	return recs, err
}

// MarkRecordIndexed transitions a record to indexed with the document count
// produced by the indexer. Duplicate records are refused: the WHERE clause
// only matches rows without a duplicate pointer.
func MarkRecordIndexed(id uint, docCount int) error {
	res := DB.Model(&FileRecord{}).
		Where("id = ? AND duplicate_of_path IS NULL", id).
		Updates(map[string]interface{}{"status": StatusIndexed, "indexed_docs": docCount})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return fmt.Errorf("mark record %d indexed: row missing or marked duplicate", id)
	}
	return nil
}

// MarkRecordFailed transitions a record to failed after a stream or
// indexer error.
func MarkRecordFailed(id uint) error {
	res := DB.Model(&FileRecord{}).Where("id = ?", id).Update("status", StatusFailed)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return fmt.Errorf("mark record %d failed: row missing", id)
	}
	return nil
}

// ListFileRecords returns ledger rows, optionally filtered by status.
func ListFileRecords(status string) ([]FileRecord, error) {
	var recs []FileRecord
	q := DB.Order("id")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Find(&recs).Error
	return recs, err
}

// Connection config helpers

func CreateConnectionConfig(c *ConnectionConfig) error {
	return DB.Create(c).Error
}

func GetConnectionConfig(name string) (*ConnectionConfig, error) {
	var c ConnectionConfig
	err := DB.Where("name = ?", name).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("connection %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func ListConnectionConfigs() ([]ConnectionConfig, error) {
	var configs []ConnectionConfig
	err := DB.Order("name").Find(&configs).Error
	return configs, err
}

// DeleteConnectionConfig removes a connection unless an enabled watch rule
// still references it.
func DeleteConnectionConfig(name string) error {
	var count int64
	if err := DB.Model(&WatchRule{}).Where("connection_name = ? AND enabled = ?", name, true).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("delete connection %q: %w", name, ErrConnectionInUse)
	}
	res := DB.Where("name = ?", name).Delete(&ConnectionConfig{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("connection %q: %w", name, ErrNotFound)
	}
	return nil
}

// Watch rule helpers

// CreateWatchRule inserts a rule after verifying the referenced connection
// exists. The reference check is the storage layer's responsibility, not
// the coordinator's.
func CreateWatchRule(r *WatchRule) error {
	if _, err := GetConnectionConfig(r.ConnectionName); err != nil {
		return fmt.Errorf("watch rule %q: %w", r.Name, err)
	}
	return DB.Create(r).Error
}

func GetWatchRule(name string) (*WatchRule, error) {
	var r WatchRule
	err := DB.Where("name = ?", name).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("watch rule %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func ListWatchRules() ([]WatchRule, error) {
	var rules []WatchRule
	err := DB.Order("name").Find(&rules).Error
	return rules, err
}

func EnabledWatchRules() ([]WatchRule, error) {
	var rules []WatchRule
	err := DB.Where("enabled = ?", true).Order("name").Find(&rules).Error
	return rules, err
}

func SetWatchRuleEnabled(name string, enabled bool) error {
	res := DB.Model(&WatchRule{}).Where("name = ?", name).Update("enabled", enabled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("watch rule %q: %w", name, ErrNotFound)
	}
	return nil
}

func DeleteWatchRule(name string) error {
	res := DB.Where("name = ?", name).Delete(&WatchRule{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("watch rule %q: %w", name, ErrNotFound)
	}
	return nil
}
