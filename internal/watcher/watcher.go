// Package watcher implements the periodic scan that discovers log files on
// remote hosts and records them in the ledger.
//
// Processing is isolated at two levels: a rule whose connection is missing
// or whose discovery fails is logged and skipped without touching the other
// rules, and a candidate file whose fingerprinting or persistence fails is
// logged and skipped without aborting the rest of its rule.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"strings"

	"logharvest/internal/database"
	"logharvest/internal/metrics"
	"logharvest/internal/remote"
	"logharvest/internal/sshclient"
)

// RemoteExecutor is the slice of the command executor the watcher needs.
type RemoteExecutor interface {
	DiscoverFiles(ctx context.Context, target sshclient.Target, dir, pattern string, maxDepth int) ([]remote.FileMetadata, error)
	OpenFileContent(ctx context.Context, target sshclient.Target, path string) (io.ReadCloser, error)
}

// Coordinator runs the watcher scan over every enabled watch rule.
type Coordinator struct {
	Exec RemoteExecutor
}

func NewCoordinator(exec RemoteExecutor) *Coordinator {
	return &Coordinator{Exec: exec}
}

// ProcessWatchers scans every enabled watch rule once. Only a failure to
// list the rules themselves is returned; everything below that is isolated
// per rule or per file.
func (c *Coordinator) ProcessWatchers(ctx context.Context) error {
	rules, err := database.EnabledWatchRules()
	if err != nil {
		return fmt.Errorf("list watch rules: %w", err)
	}

	for i := range rules {
		c.processRule(ctx, &rules[i])
	}
	return nil
}

func (c *Coordinator) processRule(ctx context.Context, rule *database.WatchRule) {
	conn, err := database.GetConnectionConfig(rule.ConnectionName)
	if err != nil {
		log.Printf("[watcher] rule %s: %v, skipping rule", rule.Name, err)
		return
	}

	target := sshclient.Target{
		Host:     conn.Host,
		Port:     conn.Port,
		Username: conn.Username,
		Password: conn.Password,
	}

	metas, err := c.Exec.DiscoverFiles(ctx, target, rule.WatchDir, remotePattern(rule), rule.RecurDepth)
	if err != nil {
		log.Printf("[watcher] rule %s: discovery failed: %v", rule.Name, err)
		return
	}

	recorded := 0
	for _, meta := range metas {
		if !matchesRule(rule, meta.Name) {
			continue
		}
		if c.recordCandidate(ctx, rule, target, meta) {
			recorded++
		}
	}
	if recorded > 0 {
		log.Printf("[watcher] rule %s: recorded %d new file(s) of %d candidate(s)", rule.Name, recorded, len(metas))
	}
}

// recordCandidate fingerprints one discovered file and persists its ledger
// row. Returns true if a new row was created.
func (c *Coordinator) recordCandidate(ctx context.Context, rule *database.WatchRule, target sshclient.Target, meta remote.FileMetadata) bool {
	existing, err := database.FindRecordExact(rule.Name, meta.Path, meta.Size, meta.ModTimeMs)
	if err != nil {
		log.Printf("[watcher] rule %s: ledger lookup for %s: %v", rule.Name, meta.Path, err)
		return false
	}
	if existing != nil {
		// Same rule, path, size, and mtime: already processed.
		return false
	}

	hash, err := c.fingerprint(ctx, target, meta.Path)
	if err != nil {
		log.Printf("[watcher] rule %s: fingerprint %s: %v", rule.Name, meta.Path, err)
		return false
	}

	rec := &database.FileRecord{
		WatchRuleName: rule.Name,
		FullPath:      meta.Path,
		FileName:      meta.Name,
		FileSize:      meta.Size,
		RemoteModTime: meta.ModTimeMs,
		FileHash:      hash,
		Status:        database.StatusPending,
	}

	dup, err := database.FindRecordByHash(hash)
	if err != nil {
		log.Printf("[watcher] rule %s: fingerprint lookup for %s: %v", rule.Name, meta.Path, err)
		return false
	}
	if dup != nil {
		// Rotated or re-discovered content. The record is born a duplicate
		// and never enters ingestion.
		dupPath := dup.FullPath
		rec.Status = database.StatusDuplicate
		rec.DuplicateOfPath = &dupPath
	}

	if err := database.CreateFileRecords([]*database.FileRecord{rec}); err != nil {
		log.Printf("[watcher] rule %s: persist %s: %v", rule.Name, meta.Path, err)
		return false
	}

	if rec.Status == database.StatusDuplicate {
		metrics.FilesDuplicateTotal.Inc()
		log.Printf("[watcher] rule %s: %s is a duplicate of %s", rule.Name, meta.Path, *rec.DuplicateOfPath)
	} else {
		metrics.FilesDiscoveredTotal.Inc()
	}
	return true
}

// fingerprint streams the file's content through sha256 without ever
// holding the whole file in memory.
func (c *Coordinator) fingerprint(ctx context.Context, target sshclient.Target, path string) (string, error) {
	rc, err := c.Exec.OpenFileContent(ctx, target, path)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	h := sha256.New()
	if _, err := io.Copy(h, rc); err != nil {
		return "", fmt.Errorf("read content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// remotePattern builds the find -name glob for a rule. The glob narrows by
// prefix and postfix; "contains" cannot be expressed in one portable glob
// and is applied client-side. With archived logs enabled the postfix is
// dropped so rotated variants (app.log.1, app.log.gz) are also listed.
func remotePattern(rule *database.WatchRule) string {
	p := rule.FilePrefix + "*"
	if !rule.ArchivedLogs && rule.FilePostfix != "" {
		p += rule.FilePostfix
	}
	return p
}

// archiveSuffixes are the rotation/compression endings stripped when a rule
// includes archived logs.
var archiveSuffixes = []string{".gz", ".bz2", ".xz", ".zst", ".zip"}

// stripArchiveSuffixes removes trailing compression extensions and numeric
// rotation suffixes: "app.log.1.gz" reduces to "app.log".
func stripArchiveSuffixes(name string) string {
	for {
		stripped := name
		for _, suf := range archiveSuffixes {
			if strings.HasSuffix(stripped, suf) {
				stripped = stripped[:len(stripped)-len(suf)]
			}
		}
		if i := strings.LastIndex(stripped, "."); i >= 0 {
			if tail := stripped[i+1:]; tail != "" && isAllDigits(tail) {
				stripped = stripped[:i]
			}
		}
		if stripped == name {
			return name
		}
		name = stripped
	}
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// matchesRule applies the client-side filename filters: prefix, contains,
// postfix, and the archived-logs flag. The remote glob already narrowed
// the set, but it cannot express "contains" or archive-suffix handling.
func matchesRule(rule *database.WatchRule, name string) bool {
	if rule.FilePrefix != "" && !strings.HasPrefix(name, rule.FilePrefix) {
		return false
	}
	if rule.FileContains != "" && !strings.Contains(name, rule.FileContains) {
		return false
	}

	base := name
	if rule.ArchivedLogs {
		base = stripArchiveSuffixes(name)
	} else if stripArchiveSuffixes(name) != name {
		// Rotated/compressed variant, and the rule does not want them.
		return false
	}
	if rule.FilePostfix != "" && !strings.HasSuffix(base, rule.FilePostfix) {
		return false
	}
	return true
}
