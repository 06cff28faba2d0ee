// Package ingest implements the periodic job that streams pending ledger
// entries to the downstream indexer and records the outcome.
package ingest

import (
	"context"
	"fmt"
	"io"
	"log"

	"logharvest/internal/database"
	"logharvest/internal/metrics"
	"logharvest/internal/sshclient"
)

// ContentOpener is the slice of the remote executor the ingester needs.
type ContentOpener interface {
	OpenFileContent(ctx context.Context, target sshclient.Target, path string) (io.ReadCloser, error)
}

// Coordinator drains pending ledger entries into the indexer.
type Coordinator struct {
	Exec    ContentOpener
	Indexer Indexer
}

func NewCoordinator(exec ContentOpener, indexer Indexer) *Coordinator {
	return &Coordinator{Exec: exec, Indexer: indexer}
}

// IngestRecords streams every pending, non-duplicate ledger entry to the
// indexer. A failed record is marked failed and logged; the batch always
// continues. Only a failure to list the pending set is returned.
func (c *Coordinator) IngestRecords(ctx context.Context) error {
	recs, err := database.PendingRecords()
	if err != nil {
		return fmt.Errorf("list pending records: %w", err)
	}

	for i := range recs {
		c.ingestRecord(ctx, &recs[i])
	}
	return nil
}

func (c *Coordinator) ingestRecord(ctx context.Context, rec *database.FileRecord) {
	target, err := resolveTarget(rec.WatchRuleName)
	if err != nil {
		log.Printf("[ingest] record %d (%s): %v", rec.ID, rec.FullPath, err)
		c.markFailed(rec)
		return
	}

	rc, err := c.Exec.OpenFileContent(ctx, *target, rec.FullPath)
	if err != nil {
		log.Printf("[ingest] record %d: open %s: %v", rec.ID, rec.FullPath, err)
		c.markFailed(rec)
		return
	}

	count, err := c.Indexer.Index(ctx, rec.FullPath, rc)
	rc.Close()
	if err != nil {
		log.Printf("[ingest] record %d: %v", rec.ID, err)
		c.markFailed(rec)
		return
	}

	if err := database.MarkRecordIndexed(rec.ID, count); err != nil {
		log.Printf("[ingest] record %d: %v", rec.ID, err)
		return
	}
	metrics.FilesIndexedTotal.Inc()
	metrics.DocumentsIndexedTotal.Add(float64(count))
	log.Printf("[ingest] record %d: indexed %s (%d documents)", rec.ID, rec.FullPath, count)
}

func (c *Coordinator) markFailed(rec *database.FileRecord) {
	metrics.FilesFailedTotal.Inc()
	if err := database.MarkRecordFailed(rec.ID); err != nil {
		log.Printf("[ingest] record %d: %v", rec.ID, err)
	}
}

// resolveTarget maps a record's watch rule to its connection credentials.
func resolveTarget(ruleName string) (*sshclient.Target, error) {
	rule, err := database.GetWatchRule(ruleName)
	if err != nil {
		return nil, err
	}
	conn, err := database.GetConnectionConfig(rule.ConnectionName)
	if err != nil {
		return nil, err
	}
	return &sshclient.Target{
		Host:     conn.Host,
		Port:     conn.Port,
		Username: conn.Username,
		Password: conn.Password,
	}, nil
}
