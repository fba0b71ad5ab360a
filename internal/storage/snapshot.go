package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/domain"
)

// ScanSnapshot is the archived form of a completed scan.
type ScanSnapshot struct {
	Scan        *domain.GridScan         `json:"scan"`
	Campaign    *domain.Campaign         `json:"campaign"`
	Results     []domain.GridPointResult `json:"results"`
	Competitors []domain.CompetitorStat  `json:"competitors"`
	ExportedAt  time.Time                `json:"exported_at"`
}

// SnapshotExporter writes scan snapshots as JSON objects under
// <prefix>/<campaign>/<scan>.json.
type SnapshotExporter struct {
	store  ObjectStorage
	prefix string
}

// NewSnapshotExporter creates an exporter writing to store.
func NewSnapshotExporter(store ObjectStorage, prefix string) *SnapshotExporter {
	if prefix == "" {
		prefix = "scans"
	}
	return &SnapshotExporter{store: store, prefix: prefix}
}

// SnapshotKey returns the object key of a scan snapshot.
func (e *SnapshotExporter) SnapshotKey(campaignID, scanID string) string {
	return path.Join(e.prefix, campaignID, scanID+".json")
}

// ExportScan uploads the snapshot and returns its URL.
func (e *SnapshotExporter) ExportScan(ctx context.Context, snap *ScanSnapshot) (string, error) {
	if snap == nil || snap.Scan == nil {
		return "", fmt.Errorf("snapshot has no scan")
	}
	if snap.ExportedAt.IsZero() {
		snap.ExportedAt = time.Now().UTC()
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}

	key := e.SnapshotKey(snap.Scan.CampaignID, snap.Scan.ID)
	if err := e.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), "application/json"); err != nil {
		return "", err
	}
	return e.store.URL(key), nil
}
