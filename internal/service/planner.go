package service

import (
	"context"
	"errors"
	"time"

	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/domain"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/logger"
	"github.com/mattedwardseo/nk-seo-tool-sub001/internal/repository"
)

// PlanStats summarizes one planning pass.
type PlanStats struct {
	Checked int
	Created int
	Skipped int
	Failed  int
}

// Planner creates scheduled scans for campaigns whose cadence has elapsed.
type Planner struct {
	campaigns CampaignStore
	scans     ScanStore
	trigger   *CampaignService
	logger    *logger.Logger
}

// NewPlanner creates a cadence planner.
func NewPlanner(campaigns CampaignStore, scans ScanStore, trigger *CampaignService, log *logger.Logger) *Planner {
	if log == nil {
		log = logger.GetDefault()
	}
	return &Planner{campaigns: campaigns, scans: scans, trigger: trigger, logger: log}
}

// PlanDueScans triggers a scan for every ACTIVE campaign whose latest scan
// is older than its cadence interval, or that was never scanned. Campaigns
// with a PENDING or SCANNING scan are skipped.
func (p *Planner) PlanDueScans(ctx context.Context, now time.Time) (*PlanStats, error) {
	ctx = logger.SetComponent(ctx, "planner")
	log := logger.FromContext(ctx)

	campaigns, err := p.campaigns.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	stats := &PlanStats{}
	for i := range campaigns {
		c := &campaigns[i]
		stats.Checked++

		due, err := p.isDue(ctx, c, now)
		if err != nil {
			log.WithField(logger.FieldCampaignID, c.ID).WithError(err).Warn("Failed to check campaign cadence")
			stats.Failed++
			continue
		}
		if !due {
			stats.Skipped++
			continue
		}

		scan, err := p.trigger.TriggerScan(ctx, c.ID, domain.ScanTriggerScheduled)
		switch {
		case err == nil:
			stats.Created++
			log.WithFields(logger.Fields{
				logger.FieldCampaignID: c.ID,
				logger.FieldScanID:     scan.ID,
			}).Info("Scheduled scan created")
		case errors.Is(err, ErrScanActive):
			stats.Skipped++
		default:
			stats.Failed++
			log.WithField(logger.FieldCampaignID, c.ID).WithError(err).Warn("Failed to schedule scan")
		}
	}

	logger.With(logger.Fields{
		"checked": stats.Checked,
		"created": stats.Created,
		"skipped": stats.Skipped,
		"failed":  stats.Failed,
	}).Info(ctx, "Planning pass finished")
	return stats, nil
}

func (p *Planner) isDue(ctx context.Context, c *domain.Campaign, now time.Time) (bool, error) {
	interval := c.Cadence.Interval()
	if interval == 0 {
		return false, nil
	}
	latest, err := p.scans.LatestByCampaign(ctx, c.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return true, nil
		}
		return false, err
	}
	if !latest.Status.IsTerminal() {
		return false, nil
	}
	return now.Sub(latest.CreatedAt) >= interval, nil
}

// Run calls PlanDueScans every interval until ctx is done.
func (p *Planner) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := p.PlanDueScans(ctx, time.Now()); err != nil && ctx.Err() == nil {
			p.logger.WithError(err).Error("Planning pass failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
