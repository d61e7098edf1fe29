package scheduler

import (
	"time"

	"github.com/ikkim/storecover-backend/config"
	"github.com/ikkim/storecover-backend/pkg/logger"
	"github.com/robfig/cron/v3"
)

type JobPruner interface {
	PruneExpired() (int, error)
}

type PolicyRenewer interface {
	RenewDuePolicies(asOf time.Time) (int, error)
}

type AuditPruner interface {
	PruneBefore(cutoff time.Time) (int64, error)
}

// MaintenanceScheduler runs the periodic housekeeping: dropping expired
// import jobs, renewing policies at the end of their window and, when a
// retention is configured, trimming the audit log.
type MaintenanceScheduler struct {
	cron     *cron.Cron
	cfg      config.SchedulerConfig
	jobs     JobPruner
	policies PolicyRenewer
	audit    AuditPruner
	now      func() time.Time
}

func NewMaintenanceScheduler(cfg config.SchedulerConfig, jobs JobPruner, policies PolicyRenewer, audit AuditPruner) *MaintenanceScheduler {
	return &MaintenanceScheduler{
		cron:     cron.New(),
		cfg:      cfg,
		jobs:     jobs,
		policies: policies,
		audit:    audit,
		now:      time.Now,
	}
}

// Start registers the jobs and starts the cron loop.
func (s *MaintenanceScheduler) Start() error {
	entries := []struct {
		name string
		spec string
		fn   func()
	}{
		{"import job pruning", s.cfg.JobPruneSpec, s.PruneJobs},
		{"policy renewal", s.cfg.PolicyRenewalSpec, s.RenewPolicies},
	}
	if s.cfg.AuditRetentionDays > 0 {
		entries = append(entries, struct {
			name string
			spec string
			fn   func()
		}{"audit retention", s.cfg.AuditRetentionSpec, s.PruneAudit})
	}

	for _, e := range entries {
		if _, err := s.cron.AddFunc(e.spec, e.fn); err != nil {
			logger.Error("Failed to add cron job", err, map[string]interface{}{
				"job":  e.name,
				"spec": e.spec,
			})
			return err
		}
	}

	s.cron.Start()
	logger.Info("Maintenance scheduler started", map[string]interface{}{
		"jobs":            len(entries),
		"job_prune":       s.cfg.JobPruneSpec,
		"policy_renewal":  s.cfg.PolicyRenewalSpec,
		"audit_retention": s.cfg.AuditRetentionDays,
	})
	return nil
}

// Stop waits for running jobs to return.
func (s *MaintenanceScheduler) Stop() {
	logger.Info("Stopping maintenance scheduler...")
	<-s.cron.Stop().Done()
	logger.Info("Maintenance scheduler stopped")
}

func (s *MaintenanceScheduler) PruneJobs() {
	removed, err := s.jobs.PruneExpired()
	if err != nil {
		logger.Error("Scheduled import job pruning failed", err)
		return
	}
	logger.Debug("Scheduled import job pruning finished", map[string]interface{}{
		"removed": removed,
	})
}

func (s *MaintenanceScheduler) RenewPolicies() {
	renewed, err := s.policies.RenewDuePolicies(s.now())
	if err != nil {
		logger.Error("Scheduled policy renewal failed", err)
		return
	}
	logger.Info("Scheduled policy renewal finished", map[string]interface{}{
		"renewed": renewed,
	})
}

func (s *MaintenanceScheduler) PruneAudit() {
	if s.cfg.AuditRetentionDays <= 0 {
		return
	}
	cutoff := s.now().AddDate(0, 0, -s.cfg.AuditRetentionDays)
	removed, err := s.audit.PruneBefore(cutoff)
	if err != nil {
		logger.Error("Scheduled audit pruning failed", err)
		return
	}
	logger.Info("Scheduled audit pruning finished", map[string]interface{}{
		"cutoff":  cutoff,
		"removed": removed,
	})
}
