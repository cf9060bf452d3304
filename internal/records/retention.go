package records

import (
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ScheduleRetention registers a daily pruning job on c. retentionDays
// of zero disables pruning entirely.
func ScheduleRetention(c *cron.Cron, store *RecordStore, retentionDays int, logger *zap.SugaredLogger) error {
	if retentionDays <= 0 {
		return nil
	}
	_, err := c.AddFunc("@daily", func() {
		cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
		if err := store.PruneOlderThan(cutoff); err != nil {
			logger.Errorw("record retention prune failed", "error", err)
			return
		}
		logger.Infow("record retention prune complete", "cutoff", cutoff.Format(time.RFC3339))
	})
	return err
}
