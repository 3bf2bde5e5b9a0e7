// Package icron answers "when does this cron expression fire next" without
// holding a scheduler instance.
package icron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// NextTrigger returns the first firing of cronExpr strictly after refTime.
// Accepts the same grammar the flush scheduler runs on, descriptors like
// "@every 1m" included.
func NextTrigger(cronExpr string, refTime time.Time) (time.Time, error) {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour |
		cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule.Next(refTime), nil
}
