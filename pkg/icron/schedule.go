package icron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// lookback bounds how far GetTriggerInfo searches for the previous trigger.
const lookback = 366 * 24 * time.Hour

type TriggerInfo struct {
	Expression string    `json:"expression"`
	Next       time.Time `json:"next"`
	Last       time.Time `json:"last,omitzero"`

	TimeSinceLast time.Duration `json:"time_since_last,omitempty"`
	TimeUntilNext time.Duration `json:"time_until_next"`
}

// Parse accepts the standard five field form and descriptors like @daily.
func Parse(cronExpr string) (cron.Schedule, error) {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

// GetTriggerInfo reports the triggers of cronExpr around refTime. Last is zero
// when the expression did not fire within the past year.
func GetTriggerInfo(cronExpr string, refTime time.Time) (*TriggerInfo, error) {
	schedule, err := Parse(cronExpr)
	if err != nil {
		return nil, err
	}

	info := &TriggerInfo{
		Expression: cronExpr,
		Next:       schedule.Next(refTime),
		Last:       lastTrigger(schedule, refTime),
	}
	if !info.Last.IsZero() {
		info.TimeSinceLast = refTime.Sub(info.Last)
	}
	info.TimeUntilNext = info.Next.Sub(refTime)
	return info, nil
}

// lastTrigger widens the window backwards until a trigger lands in it, then
// walks forward to the latest one not after refTime.
func lastTrigger(schedule cron.Schedule, refTime time.Time) time.Time {
	var found time.Time
	for step := time.Minute; ; step *= 2 {
		step = min(step, lookback)
		candidate := schedule.Next(refTime.Add(-step))
		if !candidate.After(refTime) {
			found = candidate
			break
		}
		if step == lookback {
			break
		}
	}
	if found.IsZero() {
		return time.Time{}
	}
	for {
		next := schedule.Next(found)
		if next.After(refTime) {
			return found
		}
		found = next
	}
}
