package resilience

import "time"

// backoffSteps is the account cooldown per consecutive failure. Levels past
// the end use the last step.
var backoffSteps = []time.Duration{
	60 * time.Second,
	120 * time.Second,
	300 * time.Second,
	600 * time.Second,
	1200 * time.Second,
}

// BackoffDuration returns the account cooldown for a backoff level.
func BackoffDuration(level int) time.Duration {
	if level < 0 {
		level = 0
	}
	if level >= len(backoffSteps) {
		level = len(backoffSteps) - 1
	}
	return backoffSteps[level]
}

const (
	quotaCooldownBase = time.Second
	quotaCooldownMax  = 120 * time.Second
)

// QuotaCooldown is the wait for quota and capacity failures on a single model:
// 1s doubling per level, capped at 120s.
func QuotaCooldown(level int) time.Duration {
	if level < 0 {
		level = 0
	}
	// 2^7 s already exceeds the cap; avoid shifting into overflow.
	if level >= 7 {
		return quotaCooldownMax
	}
	d := quotaCooldownBase << uint(level)
	if d > quotaCooldownMax {
		return quotaCooldownMax
	}
	return d
}
