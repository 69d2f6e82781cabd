package attendant

import (
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateCron reports whether expr is a valid 5-field cron expression.
func ValidateCron(expr string) error {
	_, err := cronParser.Parse(expr)
	return err
}

// nextCronDuration returns the duration from now until the next fire time
// of expr evaluated in loc. Returns 0 on parse error.
func nextCronDuration(expr string, loc *time.Location, now time.Time) time.Duration {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return 0
	}
	if loc == nil {
		loc = time.Local
	}
	next := sched.Next(now.In(loc))
	d := next.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
