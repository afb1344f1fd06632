package reminder

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultTick is the evaluation period when none is configured.
const DefaultTick = "@every 1m"

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var tickParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var reHHMM = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})\s*$`)

// ParseTick normalizes a tick setting into a cron spec.
//
// Supported forms:
//   - Cron: "* * * * *", "*/30 * * * * *", "@every 1m"
//   - Go duration: "1m", "30s"
//   - HH:MM interval: "00:01"
//
// An empty string yields DefaultTick.
func ParseTick(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return DefaultTick, nil
	}

	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		if _, err := tickParser.Parse(s); err != nil {
			return "", fmt.Errorf("invalid tick cron spec %q: %w", raw, err)
		}
		return s, nil
	}

	var d time.Duration
	if m := reHHMM.FindStringSubmatch(s); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return "", fmt.Errorf("invalid minutes in tick %q", raw)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	} else {
		var err error
		d, err = time.ParseDuration(s)
		if err != nil {
			return "", fmt.Errorf("invalid tick %q (use cron like '* * * * *' or duration like '1m')", raw)
		}
	}
	if d < time.Second {
		return "", fmt.Errorf("tick must be >= 1s, got %s", d)
	}
	return "@every " + d.String(), nil
}
