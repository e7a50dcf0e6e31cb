package domain

import (
	"strconv"
	"strings"
	"time"
)

// ParsePeriod converts a period token like "12h", "2d" or "1w" into a
// duration. It never fails: an unknown unit is treated as days, and an
// empty or unparseable token defaults to one day.
func ParsePeriod(period string) time.Duration {
	period = strings.TrimSpace(period)
	if len(period) < 2 {
		return 24 * time.Hour
	}

	num, err := strconv.Atoi(period[:len(period)-1])
	if err != nil || num <= 0 {
		return 24 * time.Hour
	}

	switch strings.ToLower(period[len(period)-1:]) {
	case "h":
		return time.Duration(num) * time.Hour
	case "w":
		return time.Duration(num) * 7 * 24 * time.Hour
	case "d":
		return time.Duration(num) * 24 * time.Hour
	default:
		return time.Duration(num) * 24 * time.Hour
	}
}
