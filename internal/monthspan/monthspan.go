// Package monthspan turns the command line month selector into a calendar
// month period.
package monthspan

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/rumor-ml/commons.systems/icaporter/internal/domain"
)

var absoluteMonthPattern = regexp.MustCompile(`^(\d{4})-(\d{2})$`)

// Parse resolves a month selector against the current time. Two forms are
// accepted:
//
//   - "YYYY-MM" names a calendar month directly.
//   - An integer counts whole months back from the current one; the sign is
//     ignored, so "1" and "-1" both mean last month and "0" means the
//     current month.
//
// The returned period spans the first through the last day of the month.
func Parse(selector string, now time.Time) (domain.Period, error) {
	if m := absoluteMonthPattern.FindStringSubmatch(selector); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		if month < 1 || month > 12 {
			return domain.Period{}, fmt.Errorf("invalid month selector %q: month must be 01-12", selector)
		}
		return monthPeriod(year, time.Month(month), now.Location())
	}

	offset, err := strconv.Atoi(selector)
	if err != nil {
		return domain.Period{}, fmt.Errorf("invalid month selector %q: want YYYY-MM or a month offset", selector)
	}
	if offset < 0 {
		offset = -offset
	}

	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, -offset, 0)
	return monthPeriod(first.Year(), first.Month(), now.Location())
}

func monthPeriod(year int, month time.Month, loc *time.Location) (domain.Period, error) {
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	last := first.AddDate(0, 1, 0).AddDate(0, 0, -1)
	return domain.NewPeriod(first, last)
}
