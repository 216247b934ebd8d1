package relay

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrBadTimestamp reports a leading date/time fragment with missing pieces.
var ErrBadTimestamp = errors.New("时间信息缺失：需要年、月、日和时分")

var (
	reYear  = regexp.MustCompile(`(\d{4})年`)
	reMonth = regexp.MustCompile(`(\d{1,2})月`)
	reDay   = regexp.MustCompile(`(\d{1,2})日`)
	// half- or full-width colon between hour and minute
	reClock = regexp.MustCompile(`(\d{1,2})[:：](\d{1,2})`)
)

// ParseTimeKey derives the item key from the date/time fragment contributors
// put at the start of a caption or translation, e.g. "2024年5月1日 10:00".
// It returns the key and the text that remains after the fragment, so a
// translation message keeps only its payload.
func ParseTimeKey(text string, loc *time.Location) (key int64, rest string, err error) {
	if loc == nil {
		loc = time.Local
	}
	first, tail, hasTail := strings.Cut(normalizeNewlines(text), "\n")

	my := reYear.FindStringSubmatchIndex(first)
	mm := reMonth.FindStringSubmatchIndex(first)
	md := reDay.FindStringSubmatchIndex(first)
	mc := reClock.FindStringSubmatchIndex(first)
	if my == nil || mm == nil || md == nil || mc == nil {
		return 0, "", ErrBadTimestamp
	}

	year := mustAtoi(first[my[2]:my[3]])
	month := mustAtoi(first[mm[2]:mm[3]])
	day := mustAtoi(first[md[2]:md[3]])
	hour := mustAtoi(first[mc[2]:mc[3]])
	minute := mustAtoi(first[mc[4]:mc[5]])
	if month < 1 || month > 12 || day < 1 || day > 31 || hour > 23 || minute > 59 {
		return 0, "", ErrBadTimestamp
	}

	key = time.Date(year, time.Month(month), day, hour, minute, 0, 0, loc).Unix()

	// The fragment ends where the last matched token ends.
	end := my[1]
	for _, m := range [][]int{mm, md, mc} {
		if m[1] > end {
			end = m[1]
		}
	}
	rest = strings.TrimSpace(first[end:])
	if hasTail {
		if rest == "" {
			rest = tail
		} else {
			rest = rest + "\n" + tail
		}
	}
	return key, rest, nil
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

func mustAtoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
