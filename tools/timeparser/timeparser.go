package timeparser

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// readingDateFormats are the layouts accepted for invoice reading dates
var readingDateFormats = []string{
	"2006-01-02",          // YYYY-MM-DD
	"02/01/2006",          // DD/MM/YYYY
	"2006-01-02 15:04:05", // YYYY-MM-DD HH:mm:ss
	"02/01/2006 15:04:05", // DD/MM/YYYY HH:mm:ss
}

// ParseReadingDate attempts to parse an invoice reading date with multiple formats
func ParseReadingDate(dateStr string) (time.Time, error) {
	dateStr = strings.TrimSpace(dateStr)

	var lastErr error
	for _, format := range readingDateFormats {
		t, err := time.Parse(format, dateStr)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("failed to parse reading date '%s': %w", dateStr, lastErr)
}

// ReadingMonthKey returns the MM/YY key of the month an invoice reading date falls in
func ReadingMonthKey(dateStr string) (string, bool) {
	t, err := ParseReadingDate(dateStr)
	if err != nil {
		return "", false
	}
	return t.Format("01/06"), true
}

// NormalizeMonthKey canonicalizes MM/YY, MM/YYYY and DD/MM/YY(YY) into an MM/YY key.
// The last "/" token is the year and the one before it the month.
func NormalizeMonthKey(dateStr string) (string, bool) {
	parts := strings.Split(strings.TrimSpace(dateStr), "/")
	if len(parts) < 2 {
		return "", false
	}

	month := strings.TrimSpace(parts[len(parts)-2])
	year := strings.TrimSpace(parts[len(parts)-1])
	if !isDigits(month) || !isDigits(year) {
		return "", false
	}

	if len(year) > 2 {
		year = year[len(year)-2:]
	}

	return leftPad(month, 2) + "/" + leftPad(year, 2), true
}

// ParseMonthKey returns the first day of the month identified by dateStr
func ParseMonthKey(dateStr string) (time.Time, bool) {
	key, ok := NormalizeMonthKey(dateStr)
	if !ok {
		return time.Time{}, false
	}

	month, err := strconv.Atoi(key[:2])
	if err != nil || month < 1 || month > 12 {
		return time.Time{}, false
	}
	year, err := strconv.Atoi(key[3:])
	if err != nil {
		return time.Time{}, false
	}

	return time.Date(2000+year, time.Month(month), 1, 0, 0, 0, 0, time.UTC), true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func leftPad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}
