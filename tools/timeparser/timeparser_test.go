package timeparser_test

import (
	"testing"
	"time"

	"github.com/septivank/energy-consumption-notifier/tools/timeparser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeMonthKey_EquivalentForms(t *testing.T) {
	for _, input := range []string{"01/24", "1/2024", "15/01/24", "15/1/2024", " 01/24 "} {
		key, ok := timeparser.NormalizeMonthKey(input)
		require.True(t, ok, input)
		assert.Equal(t, "01/24", key, input)
	}
}

func TestNormalizeMonthKey_SingleDigitYear(t *testing.T) {
	key, ok := timeparser.NormalizeMonthKey("3/5")
	require.True(t, ok)
	assert.Equal(t, "03/05", key)
}

func TestNormalizeMonthKey_Invalid(t *testing.T) {
	for _, input := range []string{"", "2024", "ab/24", "01/yy", "01/", "2024-01-15"} {
		_, ok := timeparser.NormalizeMonthKey(input)
		assert.False(t, ok, input)
	}
}

func TestParseMonthKey(t *testing.T) {
	got, ok := timeparser.ParseMonthKey("15/11/2023")
	require.True(t, ok)
	assert.Equal(t, time.Date(2023, time.November, 1, 0, 0, 0, 0, time.UTC), got)
}

func TestParseMonthKey_MonthOutOfRange(t *testing.T) {
	_, ok := timeparser.ParseMonthKey("13/24")
	assert.False(t, ok)

	_, ok = timeparser.ParseMonthKey("00/24")
	assert.False(t, ok)
}

func TestParseReadingDate_Formats(t *testing.T) {
	expected := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)

	for _, input := range []string{"2025-03-14", "14/03/2025"} {
		got, err := timeparser.ParseReadingDate(input)
		require.NoError(t, err, input)
		assert.True(t, got.Equal(expected), input)
	}

	withTime, err := timeparser.ParseReadingDate("14/03/2025 10:30:45")
	require.NoError(t, err)
	assert.Equal(t, 10, withTime.Hour())
}

func TestParseReadingDate_Invalid(t *testing.T) {
	_, err := timeparser.ParseReadingDate("03/2025")
	assert.Error(t, err)
}

func TestReadingMonthKey(t *testing.T) {
	key, ok := timeparser.ReadingMonthKey("05/02/2025")
	require.True(t, ok)
	assert.Equal(t, "02/25", key)

	key, ok = timeparser.ReadingMonthKey("2024-11-30 08:00:00")
	require.True(t, ok)
	assert.Equal(t, "11/24", key)

	_, ok = timeparser.ReadingMonthKey("sin fecha")
	assert.False(t, ok)
}
