package mess_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiffin/mess-engine/mess"
)

func dateStrings(dates []mess.Date) []string {
	out := make([]string, len(dates))
	for i, d := range dates {
		out[i] = d.String()
	}
	return out
}

func TestParseOffDates_MixedListAndRange(t *testing.T) {
	// GIVEN: A comma list mixing single dates and an inclusive range
	// WHEN: Parsing
	// THEN: The range expands in order and duplicates collapse

	dates, err := mess.ParseOffDates("2025-05-10, 2025-05-12 to 2025-05-14, 2025-05-10")
	require.NoError(t, err)

	assert.Equal(t,
		[]string{"2025-05-10", "2025-05-12", "2025-05-13", "2025-05-14"},
		dateStrings(dates))
}

func TestParseOffDates_SingleDate(t *testing.T) {
	dates, err := mess.ParseOffDates("2025-05-10")
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-05-10"}, dateStrings(dates))
}

func TestParseOffDates_Errors(t *testing.T) {
	_, err := mess.ParseOffDates("")
	assert.ErrorIs(t, err, mess.ErrInvalidDate)

	_, err = mess.ParseOffDates("10-05-2025")
	assert.ErrorIs(t, err, mess.ErrInvalidDate)

	_, err = mess.ParseOffDates("2025-05-14 to 2025-05-10")
	assert.ErrorIs(t, err, mess.ErrInvalidRange)
}

func TestExpandRange_Inclusive(t *testing.T) {
	dates, err := mess.ExpandRange(mess.MustDate("2025-05-10"), mess.MustDate("2025-05-12"))
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-05-10", "2025-05-11", "2025-05-12"}, dateStrings(dates))

	single, err := mess.ExpandRange(mess.MustDate("2025-05-10"), mess.MustDate("2025-05-10"))
	require.NoError(t, err)
	assert.Len(t, single, 1)
}

func TestExpandRange_TooLong(t *testing.T) {
	_, err := mess.ExpandRange(mess.MustDate("2025-01-01"), mess.MustDate("2035-01-01"))
	assert.ErrorIs(t, err, mess.ErrInvalidRange)
}
