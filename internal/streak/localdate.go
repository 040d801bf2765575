package streak

import (
	"fmt"
	"time"

	"stride/internal/types"
)

// MaxOffsetMinutes bounds accepted client offsets. Real zones span
// UTC-12:00 to UTC+14:00.
const MaxOffsetMinutes = 14 * 60

// LocalDate returns the client's calendar day at instant now.
//
// offsetMinutes follows the browser Date.getTimezoneOffset convention: the
// number of minutes to add to local time to reach UTC, so UTC+2 is -120 and
// UTC-5 is 300. Local time is therefore now - offset.
func LocalDate(now time.Time, offsetMinutes int) (types.Date, error) {
	if offsetMinutes < -MaxOffsetMinutes || offsetMinutes > MaxOffsetMinutes {
		return types.Date{}, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidTimezone,
			fmt.Sprintf("timezone_offset must be between %d and %d minutes", -MaxOffsetMinutes, MaxOffsetMinutes),
			nil,
			map[string]any{"timezone_offset": offsetMinutes},
		)
	}
	local := now.UTC().Add(-time.Duration(offsetMinutes) * time.Minute)
	return types.DateOf(local), nil
}
