package events_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shiftline/internal/domain"
	"shiftline/internal/events"
)

func TestNormalize(t *testing.T) {
	w := events.Writer{Now: func() time.Time { return time.Date(2024, 5, 2, 21, 7, 0, 0, time.UTC) }}

	in, err := w.Normalize(events.Input{Type: domain.EventPowerOff, Description: "   "})
	require.NoError(t, err)
	assert.Equal(t, "Time recorded: 02.05.2024 21:07", in.Description)

	in, err = w.Normalize(events.Input{Type: domain.EventIncident, Description: "  broken fence  "})
	require.NoError(t, err)
	assert.Equal(t, "broken fence", in.Description)

	_, err = w.Normalize(events.Input{Type: domain.EventIncident})
	assert.ErrorIs(t, err, events.ErrDescriptionMissing)

	_, err = w.Normalize(events.Input{Type: "PARTY", Description: "x"})
	assert.ErrorIs(t, err, events.ErrInvalidType)

	_, err = w.Normalize(events.Input{Type: domain.EventAlarm, Description: strings.Repeat("я", events.MaxDescriptionRunes+1)})
	assert.ErrorIs(t, err, events.ErrDescriptionTooLong)
}
