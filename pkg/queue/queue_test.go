package queue

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeAttendance(t *testing.T) {
	id := uuid.New()
	body, err := json.Marshal(AttendancePayload{SessionID: id})
	require.NoError(t, err)

	p, err := DecodeAttendance(&Job{Type: JobTypeAttendance, Payload: body})
	require.NoError(t, err)
	assert.Equal(t, id, p.SessionID)

	_, err = DecodeAttendance(&Job{Type: "email", Payload: body})
	assert.Error(t, err)

	_, err = DecodeAttendance(&Job{Type: JobTypeAttendance, Payload: json.RawMessage(`{"session_id":"nope"}`)})
	assert.Error(t, err)
}
