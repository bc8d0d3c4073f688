package envelope

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsReservedTypes(t *testing.T) {
	for _, reserved := range []string{TypePing, TypePong, TypeError, TypeAck} {
		_, err := New(reserved, nil)
		assert.Error(t, err, "type %q should be rejected", reserved)
	}
}

func TestNew_AssignsEventIDAndUTCTimestamp(t *testing.T) {
	e, err := New("notice", map[string]any{"msg": "hi"})
	require.NoError(t, err)

	assert.NotEmpty(t, e.EventID)
	assert.Equal(t, time.UTC, e.Timestamp.Location())
	assert.Equal(t, "notice", e.Type)
}

func TestNew_UniqueEventIDs(t *testing.T) {
	a, err := New("notice", nil)
	require.NoError(t, err)
	b, err := New("notice", nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.EventID, b.EventID)
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	cases := []struct {
		name string
		env  *Envelope
	}{
		{"application message", mustNew(t, "chat.message", map[string]any{"body": "hello", "count": float64(3)})},
		{"nested data", mustNew(t, "notice", map[string]any{"nested": map[string]any{"a": []any{"x", float64(1)}}})},
		{"ping", Ping()},
		{"pong", Pong()},
		{"error", Error("boom", map[string]any{"code": "oops"})},
		{"error without details", Error("boom", nil)},
		{"ack", Ack("evt-123")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload, err := tc.env.Encode()
			require.NoError(t, err)

			decoded, err := Decode(payload)
			require.NoError(t, err)
			assert.True(t, tc.env.Equal(decoded), "round trip changed the envelope: %+v vs %+v", tc.env, decoded)
		})
	}
}

func TestEncode_WireShape(t *testing.T) {
	e := mustNew(t, "notice", map[string]any{"msg": "hi"})
	payload, err := e.Encode()
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(payload, &raw))

	assert.Equal(t, "notice", raw["type"])
	assert.Equal(t, e.EventID, raw["event_id"])
	assert.Contains(t, raw, "timestamp")
	assert.Contains(t, raw, "data")

	// Timestamp must parse as RFC 3339 UTC.
	ts, err := time.Parse(time.RFC3339Nano, raw["timestamp"].(string))
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), ts.Sub(e.Timestamp).Round(time.Millisecond))
}

func TestEncode_PingOmitsData(t *testing.T) {
	payload, err := Ping().Encode()
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(payload, &raw))
	assert.NotContains(t, raw, "data")
	assert.Equal(t, TypePing, raw["type"])
}

func TestEncode_RejectsUnserializableData(t *testing.T) {
	e := &Envelope{
		Type:      "notice",
		EventID:   "evt-1",
		Timestamp: time.Now().UTC(),
		Data:      map[string]any{"ch": make(chan int)},
	}
	_, err := e.Encode()
	assert.Error(t, err)
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode([]byte("{not json"))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"event_id":"x"}`))
	assert.Error(t, err, "missing type should be rejected")
}

func TestAck_ReferencesEvent(t *testing.T) {
	ack := Ack("evt-42")
	assert.Equal(t, TypeAck, ack.Type)
	assert.Equal(t, "evt-42", ack.Data[FieldAckEventID])
}

func TestError_Fields(t *testing.T) {
	e := Error("nope", map[string]any{"field": "name"})
	assert.Equal(t, "nope", e.Data[FieldError])
	assert.Equal(t, map[string]any{"field": "name"}, e.Data[FieldDetails])

	bare := Error("nope", nil)
	assert.NotContains(t, bare.Data, FieldDetails)
}

func mustNew(t *testing.T, msgType string, data map[string]any) *Envelope {
	t.Helper()
	e, err := New(msgType, data)
	require.NoError(t, err)
	return e
}
