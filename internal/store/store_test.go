package store

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nuha.dev/devicerelay/internal/device"
)

func f64(v float64) *float64 {
	return &v
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func newTestStore(limit int) *Store {
	c := &fakeClock{t: time.UnixMilli(1_700_000_000_000)}
	return NewStore(&StoreConfig{SmsLogLimit: limit, Clock: c.now})
}

func TestApplyLocationZeroIsValid(t *testing.T) {
	st := newTestStore(0)
	rec, err := st.ApplyLocation("d1", &device.Location{Latitude: f64(0), Longitude: f64(0)})
	require.NoError(t, err)
	assert.Equal(t, 0.0, rec.Latitude)
	assert.Equal(t, 0.0, rec.Longitude)

	snap := st.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "d1", snap[0].DeviceID)
	require.NotNil(t, snap[0].Latest)
	assert.Equal(t, rec, *snap[0].Latest)
}

func TestApplyLocationStampsReceipt(t *testing.T) {
	st := newTestStore(0)
	rec, err := st.ApplyLocation("d1", &device.Location{
		Latitude:  f64(17.385),
		Longitude: f64(78.4867),
		Accuracy:  f64(4.5),
		Timestamp: json.RawMessage(`"2024-01-01T00:00:00Z"`),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1_700_000_000_001), rec.ReceivedAt)
	assert.Equal(t, rec.ReceivedAt, rec.Ts)
	assert.Equal(t, 4.5, *rec.Accuracy)
	assert.JSONEq(t, `"2024-01-01T00:00:00Z"`, string(rec.Timestamp))
}

func TestApplyLocationRejects(t *testing.T) {
	cases := []struct {
		name string
		loc  device.Location
	}{
		{name: "missing latitude", loc: device.Location{Longitude: f64(1)}},
		{name: "missing longitude", loc: device.Location{Latitude: f64(1)}},
		{name: "nan", loc: device.Location{Latitude: f64(math.NaN()), Longitude: f64(1)}},
		{name: "inf", loc: device.Location{Latitude: f64(1), Longitude: f64(math.Inf(-1))}},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			st := newTestStore(0)
			_, err := st.ApplyLocation("d1", &tt.loc)
			assert.True(t, errors.Is(err, device.ErrInvalidLocation))
			assert.Empty(t, st.Snapshot())
		})
	}
}

func TestLastArrivalWins(t *testing.T) {
	st := newTestStore(0)
	// embedded timestamps go backwards; arrival order still decides
	stamps := []string{`300`, `200`, `100`}
	for i, ts := range stamps {
		_, err := st.ApplyLocation("d1", &device.Location{
			Latitude:  f64(float64(i)),
			Longitude: f64(float64(i) * 2),
			Timestamp: json.RawMessage(ts),
		})
		require.NoError(t, err)
	}
	snap := st.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, 2.0, snap[0].Latest.Latitude)
	assert.Equal(t, 4.0, snap[0].Latest.Longitude)
	assert.Equal(t, `100`, string(snap[0].Latest.Timestamp))
}

func TestAppendSmsNewestFirst(t *testing.T) {
	st := newTestStore(0)
	for _, text := range []string{"one", "two", "three"} {
		st.AppendSms("d1", &device.Sms{From: "+100", Text: text})
	}
	logs, ok := st.SmsLog("d1")
	require.True(t, ok)
	require.Len(t, logs, 3)
	assert.Equal(t, "three", logs[0].Text)
	assert.Equal(t, "two", logs[1].Text)
	assert.Equal(t, "one", logs[2].Text)
	assert.Greater(t, logs[0].ReceivedAt, logs[2].ReceivedAt)

	snap := st.Snapshot()
	require.Len(t, snap, 1)
	assert.Nil(t, snap[0].Latest)
}

func TestAppendSmsLimit(t *testing.T) {
	st := newTestStore(2)
	for _, text := range []string{"one", "two", "three"} {
		st.AppendSms("d1", &device.Sms{Text: text})
	}
	logs, _ := st.SmsLog("d1")
	require.Len(t, logs, 2)
	assert.Equal(t, "three", logs[0].Text)
	assert.Equal(t, "two", logs[1].Text)
}

func TestSnapshotOrderIsFirstSeen(t *testing.T) {
	st := newTestStore(0)
	st.AppendSms("b", &device.Sms{Text: "x"})
	_, _ = st.ApplyLocation("a", &device.Location{Latitude: f64(1), Longitude: f64(1)})
	_, _ = st.ApplyLocation("b", &device.Location{Latitude: f64(2), Longitude: f64(2)})

	snap := st.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "b", snap[0].DeviceID)
	assert.Equal(t, "a", snap[1].DeviceID)
	assert.Equal(t, 2, st.Len())
}

func TestSnapshotIsCopy(t *testing.T) {
	st := newTestStore(0)
	_, _ = st.ApplyLocation("a", &device.Location{Latitude: f64(1), Longitude: f64(1)})
	snap := st.Snapshot()
	snap[0].Latest.Latitude = 99
	assert.Equal(t, 1.0, st.Snapshot()[0].Latest.Latitude)

	_, ok := st.SmsLog("missing")
	assert.False(t, ok)
}
