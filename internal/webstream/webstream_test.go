package webstream

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
	"nuha.dev/devicerelay/internal/device"
	"nuha.dev/devicerelay/internal/relay"
)

func newTestServer(t *testing.T) (*relay.Hub, *httptest.Server) {
	return newTestServerWith(t, WebStreamConfig{WriteTimeout: time.Second})
}

func newTestServerWith(t *testing.T, config WebStreamConfig) (*relay.Hub, *httptest.Server) {
	hub, err := relay.NewHub(&relay.HubConfig{SessionSalt: "test"})
	require.NoError(t, err)
	srv := httptest.NewServer(NewWebstream(hub, config))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, ctx context.Context, hub *relay.Hub, srv *httptest.Server) *websocket.Conn {
	before := len(hub.Sessions())
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(websocket.StatusNormalClosure, "") })
	require.Eventually(t, func() bool { return len(hub.Sessions()) == before+1 }, 2*time.Second, 10*time.Millisecond)
	return c
}

func send(t *testing.T, ctx context.Context, c *websocket.Conn, typ string, data string) {
	require.NoError(t, wsjson.Write(ctx, c, relay.Frame{Type: typ, Data: json.RawMessage(data)}))
}

func readFrame(t *testing.T, ctx context.Context, c *websocket.Conn) relay.Frame {
	var f relay.Frame
	require.NoError(t, wsjson.Read(ctx, c, &f))
	return f
}

// readUntil skips frames until one of type typ arrives.
func readUntil(t *testing.T, ctx context.Context, c *websocket.Conn, typ string) relay.Frame {
	for {
		f := readFrame(t, ctx, c)
		if f.Type == typ {
			return f
		}
	}
}

func TestLocationUpdateScenario(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	hub, srv := newTestServer(t)
	observer := dial(t, ctx, hub, srv)
	dev := dial(t, ctx, hub, srv)

	send(t, ctx, dev, CLocationUpdate, `{"deviceId":"d1","latitude":17.385,"longitude":78.4867}`)

	f := readFrame(t, ctx, observer)
	assert.Equal(t, relay.FrameDeviceLocation, f.Type)
	var p struct {
		DeviceID string                `json:"deviceId"`
		Payload  device.StoredLocation `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(f.Data, &p))
	assert.Equal(t, "d1", p.DeviceID)
	assert.Equal(t, 17.385, p.Payload.Latitude)
	assert.Equal(t, 78.4867, p.Payload.Longitude)

	ack := readUntil(t, ctx, dev, relay.FrameLocationAck)
	assert.JSONEq(t, `{"success":true,"deviceId":"d1"}`, string(ack.Data))

	snap := hub.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, 17.385, snap[0].Latest.Latitude)
}

func TestInvalidLocationAck(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	hub, srv := newTestServer(t)
	dev := dial(t, ctx, hub, srv)

	send(t, ctx, dev, CLocationUpdate, `{"deviceId":"d1","latitude":1}`)
	f := readFrame(t, ctx, dev)
	assert.Equal(t, relay.FrameLocationAck, f.Type)
	assert.JSONEq(t, `{"success":false,"error":"Invalid location data","deviceId":"d1"}`, string(f.Data))

	// the session survives a bad update
	send(t, ctx, dev, CLocationUpdate, `{"deviceId":"d1","latitude":0,"longitude":0}`)
	ack := readUntil(t, ctx, dev, relay.FrameLocationAck)
	assert.JSONEq(t, `{"success":true,"deviceId":"d1"}`, string(ack.Data))
	assert.Len(t, hub.Snapshot(), 1)
}

func TestRegisterScopesDelivery(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	hub, srv := newTestServer(t)
	observer := dial(t, ctx, hub, srv)

	send(t, ctx, observer, CRegister, `{"deviceId":"d1"}`)
	require.Eventually(t, func() bool {
		s := hub.Sessions()
		return len(s) == 1 && len(s[0].Scopes) == 1
	}, 2*time.Second, 10*time.Millisecond)

	lat, lon := 1.0, 2.0
	_, err := hub.ApplyLocation(ctx, "d2", &device.Location{Latitude: &lat, Longitude: &lon})
	require.NoError(t, err)
	_, err = hub.ApplyLocation(ctx, "d1", &device.Location{Latitude: &lat, Longitude: &lon})
	require.NoError(t, err)

	types := []string{}
	for i := 0; i < 3; i++ {
		types = append(types, readFrame(t, ctx, observer).Type)
	}
	assert.Equal(t, []string{relay.FrameDeviceLocation, relay.FrameDeviceLocation, relay.FrameLocation}, types)
}

func TestTestMessageEcho(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	hub, srv := newTestServer(t)
	dev := dial(t, ctx, hub, srv)

	send(t, ctx, dev, "bogus", `{}`)
	require.NoError(t, dev.Write(ctx, websocket.MessageText, []byte("not json")))
	send(t, ctx, dev, CTestMessage, `{"deviceId":"d1","message":"hi","timestamp":1}`)

	f := readFrame(t, ctx, dev)
	assert.Equal(t, relay.FrameTestAck, f.Type)
	assert.JSONEq(t, `{"received":true,"data":{"deviceId":"d1","message":"hi","timestamp":1}}`, string(f.Data))
}

func TestDisconnectLeavesRegistry(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	hub, srv := newTestServer(t)
	dev := dial(t, ctx, hub, srv)
	send(t, ctx, dev, CRegister, `{"deviceId":"d1"}`)

	dev.Close(websocket.StatusNormalClosure, "bye")
	require.Eventually(t, func() bool { return len(hub.Sessions()) == 0 }, 2*time.Second, 10*time.Millisecond)

	lat, lon := 1.0, 2.0
	_, err := hub.ApplyLocation(ctx, "d1", &device.Location{Latitude: &lat, Longitude: &lon})
	assert.NoError(t, err)
}

func TestQueueLimitSkips(t *testing.T) {
	wc := &WebstreamClient{srv: &WebstreamServer{config: WebStreamConfig{QueueLimit: 2}}, notify: make(chan struct{}, 1)}
	for i := 0; i < 5; i++ {
		assert.False(t, wc.Push("d1", []byte("x")))
	}
	pushed, skipped := wc.Stat()
	assert.Equal(t, uint64(2), pushed)
	assert.Equal(t, uint64(3), skipped)

	wc.closeErr(nil)
	assert.True(t, wc.Push("d1", []byte("x")))
}

func TestReadLimitClosesSession(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	hub, srv := newTestServerWith(t, WebStreamConfig{WriteTimeout: time.Second, ReadLimit: 256})
	dev := dial(t, ctx, hub, srv)

	send(t, ctx, dev, CTestMessage, `{"message":"`+strings.Repeat("x", 1024)+`"}`)
	require.Eventually(t, func() bool { return len(hub.Sessions()) == 0 }, 2*time.Second, 10*time.Millisecond)

	_, _, err := dev.Read(ctx)
	assert.Equal(t, websocket.StatusMessageTooBig, websocket.CloseStatus(err))
}
