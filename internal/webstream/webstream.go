package webstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/phuslu/log"
	"nhooyr.io/websocket"
	"nuha.dev/devicerelay/internal/device"
	"nuha.dev/devicerelay/internal/relay"
	"nuha.dev/devicerelay/internal/sublist"
)

// inbound frame types
const (
	CRegister       string = "register"
	CLocationUpdate string = "location_update"
	CTestMessage    string = "test_message"
)

const invalidLocation = "Invalid location data"

type WebStreamConfig struct {
	// QueueLimit caps frames waiting for a slow session; extra frames are
	// skipped. 0 means no cap.
	QueueLimit   int
	WriteTimeout time.Duration
	ReadLimit    int64
}

type WebstreamServer struct {
	hub    *relay.Hub
	config WebStreamConfig
	log    log.Logger
	vld    *validator.Validate
}

type registerMessage struct {
	DeviceID string `json:"deviceId" validate:"required"`
}

type locationUpdate struct {
	DeviceID string `json:"deviceId" validate:"required"`
	device.Location
}

func NewWebstream(hub *relay.Hub, config WebStreamConfig) *WebstreamServer {
	o := &WebstreamServer{config: config}
	if o.config.WriteTimeout == 0 {
		o.config.WriteTimeout = 10 * time.Second
	}
	o.hub = hub
	o.vld = validator.New()
	o.log = log.DefaultLogger
	o.log.Context = log.NewContext(nil).Str("module", "websocket").Value()
	return o
}

func (ws *WebstreamServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		ws.log.Error().Err(err).Msg("error while upgrading websocket")
		return
	}
	if ws.config.ReadLimit > 0 {
		c.SetReadLimit(ws.config.ReadLimit)
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	wc := &WebstreamClient{srv: ws, c: c, raddr: r.RemoteAddr, cancel: cancel}
	wc.buf = make([][]byte, 0, 10)
	wc.notify = make(chan struct{}, 1)
	wc.sess = ws.hub.Connect(wc)
	wc.log = log.DefaultLogger
	wc.log.Context = log.NewContext(nil).Str("module", "websocket").Str("session_id", wc.sess.ID()).Value()

	wc.wg.Add(1)
	go wc.writeLoop(ctx)
	wc.readloop(ctx)

	ws.hub.Disconnect(wc.sess)
	wc.closeErr(nil)
	cancel()
	wc.wg.Wait()
	c.Close(websocket.StatusNormalClosure, "")
}

type WebstreamClient struct {
	lock    sync.Mutex
	wg      sync.WaitGroup
	srv     *WebstreamServer
	c       *websocket.Conn
	sess    *sublist.Session
	raddr   string
	log     log.Logger
	cancel  context.CancelFunc
	closed  bool
	err     error
	buf     [][]byte
	notify  chan struct{}
	pushed  uint64
	skipped uint64
}

func (wc *WebstreamClient) closeErr(err error) {
	wc.lock.Lock()
	if !wc.closed {
		wc.closed = true
		wc.err = err
	}
	wc.lock.Unlock()
}

func (wc *WebstreamClient) readloop(ctx context.Context) {
	for {
		_, msg, err := wc.c.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				wc.log.Debug().Int("status", int(status)).Msg("websocket closed")
			} else {
				wc.log.Warn().Err(err).Msg("error while reading from connection")
			}
			return
		}
		var f relay.Frame
		if err := json.Unmarshal(msg, &f); err != nil {
			wc.log.Warn().Err(err).Int("size", len(msg)).Msg("undecodable frame")
			continue
		}
		wc.handle(ctx, &f)
	}
}

func (wc *WebstreamClient) handle(ctx context.Context, f *relay.Frame) {
	switch f.Type {
	case CRegister:
		m := registerMessage{}
		if err := wc.decode(f.Data, &m); err != nil {
			wc.log.Warn().Err(err).Msg("invalid register message")
			return
		}
		wc.srv.hub.Register(wc.sess, m.DeviceID)
	case CLocationUpdate:
		m := locationUpdate{}
		err := wc.decode(f.Data, &m)
		if err == nil {
			_, err = wc.srv.hub.ApplyLocation(ctx, m.DeviceID, &m.Location)
		}
		if err != nil {
			wc.log.Debug().Err(err).Str("device_id", m.DeviceID).Msg("location update rejected")
			wc.send(relay.FrameLocationAck, relay.LocationAck{Success: false, Error: invalidLocation, DeviceID: m.DeviceID})
			return
		}
		wc.send(relay.FrameLocationAck, relay.LocationAck{Success: true, DeviceID: m.DeviceID})
	case CTestMessage:
		wc.log.Debug().Int("size", len(f.Data)).Msg("test message received")
		wc.send(relay.FrameTestAck, relay.TestAck{Received: true, Data: f.Data})
	default:
		wc.log.Debug().Str("type", f.Type).Msg("unknown frame type")
	}
}

func (wc *WebstreamClient) decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return errors.New("empty data")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return err
	}
	return wc.srv.vld.Struct(v)
}

func (wc *WebstreamClient) send(typ string, v interface{}) {
	d, err := relay.EncodeFrame(typ, v)
	if err != nil {
		wc.log.Error().Err(err).Str("type", typ).Msg("unable to encode frame")
		return
	}
	wc.Push("", d)
}

func (wc *WebstreamClient) writeLoop(ctx context.Context) {
	defer wc.wg.Done()
	out := make([][]byte, 0, 10)
	for {
		select {
		case <-ctx.Done():
			return
		case <-wc.notify:
		}
		wc.lock.Lock()
		out, wc.buf = wc.buf, out[:0]
		wc.lock.Unlock()
		for _, d := range out {
			wctx, cancel := context.WithTimeout(ctx, wc.srv.config.WriteTimeout)
			err := wc.c.Write(wctx, websocket.MessageText, d)
			cancel()
			if err != nil {
				wc.log.Warn().Err(err).Msg("error while writing to connection")
				wc.closeErr(err)
				wc.cancel()
				return
			}
		}
	}
}

// Push queues data for the writer. It never blocks.
func (wc *WebstreamClient) Push(sender string, data []byte) bool {
	wc.lock.Lock()
	if wc.closed {
		wc.lock.Unlock()
		return true
	}
	if limit := wc.srv.config.QueueLimit; limit > 0 && len(wc.buf) >= limit {
		wc.lock.Unlock()
		atomic.AddUint64(&wc.skipped, 1)
		return false
	}
	wc.buf = append(wc.buf, data)
	wc.lock.Unlock()
	atomic.AddUint64(&wc.pushed, 1)
	select {
	case wc.notify <- struct{}{}:
	default:
	}
	return false
}

func (wc *WebstreamClient) RemoteAddr() string {
	return wc.raddr
}

func (wc *WebstreamClient) Stat() (uint64, uint64) {
	return atomic.LoadUint64(&wc.pushed), atomic.LoadUint64(&wc.skipped)
}
