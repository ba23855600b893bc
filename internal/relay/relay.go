package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mustafaturan/bus/v3"
	"github.com/mustafaturan/monoton/v2"
	"github.com/mustafaturan/monoton/v2/sequencer"
	"github.com/phuslu/log"
	"nuha.dev/devicerelay/internal/device"
	"nuha.dev/devicerelay/internal/store"
	"nuha.dev/devicerelay/internal/sublist"
	"nuha.dev/devicerelay/internal/subscriber"
)

const (
	LOCATION_ACCEPTED string = "location_accepted"
	LOCATION_REJECTED string = "location_rejected"
	SMS_ACCEPTED      string = "sms_accepted"
	COMMAND_RESULT    string = "command_result"
	SESSION_CONNECTED string = "session_connected"
	SESSION_CLOSED    string = "session_closed"
	SCOPE_REGISTERED  string = "scope_registered"
)

const broadcasterKey = "broadcaster"

// 2020-01-01T00:00:00Z, base of event ids
const idEpochMillis uint64 = 1577836800000

type HubConfig struct {
	SmsLogLimit int
	SessionSalt string
	Clock       func() time.Time
}

// Hub owns the device table and the session registry. Every operation that
// reads or mutates either runs under mu, and a mutation holds it until the
// resulting event has been fanned out.
type Hub struct {
	mu    sync.Mutex
	log   log.Logger
	id    string
	store *store.Store
	subs  *sublist.SublistMap
	bus   *bus.Bus
}

type idGenerator struct {
	m monoton.Monoton
}

func (g idGenerator) Generate() string {
	return g.m.Next()
}

func NewHub(config *HubConfig) (*Hub, error) {
	if config == nil {
		config = &HubConfig{}
	}
	h := &Hub{}
	h.id = uuid.NewString()
	h.log = log.DefaultLogger
	h.log.Context = log.NewContext(nil).Str("module", "relay").Str("instance", h.id).Value()
	h.store = store.NewStore(&store.StoreConfig{SmsLogLimit: config.SmsLogLimit, Clock: config.Clock})

	subs, err := sublist.NewSublistMap(&sublist.SublistConfig{Salt: config.SessionSalt, Clock: config.Clock})
	if err != nil {
		return nil, fmt.Errorf("session registry: %w", err)
	}
	h.subs = subs

	m, err := monoton.New(sequencer.NewMillisecond(), 1, idEpochMillis)
	if err != nil {
		return nil, fmt.Errorf("event id generator: %w", err)
	}
	b, err := bus.NewBus(idGenerator{m: m})
	if err != nil {
		return nil, fmt.Errorf("event bus: %w", err)
	}
	b.RegisterTopics(topics()...)
	h.bus = b
	h.Handle(broadcasterKey, h.publish)
	return h, nil
}

func (h *Hub) InstanceID() string {
	return h.id
}

// Handle attaches fn to every device event. fn runs synchronously while the
// hub lock is held, so it must not block or call back into the hub.
func (h *Hub) Handle(key string, fn func(event_id string, ev Event)) {
	h.bus.RegisterHandler(key, bus.Handler{
		Matcher: `^device\.`,
		Handle: func(ctx context.Context, e bus.Event) {
			ev, ok := e.Data.(Event)
			if !ok {
				return
			}
			fn(e.ID, ev)
		},
	})
}

func (h *Hub) emit(ctx context.Context, ev Event) error {
	if err := h.bus.Emit(ctx, ev.Topic(), ev); err != nil {
		h.log.Error().Err(err).Str("device_id", ev.DeviceID).Str("topic", ev.Topic()).Msg("unable to emit event")
		return err
	}
	return nil
}

// ApplyLocation stores loc as the device's latest fix and broadcasts it.
func (h *Hub) ApplyLocation(ctx context.Context, device_id string, loc *device.Location) (device.StoredLocation, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, err := h.store.ApplyLocation(device_id, loc)
	if err != nil {
		h.log.Warn().Str("event", LOCATION_REJECTED).Str("device_id", device_id).Err(err).Msg("")
		return rec, err
	}
	h.log.Debug().Str("event", LOCATION_ACCEPTED).Str("device_id", device_id).EmbedObject(&rec).Msg("")
	return rec, h.emit(ctx, Event{Kind: LocationChanged, DeviceID: device_id, Payload: rec})
}

// AppendSms records an sms at the head of the device log and broadcasts it.
func (h *Hub) AppendSms(ctx context.Context, device_id string, sms *device.Sms) (device.StoredSms, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec := h.store.AppendSms(device_id, sms)
	h.log.Debug().Str("event", SMS_ACCEPTED).Str("device_id", device_id).EmbedObject(&rec).Msg("")
	return rec, h.emit(ctx, Event{Kind: SmsReceived, DeviceID: device_id, Payload: rec})
}

// ForwardCommandResult relays payload to the device's scoped sessions
// without touching the device table.
func (h *Hub) ForwardCommandResult(ctx context.Context, device_id string, payload json.RawMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.log.Debug().Str("event", COMMAND_RESULT).Str("device_id", device_id).Int("size", len(payload)).Msg("")
	return h.emit(ctx, Event{Kind: CommandResult, DeviceID: device_id, Payload: payload})
}

func (h *Hub) Snapshot() []store.Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.store.Snapshot()
}

func (h *Hub) SmsLog(device_id string) ([]device.StoredSms, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.store.SmsLog(device_id)
}

func (h *Hub) Connect(sub subscriber.Subscriber) *sublist.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	sess := h.subs.Connect(sub)
	h.log.Info().Str("event", SESSION_CONNECTED).Str("session_id", sess.ID()).Str("remote_addr", sub.RemoteAddr()).Msg("")
	return sess
}

func (h *Hub) Register(sess *sublist.Session, device_id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	added := h.subs.Register(sess, device_id)
	if added {
		h.log.Debug().Str("event", SCOPE_REGISTERED).Str("session_id", sess.ID()).Str("device_id", device_id).Msg("")
	}
	return added
}

func (h *Hub) Disconnect(sess *sublist.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs.Disconnect(sess)
	h.log.Info().Str("event", SESSION_CLOSED).Str("session_id", sess.ID()).Msg("")
}

func (h *Hub) Sessions() []sublist.SessionInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.subs.Sessions()
}
