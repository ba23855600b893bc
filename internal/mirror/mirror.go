// Package mirror republishes relay events on NATS for consumers outside
// the process.
package mirror

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/phuslu/log"
	"nuha.dev/devicerelay/internal/relay"
)

type Publisher interface {
	Publish(subj string, data []byte) error
}

type MirrorConfig struct {
	Subject  string
	Instance string
}

// Mirror publishes every event to <Subject>.<kind>. Publish errors are
// logged and dropped, the same way a failed session write is.
type Mirror struct {
	pub    Publisher
	config MirrorConfig
	log    log.Logger
	clock  func() time.Time
}

type message struct {
	EventID  string      `json:"eventId"`
	Instance string      `json:"instance"`
	Kind     relay.Kind  `json:"kind"`
	DeviceID string      `json:"deviceId"`
	Payload  interface{} `json:"payload"`
	SentAt   int64       `json:"sentAt"`
}

func NewMirror(pub Publisher, config MirrorConfig) *Mirror {
	m := &Mirror{pub: pub, config: config, clock: time.Now}
	m.log = log.DefaultLogger
	m.log.Context = log.NewContext(nil).Str("module", "mirror").Str("subject", config.Subject).Value()
	return m
}

func (m *Mirror) Subject(k relay.Kind) string {
	return m.config.Subject + "." + string(k)
}

// Handle matches relay.Hub.Handle.
func (m *Mirror) Handle(event_id string, ev relay.Event) {
	d, err := json.Marshal(message{
		EventID:  event_id,
		Instance: m.config.Instance,
		Kind:     ev.Kind,
		DeviceID: ev.DeviceID,
		Payload:  ev.Payload,
		SentAt:   m.clock().UnixMilli(),
	})
	if err != nil {
		m.log.Error().Err(err).Str("event_id", event_id).Msg("unable to encode event")
		return
	}
	if err = m.pub.Publish(m.Subject(ev.Kind), d); err != nil {
		m.log.Warn().Err(err).Str("event_id", event_id).Str("device_id", ev.DeviceID).Msg("mirror publish failed")
	}
}

// Connect dials NATS with reconnects enabled. The returned connection
// satisfies Publisher.
func Connect(url string, name string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}
