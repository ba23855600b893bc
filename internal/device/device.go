package device

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/phuslu/log"
)

// update kinds accepted on the request/response path
const (
	KindLocation      string = "location"
	KindSms           string = "sms"
	KindCommandResult string = "commandResult"
)

var ErrInvalidLocation = errors.New("invalid location data")

// Location is an inbound fix as sent by a device. Coordinates are pointers
// so that an absent value can be told apart from 0.
type Location struct {
	Latitude  *float64        `json:"latitude" validate:"required"`
	Longitude *float64        `json:"longitude" validate:"required"`
	Accuracy  *float64        `json:"accuracy,omitempty"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

func (l *Location) Validate() error {
	if l.Latitude == nil || l.Longitude == nil {
		return fmt.Errorf("%w: missing coordinate", ErrInvalidLocation)
	}
	if !finite(*l.Latitude) || !finite(*l.Longitude) {
		return fmt.Errorf("%w: non-finite coordinate", ErrInvalidLocation)
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// StoredLocation is the record kept as a device's latest fix. Ts mirrors
// ReceivedAt for dashboards reading the older field name.
type StoredLocation struct {
	Latitude   float64         `json:"latitude"`
	Longitude  float64         `json:"longitude"`
	Accuracy   *float64        `json:"accuracy,omitempty"`
	Timestamp  json.RawMessage `json:"timestamp,omitempty"`
	ReceivedAt int64           `json:"receivedAt"`
	Ts         int64           `json:"ts"`
}

func (l *StoredLocation) MarshalObject(e *log.Entry) {
	e.Float64("latitude", l.Latitude).Float64("longitude", l.Longitude).Int64("received_at", l.ReceivedAt)
}

type Sms struct {
	From string `json:"from"`
	Text string `json:"text"`
}

type StoredSms struct {
	From       string `json:"from"`
	Text       string `json:"text"`
	ReceivedAt int64  `json:"receivedAt"`
	Ts         int64  `json:"ts"`
}

func (s *StoredSms) MarshalObject(e *log.Entry) {
	e.Str("from", s.From).Int("text_len", len(s.Text)).Int64("received_at", s.ReceivedAt)
}
