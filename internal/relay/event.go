package relay

import (
	"encoding/json"
)

type Kind string

const (
	LocationChanged Kind = "location"
	SmsReceived     Kind = "sms"
	CommandResult   Kind = "command_result"
)

const topicPrefix = "device."

// Event is what the hub emits after each accepted update. It is never
// stored.
type Event struct {
	Kind     Kind
	DeviceID string
	Payload  interface{}
}

func (e Event) Topic() string {
	return e.Kind.topic()
}

func topics() []string {
	return []string{
		LocationChanged.topic(),
		SmsReceived.topic(),
		CommandResult.topic(),
	}
}

func (k Kind) topic() string {
	return topicPrefix + string(k)
}

// frame names sent to websocket sessions
const (
	FrameDeviceLocation string = "deviceLocation"
	FrameDeviceSms      string = "deviceSms"
	FrameLocation       string = "location"
	FrameSms            string = "sms"
	FrameCommandResult  string = "commandResult"
	FrameLocationAck    string = "location_ack"
	FrameTestAck        string = "test_ack"
)

// Frame is the envelope of every websocket message in both directions.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type DevicePayload struct {
	DeviceID string      `json:"deviceId"`
	Payload  interface{} `json:"payload"`
}

type LocationAck struct {
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	DeviceID string `json:"deviceId"`
}

type TestAck struct {
	Received bool            `json:"received"`
	Data     json.RawMessage `json:"data"`
}

// EncodeFrame marshals data and wraps it in a Frame.
func EncodeFrame(typ string, data interface{}) ([]byte, error) {
	d, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Type: typ, Data: d})
}
