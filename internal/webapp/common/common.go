package common

import (
	"nuha.dev/devicerelay/internal/device"
	"nuha.dev/devicerelay/internal/store"
	"nuha.dev/devicerelay/internal/sublist"
)

const (
	MsgMissing         = "missing"
	MsgUnsupportedType = "unsupported type"
	MsgInvalid         = "invalid"
	MsgInvalidBody     = "invalid body"
	MsgNotFound        = "not found"
	MsgInternal        = "internal error"
)

type BasicResponse struct {
	Ok      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

type DevicesResponse struct {
	Devices []store.Entry `json:"devices"`
}

type SmsLogResponse struct {
	DeviceID string             `json:"deviceId"`
	Sms      []device.StoredSms `json:"sms"`
}

type SessionsResponse struct {
	Sessions []sublist.SessionInfo `json:"sessions"`
}
