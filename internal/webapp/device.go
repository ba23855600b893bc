package webapp

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"nuha.dev/devicerelay/internal/device"
	"nuha.dev/devicerelay/internal/store"
	"nuha.dev/devicerelay/internal/sublist"
	"nuha.dev/devicerelay/internal/util"
	"nuha.dev/devicerelay/internal/webapp/common"
)

type UpdateRequest struct {
	DeviceID string          `json:"deviceId" validate:"required"`
	Type     string          `json:"type" validate:"required"`
	Payload  json.RawMessage `json:"payload"`
}

var errUndecodable = errors.New("undecodable payload")

func (api *Api) Update(w http.ResponseWriter, r *http.Request) {
	req := UpdateRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.log.Debug().Err(err).Msg("undecodable update body")
		util.JsonWriteStatus(w, http.StatusBadRequest, common.BasicResponse{Message: common.MsgInvalidBody})
		return
	}
	if err := api.vld.Struct(req); err != nil || util.IsBlankJSON(req.Payload) {
		util.JsonWriteStatus(w, http.StatusBadRequest, common.BasicResponse{Message: common.MsgMissing})
		return
	}

	var err error
	ctx := r.Context()
	switch req.Type {
	case device.KindLocation:
		loc := device.Location{}
		if err = json.Unmarshal(req.Payload, &loc); err != nil {
			err = errUndecodable
			break
		}
		_, err = api.hub.ApplyLocation(ctx, req.DeviceID, &loc)
	case device.KindSms:
		sms := device.Sms{}
		if err = json.Unmarshal(req.Payload, &sms); err != nil {
			err = errUndecodable
			break
		}
		_, err = api.hub.AppendSms(ctx, req.DeviceID, &sms)
	case device.KindCommandResult:
		err = api.hub.ForwardCommandResult(ctx, req.DeviceID, req.Payload)
	default:
		util.JsonWriteStatus(w, http.StatusBadRequest, common.BasicResponse{Message: common.MsgUnsupportedType})
		return
	}

	switch {
	case err == nil:
	case errors.Is(err, device.ErrInvalidLocation) || errors.Is(err, errUndecodable):
		if api.config.StrictUpdates {
			util.JsonWriteStatus(w, http.StatusBadRequest, common.BasicResponse{Message: common.MsgInvalid})
			return
		}
		api.log.Warn().Err(err).Str("device_id", req.DeviceID).Str("type", req.Type).Msg("update dropped")
	default:
		util.JsonWriteStatus(w, http.StatusInternalServerError, common.BasicResponse{Message: common.MsgInternal})
		return
	}
	util.JsonWrite(w, common.BasicResponse{Ok: true})
}

func (api *Api) GetDevices(w http.ResponseWriter, r *http.Request) {
	devices := api.hub.Snapshot()
	if devices == nil {
		devices = []store.Entry{}
	}
	util.JsonWrite(w, common.DevicesResponse{Devices: devices})
}

func (api *Api) GetSmsLog(w http.ResponseWriter, r *http.Request) {
	device_id := chi.URLParam(r, "deviceId")
	logs, ok := api.hub.SmsLog(device_id)
	if !ok {
		util.JsonWriteStatus(w, http.StatusNotFound, common.BasicResponse{Message: common.MsgNotFound})
		return
	}
	if logs == nil {
		logs = []device.StoredSms{}
	}
	util.JsonWrite(w, common.SmsLogResponse{DeviceID: device_id, Sms: logs})
}

func (api *Api) GetSessions(w http.ResponseWriter, r *http.Request) {
	sessions := api.hub.Sessions()
	if sessions == nil {
		sessions = []sublist.SessionInfo{}
	}
	util.JsonWrite(w, common.SessionsResponse{Sessions: sessions})
}
