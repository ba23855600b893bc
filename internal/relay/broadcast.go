package relay

// publish fans ev out to the sessions. Location and sms go to every session
// under their global name and again to the device's scoped sessions;
// command results are scoped only. Frames are encoded once per event.
func (h *Hub) publish(event_id string, ev Event) {
	var global, scoped []byte
	var err error
	switch ev.Kind {
	case LocationChanged:
		global, err = EncodeFrame(FrameDeviceLocation, DevicePayload{DeviceID: ev.DeviceID, Payload: ev.Payload})
		if err == nil {
			scoped, err = EncodeFrame(FrameLocation, ev.Payload)
		}
	case SmsReceived:
		global, err = EncodeFrame(FrameDeviceSms, DevicePayload{DeviceID: ev.DeviceID, Payload: ev.Payload})
		if err == nil {
			scoped, err = EncodeFrame(FrameSms, ev.Payload)
		}
	case CommandResult:
		scoped, err = EncodeFrame(FrameCommandResult, DevicePayload{DeviceID: ev.DeviceID, Payload: ev.Payload})
	default:
		h.log.Warn().Str("kind", string(ev.Kind)).Msg("unknown event kind")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("event_id", event_id).Str("device_id", ev.DeviceID).Msg("unable to encode frame")
		return
	}
	var n_global, n_scoped int
	if global != nil {
		n_global = h.subs.Broadcast(ev.DeviceID, global)
	}
	n_scoped = h.subs.SendScoped(ev.DeviceID, scoped)
	h.log.Trace().Str("event_id", event_id).Str("kind", string(ev.Kind)).Str("device_id", ev.DeviceID).Int("global", n_global).Int("scoped", n_scoped).Msg("published")
}
