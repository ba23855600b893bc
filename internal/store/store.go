package store

import (
	"time"

	"nuha.dev/devicerelay/internal/device"
)

// Store is the in-memory device table. It is not safe for concurrent use;
// its owner serializes every call.
type Store struct {
	config *StoreConfig
	order  []string
	list   map[string]*entry
}

type StoreConfig struct {
	// SmsLogLimit caps each device's sms log, oldest dropped first. 0 keeps
	// every record.
	SmsLogLimit int
	Clock       func() time.Time
}

type entry struct {
	latest *device.StoredLocation
	sms    []device.StoredSms
}

// Entry is one row of a snapshot.
type Entry struct {
	DeviceID string                 `json:"deviceId"`
	Latest   *device.StoredLocation `json:"latest"`
}

func NewStore(config *StoreConfig) *Store {
	o := &Store{}
	if config == nil {
		config = &StoreConfig{}
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	o.config = config
	o.order = make([]string, 0, 16)
	o.list = make(map[string]*entry)
	return o
}

func (st *Store) get(device_id string) *entry {
	e, ok := st.list[device_id]
	if !ok {
		e = &entry{}
		st.list[device_id] = e
		st.order = append(st.order, device_id)
	}
	return e
}

func (st *Store) now() int64 {
	return st.config.Clock().UnixMilli()
}

// ApplyLocation overwrites the device's latest fix. An invalid location
// leaves the table untouched, including its key space.
func (st *Store) ApplyLocation(device_id string, loc *device.Location) (device.StoredLocation, error) {
	if err := loc.Validate(); err != nil {
		return device.StoredLocation{}, err
	}
	t := st.now()
	rec := device.StoredLocation{
		Latitude:   *loc.Latitude,
		Longitude:  *loc.Longitude,
		Accuracy:   loc.Accuracy,
		Timestamp:  loc.Timestamp,
		ReceivedAt: t,
		Ts:         t,
	}
	e := st.get(device_id)
	e.latest = &rec
	return rec, nil
}

// AppendSms puts the record at the head of the device's log.
func (st *Store) AppendSms(device_id string, sms *device.Sms) device.StoredSms {
	t := st.now()
	rec := device.StoredSms{From: sms.From, Text: sms.Text, ReceivedAt: t, Ts: t}
	e := st.get(device_id)
	e.sms = append(e.sms, device.StoredSms{})
	copy(e.sms[1:], e.sms)
	e.sms[0] = rec
	if st.config.SmsLogLimit > 0 && len(e.sms) > st.config.SmsLogLimit {
		e.sms = e.sms[:st.config.SmsLogLimit]
	}
	return rec
}

// Snapshot lists every known device in first-seen order.
func (st *Store) Snapshot() []Entry {
	res := make([]Entry, 0, len(st.order))
	for _, id := range st.order {
		e := st.list[id]
		var latest *device.StoredLocation
		if e.latest != nil {
			l := *e.latest
			latest = &l
		}
		res = append(res, Entry{DeviceID: id, Latest: latest})
	}
	return res
}

func (st *Store) SmsLog(device_id string) ([]device.StoredSms, bool) {
	e, ok := st.list[device_id]
	if !ok {
		return nil, false
	}
	res := make([]device.StoredSms, len(e.sms))
	copy(res, e.sms)
	return res, true
}

func (st *Store) Len() int {
	return len(st.order)
}
