package sublist

import (
	"sort"
	"strconv"
	"sync"
	"time"

	hashids "github.com/speps/go-hashids/v2"
	"nuha.dev/devicerelay/internal/subscriber"
)

// Session is one connected subscriber with the device scopes it registered.
type Session struct {
	id        string
	cid       uint64
	sub       subscriber.Subscriber
	connected time.Time
	scopes    map[string]bool
	closed    bool
}

func (s *Session) ID() string {
	return s.id
}

type SessionInfo struct {
	SessionId   string    `json:"sessionId"`
	RemoteAddr  string    `json:"remoteAddr"`
	ConnectedAt time.Time `json:"connectedAt"`
	Scopes      []string  `json:"scopes"`
	Pushed      uint64    `json:"pushed"`
	Skipped     uint64    `json:"skipped"`
}

type Sublist struct {
	key  string
	list map[*Session]bool
}

func newSublist(key string) *Sublist {
	return &Sublist{key: key, list: make(map[*Session]bool)}
}

// Send pushes d to every session in the list, unlinking closed ones.
func (s *Sublist) Send(sender string, d []byte) int {
	n := 0
	for sess := range s.list {
		closed := sess.sub.Push(sender, d)
		if closed {
			delete(s.list, sess)
		} else {
			n++
		}
	}
	return n
}

type SublistConfig struct {
	Salt  string
	Clock func() time.Time
}

// SublistMap holds the global session list and one scope list per device.
type SublistMap struct {
	mu     sync.Mutex
	global *Sublist
	list   map[string]*Sublist
	cid    uint64
	hd     *hashids.HashID
	clock  func() time.Time
}

func NewSublistMap(config *SublistConfig) (*SublistMap, error) {
	if config == nil {
		config = &SublistConfig{}
	}
	hd := hashids.NewData()
	hd.Salt = config.Salt
	hd.MinLength = 8
	h, err := hashids.NewWithData(hd)
	if err != nil {
		return nil, err
	}
	m := &SublistMap{}
	m.global = newSublist("")
	m.list = make(map[string]*Sublist)
	m.hd = h
	m.clock = config.Clock
	if m.clock == nil {
		m.clock = time.Now
	}
	return m, nil
}

func (m *SublistMap) sessionId(cid uint64) string {
	id, err := m.hd.EncodeInt64([]int64{int64(cid)})
	if err != nil {
		return strconv.FormatUint(cid, 10)
	}
	return id
}

// Connect adds sub to the global list with an empty scope set.
func (m *SublistMap) Connect(sub subscriber.Subscriber) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cid = m.cid + 1
	sess := &Session{cid: m.cid, sub: sub, connected: m.clock(), scopes: make(map[string]bool)}
	sess.id = m.sessionId(m.cid)
	m.global.list[sess] = true
	return sess
}

// Register adds device_id to the session scopes. It reports false when the
// scope was already present or the session is gone.
func (m *SublistMap) Register(sess *Session, device_id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess.closed || sess.scopes[device_id] {
		return false
	}
	l, ok := m.list[device_id]
	if !ok {
		l = newSublist(device_id)
		m.list[device_id] = l
	}
	l.list[sess] = true
	sess.scopes[device_id] = true
	return true
}

// Disconnect removes the session from every list. Calling it twice is a no-op.
func (m *SublistMap) Disconnect(sess *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess.closed {
		return
	}
	sess.closed = true
	delete(m.global.list, sess)
	for device_id := range sess.scopes {
		l, ok := m.list[device_id]
		if !ok {
			continue
		}
		delete(l.list, sess)
		if len(l.list) == 0 {
			delete(m.list, device_id)
		}
	}
	sess.scopes = map[string]bool{}
}

// Broadcast sends d to every connected session.
func (m *SublistMap) Broadcast(sender string, d []byte) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.global.Send(sender, d)
}

// SendScoped sends d to the sessions registered for device_id.
func (m *SublistMap) SendScoped(device_id string, d []byte) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.list[device_id]
	if !ok {
		return 0
	}
	return l.Send(device_id, d)
}

func (m *SublistMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.global.list)
}

func (m *SublistMap) ScopeLen(device_id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.list[device_id]
	if !ok {
		return 0
	}
	return len(l.list)
}

func (m *SublistMap) Sessions() []SessionInfo {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.global.list))
	for sess := range m.global.list {
		sessions = append(sessions, sess)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].cid < sessions[j].cid })
	res := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		scopes := make([]string, 0, len(sess.scopes))
		for k := range sess.scopes {
			scopes = append(scopes, k)
		}
		sort.Strings(scopes)
		pushed, skipped := sess.sub.Stat()
		res = append(res, SessionInfo{
			SessionId:   sess.id,
			RemoteAddr:  sess.sub.RemoteAddr(),
			ConnectedAt: sess.connected,
			Scopes:      scopes,
			Pushed:      pushed,
			Skipped:     skipped,
		})
	}
	m.mu.Unlock()
	return res
}
