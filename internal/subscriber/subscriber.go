package subscriber

// Subscriber is the receiving end of a session. Push must not block; it
// returns true once the subscriber is closed and should be unlinked.
type Subscriber interface {
	Push(sender string, data []byte) (closed bool)
	RemoteAddr() string
	Stat() (pushed, skipped uint64)
}
