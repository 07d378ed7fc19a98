package protocol

// Event is a notification from the link core to whoever renders it.
// The concrete types below are the complete set.
type Event interface {
	isEvent()
}

// StateChanged is emitted on every state transition.
type StateChanged struct {
	State ConnectionState
}

// PeerResolved carries the display name of a freshly connected peer.
type PeerResolved struct {
	Peer PeerIdentity
}

// BytesReceived is emitted per read. Data is a private copy of the read
// buffer; Count is what the read primitive reported and may be zero.
type BytesReceived struct {
	Data  []byte
	Count int
}

// BytesSent echoes a successful write.
type BytesSent struct {
	Data []byte
}

// TransientNotice is a human readable message, never a raw transport error.
type TransientNotice struct {
	Message string
}

func (StateChanged) isEvent()    {}
func (PeerResolved) isEvent()    {}
func (BytesReceived) isEvent()   {}
func (BytesSent) isEvent()       {}
func (TransientNotice) isEvent() {}

// Notice texts surfaced on failure paths.
const (
	NoticeConnectFailed  = "Unable to connect device"
	NoticeConnectionLost = "Device connection was lost"
)
