package protocol

import (
	"fmt"

	"github.com/google/uuid"
)

// Well-known rendezvous identifiers. Both the listening and the dialing side
// must use the same values or they will never meet.
const (
	DefaultServiceName = "LinkChat"
	DefaultServiceUUID = "fa87c0d0-afac-11de-8a39-0800200c9a66"
)

// ConnectionState is the single state owned by the link manager.
type ConnectionState int

const (
	StateNone ConnectionState = iota
	StateListening
	StateConnecting
	StateConnected
)

// String returns a string representation of the connection state
func (s ConnectionState) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateListening:
		return "listening"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// PeerIdentity identifies a remote device. Address is whatever the transport
// dials (host:port for tcp and ws); Name is for display only.
type PeerIdentity struct {
	Address string
	Name    string
}

// DisplayName prefers the human readable name and falls back to the address.
func (p PeerIdentity) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Address
}

func (p PeerIdentity) String() string {
	if p.Name == "" {
		return p.Address
	}
	return fmt.Sprintf("%s (%s)", p.Name, p.Address)
}

// Service is the published endpoint both sides rendezvous on.
type Service struct {
	Name string
	UUID uuid.UUID
}

// DefaultService returns the built-in service record.
func DefaultService() Service {
	return Service{
		Name: DefaultServiceName,
		UUID: uuid.MustParse(DefaultServiceUUID),
	}
}

// ParseService builds a Service from its textual form.
func ParseService(name, id string) (Service, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return Service{}, fmt.Errorf("invalid service uuid %q: %w", id, err)
	}
	if name == "" {
		name = DefaultServiceName
	}
	return Service{Name: name, UUID: u}, nil
}

func (s Service) String() string {
	return fmt.Sprintf("%s/%s", s.Name, s.UUID)
}
