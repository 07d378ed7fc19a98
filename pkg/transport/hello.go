package transport

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"time"
	"unicode/utf8"

	"tarun-kavipurapu/linkchat/pkg/protocol"
)

// The hello is the only bytes the link itself puts on the wire:
// [UUID (16 bytes)] + [name length (1 byte)] + [name]
const (
	helloHeaderSize = 17
	maxNameLen      = 255

	// HelloTimeout bounds the whole exchange.
	HelloTimeout = 5 * time.Second
)

// truncateName cuts name to maxNameLen bytes without splitting a rune.
func truncateName(name string) string {
	if len(name) <= maxNameLen {
		return name
	}
	end := maxNameLen
	for end > 0 && !utf8.RuneStart(name[end]) {
		end--
	}
	return name[:end]
}

func writeHello(w io.Writer, svc protocol.Service, name string) error {
	name = truncateName(name)
	buf := make([]byte, helloHeaderSize+len(name))
	copy(buf, svc.UUID[:])
	buf[16] = uint8(len(name))
	copy(buf[helloHeaderSize:], name)

	_, err := w.Write(buf)
	return err
}

// readHello returns the remote device name, or ErrServiceMismatch when the
// remote announced another service.
func readHello(r io.Reader, svc protocol.Service) (string, error) {
	header := make([]byte, helloHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return "", err
	}
	if !bytes.Equal(header[:16], svc.UUID[:]) {
		return "", ErrServiceMismatch
	}

	name := make([]byte, header[16])
	if _, err := io.ReadFull(r, name); err != nil {
		return "", err
	}
	return string(name), nil
}

// ExchangeHello runs the rendezvous on a freshly opened conn. The initiator
// speaks first; the accepting side only answers a matching hello, so a
// dialer aimed at the wrong service sees the connection drop.
func ExchangeHello(conn net.Conn, svc protocol.Service, local protocol.PeerIdentity, initiator bool) (string, error) {
	if err := conn.SetDeadline(time.Now().Add(HelloTimeout)); err != nil {
		return "", err
	}
	defer conn.SetDeadline(time.Time{})

	if initiator {
		if err := writeHello(conn, svc, local.Name); err != nil {
			return "", fmt.Errorf("write hello: %w", err)
		}
		name, err := readHello(conn, svc)
		if err != nil {
			return "", fmt.Errorf("read hello: %w", err)
		}
		return name, nil
	}

	name, err := readHello(conn, svc)
	if err != nil {
		return "", fmt.Errorf("read hello: %w", err)
	}
	if err := writeHello(conn, svc, local.Name); err != nil {
		return "", fmt.Errorf("write hello: %w", err)
	}
	return name, nil
}
