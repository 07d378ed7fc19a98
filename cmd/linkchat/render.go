package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"tarun-kavipurapu/linkchat/pkg/protocol"
)

// ANSI color codes for terminal output
const (
	Reset  = "\033[0m"
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Blue   = "\033[34m"
	Cyan   = "\033[36m"
	Gray   = "\033[90m"
	Bold   = "\033[1m"
)

// renderer turns link events into terminal lines.
type renderer struct {
	mu        sync.Mutex
	out       io.Writer
	useColors bool
	peer      string
}

func newRenderer(out io.Writer, useColors bool) *renderer {
	return &renderer{out: out, useColors: useColors}
}

func (r *renderer) colorize(color, text string) string {
	if !r.useColors {
		return text
	}
	return color + text + Reset
}

func (r *renderer) render(ev protocol.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch e := ev.(type) {
	case protocol.StateChanged:
		color := Gray
		switch e.State {
		case protocol.StateConnected:
			color = Green
		case protocol.StateConnecting:
			color = Yellow
		}
		fmt.Fprintln(r.out, r.colorize(color, "* "+e.State.String()))
	case protocol.PeerResolved:
		r.peer = e.Peer.DisplayName()
		fmt.Fprintln(r.out, r.colorize(Bold+Green, "* connected to "+r.peer))
	case protocol.BytesReceived:
		if e.Count == 0 {
			return
		}
		text := strings.TrimRight(string(e.Data[:e.Count]), "\r\n")
		fmt.Fprintf(r.out, "%s %s\n", r.colorize(Cyan, r.peerLabel()+":"), text)
	case protocol.BytesSent:
		text := strings.TrimRight(string(e.Data), "\r\n")
		fmt.Fprintf(r.out, "%s %s\n", r.colorize(Blue, "me:"), text)
	case protocol.TransientNotice:
		fmt.Fprintln(r.out, r.colorize(Red, "! "+e.Message))
	}
}

func (r *renderer) peerLabel() string {
	if r.peer == "" {
		return "peer"
	}
	return r.peer
}
