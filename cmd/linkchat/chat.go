package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/c-bata/go-prompt"
	"github.com/spf13/cobra"

	"tarun-kavipurapu/linkchat/link"
	"tarun-kavipurapu/linkchat/pkg/config"
	"tarun-kavipurapu/linkchat/pkg/discovery"
	"tarun-kavipurapu/linkchat/pkg/logger"
	"tarun-kavipurapu/linkchat/pkg/monitor"
	"tarun-kavipurapu/linkchat/pkg/protocol"
	"tarun-kavipurapu/linkchat/pkg/transport"
	_ "tarun-kavipurapu/linkchat/pkg/transport/tcp"
	_ "tarun-kavipurapu/linkchat/pkg/transport/ws"
)

var (
	connectTo   string
	noDiscovery bool
	noColor     bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Listen for a peer and open the interactive chat shell",
	RunE: func(cmd *cobra.Command, args []string) error {
		if noDiscovery {
			cfg.Discovery = false
		}
		return runChat(cmd.Context(), cfg, cmd.OutOrStdout())
	},
}

func runChat(ctx context.Context, cfg *config.Config, out io.Writer) error {
	svc, err := cfg.Service()
	if err != nil {
		return err
	}
	tr, err := transport.New(cfg.Transport, transport.Options{
		ListenAddr:  cfg.ListenAddr,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	metrics := monitor.New()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
				logger.Sugar.Errorf("[Metrics] %v", err)
			}
		}()
		go metrics.LogPeriodic(ctx, cfg.MetricsInterval)
	}

	queue := link.NewQueue()
	defer queue.Close()

	opts := []link.Option{
		link.WithService(svc),
		link.WithLocal(cfg.Local()),
		link.WithSink(queue),
		link.WithReadBufferSize(cfg.ReadBufferSize),
		link.WithMetrics(metrics),
	}
	var scanner *discovery.Scanner
	if cfg.Discovery {
		scanner = discovery.NewScanner(svc)
		opts = append(opts, link.WithDiscovery(scanner))
	}
	m := link.New(tr, opts...)

	r := newRenderer(out, !noColor)
	go func() {
		for ev := range queue.Events() {
			r.render(ev)
		}
	}()

	m.Start()
	logger.Sugar.Infof("[Chat] %s listening on %s via %s", cfg.DeviceName, m.ListenAddr(), tr.Name())

	adv := discovery.NewAdvertiser()
	if cfg.Discovery {
		if port, err := listenPort(m.ListenAddr()); err != nil {
			logger.Sugar.Warnf("[Discovery] not advertising: %v", err)
		} else if err := adv.Advertise(svc, cfg.Local(), tr.Name(), port); err != nil {
			logger.Sugar.Warnf("[Discovery] not advertising: %v", err)
		}
	}

	if connectTo != "" {
		m.Connect(protocol.PeerIdentity{Address: connectTo})
	}

	sh := &shell{
		m:           m,
		scanner:     scanner,
		metrics:     metrics,
		out:         out,
		scanTimeout: cfg.ScanTimeout,
		ctx:         ctx,
	}
	// go-prompt owns the terminal until the process exits, so exit tears
	// everything down itself.
	sh.exit = func() {
		adv.Stop()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := m.Shutdown(shutdownCtx); err != nil {
			logger.Sugar.Warnf("[Chat] shutdown: %v", err)
		}
		queue.Close()
		cancel()
		os.Exit(0)
	}

	fmt.Fprintf(out, "LinkChat as %s on %s. Type 'help' for commands.\n", cfg.DeviceName, m.ListenAddr())
	prompt.New(
		sh.execute,
		completer,
		prompt.OptionPrefix("linkchat> "),
		prompt.OptionTitle("LinkChat"),
	).Run()
	return nil
}

func listenPort(addr string) (int, error) {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("listen address %q: %w", addr, err)
	}
	return strconv.Atoi(port)
}

// shell runs one command line against the manager.
type shell struct {
	m           *link.Manager
	scanner     *discovery.Scanner
	metrics     *monitor.Metrics
	out         io.Writer
	scanTimeout time.Duration
	ctx         context.Context
	exit        func()
}

func (s *shell) execute(in string) {
	in = strings.TrimSpace(in)
	blocks := strings.Fields(in)
	if len(blocks) == 0 {
		return
	}

	switch blocks[0] {
	case "exit", "quit":
		fmt.Fprintln(s.out, "Stopping link...")
		s.m.Stop()
		if s.exit != nil {
			s.exit()
		}
	case "help":
		fmt.Fprintln(s.out, "Available commands:")
		fmt.Fprintln(s.out, "  connect <addr|#>       - Connect to an address or a scanned peer")
		fmt.Fprintln(s.out, "  scan                   - Browse the network for peers")
		fmt.Fprintln(s.out, "  peers                  - List peers seen by scan")
		fmt.Fprintln(s.out, "  status                 - Show link status")
		fmt.Fprintln(s.out, "  listen                 - Drop the link and wait for a peer")
		fmt.Fprintln(s.out, "  stop                   - Drop the link and stop listening")
		fmt.Fprintln(s.out, "  send <text>            - Send text (any other line is sent too)")
		fmt.Fprintln(s.out, "  exit                   - Stop and exit")
	case "connect":
		if len(blocks) < 2 {
			fmt.Fprintln(s.out, "Usage: connect <addr|#>")
			return
		}
		s.m.Connect(s.resolve(blocks[1]))
	case "scan":
		s.scan()
	case "peers":
		s.listPeers()
	case "status":
		s.status()
	case "listen":
		s.m.Start()
	case "stop":
		s.m.Stop()
	case "send":
		s.send(strings.TrimSpace(strings.TrimPrefix(in, "send")))
	default:
		s.send(in)
	}
}

func (s *shell) send(text string) {
	if text == "" {
		return
	}
	if err := s.m.Write([]byte(text + "\n")); err != nil {
		if errors.Is(err, link.ErrNotConnected) {
			fmt.Fprintln(s.out, "Not connected. Use 'connect' or wait for a peer.")
			return
		}
		fmt.Fprintln(s.out, "Message not delivered.")
	}
}

// resolve accepts a 1-based index into the scanned peers or an address.
func (s *shell) resolve(arg string) protocol.PeerIdentity {
	if s.scanner != nil {
		peers := s.scanner.Peers()
		if i, err := strconv.Atoi(arg); err == nil && i >= 1 && i <= len(peers) {
			return peers[i-1]
		}
		for _, p := range peers {
			if p.Address == arg || p.Name == arg {
				return p
			}
		}
	}
	return protocol.PeerIdentity{Address: arg}
}

func (s *shell) scan() {
	if s.scanner == nil {
		fmt.Fprintln(s.out, "Discovery is disabled.")
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.scanTimeout)
	peers, err := s.scanner.Start(ctx)
	if err != nil {
		cancel()
		fmt.Fprintf(s.out, "Scan failed: %v\n", err)
		return
	}
	fmt.Fprintln(s.out, "Scanning...")
	go func() {
		defer cancel()
		for p := range peers {
			fmt.Fprintf(s.out, "  found %s\n", p)
		}
		fmt.Fprintln(s.out, "Scan finished. Use 'peers' to list, 'connect <#>' to dial.")
	}()
}

func (s *shell) listPeers() {
	if s.scanner == nil {
		fmt.Fprintln(s.out, "Discovery is disabled.")
		return
	}
	peers := s.scanner.Peers()
	if len(peers) == 0 {
		fmt.Fprintln(s.out, "No peers yet. Run 'scan'.")
		return
	}
	for i, p := range peers {
		fmt.Fprintf(s.out, "  %d) %-24s %s\n", i+1, p.DisplayName(), p.Address)
	}
}

func (s *shell) status() {
	fmt.Fprintf(s.out, "State:     %s\n", s.m.State())
	if addr := s.m.ListenAddr(); addr != "" {
		fmt.Fprintf(s.out, "Listening: %s\n", addr)
	}
	if p, ok := s.m.Peer(); ok {
		fmt.Fprintf(s.out, "Peer:      %s\n", p)
	}
	if s.scanner != nil && s.scanner.Discovering() {
		fmt.Fprintln(s.out, "Scan:      running")
	}
	snap := s.metrics.Snapshot()
	fmt.Fprintf(s.out, "Traffic:   in=%dB out=%dB dropped=%d\n", snap.BytesIn, snap.BytesOut, snap.DroppedWrites)
}

func completer(d prompt.Document) []prompt.Suggest {
	s := []prompt.Suggest{
		{Text: "connect", Description: "Connect to a peer"},
		{Text: "scan", Description: "Browse for peers"},
		{Text: "peers", Description: "List scanned peers"},
		{Text: "status", Description: "Show link status"},
		{Text: "listen", Description: "Wait for a peer"},
		{Text: "stop", Description: "Stop the link"},
		{Text: "send", Description: "Send a message"},
		{Text: "help", Description: "Show help"},
		{Text: "exit", Description: "Exit"},
	}
	return prompt.FilterHasPrefix(s, d.GetWordBeforeCursor(), true)
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringP("name", "n", "", "Device name shown to peers (default hostname)")
	chatCmd.Flags().StringP("listen", "l", "", "Address to listen on (default :7878)")
	chatCmd.Flags().StringP("transport", "t", "", "Transport: tcp or ws")
	chatCmd.Flags().StringVarP(&connectTo, "connect", "c", "", "Connect to this address on start")
	chatCmd.Flags().BoolVar(&noDiscovery, "no-discovery", false, "Disable mDNS advertise and scan")
	chatCmd.Flags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "Disable ANSI colours")

	bindFlag(chatCmd, config.KeyDeviceName, "name")
	bindFlag(chatCmd, config.KeyListenAddr, "listen")
	bindFlag(chatCmd, config.KeyTransport, "transport")
}
