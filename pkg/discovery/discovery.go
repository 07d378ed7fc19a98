package discovery

import (
	"context"
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"

	"tarun-kavipurapu/linkchat/pkg/logger"
	"tarun-kavipurapu/linkchat/pkg/protocol"
)

const (
	// ServiceType defines the mDNS service type for linkchat
	ServiceType = "_linkchat._tcp"
	// Domain is the local domain for mDNS
	Domain = "local."
)

// TXT record keys.
const (
	MetaUUID      = "uuid"
	MetaName      = "name"
	MetaTransport = "transport"
)

// ServiceInfo contains information about a discovered service
type ServiceInfo struct {
	InstanceName string
	HostName     string
	Port         int
	IPs          []string
	Meta         map[string]string
}

// Peer converts the entry into a dialable identity. Entries published for
// another service UUID are rejected.
func (info *ServiceInfo) Peer(svc protocol.Service) (protocol.PeerIdentity, bool) {
	if !strings.EqualFold(info.Meta[MetaUUID], svc.UUID.String()) || len(info.IPs) == 0 {
		return protocol.PeerIdentity{}, false
	}
	name := info.Meta[MetaName]
	if name == "" {
		name = info.InstanceName
	}
	return protocol.PeerIdentity{
		Address: net.JoinHostPort(info.IPs[0], strconv.Itoa(info.Port)),
		Name:    name,
	}, true
}

// Advertiser handles service broadcasting
type Advertiser struct {
	server *zeroconf.Server
}

// Resolver handles service discovery
type Resolver struct {
	resolver *zeroconf.Resolver
}

// NewAdvertiser creates a new service advertiser
func NewAdvertiser() *Advertiser {
	return &Advertiser{}
}

// Advertise publishes the link service for this device on port.
func (a *Advertiser) Advertise(svc protocol.Service, local protocol.PeerIdentity, transportName string, port int) error {
	return a.Start(local.Name, port, map[string]string{
		MetaUUID:      svc.UUID.String(),
		MetaName:      local.Name,
		MetaTransport: transportName,
	})
}

// Start begins broadcasting the service
func (a *Advertiser) Start(instanceName string, port int, meta map[string]string) error {
	// If no instance name provided, use hostname
	if instanceName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			instanceName = "linkchat"
		} else {
			instanceName = fmt.Sprintf("linkchat-%s", hostname)
		}
	}

	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	txtRecords := make([]string, 0, len(keys))
	for _, k := range keys {
		txtRecords = append(txtRecords, fmt.Sprintf("%s=%s", k, meta[k]))
	}

	// Ifaces nil binds every interface.
	server, err := zeroconf.Register(
		instanceName,
		ServiceType,
		Domain,
		port,
		txtRecords,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}

	a.server = server
	logger.Sugar.Infof("[Discovery] advertising: instance=%s port=%d", instanceName, port)
	return nil
}

// Stop stops broadcasting the service
func (a *Advertiser) Stop() {
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// NewResolver creates a new service resolver
func NewResolver() (*Resolver, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}
	return &Resolver{resolver: resolver}, nil
}

// Browse scans for services until the context is canceled
// It returns a channel that will receive discovered services
func (r *Resolver) Browse(ctx context.Context) (<-chan *ServiceInfo, error) {
	entries := make(chan *zeroconf.ServiceEntry)
	results := make(chan *ServiceInfo, 10)

	if err := r.resolver.Browse(ctx, ServiceType, Domain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse services: %w", err)
	}

	go func() {
		defer close(results)

		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-entries:
				if !ok {
					return
				}
				info := fromEntry(entry)

				// Only send if we found valid IPs
				if len(info.IPs) == 0 {
					continue
				}
				logger.Sugar.Debugf("[Discovery] discovered service: instance=%s ips=%v port=%d", info.InstanceName, info.IPs, info.Port)
				select {
				case results <- info:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return results, nil
}

func fromEntry(entry *zeroconf.ServiceEntry) *ServiceInfo {
	info := &ServiceInfo{
		InstanceName: entry.Instance,
		HostName:     entry.HostName,
		Port:         entry.Port,
		IPs:          make([]string, 0, len(entry.AddrIPv4)),
		Meta:         make(map[string]string),
	}

	// Filter IPv4
	for _, ip := range entry.AddrIPv4 {
		info.IPs = append(info.IPs, ip.String())
	}

	for _, record := range entry.Text {
		parts := strings.SplitN(record, "=", 2)
		if len(parts) == 2 {
			info.Meta[parts[0]] = parts[1]
		}
	}
	return info
}
