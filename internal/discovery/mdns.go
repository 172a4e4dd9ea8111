// Package discovery advertises the gateway on the LAN over mDNS so field
// devices can find the broker without a fixed address.
package discovery

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"agrosmart/internal/log"

	"github.com/pion/mdns/v2"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// Advertiser answers mDNS queries for one local name.
type Advertiser struct {
	conn *mdns.Conn
	name string
	log  log.Logger
}

// LocalName appends the ".local" suffix when it is missing.
func LocalName(name string) (string, error) {
	name = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".")
	if name == "" {
		return "", errors.New("mdns local name must not be empty")
	}
	if !strings.HasSuffix(name, ".local") {
		name += ".local"
	}
	return name, nil
}

// Start listens on the mDNS multicast groups. IPv6 is optional; hosts
// without it advertise over IPv4 only.
func Start(localName string, logger log.Logger) (*Advertiser, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	name, err := LocalName(localName)
	if err != nil {
		return nil, err
	}

	addr4, err := net.ResolveUDPAddr("udp4", mdns.DefaultAddressIPv4)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve mdns ipv4 address: %w", err)
	}
	l4, err := net.ListenUDP("udp4", addr4)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on mdns ipv4: %w", err)
	}

	var pc6 *ipv6.PacketConn
	if addr6, err := net.ResolveUDPAddr("udp6", mdns.DefaultAddressIPv6); err != nil {
		logger.Warn("mdns ipv6 disabled", "error", err)
	} else if l6, err := net.ListenUDP("udp6", addr6); err != nil {
		logger.Warn("mdns ipv6 disabled", "error", err)
	} else {
		pc6 = ipv6.NewPacketConn(l6)
	}

	conn, err := mdns.Server(ipv4.NewPacketConn(l4), pc6, &mdns.Config{
		LocalNames: []string{name},
	})
	if err != nil {
		_ = l4.Close()
		if pc6 != nil {
			_ = pc6.Close()
		}
		return nil, fmt.Errorf("failed to start mdns server: %w", err)
	}
	logger.Info("mdns advertising", "name", name)
	return &Advertiser{conn: conn, name: name, log: logger}, nil
}

func (a *Advertiser) Name() string { return a.name }

func (a *Advertiser) Close() error {
	if err := a.conn.Close(); err != nil {
		return err
	}
	a.log.Info("mdns stopped", "name", a.name)
	return nil
}
