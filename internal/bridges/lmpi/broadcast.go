package lmpi

import (
	"fmt"
	"net"
	"sync"
)

// DefaultBroadcastPort is the UDP port reader hosts listen on for
// site-wide commands.
const DefaultBroadcastPort = 5001

// defaultPrefixLength is assumed when the configured network has no
// "/prefix" part.
const defaultPrefixLength = 24

// Site-wide broadcast payloads.
const (
	BroadcastEmergency    = "emergency"
	BroadcastEmergencyEnd = "emergency_end"
	BroadcastSync         = "sync"
)

// limitedBroadcast is used whenever the network cannot be parsed.
var limitedBroadcast = net.IPv4bcast

// BroadcastAddress returns the IPv4 broadcast address of network, given as
// "a.b.c.d/prefix" or a bare address (prefix 24). Anything unparseable
// yields 255.255.255.255.
func BroadcastAddress(network string) net.IP {
	if network == "" {
		return limitedBroadcast
	}

	cidr := network
	if _, _, err := net.ParseCIDR(cidr); err != nil {
		cidr = fmt.Sprintf("%s/%d", network, defaultPrefixLength)
	}

	ip, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return limitedBroadcast
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return limitedBroadcast
	}

	mask := ipNet.Mask
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}

	bcast := make(net.IP, net.IPv4len)
	for i := range net.IPv4len {
		bcast[i] = ip4[i] | ^mask[i]
	}
	return bcast
}

// BroadcastClient sends fire-and-forget site-wide commands over UDP.
//
// Send failures are logged and swallowed; nothing is ever retried.
type BroadcastClient struct {
	target *net.UDPAddr

	conn   *net.UDPConn
	connMu sync.Mutex

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBroadcastClient creates a client targeting the broadcast address of
// network on port. A port of 0 selects DefaultBroadcastPort. The socket is
// opened lazily on the first send.
func NewBroadcastClient(network string, port int) *BroadcastClient {
	if port <= 0 {
		port = DefaultBroadcastPort
	}
	return &BroadcastClient{
		target: &net.UDPAddr{IP: BroadcastAddress(network), Port: port},
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for this client.
func (b *BroadcastClient) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

func (b *BroadcastClient) log() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

// Target returns the destination address.
func (b *BroadcastClient) Target() *net.UDPAddr {
	return b.target
}

// Emergency opens every door on every host in the network.
func (b *BroadcastClient) Emergency() { b.Send(BroadcastEmergency) }

// EmergencyEnd ends a site-wide emergency.
func (b *BroadcastClient) EmergencyEnd() { b.Send(BroadcastEmergencyEnd) }

// Sync asks every host to resynchronise.
func (b *BroadcastClient) Sync() { b.Send(BroadcastSync) }

// Send transmits payload as a single datagram. It reports whether the
// datagram was handed to the kernel.
func (b *BroadcastClient) Send(payload string) bool {
	b.connMu.Lock()
	defer b.connMu.Unlock()

	if b.conn == nil {
		// Go enables SO_BROADCAST on UDP sockets.
		conn, err := net.ListenUDP("udp4", nil)
		if err != nil {
			b.log().Error("broadcast socket open failed", "error", err)
			return false
		}
		b.conn = conn
	}

	if _, err := b.conn.WriteToUDP([]byte(payload), b.target); err != nil {
		b.log().Error("broadcast send failed",
			"payload", payload,
			"target", b.target.String(),
			"error", err,
		)
		return false
	}

	b.log().Info("broadcast sent", "payload", payload, "target", b.target.String())
	return true
}

// Close releases the socket. The client may still be used afterwards; the
// next send reopens it.
func (b *BroadcastClient) Close() error {
	b.connMu.Lock()
	defer b.connMu.Unlock()

	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}
