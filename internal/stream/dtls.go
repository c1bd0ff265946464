package stream

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/pion/dtls/v2"
)

// Port is the bridge's entertainment streaming port.
const Port = 2100

// Transport is an established datagram channel to the bridge.
type Transport interface {
	io.ReadWriteCloser
}

// Dialer opens a Transport. The context bounds the handshake.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// DTLSDialer connects to a bridge using DTLS 1.2 with a pre-shared key. The
// PSK identity is the application key and the key itself is the hex-decoded
// client key issued at pairing.
type DTLSDialer struct {
	address  string
	identity string
	psk      []byte
}

// NewDTLSDialer validates the credentials and returns a dialer for address.
func NewDTLSDialer(address, applicationKey, clientKey string) (*DTLSDialer, error) {
	if applicationKey == "" {
		return nil, fmt.Errorf("application key is required")
	}
	psk, err := hex.DecodeString(clientKey)
	if err != nil {
		return nil, fmt.Errorf("client key is not valid hex: %w", err)
	}
	if len(psk) == 0 {
		return nil, fmt.Errorf("client key is required")
	}
	return &DTLSDialer{address: address, identity: applicationKey, psk: psk}, nil
}

func (d *DTLSDialer) config() *dtls.Config {
	return &dtls.Config{
		PSK: func([]byte) ([]byte, error) {
			return d.psk, nil
		},
		PSKIdentityHint: []byte(d.identity),
		CipherSuites:    []dtls.CipherSuiteID{dtls.TLS_PSK_WITH_AES_128_GCM_SHA256},
	}
}

// Dial resolves the bridge address and performs the handshake.
func (d *DTLSDialer) Dial(ctx context.Context) (Transport, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(d.address, strconv.Itoa(Port)))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve bridge address: %w", err)
	}

	conn, err := dtls.DialWithContext(ctx, "udp", addr, d.config())
	if err != nil {
		return nil, err
	}
	return conn, nil
}
