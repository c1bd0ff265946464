package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	ErrActivation        = errors.New("bridge refused streaming activation")
	ErrHandshake         = errors.New("streaming handshake failed")
	ErrSessionTerminated = errors.New("streaming session terminated")
	ErrSessionNotIdle    = errors.New("streaming session already open")
	ErrSessionNotStarted = errors.New("streaming session not open")
)

// State is the lifecycle state of a Session.
type State int32

const (
	Idle State = iota
	Activating
	Streaming
	Deactivating
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Activating:
		return "activating"
	case Streaming:
		return "streaming"
	case Deactivating:
		return "deactivating"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Activator toggles entertainment streaming mode on the bridge.
type Activator interface {
	SetStreaming(ctx context.Context, configID string, active bool) error
}

// Defaults for SessionOptions.
const (
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultKeepAlive        = time.Second
	deactivateTimeout       = 5 * time.Second
)

// SessionOptions configures a Session.
type SessionOptions struct {
	ConfigurationID  string
	HandshakeTimeout time.Duration
	// KeepAlive is the longest the session stays silent before KeepAlive
	// resends the last datagram.
	KeepAlive time.Duration
}

// Session is one streaming session with a bridge. Open, Send, KeepAlive and
// Close are called from the streaming goroutine; State may be read from anywhere.
// The session is the only owner of the transport and the only one to close it.
type Session struct {
	opts      SessionOptions
	activator Activator
	dialer    Dialer
	now       func() time.Time

	state atomic.Int32

	mu        sync.Mutex
	transport Transport
	last      []byte
	lastSent  time.Time

	closing    atomic.Bool
	peerErr    atomic.Pointer[error]
	readerDone chan struct{}
}

// NewSession creates an idle session.
func NewSession(opts SessionOptions, activator Activator, dialer Dialer) *Session {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = DefaultKeepAlive
	}
	return &Session{
		opts:      opts,
		activator: activator,
		dialer:    dialer,
		now:       time.Now,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// ConfigurationID returns the entertainment configuration this session streams to.
func (s *Session) ConfigurationID() string {
	return s.opts.ConfigurationID
}

// Open activates streaming on the bridge and performs the DTLS handshake.
// Any failure leaves the session Idle; a failed handshake also deactivates
// the bridge again on a best-effort basis.
func (s *Session) Open(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(Idle), int32(Activating)) {
		return fmt.Errorf("%w: %s", ErrSessionNotIdle, s.State())
	}

	id := s.opts.ConfigurationID
	if err := s.activator.SetStreaming(ctx, id, true); err != nil {
		s.state.Store(int32(Idle))
		return fmt.Errorf("%w: %w", ErrActivation, err)
	}

	hctx, cancel := context.WithTimeout(ctx, s.opts.HandshakeTimeout)
	transport, err := s.dialer.Dial(hctx)
	cancel()
	if err != nil {
		s.deactivate(ctx)
		s.state.Store(int32(Idle))
		return fmt.Errorf("%w: %w", ErrHandshake, err)
	}

	s.mu.Lock()
	s.transport = transport
	s.last = nil
	s.lastSent = s.now()
	s.mu.Unlock()

	s.closing.Store(false)
	s.peerErr.Store(nil)
	s.readerDone = make(chan struct{})
	go s.watchPeer(transport, s.readerDone)

	s.state.Store(int32(Streaming))
	log.Info().Str("config_id", id).Msg("Streaming session established")
	return nil
}

// watchPeer reads from the transport until it fails. The bridge does not
// send application data, so any read failure not caused by Close means the
// peer closed the session or the link is gone.
func (s *Session) watchPeer(t Transport, done chan<- struct{}) {
	defer close(done)

	buf := make([]byte, 512)
	for {
		if _, err := t.Read(buf); err != nil {
			if !s.closing.Load() {
				s.peerErr.Store(&err)
				log.Warn().Err(err).Msg("Bridge closed the streaming session")
			}
			return
		}
	}
}

// Send encodes records into one datagram and writes it. A write failure or a
// lost peer moves the session to Deactivating and returns ErrSessionTerminated;
// nothing is written after that.
func (s *Session) Send(records []Record) error {
	if err := s.check(); err != nil {
		return err
	}

	datagram, err := Encode(s.opts.ConfigurationID, records)
	if err != nil {
		return err
	}

	return s.write(datagram)
}

// KeepAlive resends the last datagram when nothing was sent within the
// keep-alive interval. It is a no-op before the first Send.
func (s *Session) KeepAlive() error {
	if err := s.check(); err != nil {
		return err
	}

	s.mu.Lock()
	last := s.last
	due := s.now().Sub(s.lastSent) >= s.opts.KeepAlive
	s.mu.Unlock()

	if last == nil || !due {
		return nil
	}
	return s.write(last)
}

func (s *Session) check() error {
	switch st := s.State(); st {
	case Streaming:
	case Deactivating:
		return ErrSessionTerminated
	default:
		return fmt.Errorf("%w: %s", ErrSessionNotStarted, st)
	}

	if p := s.peerErr.Load(); p != nil {
		s.state.CompareAndSwap(int32(Streaming), int32(Deactivating))
		return fmt.Errorf("%w: %w", ErrSessionTerminated, *p)
	}
	return nil
}

func (s *Session) write(datagram []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-check under the lock: Close may have started in between.
	if s.transport == nil || s.State() != Streaming {
		return ErrSessionTerminated
	}

	if _, err := s.transport.Write(datagram); err != nil {
		s.state.CompareAndSwap(int32(Streaming), int32(Deactivating))
		return fmt.Errorf("%w: %w", ErrSessionTerminated, err)
	}

	s.last = datagram
	s.lastSent = s.now()
	return nil
}

// Close tears the session down: the transport is closed, the bridge is asked
// to leave streaming mode, and the session returns to Idle. Calling Close on an
// idle session does nothing.
func (s *Session) Close(ctx context.Context) error {
	switch State(s.state.Load()) {
	case Idle:
		return nil
	case Activating:
		return fmt.Errorf("%w: open in progress", ErrSessionNotIdle)
	}
	s.state.Store(int32(Deactivating))
	s.closing.Store(true)

	s.mu.Lock()
	transport := s.transport
	s.transport = nil
	s.last = nil
	s.mu.Unlock()

	var closeErr error
	if transport != nil {
		closeErr = transport.Close()
		if s.readerDone != nil {
			<-s.readerDone
		}
	}

	s.deactivate(ctx)
	s.state.Store(int32(Idle))

	log.Info().Str("config_id", s.opts.ConfigurationID).Msg("Streaming session closed")
	return closeErr
}

// deactivate asks the bridge to stop streaming. Failures are logged only;
// the bridge also times streaming out on its own.
func (s *Session) deactivate(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deactivateTimeout)
	defer cancel()

	if err := s.activator.SetStreaming(ctx, s.opts.ConfigurationID, false); err != nil {
		log.Warn().Err(err).Str("config_id", s.opts.ConfigurationID).Msg("Failed to deactivate streaming on bridge")
	}
}
