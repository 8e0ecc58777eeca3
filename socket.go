package genet

import (
	"errors"
	"net"
	"time"
)

// DatagramSocket is the external collaborator spec.md §6 describes:
// the unreliable datagram substrate the protocol engine is layered on.
// Implementations must never block inside Send or Receive; Wait is the
// only blocking point. The protocol engine (protocol.go) is the only
// caller and always runs from the Host's single service goroutine, so
// implementations need not be safe for concurrent use from multiple
// callers, only internally consistent with their own background I/O.
type DatagramSocket interface {
	// Send writes data to addr. It returns the number of bytes sent,
	// 0 if the write would block (the caller should retry later), and
	// a non-nil error only for a fatal, non-would-block failure.
	Send(addr Address, data []byte) (int, error)

	// Receive returns at most one already-arrived datagram. It returns
	// a zero Address and nil data, nil error when none is pending.
	Receive() (Address, []byte, error)

	// Wait blocks until a datagram is ready to receive or timeout
	// elapses, whichever comes first. It returns true if a datagram
	// became available.
	Wait(timeout time.Duration) (bool, error)

	// Close releases the underlying resource. Send/Receive/Wait must
	// return errors after Close.
	Close() error
}

type rawDatagram struct {
	addr Address
	data []byte
}

// udpSocket implements DatagramSocket over a real net.UDPConn. A
// background goroutine performs the only blocking read syscall,
// keeping the protocol engine itself single-threaded and non-blocking
// as spec.md §5 requires — this is the seam spec.md §1 calls out as an
// "external collaborator", not part of the core.
type udpSocket struct {
	conn     *net.UDPConn
	dataCh   chan rawDatagram
	notifyCh chan struct{}
	closeCh  chan struct{}
}

func newUDPSocket(bind *Address) (*udpSocket, error) {
	var laddr *net.UDPAddr
	if bind != nil {
		laddr = bind.UDPAddr()
	} else {
		laddr = &net.UDPAddr{}
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	s := &udpSocket{
		conn:     conn,
		dataCh:   make(chan rawDatagram, 256),
		notifyCh: make(chan struct{}, 1),
		closeCh:  make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (s *udpSocket) readLoop() {
	buf := make([]byte, MaxMTU)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.closeCh:
				return
			default:
			}
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case s.dataCh <- rawDatagram{addr: AddressFromUDP(addr), data: data}:
		case <-s.closeCh:
			return
		}
		select {
		case s.notifyCh <- struct{}{}:
		default:
		}
	}
}

func (s *udpSocket) Send(addr Address, data []byte) (int, error) {
	n, err := s.conn.WriteToUDP(data, addr.UDPAddr())
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}

func (s *udpSocket) Receive() (Address, []byte, error) {
	select {
	case <-s.closeCh:
		return Address{}, nil, errors.New("genet: socket closed")
	default:
	}
	select {
	case d := <-s.dataCh:
		return d.addr, d.data, nil
	default:
		return Address{}, nil, nil
	}
}

func (s *udpSocket) Wait(timeout time.Duration) (bool, error) {
	if len(s.dataCh) > 0 {
		return true, nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.notifyCh:
		return true, nil
	case <-timer.C:
		return false, nil
	case <-s.closeCh:
		return false, errors.New("genet: socket closed")
	}
}

func (s *udpSocket) Close() error {
	select {
	case <-s.closeCh:
		return nil
	default:
		close(s.closeCh)
	}
	return s.conn.Close()
}
