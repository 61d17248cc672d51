// Package nettest provides in-memory sessions for tests of packet handlers
// and game loop systems.
package nettest

import (
	"errors"
	stdnet "net"
	"time"

	"go.uber.org/zap"

	"github.com/moonduel/server/internal/net"
)

var errClosed = errors.New("nettest: connection closed")

// Conn is a websocket stand-in that never delivers a message and accepts
// every write.
type Conn struct{}

func (Conn) ReadMessage() (int, []byte, error)         { return 0, nil, errClosed }
func (Conn) WriteMessage(int, []byte) error            { return nil }
func (Conn) WriteControl(int, []byte, time.Time) error { return nil }
func (Conn) SetReadLimit(int64)                        {}
func (Conn) SetReadDeadline(time.Time) error           { return nil }
func (Conn) SetWriteDeadline(time.Time) error          { return nil }
func (Conn) RemoteAddr() stdnet.Addr                   { return &stdnet.TCPAddr{IP: stdnet.IPv4(127, 0, 0, 1)} }
func (Conn) Close() error                              { return nil }

// NewSession returns an unstarted session. Packets pushed onto InQueue are
// seen by the game loop; flushed output collects in OutQueue.
func NewSession(id uint64) *net.Session {
	return net.NewSession(Conn{}, id, net.Options{}, zap.NewNop())
}

// Sent flushes sess and drains everything queued for the writer.
func Sent(sess *net.Session) [][]byte {
	sess.FlushOutput()
	var out [][]byte
	for {
		select {
		case p := <-sess.OutQueue:
			out = append(out, p)
		default:
			return out
		}
	}
}
