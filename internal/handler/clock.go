package handler

import (
	"github.com/moonduel/server/internal/net"
	"github.com/moonduel/server/internal/net/packet"
)

// HandlePing processes C_PING by answering with the authoritative time.
// Format: [opcode][Q clientTime ms]
func HandlePing(sess *net.Session, r *packet.Reader, deps *Deps) {
	echo := r.ReadT()
	if r.Short() {
		return
	}
	SendClock(sess, deps.Clock.ServerTime(), echo)
}

// SendClock sends S_CLOCK.
// Format: [opcode][Q serverTime ms][Q echoed clientTime ms]
func SendClock(sess *net.Session, serverTime, echo float64) {
	w := packet.NewWriterWithOpcode(packet.S_OPCODE_CLOCK)
	w.WriteT(serverTime)
	w.WriteT(echo)
	sess.Send(w.Bytes())
}
