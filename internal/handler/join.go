package handler

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/moonduel/server/internal/core/event"
	"github.com/moonduel/server/internal/core/slot"
	"github.com/moonduel/server/internal/net"
	"github.com/moonduel/server/internal/net/packet"
	"github.com/moonduel/server/internal/world"
)

const maxNameRunes = 16

// Reject reasons sent in S_REJECT.
const (
	RejectMalformed    = "malformed"
	RejectBadName      = "invalid name"
	RejectNameTaken    = "name taken"
	RejectWrongPass    = "wrong password"
	RejectArenaFull    = "arena full"
	RejectTooManyTries = "too many attempts"
)

// HandleJoin processes C_JOIN.
// Format: [opcode][name\0][password\0]
func HandleJoin(sess *net.Session, r *packet.Reader, deps *Deps) {
	name := strings.TrimSpace(r.ReadS())
	password := r.ReadS()
	if r.Short() {
		sendReject(sess, RejectMalformed)
		return
	}

	sess.JoinAttempts++
	rl := deps.Config.RateLimit
	if rl.Enabled && rl.JoinAttemptsPerConn > 0 && sess.JoinAttempts > rl.JoinAttemptsPerConn {
		deps.Log.Warn("加入嘗試次數過多",
			zap.Uint64("session", sess.ID),
			zap.String("ip", sess.IP),
			zap.Int("attempts", sess.JoinAttempts),
		)
		sendReject(sess, RejectTooManyTries)
		sess.FlushOutput()
		sess.Close()
		return
	}

	if !ValidName(name) {
		sendReject(sess, RejectBadName)
		return
	}
	if hash := deps.Config.Network.JoinPasswordHash; hash != "" {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
			deps.Log.Info("加入密碼錯誤", zap.Uint64("session", sess.ID), zap.String("ip", sess.IP))
			sendReject(sess, RejectWrongPass)
			return
		}
	}

	frame := deps.Clock.SimFrame()
	p, err := deps.World.Join(sess, name, frame)
	if err != nil {
		switch {
		case errors.Is(err, world.ErrNameTaken):
			sendReject(sess, RejectNameTaken)
		case errors.Is(err, slot.ErrNoFreeSlot):
			sendReject(sess, RejectArenaFull)
		default:
			deps.Log.Error("加入決鬥場失敗", zap.Uint64("session", sess.ID), zap.Error(err))
			sendReject(sess, RejectMalformed)
		}
		return
	}

	sess.Name = name
	sess.SetState(packet.StateInWorld)
	sendWelcome(sess, p.Slot, deps)
	event.Emit(deps.Bus, event.AvatarJoined{
		Slot:      p.Slot,
		SessionID: sess.ID,
		Name:      name,
	})
}

// ValidName accepts 1-16 printable runes with no control characters.
func ValidName(name string) bool {
	n := utf8.RuneCountInString(name)
	if n == 0 || n > maxNameRunes || !utf8.ValidString(name) {
		return false
	}
	for _, c := range name {
		if !unicode.IsPrint(c) {
			return false
		}
	}
	return true
}

// sendWelcome sends S_WELCOME.
// Format: [opcode][C slot][F simDt ms][Q serverTime ms]
func sendWelcome(sess *net.Session, slotIdx int, deps *Deps) {
	w := packet.NewWriterWithOpcode(packet.S_OPCODE_WELCOME)
	w.WriteC(byte(slotIdx))
	w.WriteF(float32(deps.Clock.SimDt()))
	w.WriteT(deps.Clock.ServerTime())
	sess.Send(w.Bytes())
}

// sendReject sends S_REJECT.
func sendReject(sess *net.Session, reason string) {
	w := packet.NewWriterWithOpcode(packet.S_OPCODE_REJECT)
	w.WriteS(reason)
	sess.Send(w.Bytes())
}
