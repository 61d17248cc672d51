package packet

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// SessionState represents the session's current protocol phase.
type SessionState int

const (
	StateHandshake     SessionState = iota // connected, join not yet accepted
	StateInWorld                           // owns an avatar slot
	StateDisconnecting
)

func (s SessionState) String() string {
	switch s {
	case StateHandshake:
		return "Handshake"
	case StateInWorld:
		return "InWorld"
	case StateDisconnecting:
		return "Disconnecting"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// HandlerFunc is the callback signature for packet handlers.
// The session pointer is passed as an opaque interface to avoid import cycles.
type HandlerFunc func(sess any, r *Reader)

var (
	ErrEmptyPacket  = errors.New("empty packet")
	ErrWrongState   = errors.New("opcode not allowed in session state")
	ErrHandlerPanic = errors.New("handler panic")
)

// stateMask has bit n set when SessionState n may use the opcode.
type stateMask uint8

func maskOf(states []SessionState) stateMask {
	var m stateMask
	for _, s := range states {
		m |= 1 << uint(s)
	}
	return m
}

func (m stateMask) allows(s SessionState) bool {
	return s >= 0 && s < 8 && m&(1<<uint(s)) != 0
}

type route struct {
	fn      HandlerFunc
	allowed stateMask
}

// Registry routes the opcode byte to its handler. The protocol has a handful
// of opcodes, so the table is indexed directly.
type Registry struct {
	routes [256]route
	log    *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{log: log}
}

// Register maps an opcode to a handler, restricted to the given session
// states. A second registration for the same opcode replaces the first.
func (reg *Registry) Register(opcode byte, states []SessionState, fn HandlerFunc) {
	reg.routes[opcode] = route{fn: fn, allowed: maskOf(states)}
}

// Handles reports whether opcode has a handler.
func (reg *Registry) Handles(opcode byte) bool {
	return reg.routes[opcode].fn != nil
}

// Dispatch runs the handler for data[0] if the session state allows it.
// Unknown opcodes are dropped silently.
func (reg *Registry) Dispatch(sess any, state SessionState, data []byte) error {
	if len(data) == 0 {
		return ErrEmptyPacket
	}
	opcode := data[0]
	rt := reg.routes[opcode]
	if rt.fn == nil {
		reg.log.Debug("未知操作碼", zap.Uint8("opcode", opcode), zap.Stringer("state", state))
		return nil
	}
	if !rt.allowed.allows(state) {
		reg.log.Warn("操作碼在此狀態下不允許",
			zap.Uint8("opcode", opcode),
			zap.Stringer("state", state),
		)
		return fmt.Errorf("%w: opcode %d in %s", ErrWrongState, opcode, state)
	}
	return reg.call(rt.fn, sess, NewReader(data), opcode)
}

// call recovers a handler panic into ErrHandlerPanic so one malformed packet
// only costs its sender.
func (reg *Registry) call(fn HandlerFunc, sess any, r *Reader, opcode byte) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			reg.log.Error("處理器 panic 已恢復",
				zap.Uint8("opcode", opcode),
				zap.Any("panic", rec),
			)
			err = fmt.Errorf("%w: opcode %d: %v", ErrHandlerPanic, opcode, rec)
		}
	}()
	fn(sess, r)
	return nil
}
