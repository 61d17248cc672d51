package handler

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/moonduel/server/internal/avatar"
	"github.com/moonduel/server/internal/net"
	"github.com/moonduel/server/internal/net/packet"
)

// HandleInput processes C_INPUT.
// Format: [opcode][D frame][F horizontal][F vertical][F camX][F camZ][H actions]
// Inputs tagged with a frame older than the newest accepted one are dropped.
func HandleInput(sess *net.Session, r *packet.Reader, deps *Deps) {
	frame := r.ReadD()
	horizontal := r.ReadF()
	vertical := r.ReadF()
	camX := r.ReadF()
	camZ := r.ReadF()
	actions := r.ReadH()
	if r.Short() {
		return
	}

	p := deps.World.GetBySession(sess.ID)
	if p == nil {
		return
	}
	if frame < p.LastInputFrame {
		return
	}
	p.LastInputFrame = frame

	deps.World.Avatars.SetInput(p.Handle, avatar.Input{
		Frame:         frame,
		Horizontal:    horizontal,
		Vertical:      vertical,
		CameraForward: mgl32.Vec3{camX, 0, camZ},
		Actions:       avatar.Action(actions),
	})
}
