package handler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/moonduel/server/internal/avatar"
	"github.com/moonduel/server/internal/clock"
	"github.com/moonduel/server/internal/collision"
	"github.com/moonduel/server/internal/config"
	"github.com/moonduel/server/internal/core/event"
	"github.com/moonduel/server/internal/data"
	"github.com/moonduel/server/internal/net"
	"github.com/moonduel/server/internal/net/nettest"
	"github.com/moonduel/server/internal/net/packet"
	"github.com/moonduel/server/internal/world"
)

type fixture struct {
	deps   *Deps
	reg    *packet.Registry
	joined []event.AvatarJoined
	left   []event.AvatarLeft
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	attacks, err := data.LoadAttackTable("")
	require.NoError(t, err)
	ctl := avatar.NewController(collision.New(8), attacks, avatar.DefaultTuning(), zap.NewNop())
	f := &fixture{
		deps: &Deps{
			Config: config.Default(),
			Log:    zap.NewNop(),
			World:  world.NewState(ctl, 12, zap.NewNop()),
			Clock:  clock.New(clock.Config{SimDt: 16 * time.Millisecond}, nil),
			Bus:    event.NewBus(),
		},
		reg: packet.NewRegistry(zap.NewNop()),
	}
	event.Subscribe(f.deps.Bus, func(e event.AvatarJoined) { f.joined = append(f.joined, e) })
	event.Subscribe(f.deps.Bus, func(e event.AvatarLeft) { f.left = append(f.left, e) })
	RegisterAll(f.reg, f.deps)
	return f
}

func (f *fixture) dispatch(t *testing.T, sess *net.Session, w *packet.Writer) {
	t.Helper()
	require.NoError(t, f.reg.Dispatch(sess, sess.State(), w.Bytes()))
}

// deliver runs the event bus the way the next fixed step would.
func (f *fixture) deliver() {
	f.deps.Bus.SwapBuffers()
	f.deps.Bus.DispatchAll()
}

func joinPacket(name, password string) *packet.Writer {
	w := packet.NewWriterWithOpcode(packet.C_OPCODE_JOIN)
	w.WriteS(name)
	w.WriteS(password)
	return w
}

func rejectReason(t *testing.T, p []byte) string {
	t.Helper()
	r := packet.NewReader(p)
	require.Equal(t, packet.S_OPCODE_REJECT, r.Opcode())
	return r.ReadS()
}

func TestJoinWelcomesAndEmits(t *testing.T) {
	f := newFixture(t)
	sess := nettest.NewSession(1)

	f.dispatch(t, sess, joinPacket("selene", ""))
	assert.Equal(t, packet.StateInWorld, sess.State())
	assert.Equal(t, "selene", sess.Name)

	out := nettest.Sent(sess)
	require.Len(t, out, 1)
	r := packet.NewReader(out[0])
	assert.Equal(t, packet.S_OPCODE_WELCOME, r.Opcode())
	assert.Equal(t, byte(0), r.ReadC())
	assert.InDelta(t, 16, r.ReadF(), 1e-6)
	r.ReadT()
	assert.False(t, r.Short())

	f.deliver()
	require.Len(t, f.joined, 1)
	assert.Equal(t, "selene", f.joined[0].Name)
	assert.Equal(t, uint64(1), f.joined[0].SessionID)
}

func TestJoinRejections(t *testing.T) {
	f := newFixture(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("moon"), bcrypt.MinCost)
	require.NoError(t, err)
	f.deps.Config.Network.JoinPasswordHash = string(hash)

	first := nettest.NewSession(1)
	f.dispatch(t, first, joinPacket("artemis", "moon"))
	require.Equal(t, packet.StateInWorld, first.State())

	tests := []struct {
		name     string
		player   string
		password string
		reason   string
	}{
		{"empty name", "   ", "moon", RejectBadName},
		{"control char", "a\x01b", "moon", RejectBadName},
		{"wrong password", "mani", "sun", RejectWrongPass},
		{"duplicate", "artemis", "moon", RejectNameTaken},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := nettest.NewSession(uint64(10 + i))
			f.dispatch(t, sess, joinPacket(tt.player, tt.password))
			out := nettest.Sent(sess)
			require.Len(t, out, 1)
			assert.Equal(t, tt.reason, rejectReason(t, out[0]))
			assert.Equal(t, packet.StateHandshake, sess.State())
		})
	}
}

func TestJoinAttemptLimitCloses(t *testing.T) {
	f := newFixture(t)
	f.deps.Config.RateLimit.JoinAttemptsPerConn = 2
	sess := nettest.NewSession(3)

	for i := 0; i < 2; i++ {
		f.dispatch(t, sess, joinPacket("", ""))
	}
	assert.False(t, sess.IsClosed())
	_ = nettest.Sent(sess)

	f.dispatch(t, sess, joinPacket("", ""))
	assert.True(t, sess.IsClosed())
}

func TestInputDropsStaleFrames(t *testing.T) {
	f := newFixture(t)
	sess := nettest.NewSession(1)
	f.dispatch(t, sess, joinPacket("selene", ""))
	p := f.deps.World.GetBySession(1)
	require.NotNil(t, p)

	send := func(frame int32, actions avatar.Action) {
		w := packet.NewWriterWithOpcode(packet.C_OPCODE_INPUT)
		w.WriteD(frame)
		w.WriteF(0)
		w.WriteF(1)
		w.WriteF(0)
		w.WriteF(1)
		w.WriteH(uint16(actions))
		f.dispatch(t, sess, w)
	}

	send(5, avatar.ActionAttackSide)
	a, ok := f.deps.World.Avatars.Get(p.Handle)
	require.True(t, ok)
	assert.Equal(t, int32(5), a.Input.Frame)
	assert.True(t, a.Input.Has(avatar.ActionAttackSide))

	send(4, avatar.ActionAttackPunch)
	assert.Equal(t, int32(5), a.Input.Frame)
	assert.False(t, a.Input.Has(avatar.ActionAttackPunch))
}

func TestInputRequiresJoin(t *testing.T) {
	f := newFixture(t)
	sess := nettest.NewSession(1)
	w := packet.NewWriterWithOpcode(packet.C_OPCODE_INPUT)
	w.WriteD(1)
	err := f.reg.Dispatch(sess, sess.State(), w.Bytes())
	assert.Error(t, err)
}

func TestPingEchoesClientTime(t *testing.T) {
	f := newFixture(t)
	sess := nettest.NewSession(1)
	w := packet.NewWriterWithOpcode(packet.C_OPCODE_PING)
	w.WriteT(1234.5)
	f.dispatch(t, sess, w)

	out := nettest.Sent(sess)
	require.Len(t, out, 1)
	r := packet.NewReader(out[0])
	assert.Equal(t, packet.S_OPCODE_CLOCK, r.Opcode())
	assert.Equal(t, f.deps.Clock.ServerTime(), r.ReadT())
	assert.Equal(t, 1234.5, r.ReadT())
}

func TestLeaveReturnsToHandshake(t *testing.T) {
	f := newFixture(t)
	sess := nettest.NewSession(1)
	f.dispatch(t, sess, joinPacket("selene", ""))
	f.dispatch(t, sess, packet.NewWriterWithOpcode(packet.C_OPCODE_LEAVE))

	assert.Equal(t, packet.StateHandshake, sess.State())
	assert.Nil(t, f.deps.World.GetBySession(1))
	assert.False(t, LeaveWorld(1, f.deps))

	f.deliver()
	require.Len(t, f.left, 1)
	assert.Equal(t, 0, f.left[0].Slot)
}

func TestBroadcastSkipsBots(t *testing.T) {
	f := newFixture(t)
	sess := nettest.NewSession(1)
	f.dispatch(t, sess, joinPacket("selene", ""))
	_, err := f.deps.World.AddBot("bot", 0)
	require.NoError(t, err)
	_ = nettest.Sent(sess)

	assert.Equal(t, 1, BroadcastToPlayers(f.deps.World, []byte{packet.S_OPCODE_SNAPSHOT}))
	assert.Len(t, nettest.Sent(sess), 1)
}

func TestValidName(t *testing.T) {
	assert.True(t, ValidName("Chang'e"))
	assert.True(t, ValidName("月神"))
	assert.False(t, ValidName(""))
	assert.False(t, ValidName("abcdefghijklmnopq"))
	assert.False(t, ValidName("tab\tname"))
}
