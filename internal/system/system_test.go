package system

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/moonduel/server/internal/avatar"
	"github.com/moonduel/server/internal/clock"
	"github.com/moonduel/server/internal/collision"
	"github.com/moonduel/server/internal/config"
	"github.com/moonduel/server/internal/core/event"
	coresys "github.com/moonduel/server/internal/core/system"
	"github.com/moonduel/server/internal/data"
	"github.com/moonduel/server/internal/handler"
	"github.com/moonduel/server/internal/metrics"
	"github.com/moonduel/server/internal/net"
	"github.com/moonduel/server/internal/net/nettest"
	"github.com/moonduel/server/internal/net/packet"
	"github.com/moonduel/server/internal/persist"
	"github.com/moonduel/server/internal/scripting"
	"github.com/moonduel/server/internal/snapshot"
	"github.com/moonduel/server/internal/world"
)

const simDt = 16 * time.Millisecond

type wall struct{ t time.Time }

func (w *wall) now() time.Time          { return w.t }
func (w *wall) advance(d time.Duration) { w.t = w.t.Add(d) }
func newWall() *wall                    { return &wall{t: time.Unix(1_700_000_000, 0)} }

func newTestMetrics(t *testing.T) *metrics.Metrics {
	t.Helper()
	m, err := metrics.NewWithMeter(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	return m
}

type countingSystem struct {
	phase coresys.Phase
	calls int
}

func (s *countingSystem) Phase() coresys.Phase   { return s.phase }
func (s *countingSystem) Update(_ time.Duration) { s.calls++ }

type fakeCombatLog struct {
	hits     []persist.HitEntry
	presence []persist.PresenceEntry
	fail     bool
}

func (f *fakeCombatLog) WriteHits(_ context.Context, entries []persist.HitEntry) error {
	if f.fail {
		return errors.New("db down")
	}
	f.hits = append(f.hits, entries...)
	return nil
}

func (f *fakeCombatLog) WritePresence(_ context.Context, entries []persist.PresenceEntry) error {
	if f.fail {
		return errors.New("db down")
	}
	f.presence = append(f.presence, entries...)
	return nil
}

type fakeSource struct {
	newCh  chan *net.Session
	deadCh chan uint64
}

func newFakeSource() *fakeSource {
	return &fakeSource{newCh: make(chan *net.Session, 8), deadCh: make(chan uint64, 8)}
}

func (f *fakeSource) NewSessions() <-chan *net.Session { return f.newCh }
func (f *fakeSource) DeadSessions() <-chan uint64      { return f.deadCh }

// arena wires the fixed-step pipeline the server runs, minus the network.
type arena struct {
	wall     *wall
	clock    *clock.Clock
	col      *collision.System
	world    *world.State
	bus      *event.Bus
	metrics  *metrics.Metrics
	runner   *coresys.Runner
	loop     *Loop
	snaps    *SnapshotSystem
	persist  *PersistenceSystem
	combat   *fakeCombatLog
	recorded int
}

func (a *arena) Record(*snapshot.Snapshot) error {
	a.recorded++
	return nil
}

func newArena(t *testing.T) *arena {
	t.Helper()
	attacks, err := data.LoadAttackTable("")
	require.NoError(t, err)

	a := &arena{wall: newWall(), bus: event.NewBus(), combat: &fakeCombatLog{}}
	a.clock = clock.New(clock.Config{SimDt: simDt}, a.wall.now)
	a.col = collision.New(8)
	ctl := avatar.NewController(a.col, attacks, avatar.DefaultTuning(), zap.NewNop())
	a.world = world.NewState(ctl, 12, zap.NewNop())
	a.metrics = newTestMetrics(t)

	a.snaps = NewSnapshotSystem(a.world, a.clock, snapshot.NewBuffer(snapshot.DefaultFrames), a, zap.NewNop())
	a.persist = NewPersistenceSystem(a.bus, a.combat, zap.NewNop(), 1)

	a.runner = coresys.NewRunner()
	a.runner.Register(NewEventDispatchSystem(a.bus))
	a.runner.Register(NewCollisionClearSystem(a.col))
	a.runner.Register(NewAvatarSystem(a.world, a.clock))
	a.runner.Register(NewCombatSystem(a.world, a.clock, a.bus, a.metrics, zap.NewNop()))
	a.runner.Register(a.snaps)
	a.runner.Register(a.persist)
	a.runner.Register(NewCleanupSystem(ctl, a.metrics))

	a.loop = NewLoop(a.clock, a.runner, a.metrics, zap.NewNop())
	a.loop.DisplayTick() // latch the wall clock
	return a
}

func (a *arena) step(n int) {
	for i := 0; i < n; i++ {
		a.wall.advance(simDt)
		a.loop.DisplayTick()
	}
}

func (a *arena) place(t *testing.T, name string, origin, facing mgl32.Vec3) (*world.PlayerInfo, *avatar.Avatar) {
	t.Helper()
	p, err := a.world.AddBot(name, a.clock.SimFrame())
	require.NoError(t, err)
	av, ok := a.world.Avatars.Get(p.Handle)
	require.True(t, ok)
	av.Origin = origin
	av.Orientation = facing
	return p, av
}

func TestLoopRunsOneStepPerFixedFrame(t *testing.T) {
	w := newWall()
	c := clock.New(clock.Config{SimDt: simDt}, w.now)
	r := coresys.NewRunner()
	input := &countingSystem{phase: coresys.PhaseInput}
	update := &countingSystem{phase: coresys.PhaseUpdate}
	r.Register(input)
	r.Register(update)
	m := newTestMetrics(t)
	loop := NewLoop(c, r, m, zap.NewNop())

	published := 0
	loop.AfterTick(func() { published++ })

	assert.Equal(t, 0, loop.DisplayTick(), "first tick only latches")
	assert.Equal(t, 1, input.calls)
	assert.Equal(t, 0, update.calls)

	w.advance(simDt)
	assert.Equal(t, 1, loop.DisplayTick())
	assert.Equal(t, int32(1), c.SimFrame())

	w.advance(3 * simDt)
	assert.Equal(t, 3, loop.DisplayTick())
	assert.Equal(t, int32(4), c.SimFrame())
	assert.Equal(t, 4, update.calls)

	totals := m.Totals()
	assert.Equal(t, int64(4), totals.FixedSteps)
	assert.Equal(t, int64(1), totals.CatchUpTicks)
	assert.Equal(t, 3, published)
}

func TestLoopPausedServesInputOnly(t *testing.T) {
	w := newWall()
	c := clock.New(clock.Config{SimDt: simDt}, w.now)
	r := coresys.NewRunner()
	input := &countingSystem{phase: coresys.PhaseInput}
	update := &countingSystem{phase: coresys.PhaseUpdate}
	r.Register(input)
	r.Register(update)
	loop := NewLoop(c, r, nil, zap.NewNop())
	loop.DisplayTick()

	c.SetPaused(true)
	for i := 0; i < 5; i++ {
		w.advance(simDt)
		assert.Equal(t, 0, loop.DisplayTick())
	}
	assert.Equal(t, 6, input.calls)
	assert.Equal(t, 0, update.calls)

	c.Step(float64(simDt / time.Millisecond))
	w.advance(simDt)
	assert.Equal(t, 1, loop.DisplayTick())
	assert.Equal(t, 1, update.calls)
}

func TestPipelineSideAttackLandsAndIsLogged(t *testing.T) {
	a := newArena(t)
	attacker, _ := a.place(t, "artemis", mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 0, 1})
	victim, va := a.place(t, "selene", mgl32.Vec3{0, 0, 1.2}, mgl32.Vec3{0, 0, -1})

	a.world.Avatars.SetInput(attacker.Handle, avatar.Input{
		Frame:         a.clock.SimFrame(),
		CameraForward: mgl32.Vec3{0, 0, 1},
		Actions:       avatar.ActionAttackSide,
	})
	a.step(1)
	a.world.Avatars.SetInput(attacker.Handle, avatar.Input{CameraForward: mgl32.Vec3{0, 0, 1}})

	for i := 0; i < 30 && va.State != avatar.StateStruck; i++ {
		a.step(1)
	}
	require.Equal(t, avatar.StateStruck, va.State)
	assert.GreaterOrEqual(t, a.metrics.Totals().Hits, int64(1))

	// The struck event reaches the combat log on the following step.
	a.step(2)
	require.NotEmpty(t, a.combat.hits)
	hit := a.combat.hits[0]
	assert.Equal(t, victim.Slot, hit.Victim)
	assert.Equal(t, attacker.Slot, hit.Attacker)
	assert.Equal(t, "slash", hit.Attack)

	cur := a.snaps.Current()
	assert.Equal(t, a.clock.SimFrame(), cur.Frame)
	assert.Len(t, cur.Entities, 2)
	assert.NotNil(t, a.snaps.Packet())
	latest, ok := a.snaps.History().Latest()
	require.True(t, ok)
	assert.Equal(t, cur.Frame, latest)
	assert.Equal(t, int(a.clock.SimFrame()), a.recorded)
	assert.Equal(t, int64(2), a.metrics.Totals().Players)
}

func TestThreeAttackersOnOneVictim(t *testing.T) {
	a := newArena(t)
	victim, va := a.place(t, "selene", mgl32.Vec3{}, mgl32.Vec3{0, 0, 1})

	var attackers []*world.PlayerInfo
	for i, name := range []string{"artemis", "mani", "chang'e"} {
		angle := float64(i) * 2 * math.Pi / 3
		dir := mgl32.Vec3{float32(math.Sin(angle)), 0, float32(math.Cos(angle))}
		p, _ := a.place(t, name, dir.Mul(1.2), dir.Mul(-1))
		a.world.Avatars.SetInput(p.Handle, avatar.Input{
			Frame:         a.clock.SimFrame(),
			CameraForward: dir.Mul(-1),
			Actions:       avatar.ActionAttackSide,
		})
		attackers = append(attackers, p)
	}

	require.NotPanics(t, func() {
		for i := 0; i < 30 && va.State != avatar.StateStruck; i++ {
			a.step(1)
		}
	})
	require.Equal(t, avatar.StateStruck, va.State)

	seen := map[int]bool{}
	for _, rec := range va.HitBy {
		assert.False(t, seen[rec.Attacker], "one record per attacker")
		seen[rec.Attacker] = true
		assert.NotEqual(t, victim.Slot, rec.Attacker)
	}
	assert.NotEmpty(t, seen)
	for k := range seen {
		found := false
		for _, p := range attackers {
			found = found || p.Slot == k
		}
		assert.True(t, found, "slot %d is not an attacker", k)
	}
}

func TestSnapshotHistoryInterpolates(t *testing.T) {
	a := newArena(t)
	a.place(t, "runner", mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 0, 1})
	a.step(10)

	var out snapshot.Snapshot
	require.NoError(t, a.snaps.History().Lerp(8.5, &out))
	assert.True(t, out.Avatars[0].Flags != 0)
	assert.ErrorIs(t, a.snaps.History().Lerp(40, &out), snapshot.ErrNoExtrapolation)
}

func TestPersistenceKeepsFailedBatches(t *testing.T) {
	bus := event.NewBus()
	repo := &fakeCombatLog{fail: true}
	s := NewPersistenceSystem(bus, repo, zap.NewNop(), 2)

	event.Emit(bus, event.AvatarJoined{Slot: 1, Name: "bot-1", Bot: true})
	event.Emit(bus, event.AvatarStruck{Frame: 9, Victim: 1, Attacker: 0, AttackName: "cleave"})
	bus.SwapBuffers()
	bus.DispatchAll()
	assert.Equal(t, 2, s.Pending())

	s.Update(simDt)
	assert.Equal(t, 2, s.Pending(), "not yet due")
	s.Update(simDt)
	assert.Equal(t, 2, s.Pending(), "write failed")

	repo.fail = false
	s.Flush()
	assert.Zero(t, s.Pending())
	require.Len(t, repo.hits, 1)
	assert.Equal(t, int32(9), repo.hits[0].Frame)
	require.Len(t, repo.presence, 1)
	assert.True(t, repo.presence[0].Joined)
}

func TestSpawnBotsNamesAndAnnounces(t *testing.T) {
	a := newArena(t)
	var joined []event.AvatarJoined
	event.Subscribe(a.bus, func(e event.AvatarJoined) { joined = append(joined, e) })

	n, err := SpawnBots(a.world, a.bus, []string{"hecate", ""}, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NotNil(t, a.world.GetByName("hecate"))
	assert.NotNil(t, a.world.GetByName("bot-2"))
	assert.NotNil(t, a.world.GetByName("bot-3"))

	a.bus.SwapBuffers()
	a.bus.DispatchAll()
	require.Len(t, joined, 3)
	assert.True(t, joined[0].Bot)

	n, err = SpawnBots(a.world, a.bus, []string{"hecate"}, 1, 0)
	assert.Error(t, err)
	assert.Zero(t, n)
}

func TestBotSystemDrivesBots(t *testing.T) {
	a := newArena(t)
	engine, err := scripting.NewEngineFromSource(`
function bot_think(ctx)
  return { move_x = 0, move_z = 1, attack = "side" }
end`, zap.NewNop())
	require.NoError(t, err)
	defer engine.Close()

	p, av := a.place(t, "brain", mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 0, 1})
	a.runner.Register(NewBotSystem(a.world, a.clock, engine))
	a.step(1)

	assert.Equal(t, a.clock.SimFrame(), av.Input.Frame)
	assert.True(t, av.Input.Has(avatar.ActionAttackSide))
	assert.Equal(t, avatar.StateAttackSide, av.State)
	assert.True(t, p.Bot)
}

type inputFixture struct {
	source *fakeSource
	store  *net.SessionStore
	deps   *handler.Deps
	input  *InputSystem
}

func newInputFixture(t *testing.T) *inputFixture {
	t.Helper()
	attacks, err := data.LoadAttackTable("")
	require.NoError(t, err)
	ctl := avatar.NewController(collision.New(8), attacks, avatar.DefaultTuning(), zap.NewNop())
	deps := &handler.Deps{
		Config: config.Default(),
		Log:    zap.NewNop(),
		World:  world.NewState(ctl, 12, zap.NewNop()),
		Clock:  clock.New(clock.Config{SimDt: simDt}, nil),
		Bus:    event.NewBus(),
	}
	reg := packet.NewRegistry(zap.NewNop())
	handler.RegisterAll(reg, deps)
	f := &inputFixture{source: newFakeSource(), store: net.NewSessionStore(), deps: deps}
	f.input = NewInputSystem(f.source, reg, f.store, 4, deps, zap.NewNop())
	return f
}

func joinPacket(name string) []byte {
	w := packet.NewWriterWithOpcode(packet.C_OPCODE_JOIN)
	w.WriteS(name)
	w.WriteS("")
	return w.Bytes()
}

func TestInputSystemJoinsAndReleasesSessions(t *testing.T) {
	f := newInputFixture(t)
	sess := nettest.NewSession(5)
	sess.InQueue <- joinPacket("selene")
	f.source.newCh <- sess

	f.input.Update(simDt)
	assert.Equal(t, 1, f.store.Count())
	require.NotNil(t, f.deps.World.GetBySession(5))
	assert.Equal(t, packet.StateInWorld, sess.State())

	out := nettest.Sent(sess)
	require.Len(t, out, 1)
	assert.Equal(t, packet.S_OPCODE_WELCOME, packet.NewReader(out[0]).Opcode())

	sess.Close()
	f.source.deadCh <- 5
	f.input.Update(simDt)
	assert.Zero(t, f.store.Count())
	assert.Nil(t, f.deps.World.GetBySession(5))
	assert.Equal(t, 1, f.deps.World.Avatars.Flush())
}

func TestInputSystemCapsPacketsPerSession(t *testing.T) {
	f := newInputFixture(t)
	sess := nettest.NewSession(6)
	f.source.newCh <- sess
	for i := 0; i < 6; i++ {
		w := packet.NewWriterWithOpcode(packet.C_OPCODE_PING)
		w.WriteT(float64(i))
		sess.InQueue <- w.Bytes()
	}

	f.input.Update(simDt)
	assert.Len(t, nettest.Sent(sess), 4)
	f.input.Update(simDt)
	assert.Len(t, nettest.Sent(sess), 2)
}

func TestOutputSendsClockEveryInterval(t *testing.T) {
	a := newArena(t)
	store := net.NewSessionStore()
	sess := nettest.NewSession(1)
	store.Add(sess)
	_, err := a.world.Join(sess, "selene", 0)
	require.NoError(t, err)

	out := NewOutputSystem(a.world, store, a.clock, a.snaps, 3*simDt)
	a.runner.Register(out)

	var opcodes []byte
	for i := 0; i < 3; i++ {
		a.step(1)
		for _, p := range nettest.Sent(sess) {
			opcodes = append(opcodes, packet.NewReader(p).Opcode())
		}
	}
	assert.Equal(t, []byte{
		packet.S_OPCODE_SNAPSHOT,
		packet.S_OPCODE_SNAPSHOT,
		packet.S_OPCODE_SNAPSHOT, packet.S_OPCODE_CLOCK,
	}, opcodes)
}
