package client

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/moonduel/server/internal/avatar"
	"github.com/moonduel/server/internal/metrics"
	"github.com/moonduel/server/internal/net/packet"
	"github.com/moonduel/server/internal/snapshot"
)

type fakeConn struct {
	mu      sync.Mutex
	written [][]byte
	reads   chan []byte
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan []byte, 16)}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	p, ok := <-f.reads
	if !ok {
		return 0, nil, io.EOF
	}
	return websocket.BinaryMessage, p, nil
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// sent returns the opcodes written so far and forgets them.
func (f *fakeConn) sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.written
	f.written = nil
	return out
}

func opcodes(packets [][]byte) []byte {
	var out []byte
	for _, p := range packets {
		out = append(out, p[0])
	}
	return out
}

type wall struct{ t time.Time }

func (w *wall) now() time.Time          { return w.t }
func (w *wall) advance(d time.Duration) { w.t = w.t.Add(d) }

type fixture struct {
	conn    *fakeConn
	wall    *wall
	metrics *metrics.Metrics
	client  *Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m, err := metrics.NewWithMeter(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	f := &fixture{conn: newFakeConn(), wall: &wall{t: time.Unix(1_700_000_000, 0)}, metrics: m}
	f.client = New(f.conn, Options{
		Name:         "selene",
		SimDt:        20 * time.Millisecond,
		ClientDelay:  -50 * time.Millisecond,
		RenderDelay:  100 * time.Millisecond,
		PingInterval: time.Hour,
		BufferFrames: 64,
	}, f.wall.now, m, zap.NewNop())
	return f
}

func welcome(slot byte, simDt float32, serverTime float64) []byte {
	w := packet.NewWriterWithOpcode(packet.S_OPCODE_WELCOME)
	w.WriteC(slot)
	w.WriteF(simDt)
	w.WriteT(serverTime)
	return w.Bytes()
}

func snapshotAt(t *testing.T, frame int32) []byte {
	t.Helper()
	s := snapshot.Snapshot{Frame: frame}
	s.Avatars[0].Origin = mgl32.Vec3{float32(frame), 0, 0}
	s.Avatars[0].Orientation = mgl32.Vec3{0, 0, 1}
	p, err := snapshot.EncodePacket(&s)
	require.NoError(t, err)
	return p
}

// join handles a welcome at server time 10000 ms with a 16 ms step. The
// first tick snaps client time to 10050 (frame 628) and render time to
// 9900 (frame 618.75).
func (f *fixture) join(t *testing.T) {
	t.Helper()
	require.NoError(t, f.client.Handle(welcome(2, 16, 10000)))
	require.NoError(t, f.client.Tick())
}

func TestJoinSendsNameAndPassword(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.client.Join())

	out := f.conn.sent()
	require.Len(t, out, 1)
	r := packet.NewReader(out[0])
	assert.Equal(t, packet.C_OPCODE_JOIN, r.Opcode())
	assert.Equal(t, "selene", r.ReadS())
	assert.Equal(t, "", r.ReadS())
}

func TestTickIdleBeforeWelcome(t *testing.T) {
	f := newFixture(t)
	f.wall.advance(time.Second)
	require.NoError(t, f.client.Tick())
	assert.False(t, f.client.Joined())
	assert.Empty(t, f.conn.sent())
	assert.Equal(t, -1, f.client.Slot())
}

func TestWelcomeAdoptsServerClock(t *testing.T) {
	f := newFixture(t)
	f.join(t)

	c := f.client
	assert.True(t, c.Joined())
	assert.Equal(t, 2, c.Slot())
	assert.Equal(t, 16.0, c.Clock().SimDt())
	assert.Equal(t, 10050.0, c.Clock().ClientTime())
	assert.Equal(t, int32(628), c.Clock().SimFrame())
	assert.InDelta(t, 618.75, c.Clock().RenderFrame(), 1e-9)
	assert.Empty(t, f.conn.sent(), "a snap skips frames without sending input")
}

func TestOneInputPerFixedFrame(t *testing.T) {
	f := newFixture(t)
	f.join(t)

	var frames []int32
	f.client.SetInputSource(func(frame int32, _ *snapshot.Snapshot) avatar.Input {
		frames = append(frames, frame)
		return avatar.Input{Frame: frame, Vertical: 1, CameraForward: mgl32.Vec3{1, 0, 0}, Actions: avatar.ActionAttackPunch}
	})

	f.wall.advance(48 * time.Millisecond)
	require.NoError(t, f.client.Tick())
	assert.Equal(t, []int32{629, 630, 631}, frames)
	assert.Equal(t, int32(631), f.client.LastSentFrame())

	out := f.conn.sent()
	require.Len(t, out, 3)
	r := packet.NewReader(out[2])
	assert.Equal(t, packet.C_OPCODE_INPUT, r.Opcode())
	assert.Equal(t, int32(631), r.ReadD())
	assert.Zero(t, r.ReadF())
	assert.Equal(t, float32(1), r.ReadF())
	assert.Equal(t, float32(1), r.ReadF())
	assert.Zero(t, r.ReadF())
	assert.Equal(t, uint16(avatar.ActionAttackPunch), r.ReadH())
	assert.False(t, r.Short())
}

func TestInterpolatesAtRenderFrame(t *testing.T) {
	f := newFixture(t)
	for frame := int32(610); frame <= 625; frame++ {
		require.NoError(t, f.client.Handle(snapshotAt(t, frame)))
	}
	f.join(t)

	view, ok := f.client.Display()
	require.True(t, ok)
	assert.InDelta(t, 618.75, view.Avatars[0].Origin.X(), 1e-3)
	assert.Zero(t, f.metrics.Totals().LerpMisses)
}

func TestInterpolationFailureHoldsPreviousState(t *testing.T) {
	f := newFixture(t)
	for frame := int32(610); frame <= 625; frame++ {
		require.NoError(t, f.client.Handle(snapshotAt(t, frame)))
	}
	f.join(t)
	view, _ := f.client.Display()
	held := view.Avatars[0].Origin

	// Render time moves to frame 631.25, past the newest snapshot.
	f.wall.advance(200 * time.Millisecond)
	require.NoError(t, f.client.Tick())

	view, ok := f.client.Display()
	assert.True(t, ok)
	assert.Equal(t, held, view.Avatars[0].Origin)
	assert.Equal(t, int64(1), f.metrics.Totals().LerpMisses)
}

func TestNoDisplayWithoutSnapshots(t *testing.T) {
	f := newFixture(t)
	f.join(t)
	_, ok := f.client.Display()
	assert.False(t, ok)
	assert.Equal(t, int64(1), f.metrics.Totals().LerpMisses)
}

func TestStaleSnapshotIsDropped(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.client.Handle(snapshotAt(t, 600)))
	require.NoError(t, f.client.Handle(snapshotAt(t, 500)))
	assert.False(t, f.client.Buffer().Has(500))
	assert.True(t, f.client.Buffer().Has(600))
}

func TestRejectIsAnError(t *testing.T) {
	f := newFixture(t)
	w := packet.NewWriterWithOpcode(packet.S_OPCODE_REJECT)
	w.WriteS("name_taken")
	err := f.client.Handle(w.Bytes())
	assert.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "name_taken")
}

func TestClockReplyAddsHalfRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.join(t)

	w := packet.NewWriterWithOpcode(packet.S_OPCODE_CLOCK)
	w.WriteT(20000)
	w.WriteT(f.client.Clock().ServerTime() - 40)
	require.NoError(t, f.client.Handle(w.Bytes()))

	assert.Equal(t, 40.0, f.client.RTT())
	assert.Equal(t, 20020.0, f.client.Clock().ServerTime())
}

func TestClockBroadcastSyncsWithoutEcho(t *testing.T) {
	f := newFixture(t)
	f.join(t)

	w := packet.NewWriterWithOpcode(packet.S_OPCODE_CLOCK)
	w.WriteT(12000)
	w.WriteT(0)
	require.NoError(t, f.client.Handle(w.Bytes()))
	assert.Equal(t, 12000.0, f.client.Clock().ServerTime())
	assert.Zero(t, f.client.RTT())
}

func TestPingAfterInterval(t *testing.T) {
	f := newFixture(t)
	f.client.opts.PingInterval = 100 * time.Millisecond
	f.join(t)
	assert.Empty(t, f.conn.sent())

	f.wall.advance(100 * time.Millisecond)
	require.NoError(t, f.client.Tick())
	out := f.conn.sent()
	require.NotEmpty(t, out)
	assert.Equal(t, packet.C_OPCODE_PING, out[len(out)-1][0])

	r := packet.NewReader(out[len(out)-1])
	r.Opcode()
	assert.Equal(t, f.client.Clock().ServerTime(), r.ReadT())
}

func TestRunReturnsOnConnectionLoss(t *testing.T) {
	f := newFixture(t)
	f.client.Start()
	f.conn.reads <- welcome(0, 16, 10000)
	close(f.conn.reads)

	err := f.client.Run(context.Background(), time.Millisecond)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRunLeavesOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, f.client.Run(ctx, time.Hour))
	assert.Equal(t, []byte{packet.C_OPCODE_LEAVE}, opcodes(f.conn.sent()))
	assert.True(t, f.conn.closed)
}

func TestReaderExitsAfterRunReturns(t *testing.T) {
	f := newFixture(t)
	f.client.Start()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, f.client.Run(ctx, time.Hour))

	// One more packet than the inbox holds, with nobody draining it.
	packets := make([][]byte, cap(f.client.inbox)+1)
	for i := range packets {
		packets[i] = snapshotAt(t, int32(i))
	}
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for _, p := range packets {
			select {
			case f.conn.reads <- p:
			case <-stop:
				return
			}
		}
	}()

	select {
	case <-f.client.readerDone:
	case <-time.After(time.Second):
		t.Fatal("reader still blocked on a full inbox")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.client.Close())
	require.NoError(t, f.client.Close())
	assert.True(t, f.conn.closed)
}
