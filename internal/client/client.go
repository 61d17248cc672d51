// Package client is the duel client core: it keeps its own clock running
// ahead of the server for input and behind it for display, buffers incoming
// snapshots and interpolates the world at the render frame.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/moonduel/server/internal/avatar"
	"github.com/moonduel/server/internal/clock"
	"github.com/moonduel/server/internal/config"
	"github.com/moonduel/server/internal/metrics"
	"github.com/moonduel/server/internal/net/packet"
	"github.com/moonduel/server/internal/snapshot"
)

var (
	ErrRejected = errors.New("join rejected")
	ErrClosed   = errors.New("connection closed")
)

// Conn is the part of *websocket.Conn the client uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// InputSource produces the input for one fixed frame. view is the latest
// interpolated world, nil before the first successful interpolation.
type InputSource func(frame int32, view *snapshot.Snapshot) avatar.Input

// Options tunes a Client.
type Options struct {
	Name         string
	Password     string
	SimDt        time.Duration // used until S_WELCOME names the server's
	ClientDelay  time.Duration
	RenderDelay  time.Duration
	PingInterval time.Duration
	BufferFrames int
}

// OptionsFromConfig maps the [client] and [snapshot] sections.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Name:         cfg.Client.Name,
		Password:     cfg.Client.Password,
		SimDt:        cfg.Clock.SimTick,
		ClientDelay:  cfg.Client.ClientDelay,
		RenderDelay:  cfg.Client.RenderDelay,
		PingInterval: cfg.Client.PingInterval,
		BufferFrames: cfg.Snapshot.BufferFrames,
	}
}

// Client is driven from a single goroutine through Tick; only the reader
// goroutine started by Start touches the connection concurrently.
type Client struct {
	conn    Conn
	opts    Options
	clock   *clock.Clock
	buf     *snapshot.Buffer
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
	input   InputSource

	afterTick func()

	inbox      chan []byte
	errCh      chan error
	done       chan struct{}
	readerDone chan struct{}
	closeOnce  sync.Once

	slot       int
	joined     bool
	display    snapshot.Snapshot
	hasDisplay bool
	lastPing   time.Time
	rtt        float64
	sent       int32
}

// Dial connects to url, sends C_JOIN and starts the reader.
func Dial(ctx context.Context, url string, opts Options, m *metrics.Metrics, log *zap.Logger) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := New(conn, opts, nil, m, log)
	if err := c.Join(); err != nil {
		conn.Close()
		return nil, err
	}
	c.Start()
	return c, nil
}

// New wraps an established connection. now is the wall clock; nil means
// time.Now.
func New(conn Conn, opts Options, now func() time.Time, m *metrics.Metrics, log *zap.Logger) *Client {
	if now == nil {
		now = time.Now
	}
	if opts.SimDt <= 0 {
		opts.SimDt = 16 * time.Millisecond
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 2 * time.Second
	}
	return &Client{
		conn: conn,
		opts: opts,
		clock: clock.New(clock.Config{
			SimDt:       opts.SimDt,
			ClientDelay: opts.ClientDelay,
			RenderDelay: opts.RenderDelay,
		}, now),
		buf:     snapshot.NewBuffer(opts.BufferFrames),
		metrics: m,
		log:     log,
		now:     now,
		input:   idleInput,
		inbox:      make(chan []byte, 256),
		errCh:      make(chan error, 1),
		done:       make(chan struct{}),
		readerDone: make(chan struct{}),
		slot:       -1,
	}
}

func idleInput(frame int32, _ *snapshot.Snapshot) avatar.Input {
	return avatar.Input{Frame: frame, CameraForward: mgl32.Vec3{0, 0, 1}}
}

// SetInputSource replaces the idle default.
func (c *Client) SetInputSource(src InputSource) {
	if src == nil {
		src = idleInput
	}
	c.input = src
}

func (c *Client) Clock() *clock.Clock      { return c.clock }
func (c *Client) Buffer() *snapshot.Buffer { return c.buf }
func (c *Client) Joined() bool             { return c.joined }
func (c *Client) Slot() int                { return c.slot }
func (c *Client) Errors() <-chan error     { return c.errCh }

// RTT is the last measured ping round trip in ms.
func (c *Client) RTT() float64 { return c.rtt }

// LastSentFrame is the newest frame an input was sent for.
func (c *Client) LastSentFrame() int32 { return c.sent }

func (c *Client) write(data []byte) error {
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// AfterTick registers fn to run after every successful Tick inside Run.
func (c *Client) AfterTick(fn func()) {
	c.afterTick = fn
}

// Display returns the world as of the render frame. ok is false until the
// first interpolation succeeds; afterwards a failed interpolation keeps the
// previous state.
func (c *Client) Display() (*snapshot.Snapshot, bool) {
	return &c.display, c.hasDisplay
}

// Join sends C_JOIN.
func (c *Client) Join() error {
	w := packet.NewWriterWithOpcode(packet.C_OPCODE_JOIN)
	w.WriteS(c.opts.Name)
	w.WriteS(c.opts.Password)
	if err := c.write(w.Bytes()); err != nil {
		return fmt.Errorf("send join: %w", err)
	}
	return nil
}

// Leave sends C_LEAVE and closes the connection.
func (c *Client) Leave() error {
	err := c.write([]byte{packet.C_OPCODE_LEAVE})
	c.Close()
	return err
}

// Close closes the connection and releases the reader goroutine even when
// nothing drains the inbox any more. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return c.conn.Close()
}

// Start launches the reader goroutine.
func (c *Client) Start() {
	go c.readLoop()
}

func (c *Client) readLoop() {
	defer close(c.readerDone)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case c.errCh <- fmt.Errorf("%w: %v", ErrClosed, err):
			case <-c.done:
			}
			return
		}
		if len(data) == 0 {
			continue
		}
		select {
		case c.inbox <- data:
		case <-c.done:
			return
		}
	}
}

// Tick drains received packets, sends one C_INPUT per fixed frame that came
// due and refreshes the display state. Before S_WELCOME only packets are
// processed.
func (c *Client) Tick() error {
	for {
		select {
		case p := <-c.inbox:
			if err := c.Handle(p); err != nil {
				return err
			}
		default:
			goto drained
		}
	}
drained:

	if !c.joined {
		return nil
	}
	c.clock.Tick()
	for c.clock.UpdateFixed() {
		frame := c.clock.SimFrame()
		var view *snapshot.Snapshot
		if c.hasDisplay {
			view = &c.display
		}
		if err := c.write(EncodeInput(c.input(frame, view))); err != nil {
			return fmt.Errorf("send input: %w", err)
		}
		c.sent = frame
	}
	if c.now().Sub(c.lastPing) >= c.opts.PingInterval {
		if err := c.ping(); err != nil {
			return err
		}
	}
	c.interpolate()
	return nil
}

func (c *Client) ping() error {
	w := packet.NewWriterWithOpcode(packet.C_OPCODE_PING)
	w.WriteT(c.clock.ServerTime())
	if err := c.write(w.Bytes()); err != nil {
		return fmt.Errorf("send ping: %w", err)
	}
	c.lastPing = c.now()
	return nil
}

func (c *Client) interpolate() {
	renderFrame := c.clock.RenderFrame()
	if err := c.buf.Lerp(renderFrame, &c.display); err != nil {
		reason := "other"
		switch {
		case errors.Is(err, snapshot.ErrNoExtrapolation):
			reason = "no_extrapolation"
		case errors.Is(err, snapshot.ErrNoData):
			reason = "no_data"
		}
		c.log.Warn("快照內插失敗，沿用上一幀",
			zap.Float64("render_frame", renderFrame),
			zap.Error(err),
		)
		if c.metrics != nil {
			c.metrics.LerpMiss(reason)
		}
		return
	}
	c.hasDisplay = true
}

// Handle processes one server packet.
func (c *Client) Handle(p []byte) error {
	r := packet.NewReader(p)
	switch op := r.Opcode(); op {
	case packet.S_OPCODE_WELCOME:
		return c.handleWelcome(r)
	case packet.S_OPCODE_REJECT:
		reason := r.ReadS()
		return fmt.Errorf("%w: %s", ErrRejected, reason)
	case packet.S_OPCODE_SNAPSHOT:
		return c.handleSnapshot(r)
	case packet.S_OPCODE_CLOCK:
		c.handleClock(r)
		return nil
	default:
		c.log.Debug("未知的伺服器封包", zap.Uint8("opcode", op))
		return nil
	}
}

// Format: [C slot][F simDt ms][Q serverTime ms]
func (c *Client) handleWelcome(r *packet.Reader) error {
	slotIdx := int(r.ReadC())
	simDt := r.ReadF()
	serverTime := r.ReadT()
	if r.Short() || simDt <= 0 {
		return errors.New("malformed welcome")
	}
	c.slot = slotIdx
	c.clock.SetSimDt(time.Duration(float64(simDt) * float64(time.Millisecond)))
	c.clock.SyncToServerTime(serverTime)
	c.lastPing = c.now()
	c.joined = true
	c.log.Info("已加入決鬥場",
		zap.Int("slot", slotIdx),
		zap.Float32("sim_dt_ms", simDt),
		zap.Float64("server_time", serverTime),
	)
	return nil
}

func (c *Client) handleSnapshot(r *packet.Reader) error {
	s, err := snapshot.Decode(r)
	if err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if !c.buf.Accepts(s.Frame) {
		c.log.Debug("快照過舊，丟棄", zap.Int32("frame", s.Frame))
		return nil
	}
	if err := c.buf.Set(s); err != nil {
		return fmt.Errorf("buffer snapshot %d: %w", s.Frame, err)
	}
	return nil
}

// Format: [Q serverTime ms][Q echoed ms]. A non-zero echo answers our
// C_PING; half the round trip is added to the authoritative time.
func (c *Client) handleClock(r *packet.Reader) {
	serverTime := r.ReadT()
	echo := r.ReadT()
	if r.Short() || !c.joined {
		return
	}
	if echo > 0 {
		if rtt := c.clock.ServerTime() - echo; rtt >= 0 {
			c.rtt = rtt
			serverTime += rtt / 2
		}
	}
	delta := c.clock.SyncToServerTime(serverTime)
	c.log.Debug("時鐘同步", zap.Float64("delta_ms", delta), zap.Float64("rtt_ms", c.rtt))
}

// Run ticks every interval until ctx is done or the connection fails. On
// cancellation it leaves the arena. The client is closed when Run returns.
func (c *Client) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer c.Close()
	for {
		select {
		case <-ticker.C:
			if err := c.Tick(); err != nil {
				return err
			}
			if c.afterTick != nil {
				c.afterTick()
			}
		case err := <-c.errCh:
			return err
		case <-ctx.Done():
			return c.Leave()
		}
	}
}

// EncodeInput builds a C_INPUT packet.
// Format: [opcode][D frame][F horizontal][F vertical][F camX][F camZ][H actions]
func EncodeInput(in avatar.Input) []byte {
	w := packet.NewWriterWithOpcode(packet.C_OPCODE_INPUT)
	w.WriteD(in.Frame)
	w.WriteF(in.Horizontal)
	w.WriteF(in.Vertical)
	w.WriteF(in.CameraForward.X())
	w.WriteF(in.CameraForward.Z())
	w.WriteH(uint16(in.Actions))
	return w.Bytes()
}
