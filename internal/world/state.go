package world

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"

	"github.com/moonduel/server/internal/avatar"
	"github.com/moonduel/server/internal/core/slot"
	"github.com/moonduel/server/internal/net"
	"github.com/moonduel/server/internal/snapshot"
)

var (
	ErrNameTaken     = errors.New("name already in use")
	ErrAlreadyJoined = errors.New("session already joined")
)

// Entity IDs for weapons start here; the weapon of slot i is WeaponIDBase+i.
const (
	WeaponIDBase  = 100
	WeaponModelID = 1
)

// PlayerInfo links one avatar slot to whoever drives it.
// Game loop goroutine only.
type PlayerInfo struct {
	SessionID uint64       // 0 for bots
	Session   *net.Session // nil for bots
	Handle    slot.Handle
	Slot      int
	Name      string
	Bot       bool

	JoinedFrame    int32
	LastInputFrame int32 // frame tag of the newest accepted C_INPUT
}

// State is the in-memory world: the avatar controller plus who owns each
// slot. Game loop only.
type State struct {
	Avatars *avatar.Controller

	bySession map[uint64]*PlayerInfo
	byName    map[string]*PlayerInfo
	bySlot    [snapshot.MaxAvatars]*PlayerInfo

	arenaRadius float32
	entities    []snapshot.NetObject
	log         *zap.Logger
}

// NewState also bounds the controller's avatars to the arena.
func NewState(avatars *avatar.Controller, arenaRadius float32, log *zap.Logger) *State {
	avatars.SetArenaRadius(arenaRadius)
	return &State{
		Avatars:     avatars,
		bySession:   make(map[uint64]*PlayerInfo),
		byName:      make(map[string]*PlayerInfo),
		arenaRadius: arenaRadius,
		entities:    make([]snapshot.NetObject, 0, snapshot.MaxAvatars),
		log:         log,
	}
}

func (s *State) ArenaRadius() float32 { return s.arenaRadius }

// Join spawns an avatar for a session.
func (s *State) Join(sess *net.Session, name string, frame int32) (*PlayerInfo, error) {
	if _, ok := s.bySession[sess.ID]; ok {
		return nil, ErrAlreadyJoined
	}
	p, err := s.spawn(name, frame)
	if err != nil {
		return nil, err
	}
	p.SessionID = sess.ID
	p.Session = sess
	s.bySession[sess.ID] = p
	return p, nil
}

// AddBot spawns a script-driven avatar.
func (s *State) AddBot(name string, frame int32) (*PlayerInfo, error) {
	p, err := s.spawn(name, frame)
	if err != nil {
		return nil, err
	}
	p.Bot = true
	return p, nil
}

func (s *State) spawn(name string, frame int32) (*PlayerInfo, error) {
	if _, ok := s.byName[name]; ok {
		return nil, fmt.Errorf("join %q: %w", name, ErrNameTaken)
	}
	// Reserve the slot first so the spawn point can depend on it.
	h, err := s.Avatars.Spawn(frame, mgl32.Vec3{}, mgl32.Vec3{0, 0, 1})
	if err != nil {
		return nil, fmt.Errorf("join %q: %w", name, err)
	}
	idx := h.Index()
	if a, ok := s.Avatars.Get(h); ok {
		a.Origin, a.Orientation = SpawnPoint(idx, s.arenaRadius)
	}
	p := &PlayerInfo{
		Handle:         h,
		Slot:           idx,
		Name:           name,
		JoinedFrame:    frame,
		LastInputFrame: frame,
	}
	s.byName[name] = p
	s.bySlot[idx] = p
	s.log.Info("玩家進入決鬥場", zap.String("name", name), zap.Int("slot", idx))
	return p, nil
}

// Leave despawns the avatar of a session. Returns nil if the session never
// joined or already left.
func (s *State) Leave(sessionID uint64) *PlayerInfo {
	p, ok := s.bySession[sessionID]
	if !ok {
		return nil
	}
	delete(s.bySession, sessionID)
	s.remove(p)
	return p
}

// RemoveBot despawns a bot by slot.
func (s *State) RemoveBot(idx int) *PlayerInfo {
	p := s.GetBySlot(idx)
	if p == nil || !p.Bot {
		return nil
	}
	s.remove(p)
	return p
}

func (s *State) remove(p *PlayerInfo) {
	delete(s.byName, p.Name)
	s.bySlot[p.Slot] = nil
	s.Avatars.Despawn(p.Handle)
	s.log.Info("玩家離開決鬥場", zap.String("name", p.Name), zap.Int("slot", p.Slot))
}

func (s *State) GetBySession(sessionID uint64) *PlayerInfo {
	return s.bySession[sessionID]
}

func (s *State) GetByName(name string) *PlayerInfo {
	return s.byName[name]
}

func (s *State) GetBySlot(idx int) *PlayerInfo {
	if idx < 0 || idx >= len(s.bySlot) {
		return nil
	}
	return s.bySlot[idx]
}

// PlayerCount counts occupied slots, bots included.
func (s *State) PlayerCount() int {
	return len(s.byName)
}

// AllPlayers iterates occupied slots in slot order.
func (s *State) AllPlayers(fn func(*PlayerInfo)) {
	for _, p := range s.bySlot {
		if p != nil {
			fn(p)
		}
	}
}

// Bots iterates bot players in slot order.
func (s *State) Bots(fn func(*PlayerInfo)) {
	s.AllPlayers(func(p *PlayerInfo) {
		if p.Bot {
			fn(p)
		}
	})
}

// Capture fills out with the world as of frame: every avatar slot and one
// weapon entity parented to each active avatar.
func (s *State) Capture(frame int32, out *snapshot.Snapshot) {
	out.Frame = frame
	s.Avatars.Capture(out)
	s.entities = s.entities[:0]
	s.Avatars.Each(func(h slot.Handle, a *avatar.Avatar) {
		if !a.Active() {
			return
		}
		s.entities = append(s.entities, snapshot.NetObject{
			ID:          int16(WeaponIDBase + h.Index()),
			ParentID:    int16(h.Index()),
			HasParent:   true,
			ModelID:     WeaponModelID,
			Origin:      a.Origin.Add(a.Orientation.Mul(0.3)).Add(mgl32.Vec3{0, 1.1, 0}),
			Orientation: a.Orientation,
		})
	})
	out.Entities = append(out.Entities[:0], s.entities...)
}

// SpawnPoint places slot idx on a ring at half the arena radius, facing the
// centre.
func SpawnPoint(idx int, arenaRadius float32) (origin, facing mgl32.Vec3) {
	r := arenaRadius / 2
	if r <= 0 {
		r = 3
	}
	angle := 2 * math.Pi * float64(idx) / float64(snapshot.MaxAvatars)
	sin, cos := math.Sincos(angle)
	origin = mgl32.Vec3{r * float32(cos), 0, r * float32(sin)}
	facing = origin.Mul(-1).Normalize()
	return origin, facing
}
