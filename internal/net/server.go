package net

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/remeh/sizedwaitgroup"
	"github.com/sasha-s/go-deadlock"
	"go.uber.org/zap"
)

// Server upgrades websocket connections and creates Sessions.
// New/dead sessions are communicated to the game loop via channels.
type Server struct {
	listener net.Listener
	httpSrv  *http.Server
	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	newConns chan *Session
	deadCh   chan uint64 // session IDs of dead sessions
	opts     Options
	log      *zap.Logger

	mu   deadlock.Mutex
	live map[uint64]*Session
}

func NewServer(bindAddr string, opts Options, log *zap.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, err
	}
	if opts.Path == "" {
		opts.Path = "/"
	}
	s := &Server{
		listener: ln,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		newConns: make(chan *Session, 64),
		deadCh:   make(chan uint64, 64),
		opts:     opts,
		log:      log,
		live:     make(map[uint64]*Session),
	}
	mux := http.NewServeMux()
	mux.Handle(opts.Path, s)
	s.httpSrv = &http.Server{Handler: mux}
	return s, nil
}

// Serve runs the HTTP server until Shutdown. Run it in its own goroutine.
func (s *Server) Serve() error {
	if err := s.httpSrv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("websocket serve: %w", err)
	}
	return nil
}

// ServeHTTP upgrades the request, starts a session and hands it to the game
// loop.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket 升級失敗", zap.Error(err))
		return
	}

	id := s.nextID.Add(1)
	sess := NewSession(conn, id, s.opts, s.log)
	sess.onClose = s.forget

	s.mu.Lock()
	s.live[id] = sess
	s.mu.Unlock()

	sess.Start()
	s.log.Info(fmt.Sprintf("玩家連線  session=%d  ip=%s", id, sess.IP))

	select {
	case s.newConns <- sess:
	default:
		s.log.Warn("連線佇列已滿，拒絕新連線")
		sess.Close()
	}
}

func (s *Server) forget(id uint64) {
	s.mu.Lock()
	delete(s.live, id)
	s.mu.Unlock()
	s.NotifyDead(id)
}

// NewSessions returns the channel of newly connected sessions.
func (s *Server) NewSessions() <-chan *Session {
	return s.newConns
}

// NotifyDead reports a dead session ID to the game loop.
func (s *Server) NotifyDead(sessionID uint64) {
	select {
	case s.deadCh <- sessionID:
	default:
		s.log.Warn("斷線佇列已滿", zap.Uint64("session", sessionID))
	}
}

// DeadSessions returns the channel of dead session IDs.
func (s *Server) DeadSessions() <-chan uint64 {
	return s.deadCh
}

// LiveCount returns the number of open sessions.
func (s *Server) LiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Shutdown stops accepting connections and closes every open session,
// at most CloseConcurrency at a time.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpSrv.Shutdown(ctx)

	s.mu.Lock()
	open := make([]*Session, 0, len(s.live))
	for _, sess := range s.live {
		open = append(open, sess)
	}
	s.mu.Unlock()

	limit := s.opts.CloseConcurrency
	if limit <= 0 {
		limit = 1
	}
	swg := sizedwaitgroup.New(limit)
	for _, sess := range open {
		if werr := swg.AddWithContext(ctx); werr != nil {
			err = errors.Join(err, werr)
			break
		}
		go func(sess *Session) {
			defer swg.Done()
			sess.Close()
		}(sess)
	}
	swg.Wait()
	return err
}

// Addr returns the listener's address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
