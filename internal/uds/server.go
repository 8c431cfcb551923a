package uds

import (
	"context"
	"fmt"
	"net"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/msageha/orchestra/internal/logging"
)

// HandlerFunc serves one request. ctx is cancelled when the server stops or
// the connection deadline passes.
type HandlerFunc func(ctx context.Context, req *Request) *Response

type Server struct {
	socketPath  string
	listener    net.Listener
	handlers    map[string]HandlerFunc
	mu          sync.RWMutex
	connTimeout time.Duration
	logger      *logging.Logger
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	stopOnce    sync.Once
}

func NewServer(socketPath string, logger *logging.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		socketPath:  socketPath,
		handlers:    make(map[string]HandlerFunc),
		connTimeout: 30 * time.Second,
		logger:      logger.With("uds"),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (s *Server) SetConnTimeout(d time.Duration) {
	s.connTimeout = d
}

func (s *Server) Handle(command string, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[command] = handler
}

// Commands lists registered command names.
func (s *Server) Commands() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.handlers))
	for name := range s.handlers {
		names = append(names, name)
	}
	return names
}

func (s *Server) Start() error {
	// Remove stale socket file
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}
	s.listener = listener

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener, waits for in-flight connections and removes the
// socket file. Safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		if s.listener != nil {
			_ = s.listener.Close()
		}
		s.wg.Wait()
		_ = os.Remove(s.socketPath)
	})
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Warnf("accept error: %v", err)
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() { _ = conn.Close() }()

	deadline := time.Now().Add(s.connTimeout)
	_ = conn.SetDeadline(deadline)
	ctx, cancel := context.WithDeadline(s.ctx, deadline)
	defer cancel()

	var req Request
	if err := ReadFrame(conn, &req); err != nil {
		s.logger.Debugf("read request error: %v", err)
		return
	}

	resp := s.processRequest(ctx, &req)
	if err := WriteFrame(conn, resp); err != nil {
		s.logger.Warnf("write response command=%s error=%v", req.Command, err)
	}
}

func (s *Server) processRequest(ctx context.Context, req *Request) (resp *Response) {
	if req.ProtocolVersion != ProtocolVersion {
		return ErrorResponse(
			ErrCodeProtocolMismatch,
			fmt.Sprintf("protocol version mismatch: got %d, expected %d", req.ProtocolVersion, ProtocolVersion),
		)
	}

	s.mu.RLock()
	handler, ok := s.handlers[req.Command]
	s.mu.RUnlock()
	if !ok {
		return ErrorResponse(
			ErrCodeUnknownCommand,
			fmt.Sprintf("unknown command: %q", req.Command),
		)
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("panic in handler command=%s: %v\n%s", req.Command, r, debug.Stack())
			resp = ErrorResponse(ErrCodeInternal, fmt.Sprintf("handler panic: %v", r))
		}
	}()
	resp = handler(ctx, req)
	if resp == nil {
		resp = SuccessResponse(nil)
	}
	return resp
}
