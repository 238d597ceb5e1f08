package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/internal/engine"
	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/pkg/models"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum request size allowed from peer
	maxMessageSize = maxBodyBytes

	// Buffer size for outbound messages
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

var errBusy = errors.New("an optimization is already running on this connection")

// session is one websocket connection; it runs at most one optimization at a time
type session struct {
	id     string
	conn   *websocket.Conn
	send   chan models.StreamMessage
	engine *engine.Engine
	logger *zap.Logger

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

// HandleOptimizeStream upgrades to a websocket that accepts OptimizeRequest frames
// and streams progress events followed by the result of each run
func (h *Handler) HandleOptimizeStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade error", zap.Error(err))
		return
	}

	s := &session{
		id:     uuid.New().String(),
		conn:   conn,
		send:   make(chan models.StreamMessage, sendBufferSize),
		engine: h.engine,
		logger: h.logger,
	}

	ctx, cancel := context.WithCancel(h.ctx)
	h.logger.Info("websocket session opened", zap.String("session", s.id))

	go s.writePump(ctx)
	s.readPump(ctx)

	// Client went away: stop any running search, then the writer
	cancel()
	s.wg.Wait()
	h.logger.Info("websocket session closed", zap.String("session", s.id))
}

func (s *session) readPump(ctx context.Context) {
	defer s.conn.Close()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var req models.OptimizeRequest
		if err := s.conn.ReadJSON(&req); err != nil {
			if isDecodeError(err) {
				// The frame was consumed; the connection is still usable
				s.push(ctx, models.StreamMessage{Type: models.StreamError, Error: "invalid request: " + err.Error()})
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket unexpected close", zap.String("session", s.id), zap.Error(err))
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))

		if err := s.start(ctx, req); err != nil {
			s.push(ctx, models.StreamMessage{Type: models.StreamError, Error: err.Error()})
		}
	}
}

// start launches an optimization unless one is already in flight
func (s *session) start(ctx context.Context, req models.OptimizeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errBusy
	}
	s.running = true
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}()

		resp, err := s.engine.Optimize(ctx, req, func(event models.ProgressEvent) {
			// Progress is best effort; a slow client drops events
			s.trySend(models.StreamMessage{Type: models.StreamProgress, Progress: &event})
		})
		if err != nil {
			msg := "optimization failed"
			if engine.IsClientError(err) {
				msg = err.Error()
			} else {
				s.logger.Error("websocket optimization failed", zap.String("session", s.id), zap.Error(err))
			}
			s.push(ctx, models.StreamMessage{Type: models.StreamError, Error: msg})
			return
		}
		s.push(ctx, models.StreamMessage{Type: models.StreamResult, Result: resp})
	}()
	return nil
}

func (s *session) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case message := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(message); err != nil {
				s.logger.Warn("websocket write error", zap.String("session", s.id), zap.Error(err))
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

// push queues a message, waiting for buffer space
func (s *session) push(ctx context.Context, msg models.StreamMessage) {
	select {
	case s.send <- msg:
	case <-ctx.Done():
	}
}

// trySend queues a message without blocking
func (s *session) trySend(msg models.StreamMessage) bool {
	select {
	case s.send <- msg:
		return true
	default:
		return false
	}
}
