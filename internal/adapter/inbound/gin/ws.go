package gin

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/clipforge/server/internal/module/progress"
	apperrors "github.com/clipforge/server/internal/shared/errors"
	"github.com/clipforge/server/internal/shared/metrics"
)

const maxFrameSize = 4 << 10

// WSConfig contains WebSocket configuration.
type WSConfig struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
	// SendBuffer is the number of frames queued per connection.
	SendBuffer int
	// AllowedOrigins restricts browser origins. Empty allows any.
	AllowedOrigins []string
}

// DefaultWSConfig returns the default WebSocket configuration.
func DefaultWSConfig() *WSConfig {
	return &WSConfig{
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
		SendBuffer:   64,
	}
}

// ProgressAdapter streams task progress over WebSocket.
type ProgressAdapter struct {
	hub      ProgressHub
	upgrader websocket.Upgrader
	config   *WSConfig
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewProgressAdapter creates a new progress WebSocket adapter.
func NewProgressAdapter(hub ProgressHub, logger *zap.Logger, m *metrics.Metrics, config *WSConfig) *ProgressAdapter {
	if config == nil {
		config = DefaultWSConfig()
	}
	if config.SendBuffer <= 0 {
		config.SendBuffer = 64
	}
	if config.PingInterval <= 0 {
		config.PingInterval = 30 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &ProgressAdapter{
		hub:     hub,
		config:  config,
		logger:  logger.Named("ws"),
		metrics: m,
	}
	a.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     a.checkOrigin,
	}
	return a
}

// RegisterRoutes registers the WebSocket endpoint.
func (a *ProgressAdapter) RegisterRoutes(r gin.IRoutes) {
	r.GET("/ws", a.Serve)
}

func (a *ProgressAdapter) checkOrigin(r *http.Request) bool {
	if len(a.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(a.config.AllowedOrigins, origin)
}

// Serve upgrades the request and runs the connection until either side closes.
func (a *ProgressAdapter) Serve(c *gin.Context) {
	conn, err := a.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		a.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	a.metrics.AddWSConnections(1)
	defer a.metrics.AddWSConnections(-1)

	// The connection outlives the request context once hijacked.
	ctx, cancel := context.WithCancel(context.Background())
	s := &wsSession{
		adapter: a,
		conn:    conn,
		send:    make(chan progress.Frame, a.config.SendBuffer),
		subs:    make(map[string]*progress.Subscription),
		ctx:     ctx,
		cancel:  cancel,
		logger:  a.logger.With(zap.String("remote", c.ClientIP())),
	}
	s.run()
}

// wsSession is one client connection. Only the write loop writes to conn.
type wsSession struct {
	adapter *ProgressAdapter
	conn    *websocket.Conn
	send    chan progress.Frame
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	subs map[string]*progress.Subscription
}

func (s *wsSession) run() {
	s.wg.Add(1)
	go s.writeLoop()

	s.readLoop()

	s.cancel()
	s.closeAll()
	s.wg.Wait()
	_ = s.conn.Close()
	s.logger.Debug("websocket closed")
}

func (s *wsSession) readLoop() {
	cfg := s.adapter.config
	s.conn.SetReadLimit(maxFrameSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(cfg.PingInterval * 2))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(cfg.PingInterval * 2))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(cfg.PingInterval * 2))

		frame, err := progress.ParseControl(data)
		if err != nil {
			s.enqueue(progress.NewErrorFrame("", err.Error()))
			continue
		}

		switch frame.Type {
		case progress.FrameSubscribe:
			s.subscribe(frame.TaskID)
		case progress.FrameUnsubscribe:
			s.unsubscribe(frame.TaskID)
		}
	}
}

func (s *wsSession) writeLoop() {
	defer s.wg.Done()
	cfg := s.adapter.config
	ticker := time.NewTicker(cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-s.send:
			data, err := progress.Encode(frame)
			if err != nil {
				s.logger.Error("failed to encode frame", zap.Error(err))
				continue
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Debug("websocket write failed", zap.Error(err))
				s.cancel()
				_ = s.conn.Close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.cancel()
				_ = s.conn.Close()
				return
			}
		case <-s.ctx.Done():
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}

// enqueue hands a frame to the write loop unless the session is closing.
func (s *wsSession) enqueue(f progress.Frame) bool {
	select {
	case s.send <- f:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// subscribe is only called from the read loop.
func (s *wsSession) subscribe(taskID string) {
	s.mu.Lock()
	_, exists := s.subs[taskID]
	s.mu.Unlock()
	if exists {
		return
	}

	sub, err := s.adapter.hub.Subscribe(s.ctx, taskID)
	if err != nil {
		msg := "subscribe failed"
		if apperrors.IsNotFound(err) {
			msg = "task not found"
		}
		s.enqueue(progress.NewErrorFrame(taskID, msg))
		return
	}

	s.mu.Lock()
	s.subs[taskID] = sub
	s.mu.Unlock()

	s.wg.Add(1)
	go s.forward(sub)
}

// forward relays one subscription. The first event is the snapshot taken at
// subscribe time.
func (s *wsSession) forward(sub *progress.Subscription) {
	defer s.wg.Done()
	defer s.forget(sub)

	frameType := progress.FrameInitialState
	for u := range sub.Events() {
		if !s.enqueue(progress.NewStateFrame(frameType, u)) {
			sub.Close()
			return
		}
		frameType = progress.FrameProgressUpdate
	}
}

func (s *wsSession) forget(sub *progress.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs[sub.TaskID()] == sub {
		delete(s.subs, sub.TaskID())
	}
}

func (s *wsSession) unsubscribe(taskID string) {
	s.mu.Lock()
	sub, ok := s.subs[taskID]
	delete(s.subs, taskID)
	s.mu.Unlock()
	if ok {
		sub.Close()
	}
}

func (s *wsSession) closeAll() {
	s.mu.Lock()
	subs := make([]*progress.Subscription, 0, len(s.subs))
	for id, sub := range s.subs {
		subs = append(subs, sub)
		delete(s.subs, id)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}
