package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Adacracker/MintTrail/internal/apperr"
)

const (
	wsMaxMessageSize = 4096
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = wsPongWait * 9 / 10
	wsMaxInFlight    = 4
)

// Message types accepted on /ws.
const (
	MessageTrace   = "trace"
	MessageBundles = "bundles"
)

// wsRequest is one client message.
type wsRequest struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	TokenName string `json:"tokenName,omitempty"`
	PolicyID  string `json:"policyId,omitempty"`
}

// wsReply answers one wsRequest.
type wsReply struct {
	ID     string     `json:"id"`
	Type   string     `json:"type"`
	OK     bool       `json:"ok"`
	Result any        `json:"result,omitempty"`
	Error  *errorBody `json:"error,omitempty"`
}

// wsConn serialises writes on one connection.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(messageType, data)
}

func (c *wsConn) reply(rep wsReply) {
	data, err := json.Marshal(rep)
	if err != nil {
		log.Error().Err(err).Str("id", rep.ID).Msg("ws: marshal reply")
		return
	}
	if err := c.write(websocket.TextMessage, data); err != nil {
		log.Debug().Err(err).Str("id", rep.ID).Msg("ws: write reply")
	}
}

// handleWebSocket upgrades the connection and serves analysis requests
// until the client disconnects. Each message passes the same limiter as
// the HTTP endpoints; at most wsMaxInFlight run at once per connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("request_id", RequestID(r.Context())).Msg("ws: upgrade failed")
		return
	}
	caller := callerKey(r, s.opts.TrustProxy)
	if s.deps.Metrics != nil {
		s.deps.Metrics.WSClients.Inc()
		defer s.deps.Metrics.WSClients.Dec()
	}
	log.Info().Str("caller", caller).Str("request_id", RequestID(r.Context())).Msg("ws: client connected")

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	c := &wsConn{conn: conn}
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		conn.Close()
		log.Info().Str("caller", caller).Msg("ws: client disconnected")
	}()

	conn.SetReadLimit(wsMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.pingLoop(ctx, c)
	}()

	slots := make(chan struct{}, wsMaxInFlight)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("caller", caller).Msg("ws: read failed")
			}
			return
		}

		var req wsRequest
		if err := json.Unmarshal(data, &req); err != nil {
			c.reply(wsReply{Type: "error", Error: &errorBody{Status: http.StatusBadRequest, Error: "Invalid JSON message"}})
			continue
		}

		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-slots }()
			c.reply(s.dispatch(ctx, r, req))
		}()
	}
}

func (s *Server) pingLoop(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch runs one request and builds its reply.
func (s *Server) dispatch(ctx context.Context, r *http.Request, req wsRequest) wsReply {
	rep := wsReply{ID: req.ID, Type: req.Type}
	fail := func(err error, fallback string) wsReply {
		status, body, _ := toErrorBody(err, fallback)
		body.Status = status
		rep.Error = &body
		return rep
	}

	switch req.Type {
	case MessageTrace, MessageBundles:
	default:
		return fail(apperr.Validation("unknown message type "+req.Type), "")
	}

	if err := s.admit("/ws", r); err != nil {
		return fail(err, "")
	}

	switch req.Type {
	case MessageTrace:
		result, err := s.deps.Tracer.Trace(ctx, req.TokenName)
		if err != nil {
			return fail(err, traceFailed)
		}
		if s.deps.Metrics != nil {
			s.deps.Metrics.ObserveTrace(len(result.AdaFlow))
		}
		rep.Result = result
	default:
		report, err := s.deps.Bundles.Detect(ctx, req.PolicyID)
		if err != nil {
			return fail(err, bundleFailed)
		}
		if s.deps.Metrics != nil {
			s.deps.Metrics.ObserveBundle(report.RiskScore, report.BundleDetected)
		}
		rep.Result = report
	}
	rep.OK = true
	return rep
}
