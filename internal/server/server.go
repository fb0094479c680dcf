package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/casterbn/PyGPSClient/internal/client"
	"github.com/casterbn/PyGPSClient/internal/config"
	"github.com/casterbn/PyGPSClient/internal/decoder"
	"github.com/casterbn/PyGPSClient/internal/protocol"
)

const (
	sessionTTL        = 300 * time.Second
	shadowTTL         = 24 * time.Hour
	ttlRefreshMinGap  = 30 * time.Second
	uplinkSubjectBase = "gnss.uplink"
	eventSubject      = "gnss.event"
)

// natsBus is the subset of *nats.Conn the server uses
type natsBus interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Server manages connections to GNSS receivers and bridges their decoded
// message streams onto NATS, with session state in Redis.
type Server struct {
	config    *config.Config
	redis     *redis.Client
	nats      natsBus
	decoders  *decoder.Registry
	sessions  sync.Map // map[string]*Session
	consumers sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.Mutex
	connSeq   int
}

// Session represents one receiver connection
type Session struct {
	ConnID    string
	Remote    string
	Transport string
	Conn      *client.Conn
	Started   time.Time

	mu           sync.RWMutex
	lastActive   time.Time
	lastIdentity string
	lastRefresh  time.Time
	frames       uint64
	decodeErrors uint64
}

// NewServer creates a new gateway server
func NewServer(cfg *config.Config, redisClient *redis.Client, natsConn *nats.Conn) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config:   cfg,
		redis:    redisClient,
		nats:     natsConn,
		decoders: decoder.NewRegistry(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start connects the configured receivers and starts the management HTTP
// server and the NATS downlink consumer
func (s *Server) Start() error {
	for _, rcv := range s.config.Receivers {
		sess, err := s.connect(rcv.Host, rcv.Port, rcv.Transport)
		if err != nil {
			return err
		}
		log.Printf("[Gateway] Connected to receiver %s (%s %s)", sess.ConnID, sess.Transport, sess.Remote)
	}

	go s.startHTTPServer()
	go s.startDownlinkConsumer()

	return nil
}

// Stop closes all receiver connections and stops the server. It returns
// only after every session consumer has drained its queue and published its
// disconnect event, so callers may tear down the NATS connection afterwards.
func (s *Server) Stop() {
	s.cancel()
	s.sessions.Range(func(key, value interface{}) bool {
		if session, ok := value.(*Session); ok {
			session.Conn.Close()
		}
		return true
	})
	s.consumers.Wait()
}

func (s *Server) connect(host string, port int, transport string) (*Session, error) {
	s.mu.Lock()
	s.connSeq++
	connID := fmt.Sprintf("%s-%d", s.config.GatewayID, s.connSeq)
	s.mu.Unlock()

	conn, err := client.Dial(s.ctx, connID, client.Options{
		Host:        host,
		Port:        port,
		Transport:   transport,
		QueueSize:   s.config.QueueSize,
		ReadTimeout: time.Duration(s.config.ReadTimeout) * time.Second,
	}, s.decoders)
	if err != nil {
		return nil, err
	}

	session := &Session{
		ConnID:     connID,
		Remote:     conn.RemoteAddr(),
		Transport:  transport,
		Conn:       conn,
		Started:    time.Now(),
		lastActive: time.Now(),
	}
	s.sessions.Store(connID, session)
	s.registerSession(session)
	s.publishEvent(session, "connected", nil)

	s.consumers.Add(1)
	go s.consume(session)
	return session, nil
}

// consume drains one session's delivery queue until the stream ends
func (s *Server) consume(session *Session) {
	defer s.consumers.Done()

	for res := range session.Conn.Results() {
		s.handleResult(session, res)
	}

	<-session.Conn.Done()
	err := session.Conn.Err()
	if err != nil {
		log.Printf("[Gateway] Connection lost: %s: %v", session.ConnID, err)
	} else {
		log.Printf("[Gateway] Connection closed: %s", session.ConnID)
	}
	s.publishEvent(session, "disconnected", err)
	s.cleanupSession(session)
}

func (s *Server) handleResult(session *Session, res protocol.Result) {
	session.mu.Lock()
	session.lastActive = time.Now()
	session.frames++
	if res.Err != nil {
		session.decodeErrors++
	} else {
		session.lastIdentity = res.Msg.Identity
	}
	refresh := time.Since(session.lastRefresh) > ttlRefreshMinGap
	if refresh {
		session.lastRefresh = time.Now()
	}
	session.mu.Unlock()

	env := uplinkEnvelope{
		ConnID:    session.ConnID,
		GatewayID: s.config.GatewayID,
		Protocol:  res.Protocol,
		Raw:       hex.EncodeToString(res.Raw),
		Timestamp: time.Now().UnixMilli(),
	}
	subject := fmt.Sprintf("%s.%s", uplinkSubjectBase, strings.ToLower(res.Protocol))
	if res.Err != nil {
		env.Error = res.Err.Error()
		subject = uplinkSubjectBase + ".error"
	} else {
		env.Identity = res.Msg.Identity
		env.Fields = res.Msg.Fields
	}

	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("[Gateway] Failed to marshal uplink message: %v", err)
		return
	}
	s.nats.Publish(subject, data)
	s.nats.Publish(uplinkSubjectBase+".all", data)

	if refresh {
		s.updateSessionTTL(session)
	}
}

// uplinkEnvelope is the JSON payload published per extracted frame
type uplinkEnvelope struct {
	ConnID    string                 `json:"conn_id"`
	GatewayID string                 `json:"gateway_id"`
	Protocol  string                 `json:"protocol"`
	Identity  string                 `json:"identity,omitempty"`
	Raw       string                 `json:"raw"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

func (s *Server) publishEvent(session *Session, event string, cause error) {
	payload := map[string]interface{}{
		"conn_id":    session.ConnID,
		"gateway_id": s.config.GatewayID,
		"remote":     session.Remote,
		"event":      event,
	}
	if cause != nil {
		payload["error"] = cause.Error()
	}
	data, _ := json.Marshal(payload)
	s.nats.Publish(eventSubject, data)
}

func (s *Server) registerSession(session *Session) {
	key := fmt.Sprintf("gnss:conn:%s", session.ConnID)
	value := fmt.Sprintf("%s:%s:%s", s.config.GatewayID, session.Transport, session.Remote)

	if err := s.redis.Set(s.ctx, key, value, sessionTTL).Err(); err != nil {
		log.Printf("[Gateway] Failed to register session: %v", err)
		return
	}
	log.Printf("[Gateway] Session registered: %s -> %s", session.ConnID, value)
}

func (s *Server) updateSessionTTL(session *Session) {
	key := fmt.Sprintf("gnss:conn:%s", session.ConnID)
	s.redis.Expire(s.ctx, key, sessionTTL)

	session.mu.RLock()
	identity := session.lastIdentity
	frames := session.frames
	session.mu.RUnlock()

	shadowKey := fmt.Sprintf("gnss:shadow:%s", session.ConnID)
	s.redis.HSet(s.ctx, shadowKey, "ts", time.Now().Unix(), "identity", identity, "frames", frames)
	s.redis.Expire(s.ctx, shadowKey, shadowTTL)
}

func (s *Server) cleanupSession(session *Session) {
	s.sessions.Delete(session.ConnID)

	key := fmt.Sprintf("gnss:conn:%s", session.ConnID)
	s.redis.Del(s.ctx, key)
}

func (s *Server) startHTTPServer() {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/connections", s.handleConnections)
	mux.HandleFunc("/connect", s.handleConnect)
	mux.HandleFunc("/disconnect", s.handleDisconnect)
	mux.HandleFunc("/send", s.handleSend)
	mux.HandleFunc("/poll", s.handlePoll)

	addr := fmt.Sprintf(":%d", s.config.HTTPPort)
	log.Printf("[Gateway] HTTP server listening on %s", addr)

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[Gateway] HTTP server error: %v", err)
		}
	}()

	<-s.ctx.Done()
	server.Shutdown(context.Background())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":     "ok",
		"gateway_id": s.config.GatewayID,
	})
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	connections := make([]map[string]interface{}, 0)

	s.sessions.Range(func(key, value interface{}) bool {
		if session, ok := value.(*Session); ok {
			session.mu.RLock()
			connections = append(connections, map[string]interface{}{
				"conn_id":       session.ConnID,
				"remote":        session.Remote,
				"transport":     session.Transport,
				"started":       session.Started,
				"last_active":   session.lastActive,
				"last_identity": session.lastIdentity,
				"frames":        session.frames,
				"decode_errors": session.decodeErrors,
			})
			session.mu.RUnlock()
		}
		return true
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(connections)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Host      string `json:"host"`
		Port      int    `json:"port"`
		Transport string `json:"transport"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Transport == "" {
		req.Transport = "tcp"
	}

	session, err := s.connect(req.Host, req.Port, req.Transport)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "connected",
		"conn_id": session.ConnID,
	})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ConnID string `json:"conn_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	session, ok := s.loadSession(req.ConnID)
	if !ok {
		http.Error(w, "Connection not found", http.StatusNotFound)
		return
	}
	session.Conn.Close()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "disconnected",
	})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ConnID string `json:"conn_id"`
		Data   string `json:"data"` // hex encoded
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	data, err := hex.DecodeString(req.Data)
	if err != nil {
		http.Error(w, "data must be hex encoded", http.StatusBadRequest)
		return
	}

	session, ok := s.loadSession(req.ConnID)
	if !ok {
		http.Error(w, "Connection not found", http.StatusNotFound)
		return
	}

	if err := session.Conn.Write(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "sent",
	})
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ConnID string `json:"conn_id"`
		Class  byte   `json:"class"`
		ID     byte   `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	session, ok := s.loadSession(req.ConnID)
	if !ok {
		http.Error(w, "Connection not found", http.StatusNotFound)
		return
	}

	frame := decoder.EncodeUBXPoll(req.Class, req.ID)
	if err := session.Conn.Write(frame); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "sent",
		"frame":  hex.EncodeToString(frame),
	})
}

func (s *Server) loadSession(connID string) (*Session, bool) {
	value, ok := s.sessions.Load(connID)
	if !ok {
		return nil, false
	}
	session, ok := value.(*Session)
	return session, ok
}

func (s *Server) startDownlinkConsumer() {
	subject := fmt.Sprintf("gateway.downlink.%s", s.config.GatewayID)
	sub, err := s.nats.Subscribe(subject, func(msg *nats.Msg) {
		var cmd struct {
			ConnID string `json:"conn_id"`
			Data   string `json:"data"` // hex encoded
		}

		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			log.Printf("[Gateway] Failed to unmarshal downlink command: %v", err)
			return
		}

		data, err := hex.DecodeString(cmd.Data)
		if err != nil {
			log.Printf("[Gateway] Downlink data not hex encoded for %s", cmd.ConnID)
			return
		}

		session, ok := s.loadSession(cmd.ConnID)
		if !ok {
			log.Printf("[Gateway] Receiver not connected: %s", cmd.ConnID)
			return
		}

		if err := session.Conn.Write(data); err != nil {
			log.Printf("[Gateway] Failed to send downlink data: %v", err)
			return
		}

		log.Printf("[Gateway] Downlink sent to %s: %d bytes", cmd.ConnID, len(data))
	})

	if err != nil {
		log.Printf("[Gateway] Failed to subscribe to downlink: %v", err)
		return
	}

	<-s.ctx.Done()
	sub.Unsubscribe()
}
