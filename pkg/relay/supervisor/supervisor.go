// Package supervisor owns the relay's active-session and tenant-quota
// bookkeeping: WebSocket upgrade admission, session construction and
// teardown, and graceful shutdown. It is the sole writer of the
// active-sessions and tenant-session-count maps the rest of the relay
// reads through it.
package supervisor

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/corallang/voicerelay/auth"
	"github.com/corallang/voicerelay/internal/syncutil"
	"github.com/corallang/voicerelay/o11y"
	"github.com/corallang/voicerelay/pkg/relay/assessor"
	"github.com/corallang/voicerelay/pkg/relay/frame"
	"github.com/corallang/voicerelay/pkg/relay/persistence"
	"github.com/corallang/voicerelay/pkg/relay/relaycore"
	"github.com/corallang/voicerelay/pkg/relay/relayerr"
	"github.com/corallang/voicerelay/pkg/relay/session"
	"github.com/corallang/voicerelay/pkg/relay/stats"
	"github.com/corallang/voicerelay/pkg/relay/token"
	"github.com/corallang/voicerelay/pkg/relay/upstream"
)

// PermSessionStart is the RBAC permission required to open a session, when
// an auth.Policy is configured. The relay does not require RBAC: when
// Supervisor.AuthPolicy is nil, every admitted token is authorized.
const PermSessionStart auth.Permission = "voice:session:start"

// DefaultMaxSessionsPerTenant is applied when Config.MaxSessionsPerTenant
// is zero.
const DefaultMaxSessionsPerTenant = 50

// DefaultPersistWorkers bounds the number of turns concurrently in flight
// to the persistence sink across every session a Supervisor owns.
const DefaultPersistWorkers = 8

// Config configures a Supervisor.
type Config struct {
	MaxSessionsPerTenant int
	UpstreamBaseURL      string
	TenantAPIKey         func(tenantID string) string
}

func (c Config) normalize() Config {
	if c.MaxSessionsPerTenant == 0 {
		c.MaxSessionsPerTenant = DefaultMaxSessionsPerTenant
	}
	if c.TenantAPIKey == nil {
		c.TenantAPIKey = func(string) string { return "" }
	}
	return c
}

// managed bundles a session record with its wired relay core and sockets,
// so the supervisor can address it by session ID for heartbeat, sweep, and
// shutdown.
type managed struct {
	sess     *session.Session
	core     *relaycore.Core
	learner  *learnerConn
	upstream *upstream.Conn
}

// Supervisor admits sessions, enforces tenant quotas, and owns the
// active-session registry.
type Supervisor struct {
	cfg Config

	Verifier    token.Verifier
	Dialer      *upstream.Dialer
	Persistence persistence.Sink
	Assessor    assessor.Assessor
	Events      *stats.EventBus
	Logger      *o11y.Logger
	AuthPolicy  auth.Policy

	upgrader websocket.Upgrader

	// persistPool bounds concurrent asynchronous turn-persistence calls
	// across every session this Supervisor owns.
	persistPool *syncutil.WorkerPool

	mu          sync.Mutex
	active      map[string]*managed
	tenantCount map[string]int
}

// New creates a Supervisor. cfg's zero fields are replaced with defaults.
func New(cfg Config) *Supervisor {
	return &Supervisor{
		cfg:         cfg.normalize(),
		active:      make(map[string]*managed),
		tenantCount: make(map[string]int),
		upgrader:    websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		persistPool: syncutil.NewWorkerPool(DefaultPersistWorkers),
	}
}

// admitLocked performs the non-HTTP portion of admission: quota enforcement and
// duplicate-session rejection. Callers must already hold s.mu.
func (s *Supervisor) admitLocked(sessionID, tenantID string) error {
	if _, dup := s.active[sessionID]; dup {
		return relayerr.Newf("supervisor.admit", relayerr.CodeSessionAlreadyActive, "session %s already active", sessionID)
	}
	if s.tenantCount[tenantID] >= s.cfg.MaxSessionsPerTenant {
		return relayerr.Newf("supervisor.admit", relayerr.CodeTenantOverQuota, "tenant %s at session quota", tenantID)
	}
	return nil
}

func (s *Supervisor) authorize(ctx context.Context, claims token.Claims, perm auth.Permission) error {
	if s.AuthPolicy == nil {
		return nil
	}
	if syncer, ok := s.AuthPolicy.(claimsSyncer); ok {
		syncer.SyncClaims(claims)
	}
	ok, err := s.AuthPolicy.Authorize(ctx, claims.LearnerID, perm, claims.TenantID)
	if err != nil || !ok {
		return relayerr.Newf("supervisor.authorize", relayerr.CodeUnauthorized, "learner %s not authorized for %s", claims.LearnerID, perm)
	}
	return nil
}

// AuthorizeStats verifies tok and checks it carries PermSessionAdmin,
// returning the resolved claims on success. Used to gate the aggregate
// stats endpoint.
func (s *Supervisor) AuthorizeStats(ctx context.Context, tok string) (token.Claims, error) {
	claims, err := s.Verifier.Verify(ctx, tok)
	if err != nil {
		return token.Claims{}, err
	}
	if err := s.authorize(ctx, claims, PermSessionAdmin); err != nil {
		return token.Claims{}, err
	}
	return claims, nil
}

// statusFor maps an admission error's code to an HTTP status, for the
// upgrade handler to report before the socket is upgraded.
func statusFor(err error) int {
	e := relayerr.As(err)
	if e == nil {
		return http.StatusInternalServerError
	}
	switch e.Code {
	case relayerr.CodeUnauthorized:
		return http.StatusUnauthorized
	case relayerr.CodeTenantOverQuota:
		return http.StatusTooManyRequests
	case relayerr.CodeSessionAlreadyActive, relayerr.CodeSessionStartFailed:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// sessionIDFrom extracts the session id from the "sessionId" path variable
// (set by gorilla/mux) or, failing that, the "sessionId" query parameter.
func sessionIDFrom(r *http.Request, pathVar string) string {
	if pathVar != "" {
		return pathVar
	}
	return r.URL.Query().Get("sessionId")
}

// ServeWS handles a WebSocket upgrade request for path segment sessionID
// (empty if the client used the bare "/ws/voice" path with a query
// parameter instead). It performs token verification, quota admission,
// upstream dial-out, and wires relaycore before handing control to the
// session's read-pump loops, returning once the session has closed.
func (s *Supervisor) ServeWS(w http.ResponseWriter, r *http.Request, pathSessionID string) {
	ctx := r.Context()

	tok, err := token.FromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	claims, err := s.Verifier.Verify(ctx, tok)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	if err := s.authorize(ctx, claims, PermSessionStart); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	sessionID := sessionIDFrom(r, pathSessionID)
	if sessionID == "" {
		sessionID = claims.SessionHint
	}
	agentID := r.URL.Query().Get("agentId")

	cfg := session.DefaultConfiguration()
	websocketURL := ""
	if s.Persistence != nil {
		rec, ok, _ := s.Persistence.LoadSession(ctx, sessionID)
		if !ok {
			err := relayerr.Newf("supervisor.admit", relayerr.CodeSessionStartFailed, "no session record for %s", sessionID)
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		agentID = rec.AgentID
		websocketURL = rec.WebsocketURL
	}

	s.mu.Lock()
	if err := s.admitLocked(sessionID, claims.TenantID); err != nil {
		s.mu.Unlock()
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	sess := session.New(sessionID, claims.TenantID, claims.LearnerID, agentID, cfg, session.DefaultMaxAudioBufferBytes)
	sess.WebsocketURL = websocketURL
	m := &managed{sess: sess}
	s.active[sessionID] = m
	s.tenantCount[claims.TenantID]++
	s.mu.Unlock()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.release(sessionID, claims.TenantID)
		return
	}
	m.learner = newLearnerConn(ws)

	up, err := s.Dialer.Dial(ctx, websocketURL, agentID, s.cfg.TenantAPIKey(claims.TenantID))
	if err != nil {
		s.release(sessionID, claims.TenantID)
		if data, encErr := frame.Encode(frame.NewErrorMessage(err)); encErr == nil {
			_ = m.learner.WriteText(data)
		}
		m.learner.Close()
		return
	}
	m.upstream = up

	m.core = &relaycore.Core{
		Sess:        sess,
		Tracker:     session.NewTurnTracker(sess),
		Learner:     m.learner,
		Upstream:    m.upstream,
		Assessor:    s.Assessor,
		Persistence: s.Persistence,
		Events:      s.Events,
		Logger:      s.Logger,
		PersistPool: s.persistPool,
	}

	m.core.Ready(ctx)
	s.pump(ctx, sessionID, claims.TenantID, m)
}

// pump runs the learner and upstream read loops until either side fails or
// the session ends, then releases the session from the registry.
func (s *Supervisor) pump(ctx context.Context, sessionID, tenantID string, m *managed) {
	defer s.release(sessionID, tenantID)
	defer m.learner.Close()
	defer m.upstream.Close()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for {
			mt, data, err := m.learner.ReadMessage()
			if err != nil {
				m.core.End(ctx, "learner_disconnected")
				return
			}
			if mt == websocket.BinaryMessage {
				if m.core.HandleLearnerBinary(ctx, data) != nil {
					return
				}
			} else {
				if m.core.HandleLearnerText(ctx, data) != nil {
					return
				}
			}
			if s.sessionClosed(m) {
				return
			}
		}
	}()

	go func() {
		defer wg.Done()
		for {
			mt, data, err := m.upstream.ReadMessage()
			if err != nil {
				m.core.End(ctx, "agent_disconnected")
				return
			}
			if mt == websocket.BinaryMessage {
				if m.core.HandleUpstreamBinary(ctx, data) != nil {
					return
				}
			} else {
				if m.core.HandleUpstreamText(ctx, data) != nil {
					return
				}
			}
			if s.sessionClosed(m) {
				return
			}
		}
	}()

	wg.Wait()
}

func (s *Supervisor) sessionClosed(m *managed) bool {
	m.sess.Mu.Lock()
	defer m.sess.Mu.Unlock()
	return m.sess.State.IsTerminal()
}

func (s *Supervisor) release(sessionID, tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[sessionID]; !ok {
		return
	}
	delete(s.active, sessionID)
	if s.tenantCount[tenantID] > 0 {
		s.tenantCount[tenantID]--
	}
}

// Sessions implements stats.Source.
func (s *Supervisor) Sessions() []stats.SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()

	views := make([]stats.SessionView, 0, len(s.active))
	for _, m := range s.active {
		m.sess.Mu.Lock()
		views = append(views, stats.SessionView{
			TenantID:      m.sess.TenantID,
			State:         m.sess.State,
			BytesReceived: m.sess.Metrics.BytesReceived,
			BytesSent:     m.sess.Metrics.BytesSent,
			StartedAt:     m.sess.StartedAt,
		})
		m.sess.Mu.Unlock()
	}
	return views
}

// ActiveSessions implements watchdog.Registry.
func (s *Supervisor) ActiveSessions() []*session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*session.Session, 0, len(s.active))
	for _, m := range s.active {
		out = append(out, m.sess)
	}
	return out
}

// Ping implements watchdog.Pinger, sending a protocol-level ping frame to
// the session's learner socket.
func (s *Supervisor) Ping(sess *session.Session) error {
	s.mu.Lock()
	m, ok := s.active[sess.SessionID]
	s.mu.Unlock()
	if !ok || m.learner == nil {
		return nil
	}
	return m.learner.Ping(5 * time.Second)
}

// End implements watchdog.Ender, ending the managed session identified by
// sess, if still active.
func (s *Supervisor) End(ctx context.Context, sess *session.Session, reason string) {
	s.mu.Lock()
	m, ok := s.active[sess.SessionID]
	s.mu.Unlock()
	if !ok {
		return
	}
	m.core.End(ctx, reason)
	m.learner.Close()
	m.upstream.Close()
}

// Shutdown ends every active session with reason "server_shutdown",
// closing their sockets, and waits for all of them to finish.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	sessions := make([]*session.Session, 0, len(s.active))
	for _, m := range s.active {
		sessions = append(sessions, m.sess)
	}
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, sess := range sessions {
		sess := sess
		g.Go(func() error {
			s.End(gctx, sess, "server_shutdown")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.persistPool.Close()
	return nil
}
