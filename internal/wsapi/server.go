package wsapi

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/pamirel/thermogate/internal/gateway/session"
	"github.com/pamirel/thermogate/internal/metrics"
)

// MaxFrameBytes bounds one inbound websocket message.
const MaxFrameBytes = 50000

type Dependencies struct {
	Logger  zerolog.Logger
	Addr    string
	Router  *session.Router
	Metrics *metrics.Metrics
}

type Server struct {
	httpServer *http.Server
	logger     zerolog.Logger
	router     *session.Router
	metrics    *metrics.Metrics

	// baseCtx parents every connection so Shutdown can end hijacked
	// websocket connections, which http.Server does not track.
	baseCtx context.Context
	cancel  context.CancelFunc
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()
	baseCtx, cancel := context.WithCancel(context.Background())

	s := &Server{
		logger:  d.Logger,
		router:  d.Router,
		metrics: d.Metrics,
		baseCtx: baseCtx,
		cancel:  cancel,
	}

	mux.HandleFunc("GET /socket/", s.handleSocket)
	mux.Handle("GET /metrics", d.Metrics.Handler())

	handler := loggingMiddleware(d.Logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting connections and ends the open ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	sess := s.router.Open(origin)

	if sess.Class == session.Rejected {
		s.metrics.SessionOpened(sess.Class.String())
		s.metrics.SessionClosed(sess.Class.String())
		s.logger.Warn().Str("session", sess.ID).Str("origin", origin).Str("from", r.RemoteAddr).Msg("origin not allowed")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	// The origin was already checked against our own allow-list, which
	// includes non-browser origins the library's same-host rule would refuse.
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.logger.Debug().Err(err).Str("session", sess.ID).Msg("websocket accept failed")
		return
	}
	c.SetReadLimit(MaxFrameBytes)
	defer c.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	s.router.Serve(ctx, sess, wsConn{c: c})
}

// wsConn adapts a websocket connection to session.Conn.
type wsConn struct {
	c *websocket.Conn
}

func (w wsConn) Read(ctx context.Context) ([]byte, error) {
	_, b, err := w.c.Read(ctx)
	return b, err
}

func (w wsConn) Write(ctx context.Context, msg []byte) error {
	return w.c.Write(ctx, websocket.MessageText, msg)
}

func (w wsConn) Close(reason string) error {
	return w.c.Close(websocket.StatusPolicyViolation, reason)
}

func (w wsConn) Terminate() error {
	return w.c.CloseNow()
}
