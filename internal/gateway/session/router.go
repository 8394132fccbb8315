package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/pamirel/thermogate/internal/gateway/service"
	"github.com/pamirel/thermogate/internal/gateway/types"
	"github.com/pamirel/thermogate/internal/metrics"
)

const (
	reasonInvalidCredentials = "invalid credentials"
	reasonTooManyAttempts    = "too many attempts"
	reasonAuthRequired       = "authentication required"
	reasonHistoryUnavailable = "history unavailable"
	reasonUnsupported        = "unsupported message"
)

// Conn is one framed, bidirectional connection.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, msg []byte) error
	// Close ends the connection with a policy-violation close frame.
	Close(reason string) error
	// Terminate drops the connection without a close handshake.
	Terminate() error
}

type Dependencies struct {
	Logger    zerolog.Logger
	Policy    OriginPolicy
	Ingest    *service.IngestService
	Operators *service.OperatorService
	Metrics   *metrics.Metrics

	// LoginsPerMinute bounds login attempts per session. Defaults to 10.
	LoginsPerMinute int
}

// Router classifies connections and runs the per-connection message loop.
type Router struct {
	logger     zerolog.Logger
	policy     OriginPolicy
	ingest     *service.IngestService
	operators  *service.OperatorService
	metrics    *metrics.Metrics
	loginRate  rate.Limit
	loginBurst int
}

func NewRouter(d Dependencies) *Router {
	perMin := d.LoginsPerMinute
	if perMin <= 0 {
		perMin = 10
	}
	if d.Policy.DeviceOrigin == "" {
		d.Policy.DeviceOrigin = DefaultDeviceOrigin
	}
	return &Router{
		logger:     d.Logger,
		policy:     d.Policy,
		ingest:     d.Ingest,
		operators:  d.Operators,
		metrics:    d.Metrics,
		loginRate:  rate.Every(time.Minute / time.Duration(perMin)),
		loginBurst: min(perMin, 5),
	}
}

// Open classifies origin and starts a session for it.
func (r *Router) Open(origin string) *Session {
	return newSession(Classify(origin, r.policy))
}

// Serve handles sess's connection until it closes or ctx ends. Messages are
// processed strictly in arrival order. A Rejected session is terminated
// without reading anything.
func (r *Router) Serve(ctx context.Context, sess *Session, conn Conn) {
	log := r.logger.With().Str("session", sess.ID).Stringer("class", sess.Class).Logger()

	if sess.Class != Operator && sess.Class != Device {
		log.Warn().Msg("connection rejected")
		_ = conn.Terminate()
		return
	}

	class := sess.Class.String()
	r.metrics.SessionOpened(class)
	defer r.metrics.SessionClosed(class)
	log.Info().Msg("connected")
	defer log.Info().Msg("disconnected")

	var limiter *rate.Limiter
	if sess.Class == Operator {
		limiter = rate.NewLimiter(r.loginRate, r.loginBurst)
	}

	for {
		raw, err := conn.Read(ctx)
		if err != nil {
			log.Debug().Err(err).Msg("read ended")
			return
		}

		start := time.Now()
		var keep bool
		if sess.Class == Device {
			keep = r.handleDevice(ctx, log, sess, conn, raw)
		} else {
			keep = r.handleOperator(ctx, log, sess, conn, limiter, raw)
		}
		r.metrics.Observe(class, time.Since(start).Seconds())
		if !keep {
			return
		}
	}
}

func (r *Router) handleDevice(ctx context.Context, log zerolog.Logger, sess *Session, conn Conn, raw []byte) bool {
	msg, err := r.ingest.Authenticate(raw)
	if err == nil {
		if bindErr := sess.BindDevice(msg.ID); bindErr != nil {
			err = errors.Join(service.ErrIntegrityMismatch, bindErr)
		}
	}
	if err != nil {
		// The peer learns nothing beyond the closed connection.
		r.metrics.DeviceFrame(deviceOutcome(err))
		log.Warn().Err(err).Str("esp_id", sess.DeviceID()).Msg("device frame rejected, closing")
		_ = conn.Close("authentication failed")
		return false
	}

	ack, err := r.ingest.Record(ctx, msg)
	if err != nil {
		r.metrics.DeviceFrame("storage_error")
	} else if ack.Status == types.AckOK {
		r.metrics.DeviceFrame("accepted")
	} else {
		r.metrics.DeviceFrame("no_storage")
	}
	return r.reply(ctx, log, conn, ack)
}

func (r *Router) handleOperator(ctx context.Context, log zerolog.Logger, sess *Session, conn Conn, limiter *rate.Limiter, raw []byte) bool {
	var req types.OperatorRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return r.reply(ctx, log, conn, types.FailureReply{Type: types.TypeError, Reason: reasonUnsupported})
	}

	switch req.Type {
	case types.TypeLogin:
		return r.reply(ctx, log, conn, r.login(ctx, log, sess, limiter, req))

	case types.TypeHistory:
		bound := sess.OperatorID()
		if bound == "" || (req.EspID != "" && req.EspID != bound) {
			return r.reply(ctx, log, conn, types.FailureReply{Type: types.TypeHistory, Reason: reasonAuthRequired})
		}
		recs, err := r.operators.History(ctx, bound, req.Count)
		if err != nil {
			log.Error().Err(err).Str("esp_id", bound).Msg("history failed")
			return r.reply(ctx, log, conn, types.FailureReply{Type: types.TypeHistory, Reason: reasonHistoryUnavailable})
		}
		return r.reply(ctx, log, conn, recs)

	default:
		return r.reply(ctx, log, conn, types.FailureReply{Type: types.TypeError, Reason: reasonUnsupported})
	}
}

func (r *Router) login(ctx context.Context, log zerolog.Logger, sess *Session, limiter *rate.Limiter, req types.OperatorRequest) any {
	if !limiter.Allow() {
		r.metrics.Login("throttled")
		return types.LoginReply{Type: types.TypeLogin, Reason: reasonTooManyAttempts}
	}
	latest, err := r.operators.Login(ctx, req.EspID, req.Password)
	if err != nil {
		r.metrics.Login("failure")
		log.Info().Str("esp_id", req.EspID).Msg("login failed")
		return types.LoginReply{Type: types.TypeLogin, Reason: reasonInvalidCredentials}
	}
	sess.BindOperator(req.EspID)
	r.metrics.Login("success")
	log.Info().Str("esp_id", req.EspID).Msg("login succeeded")
	return types.LoginReply{Type: types.TypeLogin, Success: true, LatestData: latest}
}

// reply writes v as one JSON frame. It reports whether the connection is
// still usable.
func (r *Router) reply(ctx context.Context, log zerolog.Logger, conn Conn, v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("encode reply")
		return false
	}
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Write(wctx, b); err != nil {
		log.Debug().Err(err).Msg("write failed")
		return false
	}
	return true
}

func deviceOutcome(err error) string {
	switch {
	case errors.Is(err, service.ErrMalformedMessage):
		return "malformed"
	case errors.Is(err, service.ErrUnknownDevice):
		return "unknown_device"
	default:
		return "integrity_failure"
	}
}
