package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bazaar-market/ledger/internal/platform/auth"
	"github.com/bazaar-market/ledger/internal/platform/httpx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "Idempotent-Replayed"
	maxKeyLength      = 255
)

type middlewareConfig struct {
	headerName string
	ttl        time.Duration
	clock      func() time.Time
	logger     *zap.Logger
}

// MiddlewareOption customises middleware behaviour.
type MiddlewareOption func(*middlewareConfig)

// WithHeader overrides the header carrying the key.
func WithHeader(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		name = strings.TrimSpace(name)
		if name != "" {
			cfg.headerName = name
		}
	}
}

// WithTTL sets how long completed responses are replayed.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

func WithLogger(logger *zap.Logger) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

func WithClock(clock func() time.Time) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// Middleware replays the stored response when a client repeats a request with the same key.
// Requests without the header pass straight through. Server errors are not stored so that
// a retry after a gateway failure reaches the handler again.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	cfg := middlewareConfig{
		headerName: defaultHeaderName,
		ttl:        DefaultTTL,
		clock:      time.Now,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := strings.TrimSpace(r.Header.Get(cfg.headerName))
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxKeyLength {
				httpx.WriteError(ctx, w, httpx.NewError(http.StatusBadRequest, "Idempotency key is too long"))
				return
			}

			body, err := readAndReplayBody(r)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError(http.StatusBadRequest, "Unable to read request body"))
				return
			}

			requester := extractRequester(ctx)
			fingerprint := requestFingerprint(r, body, requester)
			scoped := scopedKey(key, requester)

			reservation, err := store.Reserve(ctx, scoped, fingerprint, cfg.clock().UTC(), cfg.ttl)
			if err != nil {
				if errors.Is(err, ErrFingerprintMismatch) {
					httpx.WriteError(ctx, w, httpx.NewError(http.StatusConflict, "Idempotency key already used for a different request"))
					return
				}
				cfg.logger.Error("idempotency reserve failed", zap.Error(err))
				httpx.WriteError(ctx, w, httpx.NewError(http.StatusInternalServerError, "Unable to process idempotency key"))
				return
			}

			switch reservation.State {
			case ReservationStateCompleted:
				writeStoredResponse(w, reservation.Record)
				return
			case ReservationStatePending:
				httpx.WriteError(ctx, w, httpx.NewError(http.StatusConflict, "A request with this idempotency key is already in progress"))
				return
			}

			recorder := newResponseRecorder(w)
			defer func() {
				if rec := recover(); rec != nil {
					release(ctx, store, scoped, cfg.logger)
					panic(rec)
				}
			}()
			next.ServeHTTP(recorder, r)

			if recorder.Status() >= http.StatusInternalServerError {
				release(ctx, store, scoped, cfg.logger)
			} else {
				resp := Response{Status: recorder.Status(), Headers: recorder.Header(), Body: recorder.Body()}
				if err := store.Complete(context.WithoutCancel(ctx), scoped, fingerprint, resp, cfg.clock().UTC(), cfg.ttl); err != nil {
					cfg.logger.Error("idempotency persist failed", zap.Error(err))
					release(ctx, store, scoped, cfg.logger)
				}
			}

			if err := recorder.Commit(); err != nil {
				cfg.logger.Warn("idempotency flush failed", zap.Error(err))
			}
		})
	}
}

func release(ctx context.Context, store Store, key string, logger *zap.Logger) {
	if err := store.Release(context.WithoutCancel(ctx), key); err != nil {
		logger.Error("idempotency release failed", zap.Error(err))
	}
}

func readAndReplayBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func requestFingerprint(r *http.Request, body []byte, requester string) string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(r.Method))
	b.WriteString("|")
	b.WriteString(r.URL.Path)
	b.WriteString("|")
	b.WriteString(requester)
	b.WriteString("|")
	if len(body) > 0 {
		b.WriteString(sha256Hex(body))
	}
	return sha256Hex([]byte(b.String()))
}

func extractRequester(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity.UID != "" {
		return identity.UID
	}
	return "anonymous"
}

func scopedKey(key, requester string) string {
	return strings.TrimSpace(key) + "|" + requester
}

func writeStoredResponse(w http.ResponseWriter, record Record) {
	for name, values := range record.ResponseHeaders {
		for _, value := range values {
			w.Header().Add(name, value)
		}
	}
	w.Header().Set(replayHeaderName, "true")

	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(record.ResponseBody) > 0 {
		_, _ = w.Write(record.ResponseBody)
	}
}

// responseRecorder buffers the handler output until the key is settled.
type responseRecorder struct {
	parent http.ResponseWriter
	header http.Header
	status int
	body   bytes.Buffer
}

func newResponseRecorder(parent http.ResponseWriter) *responseRecorder {
	return &responseRecorder{parent: parent, header: make(http.Header)}
}

func (r *responseRecorder) Header() http.Header { return r.header }

func (r *responseRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(data)
}

func (r *responseRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *responseRecorder) Body() []byte {
	return r.body.Bytes()
}

func (r *responseRecorder) Commit() error {
	dst := r.parent.Header()
	for name, values := range r.header {
		dst[name] = values
	}
	r.parent.WriteHeader(r.Status())
	if r.body.Len() == 0 {
		return nil
	}
	_, err := r.parent.Write(r.body.Bytes())
	return err
}
