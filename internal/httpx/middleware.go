package httpx

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/ariefcatur/go-produce-market/internal/redisx"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const (
	HeaderActorID        = "X-Actor-ID"
	HeaderActorRole      = "X-Actor-Role"
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "X-Idempotency-Replayed"
)

type ctxKey int

const (
	actorKey ctxKey = iota
	roleKey
)

// Actor requires the identity layer's X-Actor-ID header on every request.
func Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderActorID)
		if id == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing " + HeaderActorID, Code: "UNAUTHENTICATED"})
			return
		}
		ctx := context.WithValue(r.Context(), actorKey, id)
		ctx = context.WithValue(ctx, roleKey, r.Header.Get(HeaderActorRole))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func actorID(r *http.Request) string {
	id, _ := r.Context().Value(actorKey).(string)
	return id
}

func actorRole(r *http.Request) string {
	role, _ := r.Context().Value(roleKey).(string)
	return role
}

// RequestLogger is chi's middleware.Logger on zap.
func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("http request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("took", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// ResponseStore keeps finished responses per actor and Idempotency-Key.
type ResponseStore interface {
	Get(ctx context.Context, actor, key string) (*redisx.CachedResponse, error)
	Put(ctx context.Context, actor, key string, r redisx.CachedResponse) error
}

type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *recorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

// Idempotency replays the stored response for a repeated POST or PUT that
// carries an Idempotency-Key. Only 2xx responses are stored, so a rejected
// request can be retried with the same key. Without a store or a key the
// request passes through untouched.
func Idempotency(store ResponseStore, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderIdempotencyKey)
			if store == nil || key == "" || (r.Method != http.MethodPost && r.Method != http.MethodPut) {
				next.ServeHTTP(w, r)
				return
			}
			actor := actorID(r)
			scoped := r.Method + " " + r.URL.Path + " " + key

			cached, err := store.Get(r.Context(), actor, scoped)
			if err != nil {
				// cache down: proses biasa
				log.Warn("idempotency lookup", zap.Error(err))
			}
			if cached != nil {
				w.Header().Set("Content-Type", cached.ContentType)
				w.Header().Set(HeaderReplayed, "true")
				w.WriteHeader(cached.StatusCode)
				_, _ = w.Write(cached.Body)
				return
			}

			rec := &recorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			if rec.status < 200 || rec.status > 299 {
				return
			}
			err = store.Put(r.Context(), actor, scoped, redisx.CachedResponse{
				StatusCode:  rec.status,
				ContentType: w.Header().Get("Content-Type"),
				Body:        rec.body.Bytes(),
			})
			if err != nil {
				log.Warn("idempotency store", zap.Error(err))
			}
		})
	}
}
