package common

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Idem provides an Idempotency-Key middleware backed by Redis.
type Idem struct {
	R   *redis.Client
	TTL time.Duration
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return "idem:" + hex.EncodeToString(sum[:])
}

// Middleware enforces idempotency semantics for write endpoints.
func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Idempotency-Key")
		if header == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		key := hashKey(header)
		ok, err := i.R.SetNX(ctx, key, "locked", i.TTL).Result()
		if err != nil {
			JSONError(w, http.StatusInternalServerError, CodeInternal, "idempotency store error", map[string]any{"error": err.Error()})
			return
		}
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
			_, _ = io.WriteString(w, "{\"error\":{\"code\":\"IDEMPOTENT_REPLAY\",\"message\":\"duplicate request\"}}")
			return
		}
		defer func() {
			// ensure the key expires even if handler panics
			_ = i.R.Expire(context.Background(), key, i.TTL).Err()
		}()
		next.ServeHTTP(w, r)
	})
}

// FinalizeGuard remembers which gateway references already produced an order,
// so duplicate redirect callbacks resolve to the existing order instead of a
// second write path.
type FinalizeGuard struct {
	R   *redis.Client
	TTL time.Duration
}

func guardKey(ref string) string {
	sum := sha256.Sum256([]byte(ref))
	return "finalized:" + hex.EncodeToString(sum[:])
}

// Done returns the order identifier recorded for the reference, if any.
func (g FinalizeGuard) Done(ctx context.Context, ref string) (string, bool, error) {
	if g.R == nil || ref == "" {
		return "", false, nil
	}
	val, err := g.R.Get(ctx, guardKey(ref)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return val, val != "", nil
}

// MarkDone records the order produced for the reference. Losing this marker is
// tolerated: the finalizer's dedup-window query is the server-side backstop.
func (g FinalizeGuard) MarkDone(ctx context.Context, ref, orderID string) error {
	if g.R == nil || ref == "" {
		return nil
	}
	ttl := g.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return g.R.Set(ctx, guardKey(ref), orderID, ttl).Err()
}
