package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"github.com/peerstake/peerstake/internal/crypto"
	"github.com/peerstake/peerstake/internal/domain"
)

type ctxKey int

const callerKey ctxKey = iota

// Identity returns middleware that resolves the calling account.
//
// Signature mode: the client sends X-Signature (65-byte hex secp256k1
// signature over the auth message for this method, path and X-Timestamp);
// the recovered address is the caller. API-key mode: when apiKey is
// configured and X-API-Key matches, the X-Account header is trusted as
// the caller, for dev deployments behind an authenticating proxy.
//
// Requests without identity headers pass through unauthenticated; handlers
// that need a caller reject them with 401.
func Identity(apiKey string, maxSkew time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if sig := r.Header.Get("X-Signature"); sig != "" {
				tsRaw := r.Header.Get("X-Timestamp")
				ts, err := strconv.ParseInt(tsRaw, 10, 64)
				if err != nil {
					writeAuthError(w, "invalid X-Timestamp")
					return
				}
				if skew := time.Since(time.Unix(ts, 0)); skew > maxSkew || skew < -maxSkew {
					writeAuthError(w, "auth timestamp outside allowed window")
					return
				}

				account, err := crypto.RecoverAccount(r.Method, r.URL.Path, ts, sig)
				if err != nil {
					writeAuthError(w, "invalid signature")
					return
				}

				next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), account)))
				return
			}

			if key := r.Header.Get("X-API-Key"); key != "" && apiKey != "" {
				if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) != 1 {
					writeAuthError(w, "invalid api key")
					return
				}
				account := domain.NormalizeAccount(r.Header.Get("X-Account"))
				if account == "" {
					writeAuthError(w, "missing X-Account")
					return
				}
				next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), account)))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// WithCaller attaches the authenticated caller to the context.
func WithCaller(ctx context.Context, account domain.AccountID) context.Context {
	return context.WithValue(ctx, callerKey, account)
}

// Caller returns the authenticated caller, if any.
func Caller(ctx context.Context) (domain.AccountID, bool) {
	account, ok := ctx.Value(callerKey).(domain.AccountID)
	return account, ok && account != ""
}

func writeAuthError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
