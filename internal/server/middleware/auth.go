// Package middleware holds the HTTP middleware of the settlement API.
package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/premarket/internal/crypto"
)

// maxSignedBody caps the body read for signature verification.
const maxSignedBody = 1 << 20

type callerKey struct{}

// WithCaller returns ctx carrying the authenticated caller.
func WithCaller(ctx context.Context, addr common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, addr)
}

// CallerFrom returns the authenticated caller, if any.
func CallerFrom(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(callerKey{}).(common.Address)
	return addr, ok
}

// SignatureConfig tunes Signature.
type SignatureConfig struct {
	// Skew bounds |now - X-OTC-Timestamp|.
	Skew time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Signature authenticates requests signed with crypto.Signer. Requests that
// change state (anything but GET, HEAD and OPTIONS) must carry a valid
// signature; for the rest a signature is optional and only identifies the
// caller. The recovered address must match X-OTC-Address and becomes the
// request's caller.
func Signature(cfg SignatureConfig) func(http.Handler) http.Handler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Skew <= 0 {
		cfg.Skew = 2 * time.Minute
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			signed := r.Header.Get(crypto.HeaderSignature) != ""
			if !signed {
				if requiresAuth(r.Method) {
					writeUnauthorized(w, "missing request signature")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			ts, err := strconv.ParseInt(r.Header.Get(crypto.HeaderTimestamp), 10, 64)
			if err != nil {
				writeUnauthorized(w, "invalid request timestamp")
				return
			}
			drift := cfg.Now().Sub(time.Unix(ts, 0))
			if drift > cfg.Skew || drift < -cfg.Skew {
				writeUnauthorized(w, "request timestamp outside allowed skew")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody+1))
			if err != nil {
				writeUnauthorized(w, "unreadable request body")
				return
			}
			if len(body) > maxSignedBody {
				writeError(w, http.StatusRequestEntityTooLarge, "request body too large", "")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			addr, err := crypto.RecoverRequest(r.Method, r.URL.RequestURI(), ts, body, r.Header.Get(crypto.HeaderSignature))
			if err != nil {
				writeUnauthorized(w, "invalid request signature")
				return
			}
			claimed := r.Header.Get(crypto.HeaderAddress)
			if !common.IsHexAddress(claimed) || common.HexToAddress(claimed) != addr {
				writeUnauthorized(w, "signature does not match address")
				return
			}

			noteCaller(w, addr.Hex())
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), addr)))
		})
	}
}

func requiresAuth(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusUnauthorized, msg, "Unauthorized")
}

// writeError sends the API's JSON error body.
func writeError(w http.ResponseWriter, status int, msg, code string) {
	body := map[string]string{"error": msg}
	if code != "" {
		body["code"] = code
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
