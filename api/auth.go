/*
auth.go - Caller identity middleware

PURPOSE:
  Resolves the caller identity of every request from the X-Actor header and
  stores it in the request context for the handlers.

SIGNATURES:
  With RequireSignatures set, state-changing requests (anything but GET,
  HEAD, OPTIONS) must carry:
    X-Signature:           hex secp256k1 signature over
                           sha256(METHOD|path|timestamp|body)
    X-Signature-Timestamp: the Unix seconds that were signed
  The signature must recover to the X-Actor address.

REPLAY:
  A timestamp further than MaxSkew from the server clock is rejected. Within
  that window every accepted payload is remembered by digest, and the same
  payload from the same actor is rejected a second time. Entries are dropped
  once their timestamp leaves the window, so the cache stays bounded by the
  request rate times 2*MaxSkew.

  Requests that fail any check are rejected with 401 before reaching a
  handler. Without RequireSignatures the header is trusted as is, which is
  only suitable behind a gateway that authenticates callers.

SEE ALSO:
  - signing/signing.go: Payload format, Sign, Verify
*/
package api

import (
	"bytes"
	"context"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/warp/contributor-rewards/generic"
	"github.com/warp/contributor-rewards/signing"
)

const (
	HeaderActor              = "X-Actor"
	HeaderSignature          = "X-Signature"
	HeaderSignatureTimestamp = "X-Signature-Timestamp"

	maxSignedBody = 1 << 20
)

type actorKey struct{}

// Authenticator is the identity middleware. A nil Authenticator trusts
// X-Actor without checking signatures.
type Authenticator struct {
	RequireSignatures bool
	MaxSkew           time.Duration
	Now               func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time // actor|digest -> expiry
}

// NewAuthenticator returns an authenticator accepting signature timestamps
// within maxSkew of the server clock.
func NewAuthenticator(requireSignatures bool, maxSkew time.Duration) *Authenticator {
	if maxSkew <= 0 {
		maxSkew = 5 * time.Minute
	}
	return &Authenticator{
		RequireSignatures: requireSignatures,
		MaxSkew:           maxSkew,
		Now:               time.Now,
		seen:              make(map[string]time.Time),
	}
}

// Middleware resolves the actor and, when required, verifies the signature.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := generic.Identity(strings.TrimSpace(r.Header.Get(HeaderActor)))

		if a != nil && a.RequireSignatures && mutates(r.Method) {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody+1))
			if err != nil {
				writeError(w, http.StatusBadRequest, "Failed to read body", err)
				return
			}
			if len(body) > maxSignedBody {
				writeError(w, http.StatusRequestEntityTooLarge, "Body too large to verify", nil)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			if msg := a.verify(actor, r, body); msg != "" {
				writeError(w, http.StatusUnauthorized, msg, nil)
				return
			}
		}

		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

// verify returns an empty string when the request is signed by actor, fresh
// and not seen before. Otherwise it returns the rejection message.
func (a *Authenticator) verify(actor generic.Identity, r *http.Request, body []byte) string {
	stamp := strings.TrimSpace(r.Header.Get(HeaderSignatureTimestamp))
	signedAt, err := signing.ParseTimestamp(stamp)
	if err != nil {
		return "Invalid or missing signature timestamp"
	}
	now := a.now()
	if skew := now.Sub(signedAt); skew > a.MaxSkew || skew < -a.MaxSkew {
		return "Signature timestamp outside the accepted window"
	}

	payload := signing.RequestPayload(r.Method, r.URL.Path, stamp, body)
	if actor.IsZero() || !signing.Verify(actor.String(), r.Header.Get(HeaderSignature), payload) {
		return "Invalid or missing request signature"
	}

	digest := signing.Digest(payload)
	if !a.remember(strings.ToLower(actor.String())+"|"+hex.EncodeToString(digest[:]), signedAt.Add(a.MaxSkew), now) {
		return "Replayed request"
	}
	return ""
}

// remember records key until expiry. It returns false if key is already
// recorded and has not expired.
func (a *Authenticator) remember(key string, expiry, now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.seen == nil {
		a.seen = make(map[string]time.Time)
	}
	for k, exp := range a.seen {
		if now.After(exp) {
			delete(a.seen, k)
		}
	}
	if _, ok := a.seen[key]; ok {
		return false
	}
	a.seen[key] = expiry
	return true
}

func (a *Authenticator) now() time.Time {
	if a.Now == nil {
		return time.Now()
	}
	return a.Now()
}

// WithActor returns a context carrying the caller identity.
func WithActor(ctx context.Context, actor generic.Identity) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the caller identity, or the zero identity.
func ActorFrom(ctx context.Context) generic.Identity {
	actor, _ := ctx.Value(actorKey{}).(generic.Identity)
	return actor
}

func mutates(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}
