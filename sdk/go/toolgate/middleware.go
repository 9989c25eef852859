package toolgate

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ppiankov/toolgate/internal/ratelimit"
)

// HTTP headers read by Middleware.
const (
	HeaderIdentity = "X-Toolgate-Identity"
	HeaderSession  = "X-Toolgate-Session"
	HeaderTool     = "X-Toolgate-Tool"
)

// maxBody bounds the request body. Larger bodies are rejected unscreened.
const maxBody = 1 << 20

var errBodyTooLarge = errors.New("request body exceeds 1 MiB")

// Middleware returns an http.Handler that checks each request before passing
// it to next. The tool is taken from X-Toolgate-Tool, else the last path
// segment; the identity from X-Toolgate-Identity, else the guard default.
// The request body is screened as the call arguments. Blocked requests get a
// JSON body and 403, or 429 with Retry-After when rate limited.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call, err := callFromRequest(r)
		if errors.Is(err, errBodyTooLarge) {
			http.Error(w, "toolgate: "+err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		if err != nil {
			http.Error(w, "toolgate: read body: "+err.Error(), http.StatusBadRequest)
			return
		}
		res := g.Check(r.Context(), call)

		if !res.Allowed() {
			w.Header().Set("Content-Type", "application/json")
			status := http.StatusForbidden
			if res.Stage == "ratelimit" {
				status = http.StatusTooManyRequests
				w.Header().Set("Retry-After", strconv.Itoa(ratelimit.RetrySeconds(res.RetryAfter)))
			}
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(map[string]any{
				"blocked":     true,
				"decision":    string(res.Decision),
				"reason":      res.Reason,
				"stage":       res.Stage,
				"rule_id":     res.RuleID,
				"decision_id": res.DecisionID,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// callFromRequest maps an HTTP request to a Call. The body is read and
// replaced so next still sees it.
func callFromRequest(r *http.Request) (Call, error) {
	tool := r.Header.Get(HeaderTool)
	if tool == "" {
		path := strings.Trim(r.URL.Path, "/")
		if i := strings.LastIndex(path, "/"); i >= 0 {
			path = path[i+1:]
		}
		tool = path
	}

	call := Call{
		Tool:     tool,
		Identity: r.Header.Get(HeaderIdentity),
		Session:  r.Header.Get(HeaderSession),
	}

	if r.Body != nil && r.Body != http.NoBody {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
		if err != nil {
			return call, err
		}
		if len(body) > maxBody {
			return call, errBodyTooLarge
		}
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
		if len(body) > 0 {
			call.Args = body
		}
	}
	return call, nil
}
