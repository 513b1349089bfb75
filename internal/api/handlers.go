// Package api exposes the admission core over a small JSON/HTTP ops
// surface so collaborators in other processes can ask before spending
// an expensive call and report how it went afterward. The limiter
// itself stays process-local; this is a front door, not a
// distributed counter.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/AlexKimmel/AdmitLite/internal/admission"
	"github.com/AlexKimmel/AdmitLite/internal/cache"
	"github.com/AlexKimmel/AdmitLite/internal/obs"
)

type Handlers struct {
	Limiter *admission.Limiter
	Cache   *cache.Cache
	Log     zerolog.Logger
	Metrics *obs.Metrics // optional
}

// Register mounts every ops endpoint on mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/check", h.check)
	mux.HandleFunc("POST /v1/acquire", h.acquire)
	mux.HandleFunc("POST /v1/report", h.report)
	mux.HandleFunc("POST /v1/wait", h.wait)
	mux.HandleFunc("POST /v1/reset", h.reset)
	mux.HandleFunc("GET /v1/stats", h.stats)
	mux.HandleFunc("GET /v1/cache/{key}", h.cacheGet)
	mux.HandleFunc("PUT /v1/cache/{key}", h.cacheSet)
	mux.HandleFunc("DELETE /v1/cache/{key}", h.cacheDelete)
}

type admitRequest struct {
	Identity  string `json:"identity"`
	Endpoint  string `json:"endpoint,omitempty"`
	OK        *bool  `json:"ok,omitempty"`          // report only
	MaxWaitMS int64  `json:"max_wait_ms,omitempty"` // wait only
	All       bool   `json:"all,omitempty"`         // reset only
}

type decisionResponse struct {
	Allowed      bool   `json:"allowed"`
	Scope        string `json:"scope,omitempty"`
	Reason       string `json:"reason,omitempty"`
	RetryAfterMS int64  `json:"retry_after_ms,omitempty"`
}

func toResponse(d admission.Decision) decisionResponse {
	return decisionResponse{
		Allowed:      d.Allowed,
		Scope:        string(d.Scope),
		Reason:       d.Reason,
		RetryAfterMS: d.RetryAfter.Milliseconds(),
	}
}

// check is the non-consuming inspection call.
func (h *Handlers) check(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	writeData(w, http.StatusOK, toResponse(h.Limiter.Check(req.Identity)))
}

// acquire is the atomic admission path: check and, if allowed, commit
// in one critical section.
func (h *Handlers) acquire(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	dec := h.Limiter.TryAcquire(req.Identity, req.Endpoint)
	h.count(dec)

	code := http.StatusOK
	if !dec.Allowed {
		code = http.StatusTooManyRequests
	}
	writeData(w, code, toResponse(dec))
}

// report records the outcome of work the caller performed after an
// earlier acquire: ok=false bumps the identity's failure streak,
// ok=true clears it. ok=true also appends a request, for callers
// that commit work without acquiring first.
func (h *Handlers) report(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}
	if req.OK == nil {
		writeError(w, http.StatusBadRequest, "bad_request", `"ok" is required`)
		return
	}

	if *req.OK {
		h.Limiter.Record(req.Identity, req.Endpoint)
	} else {
		h.Limiter.RecordFailure(req.Identity)
		h.Log.Debug().Str("identity", req.Identity).Msg("failure reported")
	}
	w.WriteHeader(http.StatusNoContent)
}

// wait long-polls for a free slot. Closing the request (client gone,
// server shutdown) cancels the wait within one poll interval.
func (h *Handlers) wait(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	maxWait := time.Duration(req.MaxWaitMS) * time.Millisecond
	allowed := h.Limiter.WaitUntilAllowed(r.Context(), req.Identity, maxWait)
	if !allowed && h.Metrics != nil {
		h.Metrics.WaitTimeouts.Inc()
	}
	writeData(w, http.StatusOK, map[string]bool{"allowed": allowed})
}

func (h *Handlers) reset(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	if req.All {
		h.Limiter.ResetAll()
		h.Log.Info().Msg("limiter state reset (all identities)")
	} else {
		h.Limiter.Reset(req.Identity)
		h.Log.Info().Str("identity", req.Identity).Msg("limiter state reset")
	}
	w.WriteHeader(http.StatusNoContent)
}

type statsResponse struct {
	Limiter admission.Stats `json:"limiter"`
	Cache   cache.Stats     `json:"cache"`
}

func (h *Handlers) stats(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, statsResponse{
		Limiter: h.Limiter.Stats(),
		Cache:   h.Cache.Stats(),
	})
}

func (h *Handlers) cacheGet(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	v, ok := h.Cache.Get(key)
	if !ok {
		if h.Metrics != nil {
			h.Metrics.CacheMiss()
		}
		writeError(w, http.StatusNotFound, "cache_miss", "no live entry for key")
		return
	}
	if h.Metrics != nil {
		h.Metrics.CacheHit()
	}
	raw, _ := v.(json.RawMessage)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (h *Handlers) cacheSet(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "body must be valid JSON")
		return
	}
	h.Cache.Set(r.PathValue("key"), raw)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) cacheDelete(w http.ResponseWriter, r *http.Request) {
	h.Cache.Delete(r.PathValue("key"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) count(d admission.Decision) {
	if h.Metrics == nil {
		return
	}
	if d.Allowed {
		h.Metrics.Allowed()
	} else {
		h.Metrics.Denied(string(d.Scope))
	}
}

// decode parses the shared request body. An empty body is fine: every
// field has a usable zero value (identity falls back to "default").
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request) (admitRequest, bool) {
	var req admitRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return req, false
	}
	return req, true
}

func writeData(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// local tiny JSON helper to avoid pulling the envelope into a shared package
func writeError(w http.ResponseWriter, code int, errCode, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"error":{"code":"` + errCode + `","message":"` + msg + `"}}`))
}
