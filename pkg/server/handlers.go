package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"mercator-hq/packlimit/pkg/limits"
	"mercator-hq/packlimit/pkg/limits/policy"
	"mercator-hq/packlimit/pkg/telemetry/tracing"

	"go.opentelemetry.io/otel"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// AcquireRequest is the body of POST /v1/acquire.
type AcquireRequest struct {
	// Key is the numeric account id of an identified caller, or the remote
	// host of an anonymous one.
	Key string `json:"key"`
}

// AcquireResponse is the result of POST /v1/acquire. Denied acquisitions
// are answered with 429 and a Retry-After header.
type AcquireResponse struct {
	Allowed           bool   `json:"allowed"`
	FailOpen          bool   `json:"fail_open,omitempty"`
	PermitsPerHour    string `json:"permits_per_hour"`
	Message           string `json:"message,omitempty"`
	RetryAfterSeconds int64  `json:"retry_after_seconds,omitempty"`
}

// ReplenishBody is the body of POST /v1/replenish.
type ReplenishBody struct {
	All         bool     `json:"all"`
	Users       []string `json:"users"`
	RemoteHosts []string `json:"remote_hosts"`
}

// ReplenishResponse reports how many limiters were replenished.
type ReplenishResponse struct {
	Replenished int `json:"replenished"`
}

// ReloadResponse reports the outcome of POST /v1/reload.
type ReloadResponse struct {
	Outcome  string `json:"outcome"`
	Version  string `json:"version"`
	Rebuilt  int    `json:"rebuilt"`
	Rewarned int    `json:"rewarned"`
	Failed   int    `json:"failed"`
}

type handlers struct {
	engine   Engine
	reloader Reloader
	logger   *slog.Logger
}

func (h *handlers) acquire(w http.ResponseWriter, r *http.Request) {
	var req AcquireRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Key = strings.TrimSpace(req.Key)
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}

	ctx, span := otel.Tracer(tracing.InstrumentationName).Start(r.Context(), "limits.Acquire")
	defer span.End()

	d := h.engine.Check(ctx, req.Key)
	resp := AcquireResponse{
		Allowed:        d.Allowed,
		FailOpen:       d.FailOpen,
		PermitsPerHour: limits.FormatPermits(d.MaxPermits),
	}
	decision := "granted"
	switch {
	case d.FailOpen:
		decision = "fail_open"
	case !d.Allowed:
		decision = "denied"
	}
	span.SetAttributes(tracing.KeyCallerKey.String(req.Key), tracing.KeyDecision.String(decision))

	if d.Allowed {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	secs := int64(math.Ceil(d.RetryAfter.Seconds()))
	resp.Message = d.Message
	resp.RetryAfterSeconds = secs
	if secs > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeJSON(w, http.StatusTooManyRequests, resp)
}

func (h *handlers) list(w http.ResponseWriter, r *http.Request) {
	entries := limits.Entries(h.engine.ListAll(r.Context()))

	if wantsText(r) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if err := limits.WriteTable(w, entries); err != nil {
			h.logger.WarnContext(r.Context(), "failed to write listing", "error", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handlers) replenish(w http.ResponseWriter, r *http.Request) {
	var body ReplenishBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	n, err := h.engine.ReplenishRequest(r.Context(), limits.ReplenishRequest{
		All:         body.All,
		Users:       body.Users,
		RemoteHosts: body.RemoteHosts,
	})
	switch {
	case errors.Is(err, limits.ErrUnknownUser):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ReplenishResponse{Replenished: n})
}

func (h *handlers) reload(w http.ResponseWriter, r *http.Request) {
	res, err := h.reloader.Reload(r.Context())
	if err != nil {
		writeError(w, reloadStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ReloadResponse{
		Outcome:  res.Outcome,
		Version:  res.Version,
		Rebuilt:  res.Report.Rebuilt,
		Rewarned: res.Report.Rewarned,
		Failed:   res.Report.Failed,
	})
}

// reloadStatus maps a failed reload to a status. Only a document that fails
// to parse is unprocessable; an unreadable file or an unreachable repository
// leaves the source unavailable.
func reloadStatus(err error) int {
	var pe *policy.ParseError
	if errors.As(err, &pe) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusServiceUnavailable
}

func wantsText(r *http.Request) bool {
	if f := r.URL.Query().Get("format"); f != "" {
		return f == "text"
	}
	return strings.HasPrefix(r.Header.Get("Accept"), "text/plain")
}

// decodeBody decodes a JSON body, allowing an empty one.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return errors.New("failed to parse request")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorResponse{Error: msg})
}
