package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/leafsii/cachekit/pkg/kv"
)

const (
	maxBodyBytes  = 1 << 20
	readyzTimeout = 2 * time.Second
)

// MetricsInterface defines the interface for metrics recording
type MetricsInterface interface {
	RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration)
}

type Handler struct {
	store  kv.Store
	logger *zap.SugaredLogger

	// reads coalesces identical concurrent GETs into one store call
	reads singleflight.Group
}

func NewHandler(store kv.Store, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{
		store:  store,
		logger: logger,
	}
}

// Health endpoints
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyzTimeout)
	defer cancel()

	resp := ReadyResponse{Status: "ready"}
	if fs, ok := h.store.(interface{ ActiveBackend() string }); ok {
		resp.Backend = fs.ActiveBackend()
	}

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warnw("Readiness check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Strings

func (h *Handler) GetString(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	value, err := coalesce(h, r, func(ctx context.Context) (string, error) {
		return h.store.Get(ctx, key)
	})
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StringDTO{Key: key, Value: value})
}

func (h *Handler) PutString(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var req StringRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	ttl, err := kv.Seconds("set", key, req.TTLSeconds)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if err := h.store.Set(r.Context(), key, req.Value, ttl); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, WriteResponse{Key: key})
}

// Hashes

func (h *Handler) GetHash(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	fields, err := coalesce(h, r, func(ctx context.Context) (map[string]string, error) {
		return h.store.HashGetAll(ctx, key)
	})
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, HashDTO{Key: key, Fields: fields})
}

func (h *Handler) PutHash(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var req HashRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	ttl, err := kv.Seconds("hash_set", key, req.TTLSeconds)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if err := h.store.HashSet(r.Context(), key, req.Fields, ttl); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, WriteResponse{Key: key, Count: int64(len(req.Fields))})
}

// Lists

func (h *Handler) GetList(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	values, err := coalesce(h, r, func(ctx context.Context) ([]string, error) {
		return h.store.ListGetAll(ctx, key)
	})
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ListDTO{Key: key, Values: values})
}

func (h *Handler) PutList(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var req ListRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	ttl, err := kv.Seconds("list_push", key, req.TTLSeconds)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	n, err := h.store.ListPush(r.Context(), key, req.Values, ttl)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, WriteResponse{Key: key, Count: n})
}

// Sets

func (h *Handler) GetSet(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	members, err := coalesce(h, r, func(ctx context.Context) ([]string, error) {
		return h.store.SetGetAll(ctx, key)
	})
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MembersDTO{Key: key, Members: members})
}

func (h *Handler) PutSet(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var req SetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	ttl, err := kv.Seconds("set_add", key, req.TTLSeconds)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	n, err := h.store.SetAdd(r.Context(), key, req.Members, ttl)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, WriteResponse{Key: key, Count: n})
}

// Sorted sets

// GetSortedSet ranges by score when min or max is given, by rank otherwise.
// Rank bounds default to the whole set and score bounds to -inf/+inf.
func (h *Handler) GetSortedSet(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	q := r.URL.Query()

	var read func(ctx context.Context) ([]string, error)
	if q.Has("min") || q.Has("max") {
		lo, err := parseScore(q.Get("min"), math.Inf(-1))
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_PARAMETER", fmt.Sprintf("min: %v", err))
			return
		}
		hi, err := parseScore(q.Get("max"), math.Inf(1))
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_PARAMETER", fmt.Sprintf("max: %v", err))
			return
		}
		read = func(ctx context.Context) ([]string, error) {
			return h.store.SortedSetRangeByScore(ctx, key, lo, hi)
		}
	} else {
		start, err := parseRank(q.Get("start"), 0)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_PARAMETER", fmt.Sprintf("start: %v", err))
			return
		}
		stop, err := parseRank(q.Get("stop"), -1)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_PARAMETER", fmt.Sprintf("stop: %v", err))
			return
		}
		read = func(ctx context.Context) ([]string, error) {
			return h.store.SortedSetRange(ctx, key, start, stop)
		}
	}

	members, err := coalesce(h, r, read)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MembersDTO{Key: key, Members: members})
}

func (h *Handler) PutSortedSet(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var req SortedSetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	ttl, err := kv.Seconds("sorted_set_add", key, req.TTLSeconds)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	n, err := h.store.SortedSetAdd(r.Context(), key, req.Members, ttl)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, WriteResponse{Key: key, Count: n})
}

// Keys

func (h *Handler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	n, err := h.store.Delete(r.Context(), key)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{Key: key, Deleted: n})
}

// HeadKey answers 200 when the key exists and 404 otherwise, with no body
func (h *Handler) HeadKey(w http.ResponseWriter, r *http.Request) {
	ok, err := h.store.Exists(r.Context(), chi.URLParam(r, "key"))
	switch {
	case err != nil:
		status, _ := statusFor(err)
		w.WriteHeader(status)
	case ok:
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) ListKeys(w http.ResponseWriter, r *http.Request) {
	scanner, ok := h.store.(kv.Scanner)
	if !ok {
		writeError(w, http.StatusNotImplemented, "NOT_SUPPORTED", "store cannot enumerate keys")
		return
	}

	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		pattern = "*"
	}
	keys, err := coalesce(h, r, func(ctx context.Context) ([]string, error) {
		return scanner.Keys(ctx, pattern)
	})
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, KeysResponse{Pattern: pattern, Keys: keys})
}

func (h *Handler) Batch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}

	entries := make([]kv.Entry, len(req.Entries))
	for i, e := range req.Entries {
		entries[i] = kv.Entry{Key: e.Key, Value: e.Value}
	}
	if err := h.store.BatchSet(r.Context(), entries); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BatchResponse{Written: len(entries)})
}

// coalesce shares one store read between identical concurrent requests. The
// read is detached from the first caller's cancellation and bounded only by
// the store's own timeouts.
func coalesce[T any](h *Handler, r *http.Request, read func(ctx context.Context) (T, error)) (T, error) {
	ctx := context.WithoutCancel(r.Context())
	v, err, _ := h.reads.Do(r.URL.Path+"?"+r.URL.RawQuery, func() (any, error) {
		return read(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func parseScore(raw string, fallback float64) (float64, error) {
	if raw == "" {
		return fallback, nil
	}
	score, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(score) {
		return 0, fmt.Errorf("invalid score %q", raw)
	}
	return score, nil
}

func parseRank(raw string, fallback int64) (int64, error) {
	if raw == "" {
		return fallback, nil
	}
	rank, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid index %q", raw)
	}
	return rank, nil
}

// statusFor maps the store error taxonomy onto HTTP
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, kv.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, kv.ErrMalformedArgument):
		return http.StatusBadRequest, "INVALID_ARGUMENT"
	case errors.Is(err, kv.ErrConnectionUnavailable):
		return http.StatusServiceUnavailable, "STORE_UNAVAILABLE"
	case errors.Is(err, kv.ErrOperationFailed):
		return http.StatusBadGateway, "STORE_ERROR"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func (h *Handler) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Warnw("Store request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
	}
	writeError(w, status, code, err.Error())
}

// Utility functions

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}
