package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/portalq/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultRunsLimit = 20
	journalTimeout   = 5 * time.Second
)

// Query handles POST /cyber/{wire name}. The body is a JSON array of
// parameter objects; with allowSingle a bare object is accepted too and its
// result is returned unwrapped.
func (h *Handler) Query(q schemas.QueryType, allowSingle bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := h.logger.With(zap.String("query_type", string(q)))

		items, single, err := h.decodeItems(w, r, allowSingle)
		if err != nil {
			log.Info("Rejected malformed request.", zap.Error(err))
			h.journalRun(r.Context(), q, len(items), nil, err, time.Now())
			writeError(w, err)
			return
		}

		started := time.Now()
		results, err := h.dispatcher.Dispatch(r.Context(), q, items)
		h.journalRun(r.Context(), q, len(items), results, err, started)
		if err != nil {
			if schemas.IsClientError(err) {
				log.Info("Rejected invalid query batch.", zap.Error(err))
			} else {
				log.Error("Query batch failed.", zap.Int("items", len(items)), zap.Error(err))
			}
			writeError(w, err)
			return
		}

		var data interface{} = results
		if single && len(results) == 1 {
			data = results[0]
		}
		writeEnvelope(w, http.StatusOK, schemas.Envelope{Code: schemas.CodeSuccess, Data: data})
	}
}

// decodeItems reads the request body as a list of parameter objects.
func (h *Handler) decodeItems(w http.ResponseWriter, r *http.Request, allowSingle bool) ([]schemas.Params, bool, error) {
	body := r.Body
	if h.cfg.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, false, &schemas.ValidationError{Message: fmt.Sprintf("failed to read request body: %v", err)}
	}

	var items []schemas.Params
	if err := json.Unmarshal(raw, &items); err == nil && items != nil {
		for i, item := range items {
			if item == nil {
				return nil, false, &schemas.ValidationError{Message: fmt.Sprintf("item %d must be a JSON object", i)}
			}
		}
		return items, false, nil
	}

	if allowSingle {
		var item schemas.Params
		if err := json.Unmarshal(raw, &item); err == nil && item != nil {
			return []schemas.Params{item}, true, nil
		}
		return nil, false, &schemas.ValidationError{Message: "request body must be a JSON object or an array of objects"}
	}
	return nil, false, &schemas.ValidationError{Message: "request body must be a JSON array of objects"}
}

// journalRun records the outcome of a batch when a journal is configured.
// Journal failures are logged and never reach the caller.
func (h *Handler) journalRun(ctx context.Context, q schemas.QueryType, items int, results []interface{}, runErr error, started time.Time) {
	if h.journal == nil {
		return
	}
	rec := schemas.RunRecord{
		ID:          uuid.NewString(),
		QueryType:   q,
		ItemCount:   items,
		RecordCount: countRecords(results),
		Status:      schemas.RunSucceeded,
		StartedAt:   started,
		FinishedAt:  time.Now(),
	}
	if runErr != nil {
		rec.Status = schemas.RunFailed
		if schemas.IsClientError(runErr) {
			rec.Status = schemas.RunRejected
		}
		rec.ErrorKind = schemas.ErrorKind(runErr)
		rec.Message = runErr.Error()
	}

	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()
	if err := h.journal.RecordRun(jctx, rec); err != nil {
		h.logger.Warn("Failed to journal query run.", zap.String("run_id", rec.ID), zap.Error(err))
	}
}

func countRecords(results []interface{}) int {
	n := 0
	for _, res := range results {
		switch v := res.(type) {
		case []schemas.Record:
			n += len(v)
		case schemas.QueryResult:
			n += len(v.Records)
		}
	}
	return n
}

// SelfTest handles GET /cyber/test by logging in and reporting the page title.
func (h *Handler) SelfTest(w http.ResponseWriter, r *http.Request) {
	title, err := h.dispatcher.SelfTest(r.Context())
	if err != nil {
		h.logger.Error("Login self test failed.", zap.Error(err))
		writeEnvelope(w, http.StatusInternalServerError, schemas.Envelope{
			Code:    schemas.CodeInternal,
			Message: fmt.Sprintf("login test failed: %v", err),
		})
		return
	}
	writeEnvelope(w, http.StatusOK, schemas.Envelope{
		Code:    schemas.CodeSuccess,
		Message: "login test succeeded",
		Title:   title,
	})
}

// Runs handles GET /cyber/runs?limit=N.
func (h *Handler) Runs(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeEnvelope(w, http.StatusNotFound, schemas.Envelope{Code: schemas.CodeNotFound, Message: "run journal is disabled"})
		return
	}
	limit := defaultRunsLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, &schemas.ValidationError{Message: fmt.Sprintf("limit must be a positive integer, got %q", s)})
			return
		}
		limit = n
	}

	runs, err := h.journal.RecentRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to read run journal.", zap.Error(err))
		writeError(w, err)
		return
	}
	writeEnvelope(w, http.StatusOK, schemas.Envelope{Code: schemas.CodeSuccess, Data: runs})
}

// NotFound answers unknown paths with the standard envelope.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeEnvelope(w, http.StatusNotFound, schemas.Envelope{Code: schemas.CodeNotFound, Message: "the requested resource does not exist"})
}

// MethodNotAllowed answers known paths hit with the wrong method.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeEnvelope(w, http.StatusMethodNotAllowed, schemas.Envelope{Code: schemas.CodeNotAllowed, Message: "request method not allowed"})
}

func writeError(w http.ResponseWriter, err error) {
	if schemas.IsClientError(err) {
		writeEnvelope(w, http.StatusBadRequest, schemas.Envelope{Code: schemas.CodeBadRequest, Message: err.Error()})
		return
	}
	msg := err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "query timed out: " + msg
	}
	writeEnvelope(w, http.StatusInternalServerError, schemas.Envelope{Code: schemas.CodeInternal, Message: msg})
}

func writeEnvelope(w http.ResponseWriter, status int, env schemas.Envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	// The client may already be gone; nothing useful can be done with the error.
	_ = json.NewEncoder(w).Encode(env)
}
