package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"quantbench/internal/domain"
	"quantbench/internal/strategy"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeErr(w, err)
		return
	}
	res, err := s.submit(req)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/backtests/"+res.ID)
	writeJSONStatus(w, http.StatusAccepted, res)
}

// submit is shared by the REST and gRPC transports.
func (s *Server) submit(req SubmitRequest) (*domain.BacktestResult, error) {
	start, end, err := req.dates()
	if err != nil {
		return nil, err
	}
	return s.runs.Submit(req.Strategy, start, end)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	list, err := s.runs.List(r.Context(), limit)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if list == nil {
		list = []domain.BacktestResult{}
	}
	writeJSON(w, ListResponse{Backtests: list, Count: len(list)})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	res, err := s.runs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.runs.Cancel(r.Context(), id); err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, CancelResponse{ID: id, Status: "cancel_requested"})
}

func (s *Server) handleStrategyTypes(w http.ResponseWriter, _ *http.Request) {
	families := s.runs.Registry().List()
	out := make([]FamilyResponse, 0, len(families))
	for _, f := range families {
		out = append(out, familyResponse(f))
	}
	writeJSON(w, out)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var def domain.StrategyDefinition
	if err := decodeBody(r, &def); err != nil {
		s.writeErr(w, err)
		return
	}
	norm, err := s.runs.Registry().Normalize(def)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, norm)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return fmt.Errorf("%w: reading body: %v", domain.ErrInvalidParameters, err)
	}
	if len(body) > maxBodyBytes {
		return fmt.Errorf("%w: body exceeds %d bytes", domain.ErrInvalidParameters, maxBodyBytes)
	}
	if err := json.Unmarshal(body, v); err != nil {
		if errors.Is(err, domain.ErrInvalidParameters) {
			return err
		}
		return fmt.Errorf("%w: decoding body: %v", domain.ErrInvalidParameters, err)
	}
	return nil
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidParameters):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, strategy.ErrShutdown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.log.Error("request failed", "error", err)
	}
	writeJSONStatus(w, status, ErrorResponse{Error: err.Error(), Kind: domain.ErrorKind(err)})
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSONStatus(w, status, ErrorResponse{Error: msg})
}
