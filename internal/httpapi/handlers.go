package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/docstatus"
	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/ingestion"
	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/search"
	"github.com/TuckerTucker/tkr-docusearch-sub004/internal/vectorstore"
)

// errorCode is one of the §6 error envelope's SYMBOL values.
type errorCode string

const (
	codeDocumentNotFound  errorCode = "DOCUMENT_NOT_FOUND"
	codeInvalidRequest    errorCode = "INVALID_REQUEST"
	codeUnsupportedFormat errorCode = "UNSUPPORTED_FORMAT"
	codeFileTooLarge      errorCode = "FILE_TOO_LARGE"
	codeServerError       errorCode = "SERVER_ERROR"
	codeStoreUnavailable  errorCode = "STORE_UNAVAILABLE"
	codeEmbedUnavailable  errorCode = "EMBED_UNAVAILABLE"
)

// processRequest is POST /process's body.
type processRequest struct {
	FilePath string `json:"file_path"`
	Filename string `json:"filename"`
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, codeInvalidRequest, "malformed request body")
		return
	}
	if req.FilePath == "" || req.Filename == "" {
		respondError(w, http.StatusBadRequest, codeInvalidRequest, "file_path and filename are required")
		return
	}

	result, err := s.pipeline.Submit(r.Context(), req.FilePath, req.Filename)
	if err != nil {
		log.Error().Err(err).Str("file_path", req.FilePath).Msg("httpapi: process failed")
		respondError(w, http.StatusInternalServerError, codeServerError, err.Error())
		return
	}
	if result.Rejected {
		code := codeInvalidRequest
		status := http.StatusBadRequest
		switch result.RejectCode {
		case ingestion.RejectUnsupportedFormat:
			code = codeUnsupportedFormat
		case ingestion.RejectFileTooLarge:
			code = codeFileTooLarge
			status = http.StatusRequestEntityTooLarge
		}
		respondErrorDetails(w, status, code, result.Reason, map[string]any{"doc_id": result.DocID})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"doc_id":    result.DocID,
		"status":    "queued",
		"duplicate": result.Duplicate,
	})
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	docID := r.PathValue("docID")
	st, ok := s.status.Get(docID)
	if !ok {
		respondError(w, http.StatusNotFound, codeDocumentNotFound, "unknown doc_id")
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleStatusQueue(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	filterState := r.URL.Query().Get("status")

	var statuses []docstatus.ProcessingStatus
	if filterState == "" {
		statuses = s.status.ListAll(limit)
	} else {
		for _, st := range s.status.ListAll(0) {
			if string(st.State) == filterState {
				statuses = append(statuses, st)
			}
		}
		if limit > 0 && len(statuses) > limit {
			statuses = statuses[:limit]
		}
	}

	hist := s.status.CountByState()
	active := 0
	for state, n := range hist {
		if !state.IsTerminal() {
			active += n
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"queue":     statuses,
		"total":     len(s.status.ListAll(0)),
		"active":    active,
		"completed": hist[docstatus.StateCompleted],
		"failed":    hist[docstatus.StateFailed],
	})
}

func (s *Server) handleStatusHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	visualCount, err := s.health.Count(ctx, vectorstore.CollectionVisual)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, codeStoreUnavailable, err.Error())
		return
	}
	textCount, err := s.health.Count(ctx, vectorstore.CollectionText)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, codeStoreUnavailable, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"collections": map[string]int{
			"visual": visualCount,
			"text":   textCount,
		},
	})
}

// searchRequest is POST /search's body.
type searchRequest struct {
	Query   string              `json:"query"`
	K       int                 `json:"k"`
	Mode    string              `json:"mode"`
	Filters searchRequestFilter `json:"filters"`
}

type searchRequestFilter struct {
	DocIDs []string `json:"doc_ids"`
	After  string   `json:"after"`
	Before string   `json:"before"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, codeInvalidRequest, "malformed request body")
		return
	}
	if req.Query == "" {
		respondError(w, http.StatusBadRequest, codeInvalidRequest, "query is required")
		return
	}

	resp, err := s.engine.Query(r.Context(), search.Request{
		Query:  req.Query,
		KFinal: req.K,
		Mode:   search.Mode(req.Mode),
		Filters: vectorstore.Filter{
			DocIDs: req.Filters.DocIDs,
		},
	})
	if err != nil {
		log.Error().Err(err).Str("query", req.Query).Msg("httpapi: search failed")
		respondError(w, http.StatusServiceUnavailable, codeEmbedUnavailable, err.Error())
		return
	}

	results := make([]map[string]any, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, map[string]any{
			"doc_id":       r.DocID,
			"kind":         string(r.Collection),
			"index":        r.Index,
			"repr_score":   r.ReprScore,
			"maxsim_score": r.MaxSimScore,
			"fused_score":  r.FusedScore,
			"meta":         r.Metadata,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"partial": resp.Partial,
	})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// errorEnvelope matches spec.md §6's `{error, code, details?}` shape.
type errorEnvelope struct {
	Error   string         `json:"error"`
	Code    errorCode      `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

func respondError(w http.ResponseWriter, status int, code errorCode, message string) {
	respondErrorDetails(w, status, code, message, nil)
}

func respondErrorDetails(w http.ResponseWriter, status int, code errorCode, message string, details map[string]any) {
	respondJSON(w, status, errorEnvelope{Error: message, Code: code, Details: details})
}
