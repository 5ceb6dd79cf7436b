package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ethpandaops/testoor/pkg/coverage"
	"github.com/ethpandaops/testoor/pkg/sequencer"
	"github.com/ethpandaops/testoor/pkg/store"
	"github.com/ethpandaops/testoor/pkg/testctx"
	"github.com/go-chi/chi/v5"
)

// maxSequenceBody bounds the request body of /sequence.
const maxSequenceBody = 8 << 20

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// handleHealth returns server health and the history schema version.
func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	version, err := s.store.SchemaVersion(r.Context())
	if err != nil {
		s.log.WithError(err).Warn("Health check failed")
		writeJSON(w, http.StatusServiceUnavailable,
			errorResponse{"history store unavailable"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"schema_version": version,
	})
}

type sequenceRequest struct {
	Tests      []testctx.Test `json:"tests"`
	FailedOnly bool           `json:"failed_only"`
}

type sequenceResponse struct {
	Tests []scoreResponse `json:"tests"`
}

type scoreResponse struct {
	Path    string   `json:"path,omitempty"`
	Project string   `json:"project"`
	Test    string   `json:"test"`
	Score   *float64 `json:"score"`
}

func newScoreResponse(sc sequencer.Scored) scoreResponse {
	resp := scoreResponse{
		Path:    sc.Test.Path,
		Project: testctx.ProjectID(sc.Test.Project),
		Test:    sc.Test.Name(),
	}

	if sc.Known {
		score := sc.Score
		resp.Score = &score
	}

	return resp
}

// handleSequence orders the posted tests by descending score, optionally
// keeping only tests whose most recent outcome failed.
func (s *server) handleSequence(w http.ResponseWriter, r *http.Request) {
	var req sequenceRequest

	if err := json.NewDecoder(
		http.MaxBytesReader(w, r.Body, maxSequenceBody),
	).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	tests := req.Tests

	if req.FailedOnly {
		failed, err := s.sequencer.AllFailedTests(r.Context(), tests)
		if err != nil {
			s.internalError(w, "filtering failed tests", err)

			return
		}

		tests = failed
	}

	scored, err := s.sequencer.Scores(r.Context(), tests)
	if err != nil {
		s.internalError(w, "scoring tests", err)

		return
	}

	sequencer.SortScored(scored)

	resp := sequenceResponse{Tests: make([]scoreResponse, 0, len(scored))}
	for _, sc := range scored {
		resp.Tests = append(resp.Tests, newScoreResponse(sc))
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleScore returns the score of one test within one project.
func (s *server) handleScore(w http.ResponseWriter, r *http.Request) {
	project := r.URL.Query().Get("project")
	test := r.URL.Query().Get("test")

	if test == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"test is required"})

		return
	}

	score, ok, err := s.store.Score(r.Context(), project, test)
	if err != nil {
		s.internalError(w, "scoring test", err)

		return
	}

	resp := scoreResponse{Project: project, Test: test}
	if ok {
		resp.Score = &score
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleFindOutcomes returns outcome ids of a test from the closest
// matching execution context.
func (s *server) handleFindOutcomes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	test := q.Get("test")
	if test == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"test is required"})

		return
	}

	ids, err := s.store.FindSomeOutcomes(
		r.Context(), test, q.Get("project"), q.Get("root_dir"),
	)
	if err != nil {
		s.internalError(w, "finding outcomes", err)

		return
	}

	if ids == nil {
		ids = []uint{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"ids": ids})
}

// handleOutcomeCoverage returns the decompressed coverage of one outcome.
func (s *server) handleOutcomeCoverage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid outcome id"})

		return
	}

	outcome, err := s.store.GetOutcome(r.Context(), uint(id))
	if err != nil {
		if errors.Is(err, store.ErrOutcomeNotFound) {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"outcome not found"})

			return
		}

		s.internalError(w, "getting outcome", err)

		return
	}

	if len(outcome.Coverage) == 0 {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"outcome has no coverage"})

		return
	}

	shrunk, err := coverage.Decompress(outcome.Coverage)
	if err != nil {
		s.internalError(w, "decoding coverage", err)

		return
	}

	writeJSON(w, http.StatusOK, shrunk)
}

// handleListRuns lists runs, newest first, optionally for one project.
func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context(), r.URL.Query().Get("project"))
	if err != nil {
		s.internalError(w, "listing runs", err)

		return
	}

	resp := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, runResponse{
			ID:        run.ID,
			RootDir:   run.RootDir,
			ProjectID: run.ProjectID,
			Started:   run.Started,
			Finished:  run.Finished,
			RunName:   run.RunName,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"runs": resp})
}

type runResponse struct {
	ID        uint    `json:"id"`
	RootDir   string  `json:"root_dir"`
	ProjectID string  `json:"project_id"`
	Started   int64   `json:"started"`
	Finished  *int64  `json:"finished"`
	RunName   *string `json:"run_name"`
}

func (s *server) internalError(w http.ResponseWriter, msg string, err error) {
	s.log.WithError(err).Error(msg)
	writeJSON(w, http.StatusInternalServerError, errorResponse{msg})
}
