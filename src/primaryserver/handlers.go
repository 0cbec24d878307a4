package primaryserver

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/notnil/chess"

	"github.com/jacokyle01/remote-uci/src/models"
)

// HTTP handlers
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var job models.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if job.BatchID != "" {
		http.Error(w, "batch_id is assigned by the server", http.StatusBadRequest)
		return
	}

	id := s.AddJob(job)
	writeJSON(w, map[string]string{"job_id": id})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	jobID := r.URL.Query().Get("job_id")
	if jobID == "" {
		http.Error(w, "Missing job_id parameter", http.StatusBadRequest)
		return
	}
	if !s.CancelJob(jobID) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	jobID := r.URL.Query().Get("job_id")
	if jobID == "" {
		http.Error(w, "Missing job_id parameter", http.StatusBadRequest)
		return
	}

	result, exists := s.GetResult(jobID)
	if !exists {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, result)
}

func (s *Server) handleViewQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	pendingJobs := s.PendingJobs()
	s.mu.RLock()
	status := map[string]any{
		"queue_length": len(pendingJobs),
		"pending_jobs": pendingJobs,
		"running":      s.inflight,
		"provider":     s.connected,
	}
	s.mu.RUnlock()

	writeJSON(w, status)
}

// requestForAnalysis turns every position of a game into a job of one batch.
func (s *Server) requestForAnalysis(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Pgn   string             `json:"pgn"`
		Limit models.SearchLimit `json:"limit"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	pgn, err := chess.PGN(strings.NewReader(req.Pgn))
	if err != nil {
		http.Error(w, "invalid PGN: "+err.Error(), http.StatusBadRequest)
		return
	}
	game := chess.NewGame(pgn)

	// Jobs share the game's starting position and replay its moves so that
	// the provider can reuse its search state between them.
	base := game.Positions()[0].String()
	moves := game.Moves()

	batch := &models.Batch{
		ID:      uuid.NewString(),
		Results: make(map[string]models.Result),
		Total:   len(moves) + 1,
	}
	jobs := make([]models.Job, 0, batch.Total)
	for ply := 0; ply <= len(moves); ply++ {
		played := make([]string, 0, ply)
		for _, m := range moves[:ply] {
			played = append(played, m.String())
		}
		job := models.Job{
			ID:      uuid.NewString(),
			BatchID: batch.ID,
			Request: models.AnalysisRequest{FEN: base, Moves: played, Limit: req.Limit},
		}
		batch.JobIDs = append(batch.JobIDs, job.ID)
		jobs = append(jobs, job)
	}

	s.addBatch(batch)
	for _, job := range jobs {
		s.AddJob(job)
	}

	writeJSON(w, map[string]any{"batch_id": batch.ID, "job_ids": batch.JobIDs})
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	batch, ok := s.GetBatch(r.URL.Query().Get("batch_id"))
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, batch)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
