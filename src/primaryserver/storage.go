package primaryserver

import (
	"github.com/jacokyle01/remote-uci/src/models"
)

// recordUpdate folds a provider update into the running job's summary.
// Only the first principal variation is tracked.
func (s *Server) recordUpdate(jobID string, u *models.AnalysisUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.progress[jobID]
	if !ok || jobID != s.inflight || u == nil {
		return
	}
	r.Updates++
	if u.MultiPV != nil && *u.MultiPV != 1 {
		return
	}
	if u.Depth != nil {
		r.Depth = *u.Depth
	}
	if u.Nodes != nil {
		r.Nodes = *u.Nodes
	}
	if u.NPS != nil {
		r.NodesPerS = *u.NPS
	}
	if u.TimeMS != nil {
		r.Time = *u.TimeMS
	}
	if u.Score != nil {
		r.Score = u.Score
	}
	if len(u.PV) > 0 {
		r.PV = u.PV
	}
}

// SubmitResult stores a completed analysis result and frees the provider
// for the next job.
func (s *Server) SubmitResult(jobID string, res models.AnalysisResult) {
	s.mu.Lock()
	if jobID != s.inflight {
		s.mu.Unlock()
		s.log.Warn("result for a job that is not running", "job", jobID)
		return
	}

	summary := models.Result{JobID: jobID}
	if p, ok := s.progress[jobID]; ok {
		summary = *p
	}
	delete(s.progress, jobID)
	s.inflight = ""

	summary.Status = res.Status
	summary.BestMove = res.BestMove
	summary.Ponder = res.Ponder
	summary.NoMove = res.NoMove
	summary.Error = string(res.Error)
	s.storeLocked(summary)
	s.mu.Unlock()

	s.log.Info("received result", "job", jobID, "status", res.Status, "best_move", res.BestMove, "error", res.Error)
	s.notify()
}

// storeLocked records a terminal result and updates its batch. s.mu must
// be held.
func (s *Server) storeLocked(result models.Result) {
	job := s.jobMap[result.JobID]
	delete(s.jobMap, result.JobID)
	s.resultsStore[result.JobID] = result

	batch, ok := s.batches[job.BatchID]
	if !ok {
		return
	}
	if _, seen := batch.Results[result.JobID]; !seen {
		batch.Completed++
	}
	batch.Results[result.JobID] = result
	s.log.Info("batch progress", "batch", batch.ID, "completed", batch.Completed, "total", batch.Total)
}

// GetResult retrieves a result by job ID
func (s *Server) GetResult(jobID string) (models.Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, exists := s.resultsStore[jobID]
	return result, exists
}

// GetBatch returns a copy of a batch's progress.
func (s *Server) GetBatch(batchID string) (models.Batch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.batches[batchID]
	if !ok {
		return models.Batch{}, false
	}
	out := *b
	out.JobIDs = append([]string(nil), b.JobIDs...)
	out.Results = make(map[string]models.Result, len(b.Results))
	for id, r := range b.Results {
		out.Results[id] = r
	}
	return out, true
}

func (s *Server) addBatch(b *models.Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[b.ID] = b
}
