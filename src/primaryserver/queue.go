package primaryserver

import (
	"github.com/google/uuid"

	"github.com/jacokyle01/remote-uci/src/models"
)

// defaultLimit applies to jobs submitted without one.
var defaultLimit = models.SearchLimit{Depth: 15}

// AddJob adds a new analysis job to the queue and returns its id.
func (s *Server) AddJob(job models.Job) string {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Request.Limit == (models.SearchLimit{}) {
		job.Request.Limit = defaultLimit
	}

	s.mu.Lock()
	if _, exists := s.jobMap[job.ID]; exists {
		s.mu.Unlock()
		s.log.Warn("job already queued", "job", job.ID)
		return job.ID
	}
	s.jobMap[job.ID] = job
	s.pending = append(s.pending, job.ID)
	delete(s.resultsStore, job.ID)
	queued := len(s.pending)
	s.mu.Unlock()

	s.log.Info("added job to queue", "job", job.ID, "queued", queued)
	s.notify()
	return job.ID
}

// CancelJob drops a queued job or asks the provider to stop a running one.
// It reports false for unknown or finished jobs.
func (s *Server) CancelJob(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if jobID == s.inflight {
		s.outbox = append(s.outbox, models.Envelope{Type: models.TypeCancel, SessionID: jobID})
		s.notify()
		return true
	}
	for i, id := range s.pending {
		if id != jobID {
			continue
		}
		s.pending = append(s.pending[:i], s.pending[i+1:]...)
		s.storeLocked(models.Result{JobID: jobID, Status: models.StatusCancelled, Error: string(models.ErrCancelled)})
		return true
	}
	return false
}

// PendingJobs lists queued jobs in dispatch order.
func (s *Server) PendingJobs() []models.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]models.Job, 0, len(s.pending))
	for _, id := range s.pending {
		jobs = append(jobs, s.jobMap[id])
	}
	return jobs
}

// nextOutgoing returns the next message for the provider: cancels first,
// then the next job once the previous one has finished.
func (s *Server) nextOutgoing() (models.Envelope, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.outbox) > 0 {
		env := s.outbox[0]
		s.outbox = s.outbox[1:]
		return env, true
	}
	if s.inflight != "" || len(s.pending) == 0 {
		return models.Envelope{}, false
	}

	id := s.pending[0]
	s.pending = s.pending[1:]
	s.inflight = id
	s.progress[id] = &models.Result{JobID: id}
	req := s.jobMap[id].Request
	return models.Envelope{Type: models.TypeWork, SessionID: id, Request: &req}, true
}

// attach claims the provider slot.
func (s *Server) attach() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return false
	}
	s.connected = true
	return true
}

// detach releases the provider slot. A job the provider was working on
// goes back to the front of the queue.
func (s *Server) detach() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connected = false
	s.outbox = nil
	if s.inflight != "" {
		delete(s.progress, s.inflight)
		s.pending = append([]string{s.inflight}, s.pending...)
		s.inflight = ""
	}
}
