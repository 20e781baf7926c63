package handlers

import (
	"net/http"
	"sort"

	"github.com/gorilla/mux"

	"github.com/quantagrify/terrafactor/internal/scheduler"
	"github.com/quantagrify/terrafactor/pkg/logger"
)

// JobRunner is the scheduler surface the API exposes.
type JobRunner interface {
	GetAllJobs() []string
	GetJobHistory(jobName string) (*scheduler.JobHistory, error)
	RunJob(jobName string) error
}

// JobsHandler handles scheduled-job inspection and manual triggering
// SSOT: scheduler API handlers live in this struct only
type JobsHandler struct {
	scheduler JobRunner
	logger    *logger.Logger
}

// NewJobsHandler creates a new jobs handler
func NewJobsHandler(sched JobRunner, log *logger.Logger) *JobsHandler {
	return &JobsHandler{
		scheduler: sched,
		logger:    log,
	}
}

// JobStatus is the list-view projection of one scheduled job.
type JobStatus struct {
	Name        string               `json:"name"`
	Runs        int                  `json:"runs"`
	SuccessRate float64              `json:"success_rate"`
	LastRun     *scheduler.JobResult `json:"last_run,omitempty"`
}

// ListJobs returns every scheduled job with its run history summary
// GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	names := h.scheduler.GetAllJobs()
	sort.Strings(names)

	out := make([]JobStatus, 0, len(names))
	for _, name := range names {
		status := JobStatus{Name: name}
		if history, err := h.scheduler.GetJobHistory(name); err == nil {
			status.Runs = len(history.Results)
			status.SuccessRate = history.GetSuccessRate()
			if n := len(history.Results); n > 0 {
				last := history.Results[n-1]
				status.LastRun = &last
			}
		}
		out = append(out, status)
	}
	respondJSON(w, http.StatusOK, out)
}

// RunJob triggers a job outside its schedule
// POST /api/jobs/{name}/run
func (h *JobsHandler) RunJob(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if err := h.scheduler.RunJob(name); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}

	h.logger.WithField("job", name).Info("Job triggered via API")
	respondJSON(w, http.StatusAccepted, map[string]string{"triggered": name})
}
