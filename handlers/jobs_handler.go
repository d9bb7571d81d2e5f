package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Nexora-Open-Source/bulk-progress-monitor/middleware"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/monitor"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/session"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/types"
	"github.com/Nexora-Open-Source/bulk-progress-monitor/utils"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// ProgressResponse is the monitor state of a job plus its detail view link
type ProgressResponse struct {
	monitor.State
	DetailURL string `json:"detail_url,omitempty"`
}

// JobListResponse lists the live monitors
type JobListResponse struct {
	Jobs  []monitor.State `json:"jobs"`
	Count int             `json:"count"`
}

// ControlResponse reports the outcome of a send or stop request
type ControlResponse struct {
	JobID    string              `json:"job_id"`
	Result   types.ControlResult `json:"result"`
	Watching bool                `json:"watching"`
}

func jobIDFromRequest(r *http.Request) (string, error) {
	jobID := mux.Vars(r)["id"]
	if jobID == "" {
		return "", fmt.Errorf("job id is required")
	}
	return jobID, nil
}

// progressResponse attaches the detail view link. The session token is only
// added when a DetailLinker was configured; otherwise the link is a plain path.
func (h *Handler) progressResponse(state monitor.State) ProgressResponse {
	resp := ProgressResponse{State: state}
	if h.AppURL == "" {
		return resp
	}

	if h.Links != nil {
		link, err := h.Links.DetailLink(h.AppURL, state.JobID)
		if err == nil {
			resp.DetailURL = link
			return resp
		}
		h.Logger.WithFields(logrus.Fields{
			"job_id": state.JobID,
			"error":  err.Error(),
		}).Debug("Token detail link unavailable, falling back to plain path")
	}

	link, err := session.DetailPath(h.AppURL, state.JobID)
	if err != nil {
		h.Logger.WithField("job_id", state.JobID).WithError(err).Debug("Detail link unavailable")
		return resp
	}
	resp.DetailURL = link
	return resp
}

// HandleGetProgress returns the current state of a watched job
// @Summary Get job progress
// @Description Returns the latest snapshot, metrics and alerts of a job. Jobs whose monitor has ended return their retained final state.
// @Tags jobs
// @Produce json
// @Param id path string true "Bulk job id"
// @Success 200 {object} ProgressResponse
// @Failure 404 {object} middleware.APIError
// @Router /jobs/{id}/progress [get]
func (h *Handler) HandleGetProgress(w http.ResponseWriter, r *http.Request) {
	requestID := utils.EnsureRequestID(w, r)

	jobID, err := jobIDFromRequest(r)
	if err != nil {
		middleware.RespondBadRequest(w, err, requestID)
		return
	}

	state, err := h.Registry.State(jobID)
	if err != nil {
		if errors.Is(err, monitor.ErrNotWatched) {
			middleware.RespondNotFound(w, fmt.Errorf("job %s is not being watched", jobID), requestID)
			return
		}
		middleware.RespondInternalError(w, err, requestID)
		return
	}

	writeJSON(w, http.StatusOK, h.progressResponse(state))
}

// HandleListJobs lists every live monitor
// @Summary List watched jobs
// @Tags jobs
// @Produce json
// @Success 200 {object} JobListResponse
// @Router /jobs [get]
func (h *Handler) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	utils.EnsureRequestID(w, r)

	jobs := h.Registry.Active()
	writeJSON(w, http.StatusOK, JobListResponse{Jobs: jobs, Count: len(jobs)})
}

// HandleWatchJob starts monitoring a job
// @Summary Watch a job
// @Tags jobs
// @Produce json
// @Param id path string true "Bulk job id"
// @Success 202 {object} ProgressResponse
// @Failure 409 {object} middleware.APIError
// @Router /jobs/{id}/watch [post]
func (h *Handler) HandleWatchJob(w http.ResponseWriter, r *http.Request) {
	requestID := utils.EnsureRequestID(w, r)

	jobID, err := jobIDFromRequest(r)
	if err != nil {
		middleware.RespondBadRequest(w, err, requestID)
		return
	}

	m, started := h.Registry.Watch(jobID)
	if !started {
		middleware.RespondConflict(w, fmt.Errorf("job %s is already being watched", jobID), requestID)
		return
	}

	h.Logger.WithFields(logrus.Fields{
		"job_id":     jobID,
		"request_id": requestID,
	}).Info("Started watching bulk job")

	writeJSON(w, http.StatusAccepted, h.progressResponse(m.State()))
}

// HandleUnwatchJob stops monitoring a job
// @Summary Stop watching a job
// @Tags jobs
// @Param id path string true "Bulk job id"
// @Success 204
// @Failure 404 {object} middleware.APIError
// @Router /jobs/{id}/watch [delete]
func (h *Handler) HandleUnwatchJob(w http.ResponseWriter, r *http.Request) {
	requestID := utils.EnsureRequestID(w, r)

	jobID, err := jobIDFromRequest(r)
	if err != nil {
		middleware.RespondBadRequest(w, err, requestID)
		return
	}

	if !h.Registry.Stop(jobID) {
		middleware.RespondNotFound(w, fmt.Errorf("job %s is not being watched", jobID), requestID)
		return
	}

	h.Logger.WithFields(logrus.Fields{
		"job_id":     jobID,
		"request_id": requestID,
	}).Info("Stopped watching bulk job")
	w.WriteHeader(http.StatusNoContent)
}

// HandleSendJob starts sending a bulk job and watches it
// @Summary Send a bulk job
// @Description Asks the messaging API to start sending, then starts a monitor for the job.
// @Tags jobs
// @Produce json
// @Param id path string true "Bulk job id"
// @Success 200 {object} ControlResponse
// @Failure 404 {object} middleware.APIError
// @Failure 502 {object} middleware.APIError
// @Router /jobs/{id}/send [post]
func (h *Handler) HandleSendJob(w http.ResponseWriter, r *http.Request) {
	requestID := utils.EnsureRequestID(w, r)

	jobID, err := jobIDFromRequest(r)
	if err != nil {
		middleware.RespondBadRequest(w, err, requestID)
		return
	}

	result, err := h.API.SendBulk(r.Context(), jobID)
	if err != nil {
		h.Logger.WithFields(logrus.Fields{
			"job_id":     jobID,
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("Failed to send bulk job")
		h.respondUpstreamError(w, err, requestID)
		return
	}

	resp := ControlResponse{JobID: jobID, Result: *result}
	if result.Success {
		h.Registry.Watch(jobID)
		resp.Watching = true
	}

	h.Logger.WithFields(logrus.Fields{
		"job_id":     jobID,
		"request_id": requestID,
		"success":    result.Success,
	}).Info("Bulk send requested")

	writeJSON(w, http.StatusOK, resp)
}

// HandleStopJob stops sending a bulk job
// @Summary Stop a bulk job
// @Description Asks the messaging API to stop sending. A live monitor keeps running until it sees the final state.
// @Tags jobs
// @Produce json
// @Param id path string true "Bulk job id"
// @Success 200 {object} ControlResponse
// @Failure 404 {object} middleware.APIError
// @Failure 502 {object} middleware.APIError
// @Router /jobs/{id}/stop [post]
func (h *Handler) HandleStopJob(w http.ResponseWriter, r *http.Request) {
	requestID := utils.EnsureRequestID(w, r)

	jobID, err := jobIDFromRequest(r)
	if err != nil {
		middleware.RespondBadRequest(w, err, requestID)
		return
	}

	result, err := h.API.StopBulk(r.Context(), jobID)
	if err != nil {
		h.Logger.WithFields(logrus.Fields{
			"job_id":     jobID,
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("Failed to stop bulk job")
		h.respondUpstreamError(w, err, requestID)
		return
	}

	_, watching := h.Registry.Monitor(jobID)
	writeJSON(w, http.StatusOK, ControlResponse{JobID: jobID, Result: *result, Watching: watching})
}

// HandleDismissAlert hides an alert of a watched job
// @Summary Dismiss an alert
// @Tags jobs
// @Param id path string true "Bulk job id"
// @Param alertId path string true "Alert id"
// @Success 204
// @Failure 404 {object} middleware.APIError
// @Router /jobs/{id}/alerts/{alertId} [delete]
func (h *Handler) HandleDismissAlert(w http.ResponseWriter, r *http.Request) {
	requestID := utils.EnsureRequestID(w, r)

	jobID, err := jobIDFromRequest(r)
	if err != nil {
		middleware.RespondBadRequest(w, err, requestID)
		return
	}

	m, ok := h.Registry.Monitor(jobID)
	if !ok {
		middleware.RespondNotFound(w, fmt.Errorf("job %s is not being watched", jobID), requestID)
		return
	}

	m.DismissAlert(mux.Vars(r)["alertId"])
	w.WriteHeader(http.StatusNoContent)
}
