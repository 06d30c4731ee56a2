package http

import (
	"net/http"

	"jobdesk/internal/core"
)

type scheduleRequest struct {
	ScheduledAt string `json:"scheduledAt"`
}

type jobsResponse struct {
	Jobs []core.Job `json:"jobs"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	list, err := s.schedule.ListJobs(r.Context(), ParseStatusFilter(r.URL.Query())...)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobsResponse{Jobs: list})
}

func (s *Server) handleSchedulable(w http.ResponseWriter, r *http.Request) {
	list, err := s.schedule.Schedulable(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobsResponse{Jobs: list})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := parseJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	job, err := s.schedule.GetJob(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleScheduleJob(w http.ResponseWriter, r *http.Request) {
	id, err := parseJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req scheduleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	at, err := ParseScheduledAt(req.ScheduledAt, s.schedule.View().Location())
	if err != nil {
		respondError(w, r, err)
		return
	}

	job, err := s.schedule.ScheduleJob(r.Context(), id, at)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	params, err := ParseMonthParams(r.URL.Query(), s.schedule.View().Today())
	if err != nil {
		respondError(w, r, err)
		return
	}
	month, err := s.schedule.Month(r.Context(), params.Year, params.Month, params.Selected)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, month)
}

// handleCalendarDay lists one day's jobs; without ?date it shows today.
func (s *Server) handleCalendarDay(w http.ResponseWriter, r *http.Request) {
	view := s.schedule.View()
	date := view.Today()
	if v := r.URL.Query().Get("date"); v != "" {
		d, err := ParseDate(v, view.Location())
		if err != nil {
			respondError(w, r, err)
			return
		}
		date = d
	}
	day, err := s.schedule.Day(r.Context(), date)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, day)
}
