package api

import (
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/hochfrequenz/gba/internal/domain"
	"github.com/hochfrequenz/gba/internal/runstore"
)

// FeatureResponse summarizes one feature plan
type FeatureResponse struct {
	Slug      string            `json:"slug"`
	Feature   string            `json:"feature"`
	Phases    int               `json:"phases"`
	Completed int               `json:"completed"`
	Failed    int               `json:"failed"`
	Status    domain.StepStatus `json:"status"`
	PR        *string           `json:"pr,omitempty"`
}

func featureToResponse(slug string, plan *domain.Plan) FeatureResponse {
	resp := FeatureResponse{
		Slug:    slug,
		Feature: plan.Feature,
		Phases:  len(plan.Phases),
		Status:  domain.StatusPending,
	}
	for _, p := range plan.Phases {
		if p.Result == nil {
			continue
		}
		switch p.Result.Status {
		case domain.StatusCompleted:
			resp.Completed++
		case domain.StatusFailed:
			resp.Failed++
		}
	}

	switch {
	case plan.Execution != nil:
		resp.Status = plan.Execution.Status
		resp.PR = plan.Execution.PR
	case resp.Failed > 0:
		resp.Status = domain.StatusFailed
	case resp.Completed > 0:
		resp.Status = domain.StatusInProgress
	}
	return resp
}

func (s *Server) listFeaturesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slugs, err := s.plans.List()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		features := make([]FeatureResponse, 0, len(slugs))
		for _, slug := range slugs {
			plan, err := s.plans.Load(slug)
			if err != nil {
				s.logger.Warn("skipping unreadable plan", zap.String("slug", slug), zap.Error(err))
				continue
			}
			features = append(features, featureToResponse(slug, plan))
		}
		writeJSON(w, features)
	}
}

func (s *Server) getFeatureHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		plan, err := s.plans.Load(r.PathValue("slug"))
		switch {
		case errors.Is(err, domain.ErrFeatureNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, domain.ErrInvalidSpec):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case err != nil:
			writeError(w, http.StatusInternalServerError, err.Error())
		default:
			writeJSON(w, plan)
		}
	}
}

func (s *Server) listRunsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts := runstore.ListOptions{Slug: r.URL.Query().Get("slug"), Limit: 50}
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			opts.Limit = n
		}

		runs, err := s.runs.ListRuns(opts)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if runs == nil {
			runs = []*runstore.Run{}
		}
		writeJSON(w, runs)
	}
}

func (s *Server) runEventsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		events, err := s.runs.Events(r.PathValue("id"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if events == nil {
			events = []runstore.EventRecord{}
		}
		writeJSON(w, events)
	}
}
