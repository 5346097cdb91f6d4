package api

import "net/http"

func (s *Server) handleDashboardOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := s.deps.Dashboard.Overview(s.tenantID(r))
	if err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, overview)
}

func (s *Server) handleDashboardFunnel(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Dashboard.Funnel(s.tenantID(r), r.URL.Query().Get("target_kol_id"))
	if err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, stats)
}

func (s *Server) handleDashboardKOLPerformance(w http.ResponseWriter, r *http.Request) {
	perf, err := s.deps.Dashboard.KOLPerformance(s.tenantID(r))
	if err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, perf)
}

func (s *Server) handleDashboardAccountHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.deps.Dashboard.AccountHealth(s.tenantID(r))
	if err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, health)
}

func (s *Server) handleDashboardTaskSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.deps.Dashboard.TaskSummary(s.tenantID(r))
	if err != nil {
		s.sendErr(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, summary)
}
