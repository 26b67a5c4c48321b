package rest

import (
	"encoding/json"
	"net/http"

	"github.com/commflow/commflow/logger"
	"github.com/commflow/commflow/model"
	"github.com/commflow/commflow/workflow"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func (s *Server) HandleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var wf model.Workflow
	if err := json.NewDecoder(r.Body).Decode(&wf); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed workflow")
		return
	}
	defer r.Body.Close()
	if wf.TeamId == "" {
		respondWithError(w, http.StatusBadRequest, "teamId is required")
		return
	}
	if wf.IsActive {
		if err := workflow.Validate(&wf); err != nil {
			logger.Error("error validating workflow", zap.Error(err))
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if wf.Id == "" {
		wf.Id = uuid.NewString()
	}
	if err := s.storage.SaveWorkflow(wf); err != nil {
		logger.Error("error saving workflow", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error saving workflow")
		return
	}
	respondWithJSON(w, http.StatusOK, wf)
}

func (s *Server) HandleListWorkflows(w http.ResponseWriter, r *http.Request) {
	teamId := r.URL.Query().Get("team")
	if teamId == "" {
		respondWithError(w, http.StatusBadRequest, "team query param is required")
		return
	}
	workflows, err := s.storage.ListWorkflows(teamId)
	if err != nil {
		logger.Error("error listing workflows", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error listing workflows")
		return
	}
	respondWithJSON(w, http.StatusOK, workflows)
}

func (s *Server) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.storage.GetWorkflow(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusNotFound, "workflow does not exist")
		return
	}
	respondWithJSON(w, http.StatusOK, wf)
}

func (s *Server) HandleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := s.storage.DeleteWorkflow(mux.Vars(r)["id"]); err != nil {
		respondWithError(w, http.StatusNotFound, "workflow does not exist")
		return
	}
	respondOK(w, map[string]any{"deleted": true})
}

func (s *Server) HandleActivateWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	wf, err := s.storage.GetWorkflow(id)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "workflow does not exist")
		return
	}
	if err := workflow.Validate(wf); err != nil {
		logger.Error("error validating workflow", zap.String("id", id), zap.Error(err))
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	wf.IsActive = true
	if err := s.storage.SaveWorkflow(*wf); err != nil {
		respondWithError(w, http.StatusInternalServerError, "error saving workflow")
		return
	}
	respondOK(w, map[string]any{"active": true})
}

func (s *Server) HandleDeactivateWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	wf, err := s.storage.GetWorkflow(id)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "workflow does not exist")
		return
	}
	wf.IsActive = false
	if err := s.storage.SaveWorkflow(*wf); err != nil {
		respondWithError(w, http.StatusInternalServerError, "error saving workflow")
		return
	}
	respondOK(w, map[string]any{"active": false})
}

func (s *Server) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.storage.ListRuns(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "error listing runs")
		return
	}
	respondWithJSON(w, http.StatusOK, runs)
}

func (s *Server) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.storage.GetRun(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusNotFound, "run does not exist")
		return
	}
	respondWithJSON(w, http.StatusOK, run)
}
