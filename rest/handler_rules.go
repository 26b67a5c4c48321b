package rest

import (
	"encoding/json"
	"net/http"

	"github.com/commflow/commflow/logger"
	"github.com/commflow/commflow/model"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func (s *Server) HandleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule model.SmartRoutingRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed rule")
		return
	}
	defer r.Body.Close()
	if rule.TeamId == "" {
		respondWithError(w, http.StatusBadRequest, "teamId is required")
		return
	}
	if len(rule.Conditions) == 0 {
		respondWithError(w, http.StatusBadRequest, "rule must have at least one condition")
		return
	}
	if rule.Id == "" {
		rule.Id = uuid.NewString()
	}
	if err := s.storage.SaveRule(rule); err != nil {
		logger.Error("error saving rule", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error saving rule")
		return
	}
	s.ruleEngine.Invalidate(rule.TeamId)
	respondWithJSON(w, http.StatusOK, rule)
}

func (s *Server) HandleListRules(w http.ResponseWriter, r *http.Request) {
	teamId := mux.Vars(r)["teamId"]
	ruleList, err := s.storage.ListRules(teamId)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "error listing rules")
		return
	}
	respondWithJSON(w, http.StatusOK, ruleList)
}

func (s *Server) HandleGetRule(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	rule, err := s.storage.GetRule(vars["teamId"], vars["id"])
	if err != nil {
		respondWithError(w, http.StatusNotFound, "rule does not exist")
		return
	}
	respondWithJSON(w, http.StatusOK, rule)
}

func (s *Server) HandleDeleteRule(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.storage.DeleteRule(vars["teamId"], vars["id"]); err != nil {
		respondWithError(w, http.StatusNotFound, "rule does not exist")
		return
	}
	s.ruleEngine.Invalidate(vars["teamId"])
	respondOK(w, map[string]any{"deleted": true})
}

type reorderRequest struct {
	TeamId  string   `json:"teamId"`
	RuleIds []string `json:"ruleIds"`
}

func (s *Server) HandleReorderRules(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed reorder request")
		return
	}
	defer r.Body.Close()
	if req.TeamId == "" || len(req.RuleIds) == 0 {
		respondWithError(w, http.StatusBadRequest, "teamId and ruleIds are required")
		return
	}
	if err := s.storage.Reorder(req.TeamId, req.RuleIds); err != nil {
		logger.Error("error reordering rules", zap.Error(err))
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.ruleEngine.Invalidate(req.TeamId)
	respondOK(w, map[string]any{"reordered": true})
}

type matchPolicyRequest struct {
	TeamId string            `json:"teamId"`
	Policy model.MatchPolicy `json:"policy"`
}

func (s *Server) HandleSaveMatchPolicy(w http.ResponseWriter, r *http.Request) {
	var req matchPolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed policy request")
		return
	}
	defer r.Body.Close()
	if req.Policy != model.MATCH_POLICY_FIRST && req.Policy != model.MATCH_POLICY_ALL {
		respondWithError(w, http.StatusBadRequest, "unknown match policy")
		return
	}
	if err := s.storage.SaveMatchPolicy(req.TeamId, req.Policy); err != nil {
		respondWithError(w, http.StatusInternalServerError, "error saving policy")
		return
	}
	respondOK(w, map[string]any{"saved": true})
}

func (s *Server) HandleCreateResponder(w http.ResponseWriter, r *http.Request) {
	var responder model.AutoResponder
	if err := json.NewDecoder(r.Body).Decode(&responder); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed responder")
		return
	}
	defer r.Body.Close()
	if responder.TeamId == "" {
		respondWithError(w, http.StatusBadRequest, "teamId is required")
		return
	}
	if responder.Id == "" {
		responder.Id = uuid.NewString()
	}
	if err := s.storage.SaveAutoResponder(responder); err != nil {
		logger.Error("error saving responder", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error saving responder")
		return
	}
	respondWithJSON(w, http.StatusOK, responder)
}
