package rest

import (
	"encoding/json"
	"net/http"

	"github.com/commflow/commflow/chatbot"
	"github.com/commflow/commflow/logger"
	"github.com/commflow/commflow/model"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

func (s *Server) HandleCreateChatbot(w http.ResponseWriter, r *http.Request) {
	var flow model.ChatbotFlow
	if err := json.NewDecoder(r.Body).Decode(&flow); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed chatbot flow")
		return
	}
	defer r.Body.Close()
	if flow.TeamId == "" {
		respondWithError(w, http.StatusBadRequest, "teamId is required")
		return
	}
	if flow.IsActive {
		if err := chatbot.ValidateFlow(&flow); err != nil {
			logger.Error("error validating chatbot flow", zap.Error(err))
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if flow.Id == "" {
		flow.Id = uuid.NewString()
	}
	if err := s.storage.SaveFlow(flow); err != nil {
		logger.Error("error saving chatbot flow", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error saving chatbot flow")
		return
	}
	respondWithJSON(w, http.StatusOK, flow)
}

func (s *Server) HandleListChatbots(w http.ResponseWriter, r *http.Request) {
	teamId := r.URL.Query().Get("team")
	if teamId == "" {
		respondWithError(w, http.StatusBadRequest, "team query param is required")
		return
	}
	flows, err := s.storage.ListFlows(teamId)
	if err != nil {
		logger.Error("error listing chatbot flows", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error listing chatbot flows")
		return
	}
	respondWithJSON(w, http.StatusOK, flows)
}

func (s *Server) HandleGetChatbot(w http.ResponseWriter, r *http.Request) {
	flow, err := s.storage.GetFlow(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusNotFound, "chatbot flow does not exist")
		return
	}
	respondWithJSON(w, http.StatusOK, flow)
}

func (s *Server) HandleDeleteChatbot(w http.ResponseWriter, r *http.Request) {
	if err := s.storage.DeleteFlow(mux.Vars(r)["id"]); err != nil {
		respondWithError(w, http.StatusNotFound, "chatbot flow does not exist")
		return
	}
	respondOK(w, map[string]any{"deleted": true})
}

func (s *Server) HandleActivateChatbot(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	flow, err := s.storage.GetFlow(id)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "chatbot flow does not exist")
		return
	}
	if err := chatbot.ValidateFlow(flow); err != nil {
		logger.Error("error validating chatbot flow", zap.String("id", id), zap.Error(err))
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	flow.IsActive = true
	if err := s.storage.SaveFlow(*flow); err != nil {
		respondWithError(w, http.StatusInternalServerError, "error saving chatbot flow")
		return
	}
	respondOK(w, map[string]any{"active": true})
}

func (s *Server) HandleDeactivateChatbot(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	flow, err := s.storage.GetFlow(id)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "chatbot flow does not exist")
		return
	}
	flow.IsActive = false
	if err := s.storage.SaveFlow(*flow); err != nil {
		respondWithError(w, http.StatusInternalServerError, "error saving chatbot flow")
		return
	}
	respondOK(w, map[string]any{"active": false})
}
