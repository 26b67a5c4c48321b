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

func (s *Server) HandleCreateScheduledMessage(w http.ResponseWriter, r *http.Request) {
	var msg model.ScheduledMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed scheduled message")
		return
	}
	defer r.Body.Close()
	if msg.TeamId == "" {
		respondWithError(w, http.StatusBadRequest, "teamId is required")
		return
	}
	if msg.Schedule.Type == model.SCHEDULE_ONCE && msg.Schedule.FireAt == nil {
		respondWithError(w, http.StatusBadRequest, "once schedule requires fireAt")
		return
	}
	if msg.Schedule.Type == model.SCHEDULE_RECURRING && msg.Schedule.IntervalMinutes <= 0 {
		respondWithError(w, http.StatusBadRequest, "recurring schedule requires a positive interval")
		return
	}
	if msg.Id == "" {
		msg.Id = uuid.NewString()
	}
	if msg.Status == "" {
		msg.Status = model.SCHEDULED_MSG_SCHEDULED
	}
	if err := s.storage.SaveMessage(msg); err != nil {
		logger.Error("error saving scheduled message", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error saving scheduled message")
		return
	}
	respondWithJSON(w, http.StatusOK, msg)
}

func (s *Server) HandleListScheduledMessages(w http.ResponseWriter, r *http.Request) {
	teamId := r.URL.Query().Get("team")
	if teamId == "" {
		respondWithError(w, http.StatusBadRequest, "team query param is required")
		return
	}
	msgs, err := s.storage.ListMessages(teamId)
	if err != nil {
		logger.Error("error listing scheduled messages", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "error listing scheduled messages")
		return
	}
	respondWithJSON(w, http.StatusOK, msgs)
}

func (s *Server) HandleGetScheduledMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := s.storage.GetMessage(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusNotFound, "scheduled message does not exist")
		return
	}
	respondWithJSON(w, http.StatusOK, msg)
}

func (s *Server) HandleActivateScheduledMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	msg, err := s.storage.GetMessage(id)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "scheduled message does not exist")
		return
	}
	if msg.Status != model.SCHEDULED_MSG_DRAFT {
		respondWithError(w, http.StatusBadRequest, "only draft messages can be activated")
		return
	}
	if msg.Schedule.Type == model.SCHEDULE_ONCE && msg.Schedule.FireAt == nil {
		respondWithError(w, http.StatusBadRequest, "once schedule requires fireAt")
		return
	}
	if msg.Schedule.Type == model.SCHEDULE_RECURRING && msg.Schedule.IntervalMinutes <= 0 {
		respondWithError(w, http.StatusBadRequest, "recurring schedule requires a positive interval")
		return
	}
	msg.Status = model.SCHEDULED_MSG_SCHEDULED
	if err := s.storage.SaveMessage(*msg); err != nil {
		respondWithError(w, http.StatusInternalServerError, "error saving scheduled message")
		return
	}
	respondOK(w, map[string]any{"scheduled": true})
}

func (s *Server) HandleCancelScheduledMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	msg, err := s.storage.GetMessage(id)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "scheduled message does not exist")
		return
	}
	if msg.Status == model.SCHEDULED_MSG_SENT {
		respondWithError(w, http.StatusBadRequest, "message already sent")
		return
	}
	msg.Status = model.SCHEDULED_MSG_CANCELLED
	if err := s.storage.SaveMessage(*msg); err != nil {
		respondWithError(w, http.StatusInternalServerError, "error saving scheduled message")
		return
	}
	respondOK(w, map[string]any{"cancelled": true})
}
