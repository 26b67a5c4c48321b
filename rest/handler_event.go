package rest

import (
	"encoding/json"
	"net/http"

	"github.com/commflow/commflow/model"
)

func (s *Server) HandlePublishEvent(w http.ResponseWriter, r *http.Request) {
	var ev model.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		respondWithError(w, http.StatusBadRequest, "malformed event")
		return
	}
	defer r.Body.Close()
	if ev.Type == "" || ev.TeamId == "" {
		respondWithError(w, http.StatusBadRequest, "type and teamId are required")
		return
	}
	published := s.automation.Publish(ev)
	respondWithJSON(w, http.StatusAccepted, map[string]any{"id": published.Id})
}

func (s *Server) HandleListDeliveries(w http.ResponseWriter, r *http.Request) {
	teamId := r.URL.Query().Get("team")
	status := model.DeliveryStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = model.DELIVERY_FAILED
	}
	deliveries, err := s.storage.ListEventsByStatus(teamId, status)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "error listing deliveries")
		return
	}
	respondWithJSON(w, http.StatusOK, deliveries)
}
