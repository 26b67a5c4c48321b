package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/commflow/commflow/logger"
	"github.com/commflow/commflow/persistence"
	"github.com/commflow/commflow/rules"
	"github.com/commflow/commflow/service"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Storage bundles the stores the management surface operates on.
type Storage interface {
	persistence.RuleStorage
	persistence.WorkflowStorage
	persistence.ChatbotStorage
	persistence.ScheduledMessageStorage
	persistence.WebhookStorage
}

type Server struct {
	http.Server
	Port       int
	storage    Storage
	ruleEngine *rules.Engine
	automation *service.AutomationService
}

func NewServer(httpPort int, storage Storage, ruleEngine *rules.Engine, automation *service.AutomationService) (*Server, error) {
	s := &Server{
		Server: http.Server{
			Addr:        fmt.Sprintf(":%d", httpPort),
			IdleTimeout: 2 * time.Second,
		},
		Port:       httpPort,
		storage:    storage,
		ruleEngine: ruleEngine,
		automation: automation,
	}

	router := mux.NewRouter()

	router.HandleFunc("/routing/rules", s.HandleCreateRule).Methods(http.MethodPost)
	router.HandleFunc("/routing/rules/reorder", s.HandleReorderRules).Methods(http.MethodPost)
	router.HandleFunc("/routing/rules/{teamId}", s.HandleListRules).Methods(http.MethodGet)
	router.HandleFunc("/routing/rules/{teamId}/{id}", s.HandleGetRule).Methods(http.MethodGet)
	router.HandleFunc("/routing/rules/{teamId}/{id}", s.HandleDeleteRule).Methods(http.MethodDelete)
	router.HandleFunc("/routing/policy", s.HandleSaveMatchPolicy).Methods(http.MethodPost)
	router.HandleFunc("/routing/responders", s.HandleCreateResponder).Methods(http.MethodPost)

	router.HandleFunc("/workflows", s.HandleCreateWorkflow).Methods(http.MethodPost)
	router.HandleFunc("/workflows", s.HandleListWorkflows).Methods(http.MethodGet)
	router.HandleFunc("/workflows/{id}", s.HandleGetWorkflow).Methods(http.MethodGet)
	router.HandleFunc("/workflows/{id}", s.HandleDeleteWorkflow).Methods(http.MethodDelete)
	router.HandleFunc("/workflows/{id}/activate", s.HandleActivateWorkflow).Methods(http.MethodPost)
	router.HandleFunc("/workflows/{id}/deactivate", s.HandleDeactivateWorkflow).Methods(http.MethodPost)
	router.HandleFunc("/workflows/{id}/runs", s.HandleListRuns).Methods(http.MethodGet)
	router.HandleFunc("/runs/{id}", s.HandleGetRun).Methods(http.MethodGet)

	router.HandleFunc("/chatbots", s.HandleCreateChatbot).Methods(http.MethodPost)
	router.HandleFunc("/chatbots", s.HandleListChatbots).Methods(http.MethodGet)
	router.HandleFunc("/chatbots/{id}", s.HandleGetChatbot).Methods(http.MethodGet)
	router.HandleFunc("/chatbots/{id}", s.HandleDeleteChatbot).Methods(http.MethodDelete)
	router.HandleFunc("/chatbots/{id}/activate", s.HandleActivateChatbot).Methods(http.MethodPost)
	router.HandleFunc("/chatbots/{id}/deactivate", s.HandleDeactivateChatbot).Methods(http.MethodPost)

	router.HandleFunc("/scheduled-messages", s.HandleCreateScheduledMessage).Methods(http.MethodPost)
	router.HandleFunc("/scheduled-messages", s.HandleListScheduledMessages).Methods(http.MethodGet)
	router.HandleFunc("/scheduled-messages/{id}", s.HandleGetScheduledMessage).Methods(http.MethodGet)
	router.HandleFunc("/scheduled-messages/{id}/activate", s.HandleActivateScheduledMessage).Methods(http.MethodPost)
	router.HandleFunc("/scheduled-messages/{id}/cancel", s.HandleCancelScheduledMessage).Methods(http.MethodPost)

	router.HandleFunc("/events", s.HandlePublishEvent).Methods(http.MethodPost)
	router.HandleFunc("/webhooks/deliveries", s.HandleListDeliveries).Methods(http.MethodGet)

	router.Use(loggingMiddleware)
	s.Handler = router
	return s, nil
}

func (s *Server) Start() error {
	logger.Info("starting http server on", zap.Int("port", s.Port))
	if err := s.ListenAndServe(); err != nil {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	logger.Info("stopping http server")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := s.Shutdown(ctx)
	if err != nil {
		logger.Error("error shutting down http server")
	}
	return nil
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Info(r.RequestURI)
		next.ServeHTTP(w, r)
	})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondOK(w http.ResponseWriter, message map[string]any) {
	respondWithJSON(w, http.StatusOK, message)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
