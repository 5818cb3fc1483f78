package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/pmanko/med-agent-hub/internal/auth"
	"github.com/pmanko/med-agent-hub/internal/router"
	"github.com/pmanko/med-agent-hub/internal/storage"
)

// TaskRequest is the body of POST /v1/tasks.
type TaskRequest struct {
	Query string `json:"query"`
}

// TaskResponse is the result of one routed task.
type TaskResponse struct {
	TaskID string `json:"task_id"`
	State  string `json:"state"`
	Skill  string `json:"skill,omitempty"`
	Answer string `json:"answer,omitempty"`
	Error  string `json:"error,omitempty"`
}

// SkillCard describes one skill in the agent card.
type SkillCard struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// AgentCard is the discovery document served at GET /v1/agent-card.
type AgentCard struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Version     string      `json:"version"`
	Skills      []SkillCard `json:"skills"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Config assembles an agent Server.
type Config struct {
	AgentName   string
	Description string
	Version     string
	Router      *router.Router
	Skills      []router.Skill
	Auth        auth.Authenticator
	Writer      storage.EventWriter
	Logger      *zap.Logger
}

// Server hosts one agent over HTTP: task submission, the agent card, and
// a health probe. Every task that reaches the router produces exactly one
// task event, regardless of outcome.
type Server struct {
	name        string
	description string
	router      *router.Router
	card        AgentCard
	auth        auth.Authenticator
	writer      storage.EventWriter
	logger      *zap.Logger
}

func New(cfg Config) *Server {
	skills := make([]SkillCard, len(cfg.Skills))
	for i, s := range cfg.Skills {
		skills[i] = SkillCard{Name: s.Name, Description: s.Description}
	}
	version := cfg.Version
	if version == "" {
		version = "0.1.0"
	}
	return &Server{
		name:        cfg.AgentName,
		description: cfg.Description,
		router:      cfg.Router,
		card: AgentCard{
			Name:        cfg.AgentName,
			Description: cfg.Description,
			Version:     version,
			Skills:      skills,
		},
		auth:   cfg.Auth,
		writer: cfg.Writer,
		logger: cfg.Logger,
	}
}

// Echo builds the HTTP handler with routes and middleware registered.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())

	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/agent-card", s.handleAgentCard)
	e.POST("/v1/tasks", s.handleTask)

	return e
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAgentCard(c echo.Context) error {
	return c.JSON(http.StatusOK, s.card)
}

func (s *Server) handleTask(c echo.Context) error {
	start := time.Now()

	key, err := auth.ExtractBearer(c.Request().Header.Get("Authorization"))
	if err != nil {
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
	}
	client, err := s.auth.Authenticate(c.Request().Context(), key)
	if err != nil {
		if errors.Is(err, auth.ErrAuthUnavailable) {
			return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		}
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
	}

	var req TaskRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	if req.Query == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "query must not be empty"})
	}

	taskID := uuid.New().String()
	requestID := uuid.New().String()

	s.logger.Info("task received",
		zap.String("task_id", taskID),
		zap.String("client_id", client.ClientID),
	)

	outcome := s.router.Handle(c.Request().Context(), req.Query)
	latencyMs := float32(float64(time.Since(start)) / float64(time.Millisecond))

	event := &storage.TaskEvent{
		RequestID:    requestID,
		AgentName:    s.name,
		TaskID:       taskID,
		Timestamp:    time.Now(),
		QueryPreview: storage.TruncateQuery(req.Query, storage.QueryPreviewLength),
		Skill:        outcome.Skill,
		ToolName:     outcome.Tool,
		State:        string(outcome.State),
		Success:      outcome.State == router.StateDone && outcome.ToolError == "",
		LatencyMs:    latencyMs,
	}
	if outcome.Err != nil {
		event.ErrorText = outcome.Err.Error()
	} else if outcome.ToolError != "" {
		event.ErrorText = outcome.ToolError
	}
	s.writer.Write(event)

	resp := TaskResponse{
		TaskID: taskID,
		State:  string(outcome.State),
		Skill:  outcome.Skill,
		Answer: outcome.Answer,
	}
	if outcome.Err != nil {
		resp.Error = outcome.Err.Error()
	}
	return c.JSON(http.StatusOK, resp)
}
