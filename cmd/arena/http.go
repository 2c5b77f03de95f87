package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/pr3m/xrparena/internal/arena"
	"github.com/pr3m/xrparena/internal/config"
	"github.com/pr3m/xrparena/internal/llm"
	"github.com/pr3m/xrparena/internal/market"
	"github.com/pr3m/xrparena/internal/orchestrator"
	"github.com/pr3m/xrparena/internal/roster"
	"github.com/pr3m/xrparena/internal/strategy"
)

// server wires the HTTP surface to the orchestrator
type server struct {
	orch     *orchestrator.Orchestrator
	cache    *market.Cache
	invoker  llm.Invoker
	hub      *Hub
	defaults config.ArenaConfig
	origins  []string
	env      string
}

func newServer(orch *orchestrator.Orchestrator, cache *market.Cache, invoker llm.Invoker, hub *Hub, cfg *config.Config) *server {
	return &server{
		orch:     orch,
		cache:    cache,
		invoker:  invoker,
		hub:      hub,
		defaults: cfg.Arena,
		origins:  cfg.HTTP.AllowedOrigins,
		env:      cfg.App.Environment,
	}
}

func (s *server) router() *gin.Engine {
	if s.env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(s.origins) == 1 && s.origins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = s.origins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	r.Use(cors.New(corsConfig))

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", s.hub.handleWebSocket)

	api := r.Group("/api/v1")
	{
		api.POST("/session", s.handleCreateSession)
		api.POST("/session/start", s.handleStart)
		api.POST("/session/pause", s.handlePause)
		api.POST("/session/resume", s.handleResume)
		api.POST("/session/stop", s.handleStop)
		api.GET("/session", s.handleSessionStatus)
		api.GET("/rankings", s.handleRankings)
		api.GET("/agents", s.handleAgents)
		api.GET("/agents/:id/strategy", s.handleAgentStrategy)
		api.GET("/events", s.handleEvents)
		api.POST("/strategy/validate", s.handleValidateStrategy)
	}

	return r
}

func (s *server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "xrparena",
		"timestamp": time.Now().Unix(),
	})
}

// createSessionRequest carries per-session overrides; anything omitted
// falls back to the configured defaults
type createSessionRequest struct {
	AgentCount         int      `json:"agent_count"`
	StartingCapital    float64  `json:"starting_capital"`
	DecisionIntervalMs int      `json:"decision_interval_ms"`
	MaxDurationHours   float64  `json:"max_duration_hours"`
	ModelID            string   `json:"model_id"`
	Leverage           float64  `json:"leverage"`
	SessionBudgetUSD   float64  `json:"session_budget_usd"`
	PerAgentBudgetUSD  float64  `json:"per_agent_budget_usd"`
	Archetypes         []string `json:"archetypes"`
	UseMasterAgent     *bool    `json:"use_master_agent"`
}

func (s *server) handleCreateSession(c *gin.Context) {
	var req createSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request body: %v", err)})
			return
		}
	}

	cfg := s.sessionConfig(req)
	if err := cfg.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	lineup, err := s.buildRoster(c, cfg)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("roster generation failed: %v", err)})
		return
	}

	sessionID, agents, err := s.orch.CreateSession(c.Request.Context(), cfg, lineup)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"session_id": sessionID,
		"theme":      lineup.Theme,
		"agents":     agents,
	})
}

// sessionConfig merges request overrides onto the configured defaults
func (s *server) sessionConfig(req createSessionRequest) arena.SessionConfig {
	d := s.defaults
	cfg := arena.SessionConfig{
		Pair:              d.Pair,
		ReferencePair:     d.ReferencePair,
		AgentCount:        d.AgentCount,
		StartingCapital:   d.StartingCapital,
		DecisionInterval:  time.Duration(d.DecisionIntervalMs) * time.Millisecond,
		MaxDuration:       time.Duration(d.MaxDurationHours * float64(time.Hour)),
		ModelID:           d.ModelID,
		Leverage:          d.Leverage,
		SessionBudgetUSD:  d.SessionBudgetUSD,
		PerAgentBudgetUSD: d.PerAgentBudgetUSD,
		UseMasterAgent:    d.UseMasterAgent,
	}
	if req.AgentCount > 0 {
		cfg.AgentCount = req.AgentCount
	}
	if req.StartingCapital > 0 {
		cfg.StartingCapital = req.StartingCapital
	}
	if req.DecisionIntervalMs > 0 {
		cfg.DecisionInterval = time.Duration(req.DecisionIntervalMs) * time.Millisecond
	}
	if req.MaxDurationHours > 0 {
		cfg.MaxDuration = time.Duration(req.MaxDurationHours * float64(time.Hour))
	}
	if req.ModelID != "" {
		cfg.ModelID = req.ModelID
	}
	if req.Leverage > 0 {
		cfg.Leverage = req.Leverage
	}
	if req.SessionBudgetUSD > 0 {
		cfg.SessionBudgetUSD = req.SessionBudgetUSD
	}
	if req.PerAgentBudgetUSD > 0 {
		cfg.PerAgentBudgetUSD = req.PerAgentBudgetUSD
	}
	if len(req.Archetypes) > 0 {
		cfg.ArchetypeIDs = req.Archetypes
	}
	if req.UseMasterAgent != nil {
		cfg.UseMasterAgent = *req.UseMasterAgent
	}
	return cfg
}

// buildRoster asks the master agent for a lineup when one is configured,
// and falls back to the archetype pool otherwise
func (s *server) buildRoster(c *gin.Context, cfg arena.SessionConfig) (*roster.Roster, error) {
	limits := strategy.SessionLimits{
		Leverage:      cfg.Leverage,
		DurationHours: cfg.MaxDuration.Hours(),
	}

	if cfg.UseMasterAgent && s.invoker != nil && cfg.ModelID != "" {
		lineup, err := roster.FromModel(c.Request.Context(), s.invoker, roster.GeneratorConfig{
			AgentCount:    cfg.AgentCount,
			DurationHours: cfg.MaxDuration.Hours(),
			ModelID:       cfg.ModelID,
			MarketContext: s.marketContext(c.Request.Context()),
			Limits:        limits,
		})
		if err == nil {
			return lineup, nil
		}
		log.Warn().Err(err).Msg("Master agent roster failed, falling back to archetypes")
	}

	return roster.FromArchetypes(cfg.AgentCount, cfg.ArchetypeIDs, limits, rand.New(rand.NewSource(time.Now().UnixNano())))
}

func (s *server) marketContext(ctx context.Context) string {
	snap := s.cache.Peek()
	if snap == nil {
		var err error
		snap, err = s.cache.Fetch(ctx, true)
		if err != nil || snap == nil {
			return "no market data available"
		}
	}
	return fmt.Sprintf("%s trading at %.4f, 24h range %.4f-%.4f, BTC trend %s (%.2f%%)",
		snap.Pair, snap.LastPrice, snap.Low24h, snap.High24h, snap.BTCTrend, snap.BTCChange24h)
}

func (s *server) handleStart(c *gin.Context) {
	if err := s.orch.Start(c.Request.Context()); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": s.orch.Status()})
}

func (s *server) handlePause(c *gin.Context) {
	if err := s.orch.Pause(c.Request.Context()); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": s.orch.Status()})
}

func (s *server) handleResume(c *gin.Context) {
	if err := s.orch.Resume(c.Request.Context()); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": s.orch.Status()})
}

func (s *server) handleStop(c *gin.Context) {
	summary, err := s.orch.Stop(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *server) handleSessionStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        s.orch.Status(),
		"session_id":    s.orch.SessionID(),
		"tick":          s.orch.CurrentTick(),
		"elapsed_ms":    s.orch.ElapsedMs(),
		"current_price": s.orch.CurrentPrice(),
		"config":        s.orch.Config(),
	})
}

func (s *server) handleRankings(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rankings": s.orch.Rankings()})
}

func (s *server) handleAgents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"agents": s.orch.AgentStates()})
}

func (s *server) handleEvents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"events": s.orch.EventBuffer()})
}

// handleAgentStrategy exports an agent's validated strategy as JSON or YAML
func (s *server) handleAgentStrategy(c *gin.Context) {
	agentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid agent id"})
		return
	}

	strat, err := s.orch.AgentStrategy(agentID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	format := strategy.ExportFormat(c.DefaultQuery("format", string(strategy.FormatJSON)))
	data, err := strategy.Export(strat, format)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	contentType := "application/json"
	if format == strategy.FormatYAML {
		contentType = "application/yaml"
	}
	c.Data(http.StatusOK, contentType, data)
}

// handleValidateStrategy dry-runs a raw JSON or YAML parameter tree through
// the validator and returns the coerced strategy with its report
func (s *server) handleValidateStrategy(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil || len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body required"})
		return
	}

	raw, err := strategy.Import(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	strat, report := strategy.Validate(raw, strategy.SessionLimits{
		Leverage:      s.defaults.Leverage,
		DurationHours: s.defaults.MaxDurationHours,
	})
	c.JSON(http.StatusOK, gin.H{
		"strategy": strat,
		"errors":   report.Errors,
		"warnings": report.Warnings,
	})
}
