package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"hma-trading-bot/internal/apikeys"
	"hma-trading-bot/internal/auth"
	"hma-trading-bot/internal/engine"
	"hma-trading-bot/internal/events"
	"hma-trading-bot/internal/gateway"
	"hma-trading-bot/internal/store"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":            "ok",
		"scheduler_running": s.scheduler.IsRunning(),
	})
}

type loginRequest struct {
	Password string `json:"password" binding:"required"`
}

// handleLogin exchanges the admin password for an access token
func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password required"})
		return
	}

	if s.authCfg.AdminPassword == "" || !auth.VerifyPassword(req.Password, s.authCfg.AdminPassword) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := s.jwt.Generate("admin", true)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int64(s.jwt.TokenDuration().Seconds()),
	})
}

// handleStatus reports scheduler, governor, and cache health in one shot
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"scheduler": s.scheduler.Status(),
		"governor":  s.quotes.GovernorStatus(),
		"cache":     s.quotes.CacheStats(),
	})
}

func (s *Server) handleSchedulerStart(c *gin.Context) {
	if err := s.scheduler.Start(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

func (s *Server) handleSchedulerStop(c *gin.Context) {
	if err := s.scheduler.Stop(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (s *Server) handleGetState(c *gin.Context) {
	userID := c.Param("user_id")
	state, err := s.store.LoadState(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no state for user"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, state)
}

// handleGetSnapshot serves the last mirrored state, useful when the
// primary store is down or to observe another instance
func (s *Server) handleGetSnapshot(c *gin.Context) {
	if s.mirror == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "state mirror not configured"})
		return
	}
	state, err := s.mirror.Snapshot(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot for user"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleListExits(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := s.store.ListExitLog(c.Request.Context(), c.Param("user_id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"exits": entries, "count": len(entries)})
}

func (s *Server) handleStartMonitoring(c *gin.Context) {
	userID := c.Param("user_id")
	err := s.scheduler.Do(c.Request.Context(), userID, func(state *engine.TradingState) error {
		state.ExecutionFlags.IsMonitoring = true
		state.ExecutionFlags.RequiresReconnect = false
		return nil
	})
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	s.eventBus.Publish(events.Event{Type: events.EventMonitorStarted, UserID: userID})
	c.JSON(http.StatusOK, gin.H{"monitoring": true})
}

func (s *Server) handleStopMonitoring(c *gin.Context) {
	userID := c.Param("user_id")
	err := s.scheduler.Do(c.Request.Context(), userID, func(state *engine.TradingState) error {
		state.ExecutionFlags.IsMonitoring = false
		return nil
	})
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	s.eventBus.Publish(events.Event{Type: events.EventMonitorStopped, UserID: userID})
	c.JSON(http.StatusOK, gin.H{"monitoring": false})
}

// handleRecovery triggers a reconciliation sweep for a user's orders
func (s *Server) handleRecovery(c *gin.Context) {
	userID := c.Param("user_id")
	if err := s.scheduler.RunRecovery(c.Request.Context(), userID); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "recovery complete"})
}

type credentialsRequest struct {
	APIKey     string `json:"api_key" binding:"required"`
	SecretKey  string `json:"secret_key" binding:"required"`
	ClientCode string `json:"client_code"`
}

// handleStoreCredentials stores broker credentials and clears any
// reconnect hold so the next tick resumes the user
func (s *Server) handleStoreCredentials(c *gin.Context) {
	userID := c.Param("user_id")

	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "api_key and secret_key required"})
		return
	}

	err := s.apiKeys.StoreBrokerKey(c.Request.Context(), userID, apikeys.BrokerKeyResult{
		APIKey:     req.APIKey,
		SecretKey:  req.SecretKey,
		ClientCode: req.ClientCode,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	err = s.scheduler.Do(c.Request.Context(), userID, func(state *engine.TradingState) error {
		state.ExecutionFlags.RequiresReconnect = false
		return nil
	})
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "credentials stored"})
}

type addSymbolRequest struct {
	ID             string                `json:"id" binding:"required"`
	LogicalName    string                `json:"logical_name" binding:"required"`
	Side           string                `json:"side"`
	Lots           int                   `json:"lots"`
	Quantity       int                   `json:"quantity"`
	TargetPoints   float64               `json:"target_points"`
	StopLossPoints float64               `json:"stop_loss_points"`
	Trailing       engine.TrailingConfig `json:"trailing"`
	TimeExit       engine.TimeExitConfig `json:"time_exit"`
	MaxReEntries   int                   `json:"max_re_entries"`
}

// handleAddSymbol registers a new monitored symbol in WAITING
func (s *Server) handleAddSymbol(c *gin.Context) {
	userID := c.Param("user_id")

	var req addSymbolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id and logical_name required"})
		return
	}

	sym := &engine.MonitoredSymbol{
		ID:             req.ID,
		LogicalName:    req.LogicalName,
		Side:           sideFromString(req.Side),
		Lots:           req.Lots,
		Quantity:       req.Quantity,
		TargetPoints:   req.TargetPoints,
		StopLossPoints: req.StopLossPoints,
		Trailing:       req.Trailing,
		TimeExit:       req.TimeExit,
		MaxReEntries:   req.MaxReEntries,
		TriggerStatus:  engine.StatusWaiting,
	}

	err := s.scheduler.Do(c.Request.Context(), userID, func(state *engine.TradingState) error {
		if state.FindSymbol(req.ID) != nil {
			return errors.New("symbol id already monitored")
		}
		state.MonitoredSymbols = append(state.MonitoredSymbols, sym)
		return nil
	})
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, sym)
}

func (s *Server) handleRetrigger(c *gin.Context) {
	s.symbolAction(c, func(state *engine.TradingState, symbolID string) error {
		return s.engine.Retrigger(state, symbolID)
	})
}

func (s *Server) handleReset(c *gin.Context) {
	s.symbolAction(c, func(state *engine.TradingState, symbolID string) error {
		return s.engine.Reset(state, symbolID)
	})
}

func (s *Server) handleCancelSymbol(c *gin.Context) {
	ctx := c.Request.Context()
	s.symbolAction(c, func(state *engine.TradingState, symbolID string) error {
		return s.engine.Cancel(ctx, state, symbolID)
	})
}

type overrideRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// handleOverride lets the operator skip remaining reversal confirmation
func (s *Server) handleOverride(c *gin.Context) {
	var req overrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reason required"})
		return
	}
	s.symbolAction(c, func(state *engine.TradingState, symbolID string) error {
		return s.engine.ConfirmReversalOverride(state, symbolID, req.Reason)
	})
}

type repairRequest struct {
	Price float64 `json:"price" binding:"required"`
}

// handleRepair coerces a corrupted trigger status back into the machine
func (s *Server) handleRepair(c *gin.Context) {
	var req repairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "price required"})
		return
	}

	userID := c.Param("user_id")
	symbolID := c.Param("symbol_id")
	var repaired bool

	err := s.scheduler.Do(c.Request.Context(), userID, func(state *engine.TradingState) error {
		sym := state.FindSymbol(symbolID)
		if sym == nil {
			return engine.ErrSymbolNotFound
		}
		repaired = s.engine.RepairStatus(sym, req.Price)
		return nil
	})
	if err != nil {
		s.symbolActionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"repaired": repaired})
}

// symbolAction runs one engine operation under the user lock
func (s *Server) symbolAction(c *gin.Context, fn func(*engine.TradingState, string) error) {
	userID := c.Param("user_id")
	symbolID := c.Param("symbol_id")

	err := s.scheduler.Do(c.Request.Context(), userID, func(state *engine.TradingState) error {
		return fn(state, symbolID)
	})
	if err != nil {
		s.symbolActionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) symbolActionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrSymbolNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, engine.ErrInvalidTransition),
		errors.Is(err, engine.ErrOrderStillLive):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func sideFromString(s string) gateway.OrderSide {
	if s == "SELL" {
		return gateway.SideSell
	}
	return gateway.SideBuy
}
