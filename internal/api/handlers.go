package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tokenfolio/internal/auth"
	"tokenfolio/internal/learning"
	"tokenfolio/internal/position"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"positions": s.book.Count(),
		"time":      time.Now().UTC(),
	})
}

func (s *Server) handleLogin(c *gin.Context) {
	if s.authService == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "auth is disabled"})
		return
	}

	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password required"})
		return
	}

	token, err := s.authService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   s.authService.TokenDurationSeconds(),
	})
}

func (s *Server) handleListPositions(c *gin.Context) {
	tfParam := c.Query("timeframe")
	var positions []*position.Position
	if tfParam != "" {
		tf := position.Timeframe(tfParam)
		if !tf.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid timeframe"})
			return
		}
		positions = s.book.SnapshotByTimeframe(tf)
	} else {
		for _, tf := range position.AllTimeframes() {
			positions = append(positions, s.book.SnapshotByTimeframe(tf)...)
		}
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions, "count": len(positions)})
}

func (s *Server) handleGetPosition(c *gin.Context) {
	pos, ok := s.positionFromPath(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, pos.Clone())
}

func (s *Server) handleListCoefficients(c *gin.Context) {
	if s.coeffStore == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "coefficient store unavailable"})
		return
	}
	records, err := s.coeffStore.List(c.Request.Context(), learning.ModuleDecision)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list coefficients"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"coefficients": records, "count": len(records)})
}

func (s *Server) handleListEdges(c *gin.Context) {
	if s.edges == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "edge aggregator unavailable"})
		return
	}
	stats := s.edges.Stats()
	c.JSON(http.StatusOK, gin.H{"edges": stats, "count": len(stats)})
}

func (s *Server) handleBreakerStats(c *gin.Context) {
	if s.breaker == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "circuit breaker unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chains": s.breaker.Stats()})
}

func (s *Server) handleFeedStats(c *gin.Context) {
	if s.feed == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "signal feed unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"dropped_frames": s.feed.DroppedFrames()})
}

func (s *Server) handleCreateFamily(c *gin.Context) {
	var req struct {
		Token   string                `json:"token" binding:"required"`
		Chain   string                `json:"chain" binding:"required"`
		Caps    map[string]float64    `json:"caps"`
		Context position.EntryContext `json:"context"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	caps := make(map[position.Timeframe]float64, len(req.Caps))
	for tfStr, cap := range req.Caps {
		tf := position.Timeframe(tfStr)
		if !tf.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid timeframe in caps: " + tfStr})
			return
		}
		caps[tf] = cap
	}
	if req.Context.Chain == "" {
		req.Context.Chain = req.Chain
	}
	if req.Context.CapturedAt.IsZero() {
		req.Context.CapturedAt = time.Now()
	}

	family, err := s.book.CreateFamily(c.Request.Context(), req.Token, req.Chain, caps, req.Context)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, position.ErrPositionAlreadyExists) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	// The tick loops can pick the family up immediately; respond with copies.
	out := make([]*position.Position, len(family))
	for i, pos := range family {
		out[i] = pos.Clone()
	}
	c.JSON(http.StatusCreated, gin.H{"positions": out})
}

func (s *Server) handlePause(c *gin.Context) {
	pos, ok := s.positionFromPath(c)
	if !ok {
		return
	}
	if err := pos.Pause(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if user := currentUser(c); user != nil {
		s.logger.Info().
			Str("position_id", pos.ID).
			Str("operator", user.Email).
			Msg("Position paused")
	}
	s.persistAndRespond(c, pos)
}

func (s *Server) handleResume(c *gin.Context) {
	pos, ok := s.positionFromPath(c)
	if !ok {
		return
	}
	pos.Resume(s.config.HistoryThreshold)
	s.persistAndRespond(c, pos)
}

func (s *Server) handleArchive(c *gin.Context) {
	pos, ok := s.positionFromPath(c)
	if !ok {
		return
	}
	if err := pos.Archive(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	s.persistAndRespond(c, pos)
}

func (s *Server) positionFromPath(c *gin.Context) (*position.Position, bool) {
	tf := position.Timeframe(c.Param("timeframe"))
	if !tf.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid timeframe"})
		return nil, false
	}
	pos, err := s.book.Get(c.Request.Context(), c.Param("token"), c.Param("chain"), tf)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "position not found"})
		return nil, false
	}
	return pos, true
}

func (s *Server) persistAndRespond(c *gin.Context, pos *position.Position) {
	// Persist and encode a copy; the repository marshals the ledger map, which
	// the position's own pipeline may be writing concurrently.
	snap := pos.Clone()
	if err := s.book.Persist(c.Request.Context(), snap); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "state changed but persist failed"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// currentUser returns the authenticated user's claims from context, if any.
func currentUser(c *gin.Context) *auth.UserClaims {
	id, ok := c.Get(auth.ContextKeyUserID)
	if !ok {
		return nil
	}
	email, _ := c.Get(auth.ContextKeyEmail)
	role, _ := c.Get(auth.ContextKeyRole)
	return &auth.UserClaims{
		UserID: id.(string),
		Email:  asString(email),
		Role:   asString(role),
	}
}

func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
