package transporthttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"tradeloop/internal/coordinator"
	"tradeloop/internal/ledger"
	"tradeloop/internal/logger"
	"tradeloop/internal/market"
	"tradeloop/internal/report"
)

// apiRouter 把管线操作映射到 /api/v1。
type apiRouter struct {
	coord   *coordinator.Coordinator
	ledger  *ledger.Ledger
	source  market.Source
	reports *report.Writer
	user    string
}

func (r *apiRouter) Register(group *gin.RouterGroup) {
	group.POST("/cycle", r.handleRunCycle)
	group.POST("/train", r.handleTrain)
	group.GET("/status", r.handleStatus)
	group.GET("/thresholds", r.handleThresholds)
	group.PUT("/risk", r.handleSetRisk)
	group.GET("/profiles", r.handleProfiles)
	group.GET("/portfolio", r.handlePortfolio)
	group.GET("/transactions", r.handleTransactions)
	group.GET("/sessions", r.handleSessions)
	group.POST("/report/sessions", r.handleSessionsReport)
	group.GET("/decisions", r.handleDecisions)
	group.GET("/feedback", r.handleFeedback)
}

type cycleRequest struct {
	Symbols       []string `json:"symbols"`
	RiskTolerance *float64 `json:"risk_tolerance"`
}

// handleRunCycle 可在请求体里给出本轮的 symbol 清单和风险偏好，
// 不给则沿用配置和当前策略。
func (r *apiRouter) handleRunCycle(c *gin.Context) {
	var req cycleRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	summary, err := r.coord.RunCycle(c.Request.Context(), coordinator.CycleOptions{
		Symbols:       req.Symbols,
		RiskTolerance: req.RiskTolerance,
	})
	switch {
	case errors.Is(err, coordinator.ErrCycleInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, coordinator.ErrModelNotReady):
		c.JSON(http.StatusPreconditionFailed, gin.H{"error": err.Error()})
	case err != nil:
		logger.Errorf("[api] cycle failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, summary)
	}
}

type trainRequest struct {
	Symbols []string `json:"symbols"`
}

func (r *apiRouter) handleTrain(c *gin.Context) {
	var req trainRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	report, err := r.coord.TrainModel(c.Request.Context(), req.Symbols)
	switch {
	case errors.Is(err, coordinator.ErrTrainingInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		logger.Errorf("[api] training failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, report)
	}
}

func (r *apiRouter) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.coord.Status())
}

func (r *apiRouter) handleThresholds(c *gin.Context) {
	pol := r.coord.Policy()
	c.JSON(http.StatusOK, gin.H{
		"risk_tolerance": pol.RiskTolerance(),
		"thresholds":     pol.Thresholds(),
	})
}

type riskRequest struct {
	RiskTolerance *float64 `json:"risk_tolerance"`
	Profile       string   `json:"profile"`
}

// handleSetRisk 支持直接给数值，或切到某个风险档位。
func (r *apiRouter) handleSetRisk(c *gin.Context) {
	var req riskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Profile != "" {
		p, err := r.coord.ApplyProfile(req.Profile)
		if err != nil {
			if errors.Is(err, coordinator.ErrUnknownProfile) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"profile":        p.ID,
			"risk_tolerance": r.coord.Policy().RiskTolerance(),
			"thresholds":     r.coord.Policy().Thresholds(),
		})
		return
	}
	if req.RiskTolerance == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "risk_tolerance or profile required"})
		return
	}
	r.coord.Policy().SetRiskTolerance(*req.RiskTolerance)
	c.JSON(http.StatusOK, gin.H{
		"risk_tolerance": r.coord.Policy().RiskTolerance(),
		"thresholds":     r.coord.Policy().Thresholds(),
	})
}

func (r *apiRouter) handleProfiles(c *gin.Context) {
	reg := r.coord.Profiles()
	if reg == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "risk profiles not configured"})
		return
	}
	snap := reg.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"version":   snap.Version,
		"loaded_at": snap.LoadedAt,
		"profiles":  snap.Profiles,
	})
}

func (r *apiRouter) handlePortfolio(c *gin.Context) {
	if r.ledger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger not configured"})
		return
	}
	user := strings.TrimSpace(c.DefaultQuery("user", r.user))
	summary, err := r.ledger.Summary(user, r.latestPrices(c.Request.Context(), user))
	if err != nil {
		logger.Errorf("[api] portfolio summary failed user=%s err=%v", user, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	stats, err := r.ledger.TradeStats(user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary, "trade_stats": stats})
}

// latestPrices 取持仓标的的最新收盘价，取不到的标的让账本退回成本价。
func (r *apiRouter) latestPrices(ctx context.Context, user string) map[string]float64 {
	if r.source == nil {
		return nil
	}
	base, err := r.ledger.Summary(user, nil)
	if err != nil {
		return nil
	}
	prices := make(map[string]float64, len(base.Positions))
	for _, pos := range base.Positions {
		if close, err := r.source.LatestClose(ctx, pos.Symbol); err == nil {
			prices[pos.Symbol] = close
		}
	}
	return prices
}

func (r *apiRouter) handleTransactions(c *gin.Context) {
	if r.ledger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger not configured"})
		return
	}
	user := strings.TrimSpace(c.DefaultQuery("user", r.user))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	txs, err := r.ledger.Transactions(user, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

func (r *apiRouter) handleSessions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	c.JSON(http.StatusOK, gin.H{"sessions": r.coord.Sessions(limit)})
}

// handleSessionsReport 把当前会话内的全部轮次渲染成走势报表。
func (r *apiRouter) handleSessionsReport(c *gin.Context) {
	if r.reports == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "report writer not configured"})
		return
	}
	sessions := r.coord.Sessions(0)
	if len(sessions) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no cycles recorded yet"})
		return
	}
	path, err := r.reports.WriteSessionsReport(sessions)
	if err != nil {
		logger.Errorf("[api] sessions report failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path, "sessions": len(sessions)})
}

func (r *apiRouter) handleDecisions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	decisions, err := r.coord.Log().Decisions(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": decisions})
}

func (r *apiRouter) handleFeedback(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	feedback, err := r.coord.Log().Feedback(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	total, accurate, err := r.coord.Log().AccuracyStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	accuracy := 0.0
	if total > 0 {
		accuracy = float64(accurate) / float64(total)
	}
	c.JSON(http.StatusOK, gin.H{
		"feedback": feedback,
		"total":    total,
		"accurate": accurate,
		"accuracy": accuracy,
	})
}
