package api

import (
	"net/http"
	"strings"

	"candlefeed/internal/backfill"
	"candlefeed/internal/live"

	"github.com/gin-gonic/gin"
)

// backfillBody accepts "source" as an alias of "provider" to match the query
// parameters of the other endpoints.
type backfillBody struct {
	Symbol   string `json:"symbol"`
	Source   string `json:"source"`
	Provider string `json:"provider"`
	Interval string `json:"interval"`
	Period   string `json:"period"`
	Start    string `json:"start"`
	End      string `json:"end"`
}

func (b backfillBody) jobRequest() (backfill.JobRequest, bool, string) {
	provider := strings.TrimSpace(b.Provider)
	if provider == "" {
		provider = strings.TrimSpace(b.Source)
	}
	if provider == "" {
		provider = defaultSource
	}
	interval := strings.TrimSpace(b.Interval)
	if interval == "" {
		interval = defaultInterval
	}
	req := backfill.JobRequest{
		Symbol:   strings.TrimSpace(b.Symbol),
		Provider: strings.ToLower(provider),
		Interval: interval,
		Period:   strings.TrimSpace(b.Period),
	}
	var ok bool
	if b.Start != "" {
		if req.Start, ok = parseTime(b.Start); !ok {
			return req, false, "start"
		}
	}
	if b.End != "" {
		if req.End, ok = parseTime(b.End); !ok {
			return req, false, "end"
		}
	}
	return req, true, ""
}

func (r *Router) handleSubmitBackfill(c *gin.Context) {
	var body backfillBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "body", "", err.Error())
		return
	}
	if strings.TrimSpace(body.Symbol) == "" {
		badRequest(c, "symbol", "", "symbol is required")
		return
	}
	req, ok, field := body.jobRequest()
	if !ok {
		badRequest(c, field, "", "expected RFC3339 or epoch milliseconds")
		return
	}
	job, err := r.cfg.Jobs.Submit(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (r *Router) handleListBackfill(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": r.cfg.Jobs.Jobs()})
}

func (r *Router) handleGetBackfill(c *gin.Context) {
	job, ok := r.cfg.Jobs.Job(c.Param("id"))
	if !ok {
		writeError(c, backfill.ErrJobNotFound)
		return
	}
	c.JSON(http.StatusOK, job)
}

type loopBody struct {
	Symbol   string `json:"symbol"`
	Source   string `json:"source"`
	Interval string `json:"interval"`
}

func (r *Router) handleListLoops(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"loops": r.cfg.Loops.Status(), "time": r.now().UTC()})
}

func (r *Router) handleStartLoop(c *gin.Context) {
	var body loopBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "body", "", err.Error())
		return
	}
	q := seriesQuery{Symbol: strings.TrimSpace(body.Symbol), Source: strings.ToLower(strings.TrimSpace(body.Source)), Interval: strings.TrimSpace(body.Interval)}
	if q.Source == "" {
		q.Source = defaultSource
	}
	if q.Interval == "" {
		q.Interval = defaultInterval
	}
	key, err := q.key()
	if err != nil {
		writeError(c, err)
		return
	}
	started, err := r.cfg.Loops.Start(live.Target{Symbol: key.Symbol, Provider: key.Provider, Interval: key.Interval})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"key": started, "series": started.String()})
}

func (r *Router) handleStopLoop(c *gin.Context) {
	key, err := readSeriesQuery(c).key()
	if err != nil {
		writeError(c, err)
		return
	}
	if !r.cfg.Loops.Stop(key) {
		c.JSON(http.StatusNotFound, ErrorBody{Error: "no loop running for " + key.String(), Kind: kindNotFound})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": key.String()})
}
