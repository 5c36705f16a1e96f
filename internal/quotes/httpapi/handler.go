package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"tickwire.com/internal/quotes/ingest"
	"tickwire.com/internal/quotes/model"
	"tickwire.com/internal/quotes/restclient"
	"tickwire.com/internal/quotes/stream"
	"tickwire.com/pkg/common"
	"tickwire.com/pkg/xerr"
)

// Service *ingest.Facade 实现了它
type Service interface {
	Current(symbol string) (ingest.Value, bool)
	Snapshot() []ingest.Value
	Health() []stream.Status
	Dropped() uint64
	Resume() int
	Reset(provider string) error
	Candles(ctx context.Context, provider string, q restclient.CandleQuery, opts ...restclient.RequestOption) (ingest.Result[[]model.Candle], error)
	Indicator(ctx context.Context, provider string, q restclient.IndicatorQuery, opts ...restclient.RequestOption) (ingest.Result[model.IndicatorResult], error)
}

type Handler struct {
	svc Service
}

type HealthResp struct {
	Streams []stream.Status `json:"streams"`
	// Dropped 因订阅方太慢丢掉的变更通知
	Dropped uint64 `json:"dropped"`
}

func (h *Handler) List(c *gin.Context) {
	common.Success(c, h.svc.Snapshot())
}

func (h *Handler) Get(c *gin.Context) {
	v, ok := h.svc.Current(c.Param("symbol"))
	if !ok {
		common.Fail(c, http.StatusNotFound, http.StatusNotFound, "symbol not found")
		return
	}
	common.Success(c, v)
}

func (h *Handler) Health(c *gin.Context) {
	common.Success(c, HealthResp{Streams: h.svc.Health(), Dropped: h.svc.Dropped()})
}

func (h *Handler) Resume(c *gin.Context) {
	common.Success(c, gin.H{"resumed": h.svc.Resume()})
}

func (h *Handler) Reset(c *gin.Context) {
	if err := h.svc.Reset(c.Param("provider")); err != nil {
		common.FailFromErr(c, err)
		return
	}
	common.Success(c, nil)
}

func (h *Handler) Candles(c *gin.Context) {
	q := restclient.CandleQuery{
		Symbol:   c.Query("symbol"),
		Interval: c.DefaultQuery("interval", "1h"),
	}
	if q.Symbol == "" {
		badRequest(c, "symbol is required")
		return
	}
	var err error
	if q.Start, err = msParam(c, "start"); err != nil {
		badRequest(c, "bad start")
		return
	}
	if q.End, err = msParam(c, "end"); err != nil {
		badRequest(c, "bad end")
		return
	}
	if s := c.Query("limit"); s != "" {
		if q.Limit, err = strconv.Atoi(s); err != nil || q.Limit < 0 {
			badRequest(c, "bad limit")
			return
		}
	}

	res, err := h.svc.Candles(c.Request.Context(), c.Param("provider"), q, opts(c)...)
	if err != nil {
		common.FailFromErr(c, err)
		return
	}
	common.Success(c, res)
}

func (h *Handler) Indicator(c *gin.Context) {
	q := restclient.IndicatorQuery{
		Indicator: c.Param("indicator"),
		Exchange:  c.Query("exchange"),
		Symbol:    c.Query("symbol"),
		Interval:  c.DefaultQuery("interval", "1d"),
	}
	if q.Symbol == "" {
		badRequest(c, "symbol is required")
		return
	}
	if s := c.Query("period"); s != "" {
		p, err := strconv.Atoi(s)
		if err != nil || p <= 0 {
			badRequest(c, "bad period")
			return
		}
		q.Period = p
	}

	res, err := h.svc.Indicator(c.Request.Context(), c.Param("provider"), q, opts(c)...)
	if err != nil {
		common.FailFromErr(c, err)
		return
	}
	common.Success(c, res)
}

// nonblocking=1 时被限流直接返回 429，不排队
func opts(c *gin.Context) []restclient.RequestOption {
	if c.Query("nonblocking") == "1" {
		return []restclient.RequestOption{restclient.NonBlocking()}
	}
	return nil
}

func msParam(c *gin.Context, name string) (time.Time, error) {
	s := c.Query(name)
	if s == "" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

func badRequest(c *gin.Context, msg string) {
	common.Fail(c, http.StatusBadRequest, xerr.Permanent, msg)
}
