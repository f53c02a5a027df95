// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package admin exposes a meter over HTTP.
package admin

import (
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/LeeDigitalWorks/gasmeter/pkg/gasmeter"
	"github.com/LeeDigitalWorks/gasmeter/pkg/logger"
	"github.com/LeeDigitalWorks/gasmeter/pkg/source"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
)

// Meter is the part of *gasmeter.Meter the API needs.
type Meter interface {
	ID() string
	Elapsed() (gasmeter.Gas, error)
	Pending() int
	Reset() error
}

type ElapsedResponse struct {
	MeterID      string `json:"meter_id"`
	Elapsed      uint64 `json:"elapsed"`
	ElapsedHuman string `json:"elapsed_human"`
	Pending      int    `json:"pending"`
}

type ReportRequest struct {
	Gas *uint64 `json:"gas" binding:"required"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type handler struct {
	meter    Meter
	reporter source.Reporter
}

// NewHandler returns the admin API for m. Costs posted to the API go to r.
func NewHandler(m Meter, r source.Reporter) http.Handler {
	h := &handler{meter: m, reporter: r}

	engine := gin.New()
	engine.Use(requestLogger(), gin.Recovery())

	v1 := engine.Group("/v1")
	v1.GET("/health", h.health)
	v1.GET("/gas", h.elapsed)
	v1.POST("/gas", h.report)
	v1.POST("/gas/reset", h.reset)

	return engine
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handler) elapsed(c *gin.Context) {
	gas, err := h.meter.Elapsed()
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, ElapsedResponse{
		MeterID:      h.meter.ID(),
		Elapsed:      uint64(gas),
		ElapsedHuman: humanize.BigComma(new(big.Int).SetUint64(uint64(gas))),
		Pending:      h.meter.Pending(),
	})
}

func (h *handler) report(c *gin.Context) {
	var req ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	h.reporter.Report(gasmeter.Gas(*req.Gas))
	c.Status(http.StatusAccepted)
}

func (h *handler) reset(c *gin.Context) {
	if err := h.meter.Reset(); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, gasmeter.ErrMeterClosed) {
		status = http.StatusServiceUnavailable
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, ErrorResponse{Error: err.Error()})
}

// requestLogger logs each request with the global zerolog logger.
func requestLogger() gin.HandlerFunc {
	log := logger.Component("admin")
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		event := log.Info()
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		}
		if len(c.Errors) > 0 {
			event = event.Strs("errors", c.Errors.Errors())
		}
		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("admin request")
	}
}
