package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"discharge_tester/internal/discharge"
	"discharge_tester/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	statusOK      = "ok"
	statusStarted = "started"
	statusAbort   = "abort_requested"

	errStartRun        = "failed to start run"
	errAbortRun        = "failed to abort run"
	errGetStatus       = "failed to load status"
	errListRuns        = "failed to list runs"
	errGetRun          = "failed to load run"
	errInvalidBodyPref = "invalid body: "
	errInvalidLimit    = "invalid 'limit'; use a positive integer"
)

// Centralized error logging and response.
func (h *Handler) logAndJSONError(c *gin.Context, httpCode int, userMsg, logKey string, err error, kv ...interface{}) {
	if h.log != nil && err != nil {
		fields := append([]interface{}{"err", err}, kv...)
		h.log.Errorw(logKey, fields...)
	}
	c.JSON(httpCode, gin.H{"error": userMsg})
}

// statusFor maps service errors to HTTP codes. Client errors echo the error text.
func statusFor(err error) (int, bool) {
	switch {
	case errors.Is(err, service.ErrRunInProgress), errors.Is(err, service.ErrNoActiveRun):
		return http.StatusConflict, true
	case errors.Is(err, service.ErrRunNotFound):
		return http.StatusNotFound, true
	case errors.Is(err, service.ErrInvalidParams):
		return http.StatusBadRequest, true
	default:
		return http.StatusInternalServerError, false
	}
}

func (h *Handler) respondServiceError(c *gin.Context, userMsg, logKey string, err error, kv ...interface{}) {
	code, clientErr := statusFor(err)
	if clientErr {
		c.JSON(code, gin.H{"error": err.Error()})
		return
	}
	h.logAndJSONError(c, code, userMsg, logKey, err, kv...)
}

// Respond with a status and include current run status if available (best-effort).
func (h *Handler) respondWithStatus(c *gin.Context, status string, extra gin.H) {
	resp := gin.H{"status": status}
	for k, v := range extra {
		resp[k] = v
	}
	if st, err := h.services.Monitoring.GetStatus(c.Request.Context()); err == nil {
		resp["run_status"] = st
	}
	c.JSON(http.StatusOK, resp)
}

// StartRunRequest overrides configured settings for one run.
type StartRunRequest struct {
	// Force the relay to fail (simulated bench only)
	RelayFail *bool `json:"relay_fail,omitempty" example:"false"`
	// Number of cells
	Cells *int `json:"cells,omitempty" example:"8"`
	// Maximum runtime in simulated seconds
	MaxRuntimeS *float64 `json:"max_runtime_s,omitempty" example:"3600"`
}

// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": statusOK})
}

// @Summary      Start a discharge run
// @Description  Runs in the background; only one run can be active.
// @Tags         runs
// @Accept       json
// @Produce      json
// @Param        body  body      StartRunRequest  false  "Overrides"
// @Success      200   {object}  map[string]interface{}  "status, run, run_status"
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      409   {object}  map[string]string
// @Failure      500   {object}  map[string]string
// @Router       /api/v1/runs [post]
// @Security     BearerAuth
func (h *Handler) startRun(c *gin.Context) {
	var req StartRunRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
			return
		}
	}

	run, err := h.services.Discharge.Start(c.Request.Context(), service.StartParams{
		RelayFail:   req.RelayFail,
		Cells:       req.Cells,
		MaxRuntimeS: req.MaxRuntimeS,
	})
	if err != nil {
		h.respondServiceError(c, errStartRun, "run_start_failed", err, "user_id", operatorID(c))
		return
	}
	if h.log != nil {
		h.log.Infow("run_started_via_api", "run_id", run.ID, "user_id", operatorID(c))
	}
	h.respondWithStatus(c, statusStarted, gin.H{"run": run})
}

// @Summary      Abort the active run
// @Description  The run enters the emergency state at its next tick.
// @Tags         runs
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/runs/abort [post]
// @Security     BearerAuth
func (h *Handler) abortRun(c *gin.Context) {
	if err := h.services.Discharge.Abort(c.Request.Context()); err != nil {
		h.respondServiceError(c, errAbortRun, "run_abort_failed", err, "user_id", operatorID(c))
		return
	}
	if h.log != nil {
		h.log.Warnw("run_abort_via_api", "user_id", operatorID(c))
	}
	h.respondWithStatus(c, statusAbort, gin.H{})
}

// @Summary      Live run status
// @Tags         runs
// @Produce      json
// @Success      200  {object}  models.RunStatus
// @Failure      401  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/runs/status [get]
// @Security     BearerAuth
func (h *Handler) getStatus(c *gin.Context) {
	st, err := h.services.Monitoring.GetStatus(c.Request.Context())
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, errGetStatus, "run_get_status_failed", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// @Summary      List runs
// @Tags         runs
// @Produce      json
// @Param        limit  query     int  false  "Maximum number of runs, newest first"  example(20)
// @Success      200    {object}  map[string]interface{}  "count, runs"
// @Failure      400    {object}  map[string]string
// @Failure      401    {object}  map[string]string
// @Failure      500    {object}  map[string]string
// @Router       /api/v1/runs [get]
// @Security     BearerAuth
func (h *Handler) listRuns(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	runs, err := h.services.Runs.List(c.Request.Context(), limit)
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, errListRuns, "runs_list_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(runs), "runs": runs})
}

// @Summary      Get a run
// @Tags         runs
// @Produce      json
// @Param        id   path      string  true  "Run ID"
// @Success      200  {object}  models.Run
// @Failure      401  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/runs/{id} [get]
// @Security     BearerAuth
func (h *Handler) getRun(c *gin.Context) {
	id := c.Param("id")
	run, err := h.services.Runs.Get(c.Request.Context(), id)
	if err != nil {
		h.respondServiceError(c, errGetRun, "run_get_failed", err, "run_id", id)
		return
	}
	c.JSON(http.StatusOK, run)
}

type seriesCell struct {
	CellID int               `json:"cell_id"`
	Points []discharge.Point `json:"points"`
}

// @Summary      Recorded voltages of a run
// @Tags         runs
// @Produce      json
// @Param        id   path      string  true  "Run ID"
// @Success      200  {object}  map[string]interface{}  "run_id, cells"
// @Failure      401  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/runs/{id}/series [get]
// @Security     BearerAuth
func (h *Handler) getSeries(c *gin.Context) {
	id := c.Param("id")
	ts, err := h.services.Runs.Series(c.Request.Context(), id)
	if err != nil {
		h.respondServiceError(c, errGetRun, "run_series_failed", err, "run_id", id)
		return
	}
	cells := make([]seriesCell, 0, len(ts))
	for _, cid := range ts.CellIDs() {
		cells = append(cells, seriesCell{CellID: cid, Points: ts[cid]})
	}
	c.JSON(http.StatusOK, gin.H{"run_id": id, "cells": cells})
}

// @Summary      Download a run as CSV
// @Tags         runs
// @Produce      text/csv
// @Param        id   path      string  true  "Run ID"
// @Success      200  {string}  string  "time_s,cell_0,..."
// @Failure      401  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/runs/{id}/export.csv [get]
// @Security     BearerAuth
func (h *Handler) exportCSV(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	// resolve first so a missing run still gets a JSON 404
	if _, err := h.services.Runs.Get(ctx, id); err != nil {
		h.respondServiceError(c, errGetRun, "run_export_failed", err, "run_id", id)
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="`+id+`.csv"`)
	c.Status(http.StatusOK)
	if err := h.services.Runs.WriteCSV(ctx, id, c.Writer); err != nil && h.log != nil {
		h.log.Errorw("run_export_write_failed", "err", err, "run_id", id)
	}
}

func parseLimit(c *gin.Context) (int, bool) {
	s := c.Query("limit")
	if s == "" {
		return 0, true
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidLimit})
		return 0, false
	}
	return v, true
}
