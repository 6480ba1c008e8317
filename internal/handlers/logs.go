package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"discharge_tester/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	errFromInvalid = "invalid 'from' time; use RFC3339 or YYYY-MM-DD"
	errToInvalid   = "invalid 'to' time; use RFC3339 or YYYY-MM-DD"
	errRangeOrder  = "'from' must be <= 'to'"
	errLogsLimit   = "invalid 'limit'; use a non-negative integer"
	errListLogs    = "failed to load logs"

	layoutDateTime = "2006-01-02 15:04:05"
	layoutDate     = "2006-01-02"
)

var queryTimeLayouts = []string{time.RFC3339, layoutDateTime, layoutDate}

// @Summary      List run events
// @Description  Filter by run, type and time (RFC3339, 'YYYY-MM-DD HH:MM:SS' or 'YYYY-MM-DD'). A date-only 'to' covers the whole day.
// @Tags         logs
// @Produce      json
// @Param        from    query  string  false  "Start of range"  example(2025-08-01)
// @Param        to      query  string  false  "End of range; date-only means end of that day"  example(2025-08-31)
// @Param        type    query  string  false  "Event type"  Enums(RUN_STARTED,SAFETY_ACHIEVED,RELAY_FAILURE,EXIT_CONDITION_MET,EMERGENCY,CUTOFF,RUN_FINISHED,BENCH_CLOSE_FAILED)
// @Param        run_id  query  string  false  "Only events of this run"
// @Param        limit   query  int     false  "Maximum number of events (0 = all)"
// @Success      200   {object}  map[string]interface{}  "count, events"
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      500   {object}  map[string]string
// @Router       /api/v1/logs [get]
// @Security     BearerAuth
func (h *Handler) getLogs(c *gin.Context) {
	f, msg := logFilterFromQuery(c)
	if msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	events, err := h.services.EventLog.List(c.Request.Context(), f)
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, errListLogs, "logs_list_failed", err,
			"run_id", f.RunID, "from", f.From, "to", f.To, "type", f.Type)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(events), "events": events})
}

// logFilterFromQuery returns the filter or a client error message.
func logFilterFromQuery(c *gin.Context) (service.LogFilter, string) {
	f := service.LogFilter{
		RunID: strings.TrimSpace(c.Query("run_id")),
		Type:  strings.ToUpper(strings.TrimSpace(c.Query("type"))),
	}
	var err error

	if qs := c.Query("from"); qs != "" {
		if f.From, err = parseQueryTime(qs); err != nil {
			return f, errFromInvalid
		}
	}
	if qs := c.Query("to"); qs != "" {
		if f.To, err = parseQueryTime(qs); err != nil {
			return f, errToInvalid
		}
		if !strings.ContainsAny(qs, "T ") {
			f.To = f.To.Add(24*time.Hour - time.Nanosecond)
		}
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To) {
		return f, errRangeOrder
	}

	if qs := c.Query("limit"); qs != "" {
		if f.Limit, err = strconv.Atoi(qs); err != nil || f.Limit < 0 {
			return f, errLogsLimit
		}
	}
	return f, ""
}

// parseQueryTime accepts any of queryTimeLayouts and returns UTC.
func parseQueryTime(s string) (time.Time, error) {
	for _, layout := range queryTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q, expected RFC3339, 'YYYY-MM-DD HH:MM:SS' or 'YYYY-MM-DD'", s)
}
