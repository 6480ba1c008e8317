package repository

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"discharge_tester/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
)

var eventColumns = []string{"id", "run_id", "occurred_at", "type", "level", "message", "meta"}

func TestEventAppend_FillsDefaultsAndNormalizes(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEventSQLite(db)

	mock.ExpectExec(regexp.QuoteMeta(insertEventSQL)).
		WithArgs(sqlmock.AnyArg(), "run-1", sqlmock.AnyArg(),
			"EXIT_CONDITION_MET", "info", "exit parameters met",
			`{"cell_id":3}`,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Append(ctx(t), models.RunEvent{
		RunID:       "run-1",
		Type:        " exit_condition_met ",
		Level:       "INFO",
		Description: "exit parameters met",
		Metadata:    map[string]any{"cell_id": 3},
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
}

func TestEventAppend_NilMetadataAndDBError(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEventSQLite(db)

	mock.ExpectExec(regexp.QuoteMeta(insertEventSQL)).
		WithArgs("ev-1", "run-1", sqlmock.AnyArg(), "CUTOFF", "warn", "emergency cutoff", nil).
		WillReturnError(errors.New("disk I/O error"))

	err := repo.Append(ctx(t), models.RunEvent{
		EventID:     "ev-1",
		RunID:       "run-1",
		OccurredAt:  time.Now(),
		Type:        models.EventCutoff,
		Level:       "warn",
		Description: "emergency cutoff",
	})
	if err == nil || !strings.Contains(err.Error(), "disk I/O error") {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestBuildEventQuery(t *testing.T) {
	from := time.Date(2025, 1, 1, 11, 0, 0, 0, time.FixedZone("X", 3600))
	to := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		q        EventQuery
		wantSQL  string
		wantArgs []any
	}{
		{
			name:    "no filters",
			wantSQL: selectEventsSQL + " ORDER BY occurred_at ASC",
		},
		{
			name:     "all filters",
			q:        EventQuery{RunID: "r1", From: from, To: to, Type: " cutoff", Limit: 10},
			wantSQL:  selectEventsSQL + " WHERE run_id = ? AND occurred_at >= ? AND occurred_at <= ? AND type = ? ORDER BY occurred_at ASC LIMIT ?",
			wantArgs: []any{"r1", from.UTC(), to, "CUTOFF", 10},
		},
		{
			name:     "type only",
			q:        EventQuery{Type: "emergency"},
			wantSQL:  selectEventsSQL + " WHERE type = ? ORDER BY occurred_at ASC",
			wantArgs: []any{"EMERGENCY"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotSQL, gotArgs := buildEventQuery(tt.q)
			if gotSQL != tt.wantSQL {
				t.Fatalf("sql:\n got %q\nwant %q", gotSQL, tt.wantSQL)
			}
			if len(gotArgs) != len(tt.wantArgs) {
				t.Fatalf("args: got %v, want %v", gotArgs, tt.wantArgs)
			}
			for i := range gotArgs {
				if gt, ok := gotArgs[i].(time.Time); ok {
					if !gt.Equal(tt.wantArgs[i].(time.Time)) || gt.Location() != time.UTC {
						t.Fatalf("arg %d: got %v, want %v in UTC", i, gt, tt.wantArgs[i])
					}
					continue
				}
				if gotArgs[i] != tt.wantArgs[i] {
					t.Fatalf("arg %d: got %v, want %v", i, gotArgs[i], tt.wantArgs[i])
				}
			}
		})
	}
}

func TestEventList_ByRunAndMetadataParsing(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEventSQLite(db)

	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	js, _ := json.Marshal(map[string]any{"cell_id": 1.0})

	rows := sqlmock.NewRows(eventColumns).
		AddRow("1", "run-1", now, models.EventRunStarted, "info", "started", string(js)).
		AddRow("2", "run-1", now.Add(time.Second), models.EventCutoff, "warn", "cutoff", nil).
		AddRow("3", "run-1", now.Add(2*time.Second), models.EventRunFinished, "info", "finished", "{broken")

	mock.ExpectQuery(regexp.QuoteMeta(selectEventsSQL + " WHERE run_id = ? ORDER BY occurred_at ASC")).
		WithArgs("run-1").
		WillReturnRows(rows)

	got, err := repo.List(ctx(t), EventQuery{RunID: "run-1"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("want 3, got %d", len(got))
	}
	b, _ := json.Marshal(got[0].Metadata)
	if string(b) != string(js) {
		t.Fatalf("metadata mismatch: %s vs %s", b, js)
	}
	if got[1].Metadata != nil {
		t.Fatalf("expected nil meta, got %#v", got[1].Metadata)
	}
	if got[2].Metadata != "{broken" {
		t.Fatalf("malformed meta should be kept raw, got %#v", got[2].Metadata)
	}
	if got[1].Level != "warn" || got[1].RunID != "run-1" {
		t.Fatalf("unexpected event: %+v", got[1])
	}
}

func TestEventList_ScanError(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEventSQLite(db)

	rows := sqlmock.NewRows(eventColumns).
		AddRow("x", "run-1", 123, "INFO", "info", "msg", nil)
	mock.ExpectQuery(regexp.QuoteMeta(selectEventsSQL + " ORDER BY occurred_at ASC")).
		WillReturnRows(rows)

	if _, err := repo.List(ctx(t), EventQuery{}); err == nil {
		t.Fatalf("expected scan error, got nil")
	}
}
