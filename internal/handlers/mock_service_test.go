package handlers

import (
	"context"
	"io"
	"net/http"

	"discharge_tester/internal/discharge"
	"discharge_tester/internal/models"
	"discharge_tester/internal/service"

	"github.com/gin-gonic/gin"
)

// ---- Service Mocks ----

type mockAuth struct {
	signUpID      int
	signUpErr     error
	genTokenToken string
	genTokenErr   error
	parseID       int
	parseErr      error

	lastSignUpUsername string
	lastSignUpPassword string
	lastGenUsername    string
	lastGenPassword    string
	lastParseToken     string
}

func (m *mockAuth) SignUp(_ context.Context, username, password string) (int, error) {
	m.lastSignUpUsername = username
	m.lastSignUpPassword = password
	return m.signUpID, m.signUpErr
}
func (m *mockAuth) GenerateToken(_ context.Context, username, password string) (string, error) {
	m.lastGenUsername = username
	m.lastGenPassword = password
	return m.genTokenToken, m.genTokenErr
}
func (m *mockAuth) ParseToken(token string) (int, error) {
	m.lastParseToken = token
	return m.parseID, m.parseErr
}

type mockDischarge struct {
	run         models.Run
	startErr    error
	abortErr    error
	lastParams  service.StartParams
	startCalled int
	abortCalled int
}

func (m *mockDischarge) Start(_ context.Context, p service.StartParams) (models.Run, error) {
	m.startCalled++
	m.lastParams = p
	return m.run, m.startErr
}
func (m *mockDischarge) Abort(context.Context) error {
	m.abortCalled++
	return m.abortErr
}

type mockMonitoring struct {
	status models.RunStatus
	err    error
}

func (m *mockMonitoring) GetStatus(context.Context) (models.RunStatus, error) {
	return m.status, m.err
}

type mockRuns struct {
	runs   []models.Run
	series discharge.TimeSeries
	csv    string
	err    error

	lastLimit int
	lastID    string
}

func (m *mockRuns) List(_ context.Context, limit int) ([]models.Run, error) {
	m.lastLimit = limit
	return m.runs, m.err
}
func (m *mockRuns) Get(_ context.Context, id string) (models.Run, error) {
	m.lastID = id
	if m.err != nil {
		return models.Run{}, m.err
	}
	for _, r := range m.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return models.Run{}, service.ErrRunNotFound
}
func (m *mockRuns) Series(_ context.Context, id string) (discharge.TimeSeries, error) {
	m.lastID = id
	return m.series, m.err
}
func (m *mockRuns) WriteCSV(_ context.Context, id string, w io.Writer) error {
	m.lastID = id
	_, err := io.WriteString(w, m.csv)
	return err
}

type mockEventLog struct {
	resp      []models.RunEvent
	err       error
	lastQuery service.LogFilter
}

func (m *mockEventLog) List(_ context.Context, f service.LogFilter) ([]models.RunEvent, error) {
	m.lastQuery = f
	return m.resp, m.err
}

// ---- Shared Test Helpers ----

func newTestRouter(s *service.Service) *gin.Engine {
	h := NewHandler(s, nil)
	gin.SetMode(gin.TestMode)
	return h.InitRoutes()
}

func authHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

func authedRequest(method, target string, body io.Reader) *http.Request {
	req, _ := http.NewRequest(method, target, body)
	for k, vv := range authHeader("valid") {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}
