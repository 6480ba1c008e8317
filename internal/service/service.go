package service

import (
	"context"
	"io"

	"discharge_tester/internal/config"
	"discharge_tester/internal/discharge"
	"discharge_tester/internal/logger"
	"discharge_tester/internal/models"
	"discharge_tester/internal/repository"
	"discharge_tester/internal/telemetry"
)

type Authorization interface {
	SignUp(ctx context.Context, username, password string) (int, error)
	GenerateToken(ctx context.Context, username, password string) (string, error)
	ParseToken(accessToken string) (int, error)
}

// Discharge starts and aborts discharge runs.
type Discharge interface {
	Start(ctx context.Context, p StartParams) (models.Run, error)
	Abort(ctx context.Context) error
}

// Monitoring exposes the live status of the controller.
type Monitoring interface {
	GetStatus(ctx context.Context) (models.RunStatus, error)
}

// Runs exposes stored runs and their recorded series.
type Runs interface {
	List(ctx context.Context, limit int) ([]models.Run, error)
	Get(ctx context.Context, id string) (models.Run, error)
	Series(ctx context.Context, id string) (discharge.TimeSeries, error)
	WriteCSV(ctx context.Context, id string, w io.Writer) error
}

// EventLog exposes append-only logs with filtering access.
type EventLog interface {
	List(ctx context.Context, f LogFilter) ([]models.RunEvent, error)
}

// Deps are the non-repository collaborators of the services.
type Deps struct {
	Config    config.Config
	Log       *logger.Logger
	Link      discharge.HardwareLink // required when Config.Link.Mode is serial
	Publisher telemetry.Publisher
}

// Service aggregates all sub-services.
type Service struct {
	Discharge     Discharge
	Monitoring    Monitoring
	Runs          Runs
	EventLog      EventLog
	Authorization Authorization

	controller *DischargeService
}

func NewService(repos *repository.Repository, deps Deps) *Service {
	tr := newTracker()
	controller := NewDischargeService(repos, deps, tr)
	return &Service{
		Discharge:     controller,
		Monitoring:    NewMonitoringService(tr, repos.RunRepo),
		Runs:          NewRunsService(repos.RunRepo, repos.SampleRepo),
		EventLog:      NewEventLogService(repos.EventRepo),
		Authorization: NewAuthService(repos.Auth, deps.Config.Auth.SigningKey, deps.Config.Auth.TokenTTL),
		controller:    controller,
	}
}

// Shutdown aborts an active run and waits for it to be stored.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.controller.Shutdown(ctx)
}

// Wait blocks until the active run, if any, has been stored.
func (s *Service) Wait() {
	s.controller.Wait()
}
