package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"deltahedge/internal/models"
	"deltahedge/internal/repository"
	"deltahedge/internal/service"
)

// ErrMockDatabase имитация сбоя хранилища для негативных сценариев
var ErrMockDatabase = errors.New("mock database error")

// ============ MockPositionService ============

type MockPositionService struct {
	positions map[int]*models.Position
	jobs      map[string]*models.Job
	stats     *models.UserStats

	lastOpen  *service.OpenPositionRequest
	lastClose int

	errs map[string]error
}

func NewMockPositionService() *MockPositionService {
	return &MockPositionService{
		positions: make(map[int]*models.Position),
		jobs:      make(map[string]*models.Job),
		errs:      make(map[string]error),
	}
}

// SetError заставляет указанную операцию возвращать ошибку
func (m *MockPositionService) SetError(op string, err error) {
	m.errs[op] = err
}

func (m *MockPositionService) Open(ctx context.Context, req *service.OpenPositionRequest) (string, error) {
	if err := m.errs["open"]; err != nil {
		return "", err
	}
	m.lastOpen = req
	return "job-open-1", nil
}

func (m *MockPositionService) Close(ctx context.Context, userID, positionID int) (string, error) {
	if err := m.errs["close"]; err != nil {
		return "", err
	}
	m.lastClose = positionID
	return "job-close-1", nil
}

func (m *MockPositionService) Get(ctx context.Context, userID, positionID int) (*models.Position, error) {
	if err := m.errs["get"]; err != nil {
		return nil, err
	}
	pos, ok := m.positions[positionID]
	if !ok {
		return nil, repository.ErrPositionNotFound
	}
	if pos.UserID != userID {
		return nil, service.ErrPositionAccessDenied
	}
	return pos, nil
}

func (m *MockPositionService) ListOpen(ctx context.Context, userID int) ([]*models.Position, error) {
	if err := m.errs["list"]; err != nil {
		return nil, err
	}
	result := make([]*models.Position, 0)
	for _, pos := range m.positions {
		if pos.UserID == userID && pos.Status == models.PositionStatusOpen {
			result = append(result, pos)
		}
	}
	return result, nil
}

func (m *MockPositionService) History(ctx context.Context, userID, limit int) ([]*models.Position, error) {
	if err := m.errs["history"]; err != nil {
		return nil, err
	}
	result := make([]*models.Position, 0)
	for _, pos := range m.positions {
		if pos.UserID == userID {
			result = append(result, pos)
		}
	}
	return result, nil
}

func (m *MockPositionService) Stats(ctx context.Context, userID int) (*models.UserStats, error) {
	if err := m.errs["stats"]; err != nil {
		return nil, err
	}
	if m.stats == nil {
		return &models.UserStats{}, nil
	}
	return m.stats, nil
}

func (m *MockPositionService) JobStatus(ctx context.Context, userID int, jobID string) (*models.Job, error) {
	if err := m.errs["job"]; err != nil {
		return nil, err
	}
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, repository.ErrJobNotFound
	}
	if job.UserID != userID {
		return nil, service.ErrJobAccessDenied
	}
	return job, nil
}

// ============ MockIntentService ============

type MockIntentService struct {
	intents map[int]*models.Intent
	nextID  int

	cancelled []int

	errs map[string]error
}

func NewMockIntentService() *MockIntentService {
	return &MockIntentService{
		intents: make(map[int]*models.Intent),
		nextID:  1,
		errs:    make(map[string]error),
	}
}

func (m *MockIntentService) SetError(op string, err error) {
	m.errs[op] = err
}

func (m *MockIntentService) Create(ctx context.Context, req *service.CreateIntentRequest) (*models.Intent, error) {
	if err := m.errs["create"]; err != nil {
		return nil, err
	}
	intent := &models.Intent{
		ID:        m.nextID,
		UserID:    req.UserID,
		Asset:     req.Asset,
		Leverage:  req.Leverage,
		SizeUSD:   req.SizeUSD,
		Status:    models.IntentStatusPending,
		CreatedAt: time.Now(),
	}
	m.intents[intent.ID] = intent
	m.nextID++
	return intent, nil
}

func (m *MockIntentService) Get(ctx context.Context, userID, intentID int) (*models.Intent, error) {
	if err := m.errs["get"]; err != nil {
		return nil, err
	}
	intent, ok := m.intents[intentID]
	if !ok {
		return nil, repository.ErrIntentNotFound
	}
	if intent.UserID != userID {
		return nil, service.ErrIntentAccessDenied
	}
	return intent, nil
}

func (m *MockIntentService) List(ctx context.Context, userID, limit int) ([]*models.Intent, error) {
	if err := m.errs["list"]; err != nil {
		return nil, err
	}
	result := make([]*models.Intent, 0)
	for _, intent := range m.intents {
		if intent.UserID == userID {
			result = append(result, intent)
		}
	}
	return result, nil
}

func (m *MockIntentService) Cancel(ctx context.Context, userID, intentID int) error {
	if err := m.errs["cancel"]; err != nil {
		return err
	}
	intent, ok := m.intents[intentID]
	if !ok || intent.UserID != userID {
		return repository.ErrIntentNotFound
	}
	m.cancelled = append(m.cancelled, intentID)
	intent.Status = models.IntentStatusCancelled
	return nil
}

// ============ MockStrategyService ============

type MockStrategyService struct {
	configs map[int]*models.StrategyConfig

	errs map[string]error
}

func NewMockStrategyService() *MockStrategyService {
	return &MockStrategyService{
		configs: make(map[int]*models.StrategyConfig),
		errs:    make(map[string]error),
	}
}

func (m *MockStrategyService) SetError(op string, err error) {
	m.errs[op] = err
}

func (m *MockStrategyService) Get(ctx context.Context, userID int) (*models.StrategyConfig, error) {
	if err := m.errs["get"]; err != nil {
		return nil, err
	}
	cfg, ok := m.configs[userID]
	if !ok {
		return models.DefaultStrategyConfig(userID), nil
	}
	return cfg, nil
}

func (m *MockStrategyService) Update(ctx context.Context, userID int, req *service.UpdateStrategyRequest) (*models.StrategyConfig, error) {
	if err := m.errs["update"]; err != nil {
		return nil, err
	}
	cfg, ok := m.configs[userID]
	if !ok {
		cfg = models.DefaultStrategyConfig(userID)
	}
	if req.Enabled != nil {
		cfg.Enabled = *req.Enabled
	}
	if req.MaxLeverage != nil {
		cfg.MaxLeverage = *req.MaxLeverage
	}
	m.configs[userID] = cfg
	return cfg, nil
}

// ============ MockCredentialService ============

type MockCredentialService struct {
	stored   []*service.StoreCredentialRequest
	statuses []*service.CredentialStatus

	errs map[string]error
}

func NewMockCredentialService() *MockCredentialService {
	return &MockCredentialService{errs: make(map[string]error)}
}

func (m *MockCredentialService) SetError(op string, err error) {
	m.errs[op] = err
}

func (m *MockCredentialService) Store(ctx context.Context, req *service.StoreCredentialRequest) error {
	if err := m.errs["store"]; err != nil {
		return err
	}
	m.stored = append(m.stored, req)
	return nil
}

func (m *MockCredentialService) Status(ctx context.Context, userID int) ([]*service.CredentialStatus, error) {
	if err := m.errs["status"]; err != nil {
		return nil, err
	}
	return m.statuses, nil
}

// ============ MockPauseService ============

type MockPauseService struct {
	state    models.PauseState
	breakers map[int]*models.CircuitBreakerEvent
	nextID   int

	resolved []int

	errs map[string]error
}

func NewMockPauseService() *MockPauseService {
	return &MockPauseService{
		breakers: make(map[int]*models.CircuitBreakerEvent),
		nextID:   1,
		errs:     make(map[string]error),
	}
}

func (m *MockPauseService) SetError(op string, err error) {
	m.errs[op] = err
}

func (m *MockPauseService) Pause(scope, reason, actor string) (models.PauseState, error) {
	if err := m.errs["pause"]; err != nil {
		return models.PauseState{}, err
	}
	if scope == "" {
		scope = models.PauseScopeAll
	}
	m.state = models.PauseState{
		Paused:   true,
		Scope:    scope,
		Reason:   reason,
		Actor:    actor,
		PausedAt: time.Now(),
	}
	return m.state, nil
}

func (m *MockPauseService) Resume(actor string) models.PauseState {
	m.state = models.PauseState{}
	return m.state
}

func (m *MockPauseService) State() models.PauseState {
	return m.state
}

func (m *MockPauseService) TriggerBreaker(ctx context.Context, breakerType, reason string) (*models.CircuitBreakerEvent, error) {
	if err := m.errs["trigger"]; err != nil {
		return nil, err
	}
	ev := &models.CircuitBreakerEvent{
		ID:          m.nextID,
		BreakerType: breakerType,
		Reason:      reason,
		TriggeredAt: time.Now(),
	}
	m.breakers[ev.ID] = ev
	m.nextID++
	return ev, nil
}

func (m *MockPauseService) ResolveBreaker(ctx context.Context, id int, actor string) error {
	if err := m.errs["resolve"]; err != nil {
		return err
	}
	if _, ok := m.breakers[id]; !ok {
		return errors.New("breaker not found")
	}
	m.resolved = append(m.resolved, id)
	delete(m.breakers, id)
	return nil
}

func (m *MockPauseService) ActiveBreakers(ctx context.Context) ([]*models.CircuitBreakerEvent, error) {
	if err := m.errs["active"]; err != nil {
		return nil, err
	}
	result := make([]*models.CircuitBreakerEvent, 0)
	for _, ev := range m.breakers {
		result = append(result, ev)
	}
	return result, nil
}

func (m *MockPauseService) BreakerHistory(ctx context.Context, limit int) ([]*models.CircuitBreakerEvent, error) {
	if err := m.errs["history"]; err != nil {
		return nil, err
	}
	return nil, nil
}

// ============ MockRiskService ============

type MockRiskService struct {
	status      *models.RiskTracking
	deposits    []decimal.Decimal
	withdrawals []decimal.Decimal
	resumed     []int

	errs map[string]error
}

func NewMockRiskService() *MockRiskService {
	return &MockRiskService{errs: make(map[string]error)}
}

func (m *MockRiskService) SetError(op string, err error) {
	m.errs[op] = err
}

func (m *MockRiskService) Status(ctx context.Context, userID int) (*models.RiskTracking, error) {
	if err := m.errs["status"]; err != nil {
		return nil, err
	}
	if m.status == nil {
		return &models.RiskTracking{UserID: userID}, nil
	}
	return m.status, nil
}

func (m *MockRiskService) RecordDeposit(ctx context.Context, userID int, amount decimal.Decimal) error {
	if err := m.errs["deposit"]; err != nil {
		return err
	}
	if !amount.IsPositive() {
		return service.ErrInvalidAmount
	}
	m.deposits = append(m.deposits, amount)
	return nil
}

func (m *MockRiskService) RecordWithdrawal(ctx context.Context, userID int, amount decimal.Decimal) error {
	if err := m.errs["withdrawal"]; err != nil {
		return err
	}
	if !amount.IsPositive() {
		return service.ErrInvalidAmount
	}
	m.withdrawals = append(m.withdrawals, amount)
	return nil
}

func (m *MockRiskService) Resume(ctx context.Context, userID int) error {
	if err := m.errs["resume"]; err != nil {
		return err
	}
	m.resumed = append(m.resumed, userID)
	return nil
}

// ============ MockEventService ============

type MockEventService struct {
	events []*models.Event

	errs map[string]error
}

func NewMockEventService() *MockEventService {
	return &MockEventService{errs: make(map[string]error)}
}

func (m *MockEventService) SetError(op string, err error) {
	m.errs[op] = err
}

func (m *MockEventService) History(ctx context.Context, limit int) ([]*models.Event, error) {
	if err := m.errs["history"]; err != nil {
		return nil, err
	}
	return m.events, nil
}

func (m *MockEventService) HistoryByTypes(ctx context.Context, types []string, limit int) ([]*models.Event, error) {
	if err := m.errs["by_types"]; err != nil {
		return nil, err
	}
	allowed := make(map[string]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}
	result := make([]*models.Event, 0)
	for _, ev := range m.events {
		if allowed[ev.Type] {
			result = append(result, ev)
		}
	}
	return result, nil
}

func (m *MockEventService) HistoryByUser(ctx context.Context, userID, limit int) ([]*models.Event, error) {
	if err := m.errs["by_user"]; err != nil {
		return nil, err
	}
	result := make([]*models.Event, 0)
	for _, ev := range m.events {
		if ev.UserID != nil && *ev.UserID == userID {
			result = append(result, ev)
		}
	}
	return result, nil
}

func (m *MockEventService) Count(ctx context.Context) (int, error) {
	return len(m.events), nil
}

// Проверяем, что моки реализуют интерфейсы сервисов
var _ service.PositionServiceInterface = (*MockPositionService)(nil)
var _ service.IntentServiceInterface = (*MockIntentService)(nil)
var _ service.StrategyServiceInterface = (*MockStrategyService)(nil)
var _ service.CredentialServiceInterface = (*MockCredentialService)(nil)
var _ service.PauseServiceInterface = (*MockPauseService)(nil)
var _ service.RiskServiceInterface = (*MockRiskService)(nil)
var _ service.EventServiceInterface = (*MockEventService)(nil)
