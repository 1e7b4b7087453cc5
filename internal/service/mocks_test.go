package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"deltahedge/internal/models"
	"deltahedge/internal/repository"
)

// ============================================================
// Mock репозитории и движок для тестирования сервисов
// ============================================================

type MockPositionRepository struct {
	positions map[int]*models.Position
	getErr    error
	nextID    int
}

func NewMockPositionRepository() *MockPositionRepository {
	return &MockPositionRepository{positions: make(map[int]*models.Position), nextID: 1}
}

func (m *MockPositionRepository) Add(p *models.Position) *models.Position {
	if p.ID == 0 {
		p.ID = m.nextID
		m.nextID++
	}
	m.positions[p.ID] = p
	return p
}

func (m *MockPositionRepository) GetByID(ctx context.Context, id int) (*models.Position, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if p, ok := m.positions[id]; ok {
		return p, nil
	}
	return nil, repository.ErrPositionNotFound
}

func (m *MockPositionRepository) GetOpenByUser(ctx context.Context, userID int) ([]*models.Position, error) {
	var out []*models.Position
	for _, p := range m.positions {
		if p.UserID == userID && p.Status == models.PositionStatusOpen {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockPositionRepository) CountOpenByUser(ctx context.Context, userID int) (int, error) {
	open, _ := m.GetOpenByUser(ctx, userID)
	return len(open), nil
}

func (m *MockPositionRepository) ListByUser(ctx context.Context, userID, limit int) ([]*models.Position, error) {
	var out []*models.Position
	for _, p := range m.positions {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockPositionRepository) UserStats(ctx context.Context, userID int) (*models.UserStats, error) {
	stats := &models.UserStats{UserID: userID}
	for _, p := range m.positions {
		if p.UserID != userID {
			continue
		}
		switch p.Status {
		case models.PositionStatusOpen:
			stats.OpenCount++
		case models.PositionStatusClosed:
			stats.ClosedCount++
			stats.RealizedPnlUSD = stats.RealizedPnlUSD.Add(p.TotalPnl)
		case models.PositionStatusAsymmetric:
			stats.AsymmetricCount++
		}
	}
	return stats, nil
}

type MockIntentRepository struct {
	intents   map[int]*models.Intent
	createErr error
	nextID    int
}

func NewMockIntentRepository() *MockIntentRepository {
	return &MockIntentRepository{intents: make(map[int]*models.Intent), nextID: 1}
}

func (m *MockIntentRepository) Create(ctx context.Context, intent *models.Intent) error {
	if m.createErr != nil {
		return m.createErr
	}
	for _, existing := range m.intents {
		if existing.UserID == intent.UserID && existing.Asset == intent.Asset &&
			!models.IsTerminalIntentStatus(existing.Status) {
			return repository.ErrIntentExists
		}
	}
	intent.ID = m.nextID
	m.nextID++
	intent.CreatedAt = time.Now()
	intent.UpdatedAt = intent.CreatedAt
	m.intents[intent.ID] = intent
	return nil
}

func (m *MockIntentRepository) GetByID(ctx context.Context, id int) (*models.Intent, error) {
	if intent, ok := m.intents[id]; ok {
		return intent, nil
	}
	return nil, repository.ErrIntentNotFound
}

func (m *MockIntentRepository) ListByUser(ctx context.Context, userID int, limit int) ([]*models.Intent, error) {
	var out []*models.Intent
	for _, intent := range m.intents {
		if intent.UserID == userID {
			out = append(out, intent)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockIntentRepository) Cancel(ctx context.Context, id, userID int) error {
	intent, ok := m.intents[id]
	if !ok || intent.UserID != userID || models.IsTerminalIntentStatus(intent.Status) {
		return repository.ErrIntentNotFound
	}
	intent.Status = models.IntentStatusCancelled
	return nil
}

type MockStrategyRepository struct {
	configs   map[int]*models.StrategyConfig
	upsertErr error
}

func NewMockStrategyRepository() *MockStrategyRepository {
	return &MockStrategyRepository{configs: make(map[int]*models.StrategyConfig)}
}

func (m *MockStrategyRepository) Get(ctx context.Context, userID int) (*models.StrategyConfig, error) {
	if cfg, ok := m.configs[userID]; ok {
		return cfg, nil
	}
	return nil, repository.ErrStrategyNotFound
}

func (m *MockStrategyRepository) Upsert(ctx context.Context, cfg *models.StrategyConfig) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.configs[cfg.UserID] = cfg
	return nil
}

type MockCredentialRepository struct {
	creds map[string]*models.VenueCredential // key: venue
}

func NewMockCredentialRepository() *MockCredentialRepository {
	return &MockCredentialRepository{creds: make(map[string]*models.VenueCredential)}
}

func (m *MockCredentialRepository) Get(ctx context.Context, userID int, venue string) (*models.VenueCredential, error) {
	if cred, ok := m.creds[venue]; ok && cred.UserID == userID {
		return cred, nil
	}
	return nil, repository.ErrCredentialNotFound
}

type MockEventRepository struct {
	mu        sync.Mutex
	events    []*models.Event
	createErr error
}

func NewMockEventRepository() *MockEventRepository {
	return &MockEventRepository{}
}

func (m *MockEventRepository) Create(ctx context.Context, ev *models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	ev.ID = len(m.events) + 1
	m.events = append(m.events, ev)
	return nil
}

func (m *MockEventRepository) ListRecent(ctx context.Context, limit int) ([]*models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Event, 0, limit)
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.events[i])
	}
	return out, nil
}

func (m *MockEventRepository) ListByTypes(ctx context.Context, types []string, limit int) ([]*models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	match := make(map[string]bool, len(types))
	for _, t := range types {
		match[t] = true
	}
	out := make([]*models.Event, 0, limit)
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		if match[m.events[i].Type] {
			out = append(out, m.events[i])
		}
	}
	return out, nil
}

func (m *MockEventRepository) ListByUser(ctx context.Context, userID, limit int) ([]*models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Event, 0, limit)
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		if m.events[i].UserID != nil && *m.events[i].UserID == userID {
			out = append(out, m.events[i])
		}
	}
	return out, nil
}

func (m *MockEventRepository) DeleteOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []*models.Event
	var deleted int64
	for _, ev := range m.events {
		if ev.Timestamp.Before(olderThan) {
			deleted++
			continue
		}
		kept = append(kept, ev)
	}
	m.events = kept
	return deleted, nil
}

func (m *MockEventRepository) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events), nil
}

type MockBreakerRepository struct {
	history []*models.CircuitBreakerEvent
}

func (m *MockBreakerRepository) History(ctx context.Context, limit int) ([]*models.CircuitBreakerEvent, error) {
	if len(m.history) > limit {
		return m.history[:limit], nil
	}
	return m.history, nil
}

// ============================================================
// Mock движок
// ============================================================

type MockJobRunner struct {
	jobs      map[string]*models.Job
	openErr   error
	closeErr  error
	lastOpen  *models.Opportunity
	lastClose int // position id
}

func NewMockJobRunner() *MockJobRunner {
	return &MockJobRunner{jobs: make(map[string]*models.Job)}
}

func (m *MockJobRunner) StartOpen(ctx context.Context, opp models.Opportunity) (string, error) {
	if m.openErr != nil {
		return "", m.openErr
	}
	m.lastOpen = &opp
	job := &models.Job{ID: "job-open-1", UserID: opp.UserID, Kind: models.JobKindOpen, Status: models.JobStatusRunning}
	m.jobs[job.ID] = job
	return job.ID, nil
}

func (m *MockJobRunner) StartClose(ctx context.Context, userID, positionID int) (string, error) {
	if m.closeErr != nil {
		return "", m.closeErr
	}
	m.lastClose = positionID
	job := &models.Job{ID: "job-close-1", UserID: userID, Kind: models.JobKindClose, Status: models.JobStatusRunning}
	m.jobs[job.ID] = job
	return job.ID, nil
}

func (m *MockJobRunner) Status(ctx context.Context, jobID string) (*models.Job, error) {
	if job, ok := m.jobs[jobID]; ok {
		return job, nil
	}
	return nil, repository.ErrJobNotFound
}

type MockPauseController struct {
	state        models.PauseState
	breakers     []*models.CircuitBreakerEvent
	resumedUsers []int
	triggerErr   error
	resolveErr   error
}

func (m *MockPauseController) Pause(scope, reason, actor string) {
	m.state = models.PauseState{Paused: true, Scope: scope, Reason: reason, Actor: actor, PausedAt: time.Now()}
}

func (m *MockPauseController) Resume(actor string) {
	m.state = models.PauseState{}
}

func (m *MockPauseController) State() models.PauseState {
	return m.state
}

func (m *MockPauseController) TriggerBreaker(ctx context.Context, breakerType, reason string) (*models.CircuitBreakerEvent, error) {
	if m.triggerErr != nil {
		return nil, m.triggerErr
	}
	ev := &models.CircuitBreakerEvent{ID: len(m.breakers) + 1, BreakerType: breakerType, Reason: reason}
	m.breakers = append(m.breakers, ev)
	return ev, nil
}

func (m *MockPauseController) ResolveBreaker(ctx context.Context, id int, actor string) error {
	return m.resolveErr
}

func (m *MockPauseController) ActiveBreakers(ctx context.Context) ([]*models.CircuitBreakerEvent, error) {
	return m.breakers, nil
}

func (m *MockPauseController) ResumeUser(ctx context.Context, userID int) error {
	m.resumedUsers = append(m.resumedUsers, userID)
	return nil
}

type MockCredentialStore struct {
	stored   []StoreCredentialRequest
	storeErr error
}

func (m *MockCredentialStore) Store(ctx context.Context, userID int, venueName, apiKey, secretKey, wallet string) error {
	if m.storeErr != nil {
		return m.storeErr
	}
	m.stored = append(m.stored, StoreCredentialRequest{
		UserID: userID, Venue: venueName, APIKey: apiKey, SecretKey: secretKey, Wallet: wallet,
	})
	return nil
}

type MockRiskManager struct {
	tracking    map[int]*models.RiskTracking
	deposits    []decimal.Decimal
	withdrawals []decimal.Decimal
	recordErr   error
}

func NewMockRiskManager() *MockRiskManager {
	return &MockRiskManager{tracking: make(map[int]*models.RiskTracking)}
}

func (m *MockRiskManager) Status(ctx context.Context, userID int) (*models.RiskTracking, error) {
	if rt, ok := m.tracking[userID]; ok {
		return rt, nil
	}
	return &models.RiskTracking{UserID: userID}, nil
}

func (m *MockRiskManager) RecordDeposit(ctx context.Context, userID int, amount decimal.Decimal) error {
	if m.recordErr != nil {
		return m.recordErr
	}
	m.deposits = append(m.deposits, amount)
	return nil
}

func (m *MockRiskManager) RecordWithdrawal(ctx context.Context, userID int, amount decimal.Decimal) error {
	if m.recordErr != nil {
		return m.recordErr
	}
	m.withdrawals = append(m.withdrawals, amount)
	return nil
}

type MockEventBroadcaster struct {
	mu        sync.Mutex
	broadcast []*models.Event
}

func (m *MockEventBroadcaster) BroadcastEvent(ev *models.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcast = append(m.broadcast, ev)
}

func (m *MockEventBroadcaster) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.broadcast)
}
