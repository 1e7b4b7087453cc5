package service

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"deltahedge/internal/models"
	"deltahedge/pkg/utils"
)

// Ошибки сервиса позиций
var (
	ErrPositionAccessDenied = errors.New("position belongs to another user")
	ErrPositionNotOpen      = errors.New("position is not open")
	ErrJobAccessDenied      = errors.New("job belongs to another user")
)

// Ограничения пагинации истории
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// OpenPositionRequest - запрос на ручное открытие позиции
type OpenPositionRequest struct {
	UserID   int             `json:"user_id"`
	Asset    string          `json:"asset"`
	SizeUSD  decimal.Decimal `json:"size_usd"`
	Leverage decimal.Decimal `json:"leverage"`
}

// PositionService предоставляет бизнес-логику для работы с позициями.
//
// Открытие и закрытие выполняются асинхронно через JobRunner:
// клиент получает job id и опрашивает статус. Сервис отвечает
// только за валидацию входа и проверку принадлежности.
type PositionService struct {
	positions PositionRepositoryInterface
	jobs      JobRunnerInterface
}

// NewPositionService создает новый экземпляр PositionService
func NewPositionService(positions PositionRepositoryInterface, jobs JobRunnerInterface) *PositionService {
	return &PositionService{positions: positions, jobs: jobs}
}

// Open валидирует запрос и запускает асинхронное открытие.
// Возвращает job id для опроса статуса.
func (s *PositionService) Open(ctx context.Context, req *OpenPositionRequest) (string, error) {
	if err := utils.ValidateAsset(req.Asset); err != nil {
		return "", err
	}
	if err := utils.ValidateLeverage(req.Leverage, models.HardMaxLeverage); err != nil {
		return "", err
	}
	if err := utils.ValidateSizeUSD(req.SizeUSD); err != nil {
		return "", err
	}

	// Funding на момент ручного запроса неизвестен - движок
	// проверит рыночные условия сам в preflight.
	opp := models.NewOpportunity(req.UserID, req.Asset, req.SizeUSD, req.Leverage,
		decimal.Zero, decimal.Zero, models.OpportunitySourceManual)

	return s.jobs.StartOpen(ctx, opp)
}

// Close проверяет принадлежность позиции и запускает асинхронное закрытие
func (s *PositionService) Close(ctx context.Context, userID, positionID int) (string, error) {
	p, err := s.positions.GetByID(ctx, positionID)
	if err != nil {
		return "", err
	}
	if p.UserID != userID {
		return "", ErrPositionAccessDenied
	}
	if p.Status != models.PositionStatusOpen && p.Status != models.PositionStatusAsymmetric {
		return "", ErrPositionNotOpen
	}
	return s.jobs.StartClose(ctx, userID, positionID)
}

// Get возвращает позицию с проверкой принадлежности
func (s *PositionService) Get(ctx context.Context, userID, positionID int) (*models.Position, error) {
	p, err := s.positions.GetByID(ctx, positionID)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, ErrPositionAccessDenied
	}
	return p, nil
}

// ListOpen возвращает открытые позиции пользователя
func (s *PositionService) ListOpen(ctx context.Context, userID int) ([]*models.Position, error) {
	return s.positions.GetOpenByUser(ctx, userID)
}

// History возвращает последние позиции пользователя во всех статусах
func (s *PositionService) History(ctx context.Context, userID, limit int) ([]*models.Position, error) {
	return s.positions.ListByUser(ctx, userID, clampLimit(limit))
}

// Stats возвращает агрегированную статистику позиций пользователя
func (s *PositionService) Stats(ctx context.Context, userID int) (*models.UserStats, error) {
	return s.positions.UserStats(ctx, userID)
}

// JobStatus возвращает статус job'а открытия/закрытия с проверкой принадлежности
func (s *PositionService) JobStatus(ctx context.Context, userID int, jobID string) (*models.Job, error) {
	job, err := s.jobs.Status(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, ErrJobAccessDenied
	}
	return job, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}
