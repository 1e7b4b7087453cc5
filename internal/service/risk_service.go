package service

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"deltahedge/internal/models"
)

// Ошибки сервиса защитного контура
var (
	ErrInvalidAmount = errors.New("amount must be positive")
)

// RiskService предоставляет бизнес-логику для защитного контура пользователя:
// статус drawdown-трекинга, учёт депозитов/выводов и снятие пользовательской паузы.
//
// Сами проверки (drawdown, дневной лимит, серия сбоев) живут в движке
// и выполняются при каждой торговой операции.
type RiskService struct {
	risk  RiskManagerInterface
	pause PauseControllerInterface
}

// NewRiskService создает новый экземпляр RiskService
func NewRiskService(risk RiskManagerInterface, pause PauseControllerInterface) *RiskService {
	return &RiskService{risk: risk, pause: pause}
}

// Status возвращает текущее состояние защитного контура пользователя
func (s *RiskService) Status(ctx context.Context, userID int) (*models.RiskTracking, error) {
	return s.risk.Status(ctx, userID)
}

// RecordDeposit учитывает депозит: peak и current растут на сумму,
// чтобы депозит не выглядел как убыток или прибыль.
func (s *RiskService) RecordDeposit(ctx context.Context, userID int, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return s.risk.RecordDeposit(ctx, userID, amount)
}

// RecordWithdrawal учитывает вывод: peak масштабируется пропорционально
func (s *RiskService) RecordWithdrawal(ctx context.Context, userID int, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return s.risk.RecordWithdrawal(ctx, userID, amount)
}

// Resume снимает пользовательскую паузу (после drawdown или серии сбоев)
func (s *RiskService) Resume(ctx context.Context, userID int) error {
	return s.pause.ResumeUser(ctx, userID)
}
