package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"deltahedge/internal/models"
)

// EventBroadcaster - интерфейс для отправки событий в WebSocket hub.
//
// Позволяет избежать циклических зависимостей между пакетами
// и упрощает тестирование (можно подставить mock)
type EventBroadcaster interface {
	BroadcastEvent(ev *models.Event)
}

// EventService - журнал событий движка: persist + live broadcast.
//
// Реализует bot.EventSink: движок публикует события об открытиях,
// закрытиях, откатах и breaker'ах, сервис пишет их в БД и рассылает
// WebSocket-подписчикам.
type EventService struct {
	events EventRepositoryInterface
	hub    EventBroadcaster
	logger *zap.Logger
}

// NewEventService создает новый экземпляр EventService
func NewEventService(events EventRepositoryInterface, logger *zap.Logger) *EventService {
	return &EventService{events: events, logger: logger}
}

// SetBroadcaster устанавливает WebSocket hub для live-рассылки.
// Вызывается после инициализации Hub в main.go.
func (s *EventService) SetBroadcaster(hub EventBroadcaster) {
	s.hub = hub
}

// Publish принимает событие от движка. Не блокирует вызывающего:
// запись в БД выполняется в отдельной горутине, ошибка записи
// не влияет на торговый поток.
func (s *EventService) Publish(ev *models.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	if s.hub != nil {
		s.hub.BroadcastEvent(ev)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.events.Create(ctx, ev); err != nil {
			s.logger.Error("failed to persist event",
				zap.String("type", ev.Type),
				zap.Error(err))
		}
	}()
}

// History возвращает последние события
func (s *EventService) History(ctx context.Context, limit int) ([]*models.Event, error) {
	return s.events.ListRecent(ctx, clampLimit(limit))
}

// HistoryByTypes возвращает последние события заданных типов
func (s *EventService) HistoryByTypes(ctx context.Context, types []string, limit int) ([]*models.Event, error) {
	if len(types) == 0 {
		return s.events.ListRecent(ctx, clampLimit(limit))
	}
	return s.events.ListByTypes(ctx, types, clampLimit(limit))
}

// HistoryByUser возвращает последние события пользователя
func (s *EventService) HistoryByUser(ctx context.Context, userID, limit int) ([]*models.Event, error) {
	return s.events.ListByUser(ctx, userID, clampLimit(limit))
}

// Count возвращает общее количество событий в журнале
func (s *EventService) Count(ctx context.Context) (int, error) {
	return s.events.Count(ctx)
}

// Prune удаляет события старше заданного времени.
// Вызывается фоновым воркером раз в сутки.
func (s *EventService) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	return s.events.DeleteOlderThan(ctx, olderThan)
}
