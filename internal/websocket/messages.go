package websocket

import (
	"time"

	"deltahedge/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeEvent - событие движка (открытие, закрытие, откат, breaker).
	// Зеркалит журнал событий в реальном времени.
	MessageTypeEvent MessageType = "event"

	// MessageTypePauseUpdate - изменение состояния глобальной паузы
	MessageTypePauseUpdate MessageType = "pauseUpdate"

	// MessageTypeJobUpdate - завершение job'а открытия/закрытия
	MessageTypeJobUpdate MessageType = "jobUpdate"

	// MessageTypePositionUpdate - обновление состояния позиции
	// (mark-цены ног, health factor, нереализованный PNL)
	MessageTypePositionUpdate MessageType = "positionUpdate"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// EventMessage - сообщение с событием движка
type EventMessage struct {
	BaseMessage
	Data *models.Event `json:"data"`
}

// NewEventMessage создает сообщение с событием движка
func NewEventMessage(ev *models.Event) *EventMessage {
	return &EventMessage{
		BaseMessage: BaseMessage{Type: MessageTypeEvent, Timestamp: time.Now()},
		Data:        ev,
	}
}

// PauseMessage - сообщение об изменении глобальной паузы
type PauseMessage struct {
	BaseMessage
	Data models.PauseState `json:"data"`
}

// NewPauseMessage создает сообщение о состоянии паузы
func NewPauseMessage(state models.PauseState) *PauseMessage {
	return &PauseMessage{
		BaseMessage: BaseMessage{Type: MessageTypePauseUpdate, Timestamp: time.Now()},
		Data:        state,
	}
}

// JobMessage - сообщение о смене статуса job'а
type JobMessage struct {
	BaseMessage
	Data *models.Job `json:"data"`
}

// NewJobMessage создает сообщение о статусе job'а
func NewJobMessage(job *models.Job) *JobMessage {
	return &JobMessage{
		BaseMessage: BaseMessage{Type: MessageTypeJobUpdate, Timestamp: time.Now()},
		Data:        job,
	}
}

// PositionMessage - сообщение с обновлением позиции
type PositionMessage struct {
	BaseMessage
	Data *models.Position `json:"data"`
}

// NewPositionMessage создает сообщение с обновлением позиции
func NewPositionMessage(p *models.Position) *PositionMessage {
	return &PositionMessage{
		BaseMessage: BaseMessage{Type: MessageTypePositionUpdate, Timestamp: time.Now()},
		Data:        p,
	}
}
