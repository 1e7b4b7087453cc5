package handlers

import (
	"net/http"
	"strings"

	"deltahedge/internal/api/middleware"
	"deltahedge/internal/service"
)

// EventHandler отвечает за чтение журнала событий движка
//
// Endpoints:
// - GET /api/v1/events  - события пользователя, опционально по типам
type EventHandler struct {
	events service.EventServiceInterface
}

// NewEventHandler создает новый EventHandler с внедрением зависимостей
func NewEventHandler(events service.EventServiceInterface) *EventHandler {
	return &EventHandler{events: events}
}

// List возвращает события журнала
// GET /api/v1/events?types=POSITION_OPENED,CIRCUIT_BREAKER&limit=50
//
// Без параметра types возвращаются события пользователя; с types -
// последние события указанных типов (глобальные breaker'ы видны всем).
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r)
	if !ok {
		respondError(w, http.StatusUnauthorized, "user not identified")
		return
	}

	limit := queryLimit(r)

	if rawTypes := r.URL.Query().Get("types"); rawTypes != "" {
		types := make([]string, 0)
		for _, t := range strings.Split(rawTypes, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, t)
			}
		}
		events, err := h.events.HistoryByTypes(r.Context(), types, limit)
		if err != nil {
			respondServiceError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, events)
		return
	}

	events, err := h.events.HistoryByUser(r.Context(), userID, limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, events)
}
