package utils

import "time"

// day.go - границы торгового дня для дневных лимитов сделок.
// Торговый день считается по UTC.

// TradeDateFormat - формат хранения даты дневного счётчика в БД
const TradeDateFormat = "2006-01-02"

// TradeDate возвращает дату торгового дня (YYYY-MM-DD, UTC) для t
func TradeDate(t time.Time) string {
	return t.UTC().Format(TradeDateFormat)
}

// SameTradingDay проверяет что a и b в одном торговом дне (UTC)
func SameTradingDay(a, b time.Time) bool {
	return TradeDate(a) == TradeDate(b)
}

// DayStart возвращает начало торгового дня (00:00:00 UTC) для t
func DayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
