// pkg/period/period.go
package period

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Строковые периоды
const (
	Period1m  = "1m"
	Period5m  = "5m"
	Period15m = "15m"
	Period30m = "30m"
	Period1h  = "1h"
	Period4h  = "4h"
	Period1d  = "1d"
)

// Периоды в минутах
const (
	Minutes1    = 1
	Minutes5    = 5
	Minutes15   = 15
	Minutes30   = 30
	Minutes60   = 60
	Minutes240  = 240
	Minutes1440 = 1440
)

// StringToMinutes конвертирует строковый период в минуты
func StringToMinutes(period string) (int, error) {
	period = strings.ToLower(strings.TrimSpace(period))

	switch period {
	case Period1m:
		return Minutes1, nil
	case Period5m:
		return Minutes5, nil
	case Period15m:
		return Minutes15, nil
	case Period30m:
		return Minutes30, nil
	case Period1h:
		return Minutes60, nil
	case Period4h:
		return Minutes240, nil
	case Period1d:
		return Minutes1440, nil
	default:
		// Пробуем распарсить как число минут
		if strings.HasSuffix(period, "m") {
			minutesStr := strings.TrimSuffix(period, "m")
			minutes, err := strconv.Atoi(minutesStr)
			if err == nil && minutes > 0 {
				return minutes, nil
			}
		}
		return 0, fmt.Errorf("неизвестный формат периода: %s", period)
	}
}

// MinutesToString конвертирует минуты в строковый период
func MinutesToString(minutes int) string {
	switch minutes {
	case Minutes1:
		return Period1m
	case Minutes5:
		return Period5m
	case Minutes15:
		return Period15m
	case Minutes30:
		return Period30m
	case Minutes60:
		return Period1h
	case Minutes240:
		return Period4h
	case Minutes1440:
		return Period1d
	default:
		// Для пользовательских периодов
		return fmt.Sprintf("%dm", minutes)
	}
}

// ToDuration конвертирует строковый период в time.Duration (без ошибки)
func ToDuration(period string) time.Duration {
	if minutes, err := StringToMinutes(period); err == nil {
		return time.Duration(minutes) * time.Minute
	}
	// Если не удалось распарсить, возвращаем дефолт
	return 1 * time.Minute
}

// IsValid проверяет, является ли период валидным
func IsValid(period string) bool {
	_, err := StringToMinutes(period)
	return err == nil
}

// BucketStart возвращает начало бакета периода, в который попадает t.
// Бакеты выровнены по UTC.
func BucketStart(t time.Time, period string) time.Time {
	d := ToDuration(period)
	return t.UTC().Truncate(d)
}

// NextBucket возвращает начало следующего бакета после t
func NextBucket(t time.Time, period string) time.Time {
	return BucketStart(t, period).Add(ToDuration(period))
}
