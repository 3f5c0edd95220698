package utils

import (
	"math"
)

// math.go - математические утилиты для арбитражной торговли
//
// Назначение:
// Вспомогательные математические функции для торговых расчётов.
// Все функции являются чистыми (pure functions) без побочных эффектов.
//
// Функции:
// - Round: округление до заданного числа знаков после запятой
// - Floor: усечение вниз до заданного числа знаков
// - Min/Max/Abs: простые обёртки над math для float64

// Round округляет значение до precision знаков после запятой.
//
// Округление "половина от нуля": 0.125 при precision=2 даёт 0.13.
// Используется при сравнении денежных сумм, пересчёте объёма базовой
// валюты оффера и при расчёте объёма реверсивного ордера.
//
// Параметры:
//   - value: исходное значение
//   - precision: число знаков после запятой (>= 0)
//
// Возвращает:
//   - Округлённое значение
//
// Примеры:
//   - Round(305.123456, 2) = 305.12
//   - Round(0.0000123456, 5) = 0.00001
//   - Round(610.0/305.0, 10) = 2.0
func Round(value float64, precision int) float64 {
	factor := math.Pow(10, float64(precision))
	return math.Round(value*factor) / factor
}

// Floor усекает значение ВНИЗ до precision знаков после запятой.
//
// Усечение вниз безопаснее округления при проверке достаточности
// баланса: мы никогда не посчитаем остаток больше реального.
//
// Параметры:
//   - value: исходное значение
//   - precision: число знаков после запятой (>= 0)
//
// Возвращает:
//   - Усечённое значение
//
// Примеры:
//   - Floor(1.999, 2) = 1.99
//   - Floor(-0.0000000001, 8) = -0.00000001
func Floor(value float64, precision int) float64 {
	factor := math.Pow(10, float64(precision))
	return math.Floor(value*factor) / factor
}

// Abs возвращает абсолютное значение числа.
func Abs(x float64) float64 {
	return math.Abs(x)
}

// Min возвращает минимум из двух чисел.
func Min(a, b float64) float64 {
	return math.Min(a, b)
}

// Max возвращает максимум из двух чисел.
func Max(a, b float64) float64 {
	return math.Max(a, b)
}
