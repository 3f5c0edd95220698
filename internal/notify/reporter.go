package notify

import (
	"cryptotrader/pkg/utils"
)

// Package notify - канал уведомлений оператора.
//
// Оператору уходят события, требующие человеческого внимания:
// найденное окно, размещённые и реверсированные ордера, нехватка
// средств, ошибки размещения. Канал - выделенный именованный логгер,
// отчёты пишутся многострочным текстом как есть.

// Reporter - уровневый канал сообщений оператору
type Reporter interface {
	Debug(msg string)
	Info(msg string)
	Warning(msg string)
	Error(msg string)
}

// LogReporter пишет сообщения оператора в именованный логгер "operator"
type LogReporter struct {
	logger *utils.Logger
}

// NewLogReporter создаёт репортер поверх базового логгера
func NewLogReporter(logger *utils.Logger) *LogReporter {
	return &LogReporter{logger: logger.Named("operator")}
}

func (r *LogReporter) Debug(msg string)   { r.logger.Debug(msg) }
func (r *LogReporter) Info(msg string)    { r.logger.Info(msg) }
func (r *LogReporter) Warning(msg string) { r.logger.Warn(msg) }
func (r *LogReporter) Error(msg string)   { r.logger.Error(msg) }

// NopReporter отбрасывает все сообщения. Для тестов.
type NopReporter struct{}

func (NopReporter) Debug(msg string)   {}
func (NopReporter) Info(msg string)    {}
func (NopReporter) Warning(msg string) {}
func (NopReporter) Error(msg string)   {}
