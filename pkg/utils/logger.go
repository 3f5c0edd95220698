package utils

// logger.go - структурированное логирование на базе zap
//
// Назначение:
// Единая точка инициализации логгера для всех компонентов бота.
// Каждый компонент получает именованный под-логгер через Named/WithComponent.
//
// Форматы:
// - json: production encoder, для агрегации логов
// - text: console encoder, для локальной разработки
//
// Уровни: debug, info, warn/warning, error, fatal.
// Неизвестный уровень трактуется как info.

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig - настройки логирования
type LogConfig struct {
	Level       string // debug/info/warn/error/fatal
	Format      string // json или text
	Output      string // путь к файлу, пусто = stdout
	Development bool   // режим разработки (stacktrace на warn, console encoder)
}

// Logger оборачивает zap.Logger и кеширует sugared-вариант,
// чтобы не создавать его на каждый Infof/Debugf вызов
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger
}

// ============================================================
// Глобальный логгер
// ============================================================

var (
	globalMu     sync.RWMutex
	globalLogger *Logger
)

// InitLogger создаёт логгер по конфигурации.
// Никогда не возвращает nil: при недоступном файле вывода
// происходит fallback на stderr.
func InitLogger(cfg LogConfig) *Logger {
	level := parseLevel(cfg.Level)

	var encoderCfg zapcore.EncoderConfig
	if cfg.Development {
		encoderCfg = zap.NewDevelopmentEncoderConfig()
	} else {
		encoderCfg = zap.NewProductionEncoderConfig()
		encoderCfg.TimeKey = "ts"
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	var encoder zapcore.Encoder
	if strings.ToLower(cfg.Format) == "text" {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	var sink zapcore.WriteSyncer
	if cfg.Output != "" {
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			// файл недоступен - пишем в stderr, но не падаем
			sink = zapcore.AddSync(os.Stderr)
		} else {
			sink = zapcore.AddSync(file)
		}
	} else {
		sink = zapcore.AddSync(os.Stdout)
	}

	core := zapcore.NewCore(encoder, sink, level)

	opts := []zap.Option{zap.AddCaller()}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}

	zl := zap.New(core, opts...)
	return &Logger{
		Logger: zl,
		sugar:  zl.Sugar(),
	}
}

// InitGlobalLogger инициализирует и устанавливает глобальный логгер
func InitGlobalLogger(cfg LogConfig) *Logger {
	logger := InitLogger(cfg)
	SetGlobalLogger(logger)
	return logger
}

// SetGlobalLogger устанавливает глобальный логгер
func SetGlobalLogger(logger *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = logger
}

// GetGlobalLogger возвращает глобальный логгер.
// Если он не инициализирован - создаёт логгер по умолчанию.
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	if globalLogger != nil {
		defer globalMu.RUnlock()
		return globalLogger
	}
	globalMu.RUnlock()

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = InitLogger(LogConfig{})
	}
	return globalLogger
}

// L - короткий алиас для GetGlobalLogger
func L() *Logger {
	return GetGlobalLogger()
}

// parseLevel переводит строковый уровень в zapcore.Level.
// Неизвестные значения трактуются как info.
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// ============================================================
// Методы Logger
// ============================================================

// With возвращает новый логгер с дополнительными полями
func (l *Logger) With(fields ...zap.Field) *Logger {
	zl := l.Logger.With(fields...)
	return &Logger{Logger: zl, sugar: zl.Sugar()}
}

// Named возвращает новый логгер с дополненным именем
func (l *Logger) Named(name string) *Logger {
	zl := l.Logger.Named(name)
	return &Logger{Logger: zl, sugar: zl.Sugar()}
}

// WithComponent - логгер с полем component
func (l *Logger) WithComponent(component string) *Logger {
	return l.With(Component(component))
}

// WithExchange - логгер с полем exchange
func (l *Logger) WithExchange(exchange string) *Logger {
	return l.With(Exchange(exchange))
}

// WithPair - логгер с полем pair
func (l *Logger) WithPair(pair string) *Logger {
	return l.With(Pair(pair))
}

// Sugar возвращает sugared-логгер
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

// Debugf логирует форматированное сообщение уровня debug
func (l *Logger) Debugf(template string, args ...interface{}) {
	l.sugar.Debugf(template, args...)
}

// Infof логирует форматированное сообщение уровня info
func (l *Logger) Infof(template string, args ...interface{}) {
	l.sugar.Infof(template, args...)
}

// Warnf логирует форматированное сообщение уровня warn
func (l *Logger) Warnf(template string, args ...interface{}) {
	l.sugar.Warnf(template, args...)
}

// Errorf логирует форматированное сообщение уровня error
func (l *Logger) Errorf(template string, args ...interface{}) {
	l.sugar.Errorf(template, args...)
}

// Fatalf логирует форматированное сообщение и завершает процесс
func (l *Logger) Fatalf(template string, args ...interface{}) {
	l.sugar.Fatalf(template, args...)
}

// ============================================================
// Глобальные функции логирования
// ============================================================

// Debug логирует через глобальный логгер
func Debug(msg string, fields ...zap.Field) {
	GetGlobalLogger().Logger.Debug(msg, fields...)
}

// Info логирует через глобальный логгер
func Info(msg string, fields ...zap.Field) {
	GetGlobalLogger().Logger.Info(msg, fields...)
}

// Warn логирует через глобальный логгер
func Warn(msg string, fields ...zap.Field) {
	GetGlobalLogger().Logger.Warn(msg, fields...)
}

// Error логирует через глобальный логгер
func Error(msg string, fields ...zap.Field) {
	GetGlobalLogger().Logger.Error(msg, fields...)
}

// Fatal логирует через глобальный логгер и завершает процесс
func Fatal(msg string, fields ...zap.Field) {
	GetGlobalLogger().Logger.Fatal(msg, fields...)
}

// Debugf - форматированный debug через глобальный логгер
func Debugf(template string, args ...interface{}) {
	GetGlobalLogger().sugar.Debugf(template, args...)
}

// Infof - форматированный info через глобальный логгер
func Infof(template string, args ...interface{}) {
	GetGlobalLogger().sugar.Infof(template, args...)
}

// Warnf - форматированный warn через глобальный логгер
func Warnf(template string, args ...interface{}) {
	GetGlobalLogger().sugar.Warnf(template, args...)
}

// Errorf - форматированный error через глобальный логгер
func Errorf(template string, args ...interface{}) {
	GetGlobalLogger().sugar.Errorf(template, args...)
}

// fieldsToInterface разворачивает zap.Field в плоский список
// ключ-значение для sugared-логгера
func fieldsToInterface(fields []zap.Field) []interface{} {
	result := make([]interface{}, 0, len(fields)*2)
	for _, f := range fields {
		result = append(result, f.Key, f.Interface)
	}
	return result
}

// ============================================================
// Конструкторы доменных полей
// ============================================================

// Exchange - поле с именем биржи
func Exchange(name string) zap.Field {
	return zap.String("exchange", name)
}

// Pair - поле с валютной парой
func Pair(pair string) zap.Field {
	return zap.String("pair", pair)
}

// OrderUUID - поле с локальным идентификатором ордера
func OrderUUID(uuid string) zap.Field {
	return zap.String("order_uuid", uuid)
}

// OrderID - поле с биржевым идентификатором ордера
func OrderID(id string) zap.Field {
	return zap.String("order_id", id)
}

// Price - поле с ценой
func Price(price float64) zap.Field {
	return zap.Float64("price", price)
}

// Quote - поле с объёмом в quote-валюте
func Quote(amount float64) zap.Field {
	return zap.Float64("quote", amount)
}

// Side - поле со стороной ордера (buy/sell)
func Side(side string) zap.Field {
	return zap.String("side", side)
}

// Status - поле со статусом ордера
func Status(status string) zap.Field {
	return zap.String("status", status)
}

// Latency - поле с латентностью в миллисекундах
func Latency(ms float64) zap.Field {
	return zap.Float64("latency_ms", ms)
}

// Component - поле с именем компонента
func Component(name string) zap.Field {
	return zap.String("component", name)
}

// Переэкспорт стандартных конструкторов, чтобы пакеты
// не импортировали zap напрямую ради одного поля
var (
	String  = zap.String
	Int     = zap.Int
	Int64   = zap.Int64
	Float64 = zap.Float64
	Bool    = zap.Bool
	Err     = zap.Error
	Any     = zap.Any
)
