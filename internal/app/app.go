package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"cryptotrader/internal/config"
	"cryptotrader/internal/exchange"
	"cryptotrader/internal/models"
	"cryptotrader/internal/notify"
	"cryptotrader/internal/repository"
	"cryptotrader/internal/strategy"
	"cryptotrader/pkg/schedule"
	"cryptotrader/pkg/utils"
)

// Package app - сборка и жизненный цикл приложения.
//
// App строит из конфигурации биржи, стратегии и очередь реверса,
// выполняет прогрев (снятие зависших ордеров и один полный проход)
// и крутит периодический тик до остановки.

// Параметры пула соединений Postgres
const (
	dbMaxOpenConns    = 10
	dbMaxIdleConns    = 5
	dbConnMaxLifetime = 30 * time.Minute
	dbPingTimeout     = 10 * time.Second
)

// App - собранное приложение
type App struct {
	cfg      *config.Config
	logger   *utils.Logger
	reporter notify.Reporter

	db    *sql.DB
	redis *redis.Client

	exchanges  *exchange.Exchanges
	strategies []*strategy.Arbitrage
	orders     *repository.OrderRepository
	queue      repository.Queue

	ops *opsServer
}

// New собирает приложение из конфигурации.
// Ошибка любого компонента - отказ старта целиком.
func New(cfg *config.Config, logger *utils.Logger) (*App, error) {
	reporter := notify.NewLogReporter(logger)

	db, err := openDB(cfg.DSN)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		logger:   logger.Named("app"),
		reporter: reporter,
		db:       db,
	}

	tickers := repository.NewTickerRepository(db)
	a.exchanges = exchange.NewExchanges(reporter, logger)

	names := make([]string, 0, len(cfg.Exchanges))
	for name := range cfg.Exchanges {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		venue, err := buildVenue(name, cfg.Exchanges[name], tickers, reporter, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.exchanges.Add(venue)
	}

	// комиссии для репозитория и очереди приходят из реестра бирж
	a.orders = repository.NewOrderRepository(db, a.exchanges)

	if a.queue, err = a.buildQueue(); err != nil {
		a.Close()
		return nil, err
	}

	for name, block := range cfg.Strategies {
		s, err := strategy.NewArbitrage(
			strategyConfig(name, block), a.exchanges, a.orders, a.queue, reporter, logger,
		)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.strategies = append(a.strategies, s)
	}

	if cfg.App.MetricsAddr != "" {
		a.ops = newOpsServer(cfg.App.MetricsAddr, logger)
	}
	return a, nil
}

// openDB открывает пул соединений и проверяет его живость
func openDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(dbMaxOpenConns)
	db.SetMaxIdleConns(dbMaxIdleConns)
	db.SetConnMaxLifetime(dbConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), dbPingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// buildVenue строит биржу из её блока конфигурации
func buildVenue(
	name string,
	block config.ExchangeConfig,
	history exchange.HistorySink,
	reporter notify.Reporter,
	logger *utils.Logger,
) (*exchange.Exchange, error) {
	session, err := exchange.NewSession(name, exchange.TransportConfig{
		Key:              block.Transport.Key,
		Secret:           block.Transport.Secret,
		HTTPBaseURL:      block.Transport.HTTPBaseURL,
		WebsocketBaseURL: block.Transport.WebsocketBaseURL,
		RateLimit: exchange.RateLimit{
			Limit:  block.Transport.RateLimit.Limit,
			Period: block.Transport.RateLimit.Period,
		},
	}, block.PairNameTemplate, logger)
	if err != nil {
		return nil, err
	}

	return exchange.NewExchange(exchange.Config{
		Name:                  name,
		Fee:                   block.Fee,
		Limit:                 block.Limit,
		Pairs:                 block.Pairs,
		PairLimits:            block.PairLimits,
		PairNameTemplate:      block.PairNameTemplate,
		FetchBalancesInterval: block.FetchBalancesInterval,
		UpdateTickersInterval: block.UpdateTickersInterval,
		UpdateTickersTimeout:  block.UpdateTickersTimeout,
		SubscribeOnPairsDelay: block.SubscribeOnPairsDelay,
		Interval:              block.Interval,
	}, session, history, reporter, logger), nil
}

// buildQueue выбирает бэкенд очереди реверса по конфигурации
func (a *App) buildQueue() (repository.Queue, error) {
	switch a.cfg.Queue.Backend {
	case config.QueueBackendRedis:
		a.redis = redis.NewClient(&redis.Options{Addr: a.cfg.Queue.RedisAddr})
		serializer := models.NewOrderSerializer(a.exchanges)
		return repository.NewRedisQueue(a.redis, a.cfg.Queue.RedisName, serializer), nil
	default:
		return repository.NewPostgresQueue(a.db, a.exchanges), nil
	}
}

// strategyConfig переводит блок конфигурации в настройки стратегии
func strategyConfig(name string, block config.StrategyConfig) strategy.Config {
	return strategy.Config{
		Name:                   name,
		Pairs:                  block.Pairs,
		OrderType:              block.OrderType,
		DirectWidth:            block.WindowDirectWidth,
		ReversedWidth:          block.WindowReversedWidth,
		MaxSpendPart:           block.MaxSpendPart,
		Interval:               block.Interval,
		OrderPlacementInterval: block.OrderPlacementInterval,
		FetchOrderInterval:     block.FetchOrderInterval,
		SleepAfterPlaced:       block.SleepAfterPlaced,
		OrderTimeout:           block.OrderTimeout,
		AutoreverseOrderDelta:  block.AutoreverseOrderDelta,
	}
}

// Run выполняет прогрев и крутит тики до отмены ctx.
// Возвращает управление после полной остановки.
func (a *App) Run(ctx context.Context) error {
	if a.ops != nil {
		a.ops.Start()
	}

	if err := a.warmUp(ctx); err != nil {
		return err
	}

	schedule.Run(ctx, a.step, schedule.Config{
		Interval: a.cfg.App.Interval,
		OnError: func(err error) {
			a.logger.Errorf("tick failed: %v", err)
		},
	})

	a.Close()
	return nil
}

// step - один тик: обслуживание бирж, затем стратегии
func (a *App) step(ctx context.Context) error {
	if err := a.exchanges.Schedule(ctx); err != nil {
		return err
	}
	for _, s := range a.strategies {
		if err := s.Schedule(ctx); err != nil {
			return err
		}
	}
	return nil
}

// warmUp снимает зависшие после прошлого запуска ордера и выполняет
// первый тик до входа в периодический цикл.
//
// Ордер биржи, которой больше нет в конфигурации, пропускается
// с предупреждением: чужие позиции не трогаем.
func (a *App) warmUp(ctx context.Context) error {
	placed, err := a.orders.GetPlaced()
	if err != nil {
		return fmt.Errorf("load placed orders: %w", err)
	}

	for _, order := range placed {
		venue, err := a.exchanges.Get(order.Exchange())
		if err != nil {
			var noVenue *exchange.NoSuchExchangeError
			if errors.As(err, &noVenue) {
				a.logger.Warnf("placed order %s is on unknown exchange %s, skipping", order.UUID, order.Exchange())
				continue
			}
			return err
		}

		result, err := venue.Cancel(ctx, order)
		if err != nil {
			a.logger.Errorf("cancel placed order %s: %v", order.UUID, err)
			continue
		}
		if !result.Success {
			a.logger.Warnf("cancel placed order %s refused: %s", order.UUID, result.Response)
			continue
		}

		if err := a.orders.UpdateStatus(order.UUID, models.OrderStatusCancelled); err != nil {
			a.logger.Errorf("mark order %s cancelled: %v", order.UUID, err)
		}
	}

	return a.step(ctx)
}

// Exchanges возвращает реестр бирж приложения
func (a *App) Exchanges() *exchange.Exchanges {
	return a.exchanges
}

// Close останавливает биржи и закрывает соединения.
// Безопасен при частично собранном приложении и повторных вызовах.
func (a *App) Close() {
	if a.ops != nil {
		a.ops.Stop()
		a.ops = nil
	}
	if a.exchanges != nil {
		a.exchanges.Stop()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warnf("close redis: %v", err)
		}
		a.redis = nil
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warnf("close database: %v", err)
		}
		a.db = nil
	}
}
