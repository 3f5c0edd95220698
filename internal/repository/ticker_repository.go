package repository

import (
	"context"
	"database/sql"

	"cryptotrader/internal/exchange"
	"cryptotrader/internal/models"
)

// TickerRepository пишет каждый принятый тикер в таблицу trade_history.
// Реализует exchange.HistorySink.
type TickerRepository struct {
	db *sql.DB
}

// NewTickerRepository создает новый экземпляр репозитория
func NewTickerRepository(db *sql.DB) *TickerRepository {
	return &TickerRepository{db: db}
}

// SaveTicker добавляет строку истории торгов
func (r *TickerRepository) SaveTicker(ctx context.Context, exchangeName string, pair models.PairName, data exchange.PairData) error {
	query := `
		INSERT INTO trade_history (exchange, pair, ask, bid, ask_size, bid_size, time)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(
		ctx,
		query,
		exchangeName,
		pair.Common(),
		data.Ask,
		data.Bid,
		data.AskSize,
		data.BidSize,
		data.Time,
	)
	return err
}
