package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"cryptotrader/internal/models"
)

// queue.go - долговечная очередь пар ордеров на реверс
//
// Каждая запись - пара ордеров открытого окна: покупка и продажа.
// Стратегия кладёт пару после успешного входа и забирает на каждом
// тике для закрытия позиции. Очередь переживает перезапуск бота.

// ErrQueueEmpty - очередь пуста, дренаж завершён
var ErrQueueEmpty = errors.New("reverse queue is empty")

// Queue - контракт очереди пар ордеров.
// Pop возвращает пару (покупка, продажа) или ErrQueueEmpty.
type Queue interface {
	Pop(ctx context.Context) (*models.Order, *models.Order, error)
	Push(ctx context.Context, buy, sell *models.Order) error
	Length(ctx context.Context) (int, error)
}

// PostgresQueue - очередь на таблице order_pairs.
//
// Pop выполняет удаление и чтение одним запросом: конкурентные
// потребители не могут увидеть одну пару дважды и зареверсить
// позицию два раза.
type PostgresQueue struct {
	db   *sql.DB
	fees models.FeeResolver
}

// NewPostgresQueue создаёт очередь поверх пула соединений
func NewPostgresQueue(db *sql.DB, fees models.FeeResolver) *PostgresQueue {
	return &PostgresQueue{db: db, fees: fees}
}

// Pop атомарно снимает самую старую пару и возвращает её ордера.
//
// По соглашению left - покупка, right - продажа; если в строке они
// перепутаны, результат меняется местами по стороне ордера.
func (q *PostgresQueue) Pop(ctx context.Context) (*models.Order, *models.Order, error) {
	query := `
		WITH R AS (
		  DELETE FROM order_pairs
		  WHERE uuid IN (SELECT uuid FROM order_pairs ORDER BY time LIMIT 1)
		  RETURNING *
		)
		SELECT ` + qualifiedOrderColumns + ` FROM orders
		JOIN R ON orders.uuid IN (R.left_order_uuid, R.right_order_uuid)
		ORDER BY orders.side`

	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	repo := &OrderRepository{db: q.db, fees: q.fees}

	var orders []*models.Order
	for rows.Next() {
		order, err := repo.scanOrder(rows)
		if err != nil {
			return nil, nil, err
		}
		orders = append(orders, order)
	}
	if err = rows.Err(); err != nil {
		return nil, nil, err
	}

	if len(orders) == 0 {
		return nil, nil, ErrQueueEmpty
	}
	if len(orders) != 2 {
		return nil, nil, errors.New("order pair is broken: expected 2 orders")
	}

	buy, sell := orders[0], orders[1]
	if buy.Side() != models.Buy {
		buy, sell = sell, buy
	}
	return buy, sell, nil
}

// Push добавляет пару в хвост очереди.
// UUID обоих ордеров обязаны существовать в таблице orders.
func (q *PostgresQueue) Push(ctx context.Context, buy, sell *models.Order) error {
	query := `
		INSERT INTO order_pairs (uuid, left_order_uuid, right_order_uuid, time)
		VALUES ($1, $2, $3, $4)`

	_, err := q.db.ExecContext(ctx, query, uuid.NewString(), buy.UUID, sell.UUID, time.Now().UTC())
	return err
}

// Length возвращает число пар в очереди
func (q *PostgresQueue) Length(ctx context.Context) (int, error) {
	var length int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM order_pairs`).Scan(&length)
	if err != nil {
		return 0, err
	}
	return length, nil
}
