package repository

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"cryptotrader/internal/models"
)

// Ошибки репозитория ордеров
var (
	ErrOrderNotFound = errors.New("order not found")
)

// orderColumns - общий список колонок таблицы orders
const orderColumns = `uuid, id_on_exchange, status, pair, side, price, base, quote, exchange, strategy, created_at, expired_at, executed_at`

// qualifiedOrderColumns - те же колонки с префиксом таблицы для join-запросов
const qualifiedOrderColumns = `orders.uuid, orders.id_on_exchange, orders.status, orders.pair, orders.side, orders.price, orders.base, orders.quote, orders.exchange, orders.strategy, orders.created_at, orders.expired_at, orders.executed_at`

// OrderRepository - работа с таблицей orders.
//
// Комиссия биржи в строке не хранится: при чтении оффер ордера
// собирается заново с актуальной комиссией через FeeResolver.
type OrderRepository struct {
	db   *sql.DB
	fees models.FeeResolver
}

// NewOrderRepository создает новый экземпляр репозитория
func NewOrderRepository(db *sql.DB, fees models.FeeResolver) *OrderRepository {
	return &OrderRepository{db: db, fees: fees}
}

// Save создает или обновляет запись об ордере.
//
// Ордер без uuid вставляется новой строкой и получает uuid на месте,
// ордер с uuid обновляется по нему.
func (r *OrderRepository) Save(order *models.Order) error {
	if order.UUID == "" {
		query := `
			INSERT INTO orders (uuid, id_on_exchange, status, pair, side, price, base, quote, exchange, strategy, created_at, expired_at, executed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

		newUUID := uuid.NewString()
		_, err := r.db.Exec(
			query,
			newUUID,
			order.IDOnExchange,
			order.Status,
			order.Pair().Common(),
			order.Side(),
			order.Price(),
			order.Base().Amount,
			order.Quote().Amount,
			order.Exchange(),
			order.Strategy,
			order.CreatedAt,
			order.ExpiredAt,
			order.ExecutedAt,
		)
		if err != nil {
			return err
		}

		order.UUID = newUUID
		return nil
	}

	query := `
		UPDATE orders
		SET id_on_exchange = $1, status = $2, pair = $3, side = $4, price = $5, base = $6, quote = $7, exchange = $8, strategy = $9, created_at = $10, expired_at = $11, executed_at = $12
		WHERE uuid = $13`

	result, err := r.db.Exec(
		query,
		order.IDOnExchange,
		order.Status,
		order.Pair().Common(),
		order.Side(),
		order.Price(),
		order.Base().Amount,
		order.Quote().Amount,
		order.Exchange(),
		order.Strategy,
		order.CreatedAt,
		order.ExpiredAt,
		order.ExecutedAt,
		order.UUID,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// GetByUUID возвращает ордер по uuid
func (r *OrderRepository) GetByUUID(orderUUID string) (*models.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE uuid = $1`

	order, err := r.scanOrder(r.db.QueryRow(query, orderUUID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return order, nil
}

// GetPlaced возвращает все ордера в статусе placed.
// Используется на старте для снятия зависших ордеров.
func (r *OrderRepository) GetPlaced() ([]*models.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE status = $1
		ORDER BY created_at`

	rows, err := r.db.Query(query, models.OrderStatusPlaced)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := r.scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

// UpdateStatus обновляет статус ордера по uuid
func (r *OrderRepository) UpdateStatus(orderUUID, status string) error {
	query := `
		UPDATE orders
		SET status = $1
		WHERE uuid = $2`

	result, err := r.db.Exec(query, status, orderUUID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// scanner покрывает *sql.Row и *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanOrder восстанавливает ордер из строки таблицы orders.
//
// Колонка base не используется: стоимость пересчитывается из
// quote и price, как при создании оффера из тикера.
func (r *OrderRepository) scanOrder(row scanner) (*models.Order, error) {
	var (
		orderUUID    string
		idOnExchange sql.NullString
		status       string
		pair         string
		side         string
		price        float64
		base         float64
		quote        float64
		exchangeName string
		strategy     sql.NullString
		createdAt    time.Time
		expiredAt    sql.NullTime
		executedAt   sql.NullTime
	)

	err := row.Scan(
		&orderUUID,
		&idOnExchange,
		&status,
		&pair,
		&side,
		&price,
		&base,
		&quote,
		&exchangeName,
		&strategy,
		&createdAt,
		&expiredAt,
		&executedAt,
	)
	if err != nil {
		return nil, err
	}

	// биржа могла исчезнуть из конфигурации между запусками:
	// такой ордер всё равно читается, комиссия считается нулевой
	fee, err := r.fees.Fee(exchangeName)
	if err != nil {
		fee = 0
	}

	offer, err := models.NewOffer(
		models.PriceTypeFromSide(side),
		pair,
		price,
		quote,
		exchangeName,
		fee,
		time.Time{},
	)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		UUID:         orderUUID,
		IDOnExchange: idOnExchange.String,
		Type:         models.OrderTypeLimit,
		Offer:        offer,
		Status:       status,
		Strategy:     strategy.String,
		CreatedAt:    createdAt,
	}
	if expiredAt.Valid {
		t := expiredAt.Time
		order.ExpiredAt = &t
	}
	if executedAt.Valid {
		t := executedAt.Time
		order.ExecutedAt = &t
	}
	return order, nil
}
