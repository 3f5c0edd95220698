package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"cryptotrader/internal/models"
)

// redis_queue.go - очередь пар ордеров на Redis-списке
//
// Альтернативный бэкенд очереди: пара сериализуется в JSON-список из
// двух ордеров и живёт элементом списка. Push - RPUSH в хвост,
// Pop - LPOP с головы, порядок FIFO как у PostgresQueue.

// RedisListClient - операции списков, используемые очередью.
// *redis.Client реализует интерфейс; в тестах подменяется скриптом.
type RedisListClient interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LPop(ctx context.Context, key string) *redis.StringCmd
	LLen(ctx context.Context, key string) *redis.IntCmd
}

// RedisQueue - очередь пар ордеров в Redis
type RedisQueue struct {
	client     RedisListClient
	name       string
	serializer *models.OrderSerializer
}

// NewRedisQueue создаёт очередь на списке name
func NewRedisQueue(client RedisListClient, name string, serializer *models.OrderSerializer) *RedisQueue {
	return &RedisQueue{client: client, name: name, serializer: serializer}
}

// Pop снимает самую старую пару с головы списка
func (q *RedisQueue) Pop(ctx context.Context) (*models.Order, *models.Order, error) {
	data, err := q.client.LPop(ctx, q.name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil, ErrQueueEmpty
		}
		return nil, nil, err
	}

	orders, err := q.serializer.Loads([]byte(data))
	if err != nil {
		return nil, nil, err
	}
	if len(orders) != 2 {
		return nil, nil, fmt.Errorf("order pair is broken: expected 2 orders, got %d", len(orders))
	}

	buy, sell := orders[0], orders[1]
	if buy.Side() != models.Buy {
		buy, sell = sell, buy
	}
	return buy, sell, nil
}

// Push добавляет пару в хвост списка
func (q *RedisQueue) Push(ctx context.Context, buy, sell *models.Order) error {
	data, err := q.serializer.Dumps([]*models.Order{buy, sell})
	if err != nil {
		return err
	}
	return q.client.RPush(ctx, q.name, string(data)).Err()
}

// Length возвращает число пар в списке
func (q *RedisQueue) Length(ctx context.Context) (int, error) {
	length, err := q.client.LLen(ctx, q.name).Result()
	if err != nil {
		return 0, err
	}
	return int(length), nil
}
