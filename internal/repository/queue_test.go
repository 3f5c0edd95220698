package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"cryptotrader/internal/models"
)

// ============================================================
// PostgresQueue Tests
// ============================================================

func TestPostgresQueuePop(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	createdAt := time.Date(2018, 4, 10, 12, 0, 0, 0, time.UTC)

	// строка с продажей раньше покупки: pop обязан вернуть пару
	// в порядке (покупка, продажа) независимо от порядка строк
	mock.ExpectQuery(`WITH R AS`).
		WillReturnRows(orderRows().
			AddRow("uuid-2", "43", models.OrderStatusFulfilled, "ETCUSD", models.Sell, 308.0, 308.0, 1.0, "right", "test", createdAt, nil, createdAt).
			AddRow("uuid-1", "42", models.OrderStatusFulfilled, "ETCUSD", models.Buy, 305.0, 305.0, 1.0, "left", "test", createdAt, nil, createdAt))

	queue := NewPostgresQueue(db, testFees())
	buy, sell, err := queue.Pop(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if buy.Side() != models.Buy || buy.UUID != "uuid-1" {
		t.Errorf("expected buy order uuid-1, got %s", buy)
	}
	if sell.Side() != models.Sell || sell.UUID != "uuid-2" {
		t.Errorf("expected sell order uuid-2, got %s", sell)
	}
	if buy.Exchange() != "left" || sell.Exchange() != "right" {
		t.Errorf("orders lost exchanges: %s / %s", buy.Exchange(), sell.Exchange())
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresQueuePopEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`WITH R AS`).WillReturnRows(orderRows())

	queue := NewPostgresQueue(db, testFees())
	if _, _, err := queue.Pop(context.Background()); !errors.Is(err, ErrQueueEmpty) {
		t.Fatalf("expected ErrQueueEmpty, got %v", err)
	}
}

func TestPostgresQueuePopBrokenPair(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	createdAt := time.Now()
	mock.ExpectQuery(`WITH R AS`).
		WillReturnRows(orderRows().
			AddRow("uuid-1", "42", models.OrderStatusFulfilled, "ETCUSD", models.Buy, 305.0, 305.0, 1.0, "left", "test", createdAt, nil, nil))

	queue := NewPostgresQueue(db, testFees())
	if _, _, err := queue.Pop(context.Background()); err == nil {
		t.Fatal("expected error for a pair with a single order")
	}
}

func TestPostgresQueuePush(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	buy := testRepoOrder(t, models.Ask, "left")
	buy.UUID = "uuid-1"
	sell := testRepoOrder(t, models.Bid, "right")
	sell.UUID = "uuid-2"

	mock.ExpectExec(`INSERT INTO order_pairs`).
		WithArgs(sqlmock.AnyArg(), "uuid-1", "uuid-2", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	queue := NewPostgresQueue(db, testFees())
	if err := queue.Push(context.Background(), buy, sell); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresQueueLength(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	queue := NewPostgresQueue(db, testFees())
	length, err := queue.Length(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if length != 3 {
		t.Errorf("expected length 3, got %d", length)
	}
}
