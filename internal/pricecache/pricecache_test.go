package pricecache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
)

func TestPrior(t *testing.T) {
	ctx := context.Background()

	t.Run("returns recorded midpoint", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		p := NewRedisPrices(db, 5*time.Minute)

		mock.ExpectGet("pricewatch:last_mid:AAPL").SetVal("150.25")

		mid, ok, err := p.Prior(ctx, "AAPL")
		if err != nil {
			t.Fatalf("Prior returned error: %v", err)
		}
		if !ok {
			t.Fatal("expected a prior to exist")
		}
		if mid != 150.25 {
			t.Errorf("expected 150.25, got %v", mid)
		}
	})

	t.Run("absent on first observation", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		p := NewRedisPrices(db, 5*time.Minute)

		mock.ExpectGet("pricewatch:last_mid:TSLA").RedisNil()

		_, ok, err := p.Prior(ctx, "TSLA")
		if err != nil {
			t.Fatalf("Prior returned error: %v", err)
		}
		if ok {
			t.Error("expected no prior for an unseen symbol")
		}
	})

	t.Run("unparseable entry treated as absent", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		p := NewRedisPrices(db, 5*time.Minute)

		mock.ExpectGet("pricewatch:last_mid:AAPL").SetVal("not-a-number")

		_, ok, err := p.Prior(ctx, "AAPL")
		if err != nil {
			t.Fatalf("Prior returned error: %v", err)
		}
		if ok {
			t.Error("expected unparseable value to read as absent")
		}
	})

	t.Run("propagates redis errors", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		p := NewRedisPrices(db, 5*time.Minute)

		mock.ExpectGet("pricewatch:last_mid:AAPL").SetErr(errors.New("connection refused"))

		_, ok, err := p.Prior(ctx, "AAPL")
		if err == nil {
			t.Fatal("expected error")
		}
		if ok {
			t.Error("must not report a prior on error")
		}
	})
}

func TestRecord(t *testing.T) {
	ctx := context.Background()
	ttl := 5 * time.Minute

	db, mock := redismock.NewClientMock()
	p := NewRedisPrices(db, ttl)

	mock.ExpectSet("pricewatch:last_mid:AAPL", "150.25", ttl).SetVal("OK")

	if err := p.Record(ctx, "AAPL", 150.25); err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
