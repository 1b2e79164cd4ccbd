package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestPoolOptionsDefaults(t *testing.T) {
	tests := []struct {
		name string
		in   PoolOptions
		want PoolOptions
	}{
		{name: "zero", in: PoolOptions{}, want: PoolOptions{MaxOpenConns: 20, MaxIdleConns: 10}},
		{name: "explicit", in: PoolOptions{MaxOpenConns: 50, MaxIdleConns: 25}, want: PoolOptions{MaxOpenConns: 50, MaxIdleConns: 25}},
		{name: "idle capped by open", in: PoolOptions{MaxOpenConns: 4, MaxIdleConns: 8}, want: PoolOptions{MaxOpenConns: 4, MaxIdleConns: 4}},
		{name: "small pool", in: PoolOptions{MaxOpenConns: 3}, want: PoolOptions{MaxOpenConns: 3, MaxIdleConns: 3}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.in.withDefaults(); got != tc.want {
				t.Fatalf("expected %+v, got %+v", tc.want, got)
			}
		})
	}
}

func TestOpenRejectsEmptyURL(t *testing.T) {
	if _, err := Open(context.Background(), "", PoolOptions{}); err == nil {
		t.Fatal("expected error for empty database url")
	}
}

func TestPgErrorCodes(t *testing.T) {
	unique := fmt.Errorf("insert membership: %w", &pgconn.PgError{Code: pgUniqueViolation})
	if !IsUniqueViolation(unique) {
		t.Fatal("wrapped 23505 should be a unique violation")
	}
	if isUndefinedTable(unique) {
		t.Fatal("23505 is not an undefined table")
	}
	if !isUndefinedTable(&pgconn.PgError{Code: pgUndefinedTable}) {
		t.Fatal("42P01 should be an undefined table")
	}
	if IsUniqueViolation(errors.New("23505")) {
		t.Fatal("plain errors carry no pg code")
	}
}
