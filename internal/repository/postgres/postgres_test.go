package postgres

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/splax/buildor/internal/repository"
)

func TestMapErrorClassifiesPgCodes(t *testing.T) {
	cases := []struct {
		code string
		want error
	}{
		{"23505", repository.ErrAlreadyExists},
		{"23503", repository.ErrNotFound},
		{"22P02", repository.ErrNotFound},
		{"40001", repository.ErrThrottled},
	}
	for _, tc := range cases {
		err := mapError(fmt.Errorf("exec: %w", &pgconn.PgError{Code: tc.code, Message: "boom"}))
		if !errors.Is(err, tc.want) {
			t.Fatalf("code %s: expected %v, got %v", tc.code, tc.want, err)
		}
	}
}

func TestMapErrorPassesThroughUnknown(t *testing.T) {
	base := errors.New("connection reset")
	if err := mapError(base); err != base {
		t.Fatalf("expected passthrough, got %v", err)
	}
	if mapError(nil) != nil {
		t.Fatalf("expected nil")
	}
}

func TestNullableLeavesUnsetMetadataNull(t *testing.T) {
	if nullable(0) != nil || nullableTime(time.Time{}) != nil {
		t.Fatalf("zero metadata must bind as NULL so COALESCE keeps stored values")
	}
	if n := nullable(7); n == nil || *n != 7 {
		t.Fatalf("expected 7, got %v", n)
	}
	at := time.Unix(100, 0)
	if got := nullableTime(at); got == nil || !got.Equal(at) {
		t.Fatalf("expected %v, got %v", at, got)
	}
}
