package utils

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"unique", &pgconn.PgError{Code: "23505"}, true},
		{"wrapped unique", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), true},
		{"other code", &pgconn.PgError{Code: "23503"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUniqueViolation(tt.err); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestPostgresPoolConfig_Defaults(t *testing.T) {
	c := PostgresPoolConfig{MaxOpenConns: 4}.withDefaults()
	if c.MaxIdleConns != 4 {
		t.Fatalf("expected idle conns to follow open conns, got %d", c.MaxIdleConns)
	}
	if c.PingTimeout <= 0 {
		t.Fatalf("expected ping timeout default")
	}
}
