package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "uq_gl_vouchers"})
	require.True(t, IsUniqueViolation(err, ""))
	require.True(t, IsUniqueViolation(err, "uq_gl_vouchers"))
	require.False(t, IsUniqueViolation(err, "uq_other"))
	require.False(t, IsUniqueViolation(fmt.Errorf("plain"), ""))
}

func TestIsSerializationFailure(t *testing.T) {
	require.True(t, IsSerializationFailure(&pgconn.PgError{Code: "40001"}))
	require.False(t, IsSerializationFailure(&pgconn.PgError{Code: "23505"}))
}

func TestWithTxRequiresPool(t *testing.T) {
	require.Error(t, WithTx(context.Background(), nil, nil))
}
