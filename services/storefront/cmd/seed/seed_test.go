package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func expectCatalog(mock pgxmock.PgxPoolIface) {
	for range products {
		mock.ExpectExec("INSERT INTO products").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectExec("SELECT setval").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	for range stores {
		mock.ExpectExec("INSERT INTO stores").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	for range deliveryOptions {
		mock.ExpectExec("INSERT INTO delivery_options").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
}

func TestSeed_WithUser(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	expectCatalog(mock)
	for _, a := range addresses {
		mock.ExpectExec("INSERT INTO user_addresses").
			WithArgs(seedID("address/user-1", a.label), "user-1", a.label, a.street, a.city, a.isDefault).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	c, err := Seed(context.Background(), mock, "user-1", discardLogger())
	require.NoError(t, err)
	assert.Equal(t, Counts{
		Products:        len(products),
		Stores:          len(stores),
		DeliveryOptions: len(deliveryOptions),
		Addresses:       len(addresses),
	}, c)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSeed_WithoutUserSkipsAddresses(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	expectCatalog(mock)
	mock.ExpectCommit()

	c, err := Seed(context.Background(), mock, "", discardLogger())
	require.NoError(t, err)
	assert.Zero(t, c.Addresses)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSeed_RollsBackOnFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO products").WillReturnError(errors.New("relation \"products\" does not exist"))
	mock.ExpectRollback()

	c, err := Seed(context.Background(), mock, "user-1", discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Basmati Rice 5kg")
	assert.Equal(t, Counts{}, c)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSeedID_Stable(t *testing.T) {
	assert.Equal(t, seedID("store", "Downtown"), seedID("store", "Downtown"))
	assert.NotEqual(t, seedID("store", "Downtown"), seedID("delivery", "Downtown"))
	assert.NotEqual(t, seedID("address/u1", "Home"), seedID("address/u2", "Home"))
}
