// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package auth

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresSetTokenHashDetachesAsNull(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// Detaching stores NULL, not '': two revoked agents must coexist
	// under the partial unique index on token_hash.
	mock.ExpectExec("UPDATE agents SET token_hash").
		WithArgs("agent-1", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE agents SET token_hash").
		WithArgs("agent-2", nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewPostgresStore(db)
	require.NoError(t, store.SetTokenHash(context.Background(), "agent-1", ""))
	require.NoError(t, store.SetTokenHash(context.Background(), "agent-2", ""))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSetTokenHashStoresValue(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE agents SET token_hash").
		WithArgs("agent-1", "abc123").
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewPostgresStore(db)
	require.NoError(t, store.SetTokenHash(context.Background(), "agent-1", "abc123"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSetTokenHashUnknownAgent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE agents SET token_hash").
		WithArgs("ghost", "abc123").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewPostgresStore(db)
	err = store.SetTokenHash(context.Background(), "ghost", "abc123")
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestPostgresGetAgentDetachedHash(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"agent_id", "name", "token_hash", "scopes", "enabled", "created_at"}).
		AddRow("agent-1", "revoked-agent", nil, "{complete}", true, time.Now())
	mock.ExpectQuery("SELECT agent_id, name, token_hash, scopes, enabled, created_at").
		WithArgs("agent-1").
		WillReturnRows(rows)

	store := NewPostgresStore(db)
	rec, err := store.GetAgent(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "", rec.TokenHash)
	assert.Equal(t, []string{"complete"}, rec.Scopes)
}

func TestPostgresRevocationLookup(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO revoked_tokens").
		WithArgs("deadbeef").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("deadbeef").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	store := NewPostgresStore(db)
	require.NoError(t, store.RevokeHash(context.Background(), "deadbeef"))
	revoked, err := store.IsHashRevoked(context.Background(), "deadbeef")
	require.NoError(t, err)
	assert.True(t, revoked)
}
