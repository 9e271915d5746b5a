package trophy

import (
	"testing"

	"trophyserver/internal/apperr"
	"trophyserver/internal/dbtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

func TestClamp(t *testing.T) {
	tests := []struct {
		name        string
		balance     int
		delta       int
		wantNext    int
		wantClamped bool
	}{
		{"credit", 10, 5, 15, false},
		{"debit within balance", 10, -10, 0, false},
		{"debit below zero", 10, -25, 0, true},
		{"zero delta", 7, 0, 7, false},
		{"debit from empty", 0, -1, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, clamped := Clamp(tt.balance, tt.delta)
			assert.Equal(t, tt.wantNext, next)
			assert.Equal(t, tt.wantClamped, clamped)
		})
	}
}

func TestCreditAndDebit(t *testing.T) {
	db := dbtest.Open(t)
	alice := dbtest.CreateUser(t, db, "alice", 100)
	account := NewAccount(zap.NewNop())

	err := db.Transaction(func(tx *gorm.DB) error {
		users, err := account.LockUsers(tx, alice.ID)
		require.NoError(t, err)
		u := users[alice.ID]

		next, err := account.Credit(tx, u, 40)
		require.NoError(t, err)
		assert.Equal(t, 140, next)

		next, err = account.Debit(tx, u, 90)
		require.NoError(t, err)
		assert.Equal(t, 50, next)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 50, dbtest.Trophies(t, db, alice.ID))

	balance, err := account.Balance(db, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, balance)
}

func TestDebitClampsAndWarns(t *testing.T) {
	db := dbtest.Open(t)
	bob := dbtest.CreateUser(t, db, "bob", 30)

	core, logs := observer.New(zapcore.WarnLevel)
	account := NewAccount(zap.New(core))

	err := db.Transaction(func(tx *gorm.DB) error {
		users, err := account.LockUsers(tx, bob.ID)
		require.NoError(t, err)
		next, err := account.Debit(tx, users[bob.ID], 50)
		require.NoError(t, err)
		assert.Equal(t, 0, next)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, dbtest.Trophies(t, db, bob.ID))

	entries := logs.FilterMessage("trophy balance clamped at zero").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.EqualValues(t, -50, fields["requestedDelta"])
	assert.EqualValues(t, -30, fields["appliedDelta"])
}

func TestDebitWithoutClampDoesNotWarn(t *testing.T) {
	db := dbtest.Open(t)
	carol := dbtest.CreateUser(t, db, "carol", 30)

	core, logs := observer.New(zapcore.WarnLevel)
	account := NewAccount(zap.New(core))

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		users, err := account.LockUsers(tx, carol.ID)
		require.NoError(t, err)
		_, err = account.Debit(tx, users[carol.ID], 30)
		return err
	}))
	assert.Zero(t, logs.Len())
}

func TestNegativeAmountsRejected(t *testing.T) {
	db := dbtest.Open(t)
	dave := dbtest.CreateUser(t, db, "dave", 10)
	account := NewAccount(zap.NewNop())

	_, err := account.Credit(db, dave, -1)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	_, err = account.Debit(db, dave, -1)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	assert.Equal(t, 10, dbtest.Trophies(t, db, dave.ID))
}

func TestLockUsersUnknownUser(t *testing.T) {
	db := dbtest.Open(t)
	account := NewAccount(zap.NewNop())

	_, err := account.LockUsers(db, 999)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
