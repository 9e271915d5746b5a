package friends

import (
	"context"
	"sync"
	"testing"

	"trophyserver/internal/apperr"
	"trophyserver/internal/dbtest"
	"trophyserver/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func newRegistry(t *testing.T) (*Registry, *gorm.DB) {
	db := dbtest.Open(t)
	return NewRegistry(db, zaptest.NewLogger(t)), db
}

func countPairs(t *testing.T, db *gorm.DB) int64 {
	var n int64
	require.NoError(t, db.Model(&models.Friendship{}).Count(&n).Error)
	return n
}

func TestCanonicalPair(t *testing.T) {
	low, high := CanonicalPair(9, 3)
	assert.Equal(t, uint(3), low)
	assert.Equal(t, uint(9), high)

	low, high = CanonicalPair(3, 9)
	assert.Equal(t, uint(3), low)
	assert.Equal(t, uint(9), high)
}

func TestSendRequestCreatesPendingCanonicalRow(t *testing.T) {
	reg, db := newRegistry(t)
	ctx := context.Background()
	alice := dbtest.CreateUser(t, db, "alice", 0)
	bob := dbtest.CreateUser(t, db, "bob", 0)

	// 大きいID側から申請しても小さいIDが先に保存される
	f, err := reg.SendRequest(ctx, bob.ID, alice.ID)
	require.NoError(t, err)

	assert.NotZero(t, f.ID)
	assert.Equal(t, models.FriendshipPending, f.Status)
	assert.Equal(t, alice.ID, f.UserLowID)
	assert.Equal(t, bob.ID, f.UserHighID)
	assert.Equal(t, bob.ID, f.RequestedBy)
	assert.Nil(t, f.RespondedBy)
	assert.False(t, f.RequestedAt.IsZero())
}

func TestSendRequestRejections(t *testing.T) {
	reg, db := newRegistry(t)
	ctx := context.Background()
	alice := dbtest.CreateUser(t, db, "alice", 0)
	bob := dbtest.CreateUser(t, db, "bob", 0)

	_, err := reg.SendRequest(ctx, alice.ID, alice.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, err = reg.SendRequest(ctx, alice.ID, 4242)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = reg.SendRequest(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	// どちらの向きからでも既存の申請として扱われる
	_, err = reg.SendRequest(ctx, bob.ID, alice.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindStateConflict))
	assert.Contains(t, err.Error(), "already pending")

	_, err = reg.Accept(ctx, bob.ID, alice.ID)
	require.NoError(t, err)

	_, err = reg.SendRequest(ctx, alice.ID, bob.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindStateConflict))
	assert.Contains(t, err.Error(), "already friends")

	assert.EqualValues(t, 1, countPairs(t, db))
}

// Carol が申請 → Dave が拒否 → Carol が再申請すると同じ行が PENDING に戻る
func TestDeclinedRequestReopensSameRow(t *testing.T) {
	reg, db := newRegistry(t)
	ctx := context.Background()
	carol := dbtest.CreateUser(t, db, "carol", 0)
	dave := dbtest.CreateUser(t, db, "dave", 0)

	first, err := reg.SendRequest(ctx, carol.ID, dave.ID)
	require.NoError(t, err)

	declined, err := reg.Decline(ctx, dave.ID, carol.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FriendshipDeclined, declined.Status)
	require.NotNil(t, declined.RespondedBy)
	assert.Equal(t, dave.ID, *declined.RespondedBy)

	reopened, err := reg.SendRequest(ctx, carol.ID, dave.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, reopened.ID)
	assert.Equal(t, models.FriendshipPending, reopened.Status)
	assert.Nil(t, reopened.RespondedBy)
	assert.Nil(t, reopened.RespondedAt)

	accepted, err := reg.Accept(ctx, dave.ID, carol.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FriendshipAccepted, accepted.Status)
	assert.EqualValues(t, 1, countPairs(t, db))
}

func TestCanceledRequestReopensForOtherDirection(t *testing.T) {
	reg, db := newRegistry(t)
	ctx := context.Background()
	erin := dbtest.CreateUser(t, db, "erin", 0)
	finn := dbtest.CreateUser(t, db, "finn", 0)

	_, err := reg.SendRequest(ctx, erin.ID, finn.ID)
	require.NoError(t, err)
	_, err = reg.Cancel(ctx, erin.ID, finn.ID)
	require.NoError(t, err)

	f, err := reg.SendRequest(ctx, finn.ID, erin.ID)
	require.NoError(t, err)
	assert.Equal(t, finn.ID, f.RequestedBy)

	// 今度は erin が受信側なので承認できる
	_, err = reg.Accept(ctx, erin.ID, finn.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, countPairs(t, db))
}

func TestRespondAuthorization(t *testing.T) {
	reg, db := newRegistry(t)
	ctx := context.Background()
	alice := dbtest.CreateUser(t, db, "alice", 0)
	bob := dbtest.CreateUser(t, db, "bob", 0)

	_, err := reg.SendRequest(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	_, err = reg.Accept(ctx, alice.ID, bob.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindAuthorization))
	_, err = reg.Decline(ctx, alice.ID, bob.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindAuthorization))
	_, err = reg.Cancel(ctx, bob.ID, alice.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindAuthorization))

	// 失敗した操作は行を変更しない
	var f models.Friendship
	require.NoError(t, db.First(&f).Error)
	assert.Equal(t, models.FriendshipPending, f.Status)
	assert.Nil(t, f.RespondedBy)
}

func TestRespondRequiresPending(t *testing.T) {
	reg, db := newRegistry(t)
	ctx := context.Background()
	alice := dbtest.CreateUser(t, db, "alice", 0)
	bob := dbtest.CreateUser(t, db, "bob", 0)

	_, err := reg.Accept(ctx, bob.ID, alice.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = reg.SendRequest(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	_, err = reg.Accept(ctx, bob.ID, alice.ID)
	require.NoError(t, err)

	_, err = reg.Decline(ctx, bob.ID, alice.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindStateConflict))
	_, err = reg.Cancel(ctx, alice.ID, bob.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindStateConflict))
}

func TestRemoveDeletesRow(t *testing.T) {
	reg, db := newRegistry(t)
	ctx := context.Background()
	alice := dbtest.CreateUser(t, db, "alice", 0)
	bob := dbtest.CreateUser(t, db, "bob", 0)

	_, err := reg.SendRequest(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	err = reg.Remove(ctx, alice.ID, bob.ID)
	assert.True(t, apperr.IsKind(err, apperr.KindStateConflict), "pending requests cannot be removed")

	_, err = reg.Accept(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	require.NoError(t, reg.Remove(ctx, bob.ID, alice.ID))
	assert.EqualValues(t, 0, countPairs(t, db))

	err = reg.Remove(ctx, bob.ID, alice.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	// 削除後は新しい申請を作れる
	_, err = reg.SendRequest(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
}

func TestListQueries(t *testing.T) {
	reg, db := newRegistry(t)
	ctx := context.Background()
	alice := dbtest.CreateUser(t, db, "alice", 0)
	bob := dbtest.CreateUser(t, db, "bob", 0)
	carol := dbtest.CreateUser(t, db, "carol", 0)
	dave := dbtest.CreateUser(t, db, "dave", 0)

	_, err := reg.SendRequest(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	_, err = reg.Accept(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	_, err = reg.SendRequest(ctx, carol.ID, alice.ID)
	require.NoError(t, err)
	_, err = reg.SendRequest(ctx, alice.ID, dave.ID)
	require.NoError(t, err)

	accepted, err := reg.ListAccepted(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.Equal(t, bob.ID, accepted[0].Other(alice.ID))

	incoming, err := reg.ListIncomingPending(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, incoming, 1)
	assert.Equal(t, carol.ID, incoming[0].RequestedBy)

	outgoing, err := reg.ListOutgoingPending(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, outgoing, 1)
	assert.Equal(t, dave.ID, outgoing[0].Other(alice.ID))

	incomingDave, err := reg.ListIncomingPending(ctx, dave.ID)
	require.NoError(t, err)
	assert.Len(t, incomingDave, 1)
}

func TestSendRequestByUsername(t *testing.T) {
	reg, db := newRegistry(t)
	ctx := context.Background()
	alice := dbtest.CreateUser(t, db, "alice", 0)
	bob := dbtest.CreateUser(t, db, "Bob", 0)

	f, err := reg.SendRequestByUsername(ctx, alice.ID, "  bob ")
	require.NoError(t, err)
	assert.Equal(t, bob.ID, f.Other(alice.ID))

	_, err = reg.SendRequestByUsername(ctx, alice.ID, "   ")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, err = reg.SendRequestByUsername(ctx, alice.ID, "nobody")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAreFriends(t *testing.T) {
	reg, db := newRegistry(t)
	ctx := context.Background()
	alice := dbtest.CreateUser(t, db, "alice", 0)
	bob := dbtest.CreateUser(t, db, "bob", 0)

	ok, err := reg.AreFriends(db, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = reg.SendRequest(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	ok, err = reg.AreFriends(db, bob.ID, alice.ID)
	require.NoError(t, err)
	assert.False(t, ok, "pending is not friendship")

	_, err = reg.Accept(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	ok, err = reg.AreFriends(db, bob.ID, alice.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUniquePairConstraint(t *testing.T) {
	_, db := newRegistry(t)
	alice := dbtest.CreateUser(t, db, "alice", 0)
	bob := dbtest.CreateUser(t, db, "bob", 0)

	row := func() *models.Friendship {
		return &models.Friendship{
			UserLowID: alice.ID, UserHighID: bob.ID,
			Status: models.FriendshipPending, RequestedBy: alice.ID,
		}
	}
	require.NoError(t, db.Create(row()).Error)
	assert.ErrorIs(t, db.Create(row()).Error, gorm.ErrDuplicatedKey)

	reversed := &models.Friendship{
		UserLowID: bob.ID, UserHighID: alice.ID,
		Status: models.FriendshipPending, RequestedBy: bob.ID,
	}
	assert.ErrorIs(t, db.Create(reversed).Error, models.ErrNonCanonicalPair)
}

// 初回挿入が一意制約に衝突した場合、読み直して再判定する
func TestSendRequestRetriesOnDuplicateKey(t *testing.T) {
	reg, db := newRegistry(t)
	alice := dbtest.CreateUser(t, db, "alice", 0)
	bob := dbtest.CreateUser(t, db, "bob", 0)

	inserts := 0
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:duplicate_once", func(tx *gorm.DB) {
		if tx.Statement.Table != "friendships" {
			return
		}
		inserts++
		if inserts == 1 {
			tx.AddError(gorm.ErrDuplicatedKey)
		}
	}))

	f, err := reg.SendRequest(context.Background(), alice.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, inserts)
	assert.Equal(t, models.FriendshipPending, f.Status)
	assert.EqualValues(t, 1, countPairs(t, db))
}

func TestConcurrentRequestsKeepOneRow(t *testing.T) {
	reg, db := newRegistry(t)
	alice := dbtest.CreateUser(t, db, "alice", 0)
	bob := dbtest.CreateUser(t, db, "bob", 0)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := alice.ID, bob.ID
			if i%2 == 1 {
				from, to = to, from
			}
			_, errs[i] = reg.SendRequest(context.Background(), from, to)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, apperr.IsKind(err, apperr.KindStateConflict), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)
	assert.EqualValues(t, 1, countPairs(t, db))
}
