package account

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	apperrors "github.com/yanqian/ecoloop/pkg/errors"
)

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	svc := NewService(Config{}, repo, discardLogger())

	view, err := svc.Register(ctx, Credentials{Username: " Alice ", Password: "s3cret"})
	require.NoError(t, err)
	require.Equal(t, View{OK: true, Username: "Alice"}, view)
	require.True(t, strings.HasPrefix(repo.users["alice"].PasswordHash, "$2"))

	_, err = svc.Register(ctx, Credentials{Username: "ALICE", Password: "other"})
	require.True(t, apperrors.IsCode(err, apperrors.CodeConflict))

	view, err = svc.Login(ctx, Credentials{Username: "alice", Password: "s3cret"})
	require.NoError(t, err)
	require.Equal(t, "Alice", view.Username)

	_, err = svc.Login(ctx, Credentials{Username: "alice", Password: "wrong"})
	require.True(t, apperrors.IsCode(err, apperrors.CodeInvalidCredentials))

	_, err = svc.Login(ctx, Credentials{Username: "nobody", Password: "x"})
	require.True(t, apperrors.IsCode(err, apperrors.CodeInvalidCredentials))
}

func TestRequiresCredentials(t *testing.T) {
	svc := NewService(Config{AcceptAnyLogin: true}, newMemRepo(), discardLogger())
	_, err := svc.Register(context.Background(), Credentials{Username: "bob"})
	require.True(t, apperrors.IsCode(err, apperrors.CodeInvalidInput))
	_, err = svc.Login(context.Background(), Credentials{Password: "pw"})
	require.True(t, apperrors.IsCode(err, apperrors.CodeInvalidInput))
}

func TestAcceptAnyLogin(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	repo.users["carol"] = User{Username: "Carol", PasswordHash: "$2a$10$invalidinvalidinvalidinvalidinvalidinvalidinvalidinval", ReusePoints: 4}
	svc := NewService(Config{AcceptAnyLogin: true}, repo, discardLogger())

	view, err := svc.Login(ctx, Credentials{Username: "stranger", Password: "anything"})
	require.NoError(t, err)
	require.Equal(t, View{OK: true, Username: "stranger"}, view)

	view, err = svc.Login(ctx, Credentials{Username: "carol", Password: "wrong"})
	require.NoError(t, err)
	require.Equal(t, 4, view.ReusePoints)
}

func TestLoginUpgradesLegacyHash(t *testing.T) {
	ctx := context.Background()
	sum := sha256.Sum256([]byte("hunter2"))
	repo := newMemRepo()
	repo.users["dave"] = User{Username: "dave", PasswordHash: hex.EncodeToString(sum[:]), RepairPoints: 2}
	svc := NewService(Config{}, repo, discardLogger())

	view, err := svc.Login(ctx, Credentials{Username: "Dave", Password: "hunter2"})
	require.NoError(t, err)
	require.Equal(t, 2, view.RepairPoints)
	require.True(t, strings.HasPrefix(repo.users["dave"].PasswordHash, "$2"))

	_, err = svc.Login(ctx, Credentials{Username: "dave", Password: "hunter2"})
	require.NoError(t, err)
}

func TestAddPoints(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	svc := NewService(Config{}, repo, discardLogger())
	_, err := svc.Register(ctx, Credentials{Username: "erin", Password: "pw"})
	require.NoError(t, err)

	view, err := svc.AddPoints(ctx, PointsRequest{Username: "ERIN", Type: PointsReuse})
	require.NoError(t, err)
	require.Equal(t, 1, view.ReusePoints)

	five := 5
	view, err = svc.AddPoints(ctx, PointsRequest{Username: "erin", Type: PointsRepair, Amount: &five})
	require.NoError(t, err)
	require.Equal(t, View{OK: true, Username: "erin", ReusePoints: 1, RepairPoints: 5}, view)

	zero := 0
	_, err = svc.AddPoints(ctx, PointsRequest{Username: "erin", Type: PointsRepair, Amount: &zero})
	require.True(t, apperrors.IsCode(err, apperrors.CodeInvalidInput))

	_, err = svc.AddPoints(ctx, PointsRequest{Username: "erin", Type: "karma"})
	require.True(t, apperrors.IsCode(err, apperrors.CodeInvalidInput))

	_, err = svc.AddPoints(ctx, PointsRequest{Username: "ghost", Type: PointsReuse})
	require.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))
}

type memRepo struct {
	mu    sync.Mutex
	users map[string]User
}

func newMemRepo() *memRepo {
	return &memRepo{users: map[string]User{}}
}

func (m *memRepo) Get(_ context.Context, username string) (User, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[Key(username)]
	return u, ok, nil
}

func (m *memRepo) Put(_ context.Context, user User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[Key(user.Username)] = user
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
