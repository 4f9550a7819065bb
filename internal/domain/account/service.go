package account

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/yanqian/ecoloop/pkg/errors"
	"github.com/yanqian/ecoloop/pkg/util"
)

// Service exposes the demo account workflows.
type Service interface {
	Register(ctx context.Context, req Credentials) (View, error)
	Login(ctx context.Context, req Credentials) (View, error)
	AddPoints(ctx context.Context, req PointsRequest) (View, error)
}

type service struct {
	cfg    Config
	repo   Repository
	logger *slog.Logger
	// mu serializes read-modify-write sequences against the repository.
	mu sync.Mutex
}

// NewService constructs a Service instance.
func NewService(cfg Config, repo Repository, logger *slog.Logger) Service {
	return &service{
		cfg:    cfg,
		repo:   repo,
		logger: logger.With("component", "account.service"),
	}
}

func (s *service) Register(ctx context.Context, req Credentials) (View, error) {
	username, password, err := normalizeCredentials(req)
	if err != nil {
		return View{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists, err := s.repo.Get(ctx, username)
	if err != nil {
		return View{}, apperrors.Wrap(apperrors.CodeInternal, "failed to check user", err)
	}
	if exists {
		return View{}, apperrors.Wrap(apperrors.CodeConflict, "username already registered", nil)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return View{}, apperrors.Wrap(apperrors.CodeInternal, "failed to hash password", err)
	}
	user := User{Username: username, PasswordHash: string(hashed), CreatedAt: util.NowUTC()}
	if err := s.repo.Put(ctx, user); err != nil {
		return View{}, apperrors.Wrap(apperrors.CodeInternal, "failed to save user", err)
	}
	s.logger.Info("account registered", "username", username)
	return viewOf(user), nil
}

func (s *service) Login(ctx context.Context, req Credentials) (View, error) {
	username, password, err := normalizeCredentials(req)
	if err != nil {
		return View{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, found, err := s.repo.Get(ctx, username)
	if err != nil {
		return View{}, apperrors.Wrap(apperrors.CodeInternal, "failed to load user", err)
	}
	if !found {
		if s.cfg.AcceptAnyLogin {
			return View{OK: true, Username: username}, nil
		}
		return View{}, apperrors.Wrap(apperrors.CodeInvalidCredentials, "invalid username or password", nil)
	}

	ok, legacy := verifyPassword(user.PasswordHash, password)
	if !ok {
		if s.cfg.AcceptAnyLogin {
			return viewOf(user), nil
		}
		return View{}, apperrors.Wrap(apperrors.CodeInvalidCredentials, "invalid username or password", nil)
	}
	if legacy {
		s.upgradeHash(ctx, user, password)
	}
	return viewOf(user), nil
}

func (s *service) AddPoints(ctx context.Context, req PointsRequest) (View, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return View{}, apperrors.Wrap(apperrors.CodeInvalidInput, "username is required", nil)
	}
	if req.Type != PointsReuse && req.Type != PointsRepair {
		return View{}, apperrors.Wrap(apperrors.CodeInvalidInput, "type must be reuse or repair", nil)
	}
	amount := 1
	if req.Amount != nil {
		amount = *req.Amount
	}
	if amount <= 0 {
		return View{}, apperrors.Wrap(apperrors.CodeInvalidInput, "amount must be positive", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, found, err := s.repo.Get(ctx, username)
	if err != nil {
		return View{}, apperrors.Wrap(apperrors.CodeInternal, "failed to load user", err)
	}
	if !found {
		return View{}, apperrors.Wrap(apperrors.CodeNotFound, "user not found", nil)
	}
	if req.Type == PointsReuse {
		user.ReusePoints += amount
	} else {
		user.RepairPoints += amount
	}
	if err := s.repo.Put(ctx, user); err != nil {
		return View{}, apperrors.Wrap(apperrors.CodeInternal, "failed to save user", err)
	}
	return viewOf(user), nil
}

// upgradeHash replaces a legacy digest with bcrypt. Failure only logs.
func (s *service) upgradeHash(ctx context.Context, user User, password string) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		s.logger.Warn("password rehash failed", "username", user.Username, "error", err)
		return
	}
	user.PasswordHash = string(hashed)
	if err := s.repo.Put(ctx, user); err != nil {
		s.logger.Warn("password rehash save failed", "username", user.Username, "error", err)
	}
}

func normalizeCredentials(req Credentials) (string, string, error) {
	username := strings.TrimSpace(req.Username)
	password := strings.TrimSpace(req.Password)
	if username == "" || password == "" {
		return "", "", apperrors.Wrap(apperrors.CodeInvalidInput, "username and password required", nil)
	}
	return username, password, nil
}

// verifyPassword checks bcrypt hashes and unsalted SHA-256 hex digests.
// legacy reports a match against the latter.
func verifyPassword(stored, password string) (ok, legacy bool) {
	if strings.HasPrefix(stored, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil, false
	}
	sum := sha256.Sum256([]byte(password))
	digest := hex.EncodeToString(sum[:])
	match := subtle.ConstantTimeCompare([]byte(strings.ToLower(stored)), []byte(digest)) == 1
	return match, match
}
