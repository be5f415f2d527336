package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/unclejonsbank/backend/internal/config"
	"github.com/unclejonsbank/backend/internal/database"
	"github.com/unclejonsbank/backend/internal/models"
	"go.uber.org/zap"
)

const minPasswordLength = 8

type AuthService struct {
	db     *sql.DB
	redis  *redis.Client
	cfg    *config.AuthConfig
	hasher *PasswordHasher
	logger *zap.Logger
	now    func() time.Time
}

func NewAuthService(db *sql.DB, redisClient *redis.Client, cfg *config.AuthConfig, logger *zap.Logger) *AuthService {
	return &AuthService{
		db:     db,
		redis:  redisClient,
		cfg:    cfg,
		hasher: NewPasswordHasher(cfg.Argon2),
		logger: logger,
		now:    time.Now,
	}
}

// Claims are the JWT claims issued by this service. Subject is
// "user:{id}" or "child:{id}".
type Claims struct {
	Role models.Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenResponse is returned by every login flow.
// @Description Access token plus the authenticated principal
type TokenResponse struct {
	AccessToken string        `json:"access_token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."`
	TokenType   string        `json:"token_type" example:"bearer"`
	User        *models.User  `json:"user,omitempty"`
	Child       *models.Child `json:"child,omitempty"`
}

func (s *AuthService) issue(subject string, role models.Role, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.SecretKey)
}

func (s *AuthService) userToken(u *models.User) (*TokenResponse, error) {
	token, err := s.issue(fmt.Sprintf("user:%d", u.ID), u.Role, s.cfg.Expiry)
	if err != nil {
		return nil, err
	}
	return &TokenResponse{AccessToken: token, TokenType: "bearer", User: u}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser inserts a user with a freshly hashed password.
func (s *AuthService) CreateUser(ctx context.Context, name, email, password string, role models.Role) (*models.User, error) {
	if role != models.RoleParent && role != models.RoleAdmin {
		return nil, validationError("role must be parent or admin")
	}
	if len(password) < minPasswordLength {
		return nil, validationError("password must be at least %d characters", minPasswordLength)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	u := &models.User{
		Name:      strings.TrimSpace(name),
		Email:     normalizeEmail(email),
		Role:      role,
		CreatedAt: s.now().UTC(),
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO users (name, email, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`, u.Name, u.Email, hash, u.Role, u.CreatedAt).Scan(&u.ID)
	if database.IsUniqueViolation(err) {
		return nil, conflictError("email already registered")
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("user created", zap.Int64("user_id", u.ID), zap.String("role", string(u.Role)))
	return u, nil
}

// Register signs a new parent up and logs them in.
func (s *AuthService) Register(ctx context.Context, name, email, password string) (*TokenResponse, error) {
	u, err := s.CreateUser(ctx, name, email, password, models.RoleParent)
	if err != nil {
		return nil, err
	}
	return s.userToken(u)
}

func (s *AuthService) userByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, role, password_hash, created_at
		FROM users
		WHERE email = $1`, normalizeEmail(email)).Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Login checks a parent or admin password. Legacy hashes are upgraded on
// a successful login.
func (s *AuthService) Login(ctx context.Context, email, password string) (*TokenResponse, error) {
	u, err := s.userByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, newError(ErrUnauthorized, "invalid credentials")
	}
	if err != nil {
		return nil, err
	}
	if !s.hasher.Verify(password, u.PasswordHash) {
		s.logger.Info("login failed", zap.Int64("user_id", u.ID))
		return nil, newError(ErrUnauthorized, "invalid credentials")
	}

	if s.hasher.IsLegacy(u.PasswordHash) {
		if upgraded, err := s.hasher.Hash(password); err == nil {
			if _, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = $1 WHERE id = $2`, upgraded, u.ID); err != nil {
				s.logger.Warn("upgrade password hash", zap.Int64("user_id", u.ID), zap.Error(err))
			}
		}
	}

	return s.userToken(u)
}

func loginAttemptsKey(clientIP string) string {
	return "login_attempts:" + clientIP
}

// allowChildLogin counts an attempt for clientIP. Without Redis every
// attempt is allowed.
func (s *AuthService) allowChildLogin(ctx context.Context, clientIP string) error {
	if s.redis == nil || s.cfg.LoginAttempts <= 0 {
		return nil
	}
	key := loginAttemptsKey(clientIP)
	n, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		s.logger.Warn("login rate limit unavailable", zap.Error(err))
		return nil
	}
	if n == 1 {
		s.redis.Expire(ctx, key, s.cfg.LoginWindow)
	}
	if n > int64(s.cfg.LoginAttempts) {
		return newError(ErrRateLimited, "too many login attempts, try again later")
	}
	return nil
}

// ChildLogin exchanges an access code for a short-lived child token.
func (s *AuthService) ChildLogin(ctx context.Context, clientIP, accessCode string) (*TokenResponse, error) {
	if strings.TrimSpace(accessCode) == "" {
		return nil, validationError("access_code is required")
	}
	if err := s.allowChildLogin(ctx, clientIP); err != nil {
		return nil, err
	}

	var c models.Child
	err := s.db.QueryRowContext(ctx, `
		SELECT id, first_name, frozen, created_at
		FROM children
		WHERE access_code_hash = $1`, hashAccessCode(accessCode)).Scan(&c.ID, &c.FirstName, &c.Frozen, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, newError(ErrUnauthorized, "invalid access code")
	}
	if err != nil {
		return nil, err
	}
	if c.Frozen {
		return nil, forbiddenError("account is frozen")
	}

	if s.redis != nil {
		s.redis.Del(ctx, loginAttemptsKey(clientIP))
	}

	token, err := s.issue(fmt.Sprintf("child:%d", c.ID), models.RoleChild, s.cfg.ChildExpiry)
	if err != nil {
		return nil, err
	}
	return &TokenResponse{AccessToken: token, TokenType: "bearer", Child: &c}, nil
}

func blacklistKey(jti string) string {
	return "blacklist:" + jti
}

// Logout revokes the token until it would have expired anyway.
func (s *AuthService) Logout(ctx context.Context, ident *models.Identity, expiresAt time.Time) error {
	if s.redis == nil || ident == nil || ident.TokenID == "" {
		return nil
	}
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	return s.redis.Set(ctx, blacklistKey(ident.TokenID), "1", ttl).Err()
}

// IsRevoked reports whether jti was logged out.
func (s *AuthService) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if s.redis == nil || jti == "" {
		return false, nil
	}
	n, err := s.redis.Exists(ctx, blacklistKey(jti)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Parse validates a bearer token and returns the identity behind it along
// with its expiry.
func (s *AuthService) Parse(tokenString string) (*models.Identity, time.Time, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		return s.cfg.SecretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, time.Time{}, newError(ErrUnauthorized, "invalid token")
	}

	kind, rawID, ok := strings.Cut(claims.Subject, ":")
	id, perr := strconv.ParseInt(rawID, 10, 64)
	if !ok || perr != nil || id <= 0 || !claims.Role.Valid() {
		return nil, time.Time{}, newError(ErrUnauthorized, "invalid token subject")
	}

	ident := &models.Identity{Role: claims.Role, TokenID: claims.ID}
	switch {
	case kind == "child" && claims.Role == models.RoleChild:
		ident.ChildID = id
	case kind == "user" && claims.Role != models.RoleChild:
		ident.UserID = id
	default:
		return nil, time.Time{}, newError(ErrUnauthorized, "invalid token subject")
	}

	var exp time.Time
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	return ident, exp, nil
}

// Verify parses a token and rejects revoked ones.
func (s *AuthService) Verify(ctx context.Context, tokenString string) (*models.Identity, time.Time, error) {
	ident, exp, err := s.Parse(tokenString)
	if err != nil {
		return nil, time.Time{}, err
	}
	revoked, err := s.IsRevoked(ctx, ident.TokenID)
	if err != nil {
		s.logger.Warn("token blacklist unavailable", zap.Error(err))
	}
	if revoked {
		return nil, time.Time{}, newError(ErrUnauthorized, "token revoked")
	}
	return ident, exp, nil
}

func (s *AuthService) Me(ctx context.Context, ident *models.Identity) (*models.User, error) {
	if ident == nil || ident.IsChild() {
		return nil, forbiddenError("parent account required")
	}
	var u models.User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, role, created_at
		FROM users
		WHERE id = $1`, ident.UserID).Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundError("user not found")
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *AuthService) ChangePassword(ctx context.Context, ident *models.Identity, current, next string) error {
	if err := requireGuardian(ident); err != nil {
		return err
	}
	if len(next) < minPasswordLength {
		return validationError("password must be at least %d characters", minPasswordLength)
	}

	var stored string
	err := s.db.QueryRowContext(ctx, `SELECT password_hash FROM users WHERE id = $1`, ident.UserID).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return notFoundError("user not found")
	}
	if err != nil {
		return err
	}
	if !s.hasher.Verify(current, stored) {
		return validationError("current password is incorrect")
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE users SET password_hash = $1 WHERE id = $2`, hash, ident.UserID)
	return err
}
