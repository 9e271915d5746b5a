// Package auth はJWTの発行・検証と、ログアウト時の失効管理を行います。
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"trophyserver/models"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrRevokedToken = errors.New("token has been revoked")
)

// RevocationStore は失効したトークンID（jti）を保持する
type RevocationStore interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// RedisRevocations は "revoked:<jti>" キーで失効を記録します。
// キーの有効期限はトークンの残り寿命と同じなので、期限切れのトークン分は自然に消える
type RedisRevocations struct {
	rdb *redis.Client
}

func NewRedisRevocations(rdb *redis.Client) *RedisRevocations {
	return &RedisRevocations{rdb: rdb}
}

func revokedKey(jti string) string {
	return "revoked:" + jti
}

func (r *RedisRevocations) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	return r.rdb.Set(ctx, revokedKey(jti), 1, ttl).Err()
}

func (r *RedisRevocations) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.rdb.Exists(ctx, revokedKey(jti)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// TokenIssuer はHS256で署名したトークンを発行し、資格情報から呼び出し元のユーザーIDを解決する
type TokenIssuer struct {
	key     []byte
	ttl     time.Duration
	revoked RevocationStore
	now     func() time.Time
}

// NewTokenIssuer は revoked が nil の場合、失効確認を行わない
func NewTokenIssuer(secret string, ttl time.Duration, revoked RevocationStore) *TokenIssuer {
	return &TokenIssuer{key: []byte(secret), ttl: ttl, revoked: revoked, now: time.Now}
}

// Issue はユーザーのトークンを生成します。
func (i *TokenIssuer) Issue(userID uint, username string) (string, time.Time, error) {
	now := i.now()
	expiresAt := now.Add(i.ttl)
	claims := &models.MyClaims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, expiresAt, nil
}

// Resolve は資格情報（"Bearer " 付きでも可）を検証し、ユーザーIDを返します。
func (i *TokenIssuer) Resolve(ctx context.Context, credential string) (uint, error) {
	claims, err := i.parse(credential)
	if err != nil {
		return 0, err
	}
	if i.revoked != nil {
		revoked, err := i.revoked.IsRevoked(ctx, claims.ID)
		if err != nil {
			return 0, fmt.Errorf("check revocation: %w", err)
		}
		if revoked {
			return 0, ErrRevokedToken
		}
	}
	return claims.UserID, nil
}

// Revoke はトークンを残りの有効期間だけ失効させます。
func (i *TokenIssuer) Revoke(ctx context.Context, credential string) error {
	claims, err := i.parse(credential)
	if err != nil {
		return err
	}
	if i.revoked == nil {
		return nil
	}
	ttl := claims.ExpiresAt.Time.Sub(i.now())
	if ttl <= 0 {
		return nil
	}
	if err := i.revoked.Revoke(ctx, claims.ID, ttl); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (i *TokenIssuer) parse(credential string) (*models.MyClaims, error) {
	tokenString := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(credential), "Bearer "))
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	claims := &models.MyClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return i.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID == 0 || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
