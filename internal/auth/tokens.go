package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/bobmcallan/depot/internal/apperr"
	"github.com/bobmcallan/depot/internal/common"
	"github.com/bobmcallan/depot/internal/models"
	"github.com/bobmcallan/depot/internal/storage/kvcache"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"

	revokedTokenPrefix = "revoked:token:"
	revokedUserPrefix  = "revoked:user:"

	// minRevokeTTL keeps a revocation mark alive for tokens right at the
	// edge of expiry so the mark outlives the token.
	minRevokeTTL = time.Second
)

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"` // access token lifetime in seconds
}

// TokenService issues and verifies the access/refresh token pair. The two
// token classes are signed with independent secrets so one can never stand
// in for the other. Revocation marks live in the key/value cache and are
// advisory: a cache failure degrades to accepting unexpired tokens rather
// than locking everyone out.
type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	cache         *kvcache.Cache
	logger        *common.Logger
}

// NewTokenService builds the token service from configuration. In
// development mode, missing secrets are replaced with ephemeral random ones
// so the server still runs, at the cost of invalidating sessions on
// restart.
func NewTokenService(cfg *common.AuthConfig, cache *kvcache.Cache, logger *common.Logger) *TokenService {
	access := cfg.AccessTokenSecret
	refresh := cfg.RefreshTokenSecret
	if access == "" {
		access = randomSecret()
		logger.Warn().Msg("ACCESS_TOKEN_SECRET not set, using an ephemeral secret; sessions will not survive a restart")
	}
	if refresh == "" {
		refresh = randomSecret()
		logger.Warn().Msg("REFRESH_TOKEN_SECRET not set, using an ephemeral secret; sessions will not survive a restart")
	}

	return &TokenService{
		accessSecret:  []byte(access),
		refreshSecret: []byte(refresh),
		accessExpiry:  cfg.GetAccessTokenExpiry(),
		refreshExpiry: cfg.GetRefreshTokenExpiry(),
		cache:         cache,
		logger:        logger,
	}
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate ephemeral secret: %v", err))
	}
	return hex.EncodeToString(b)
}

// AccessExpiry returns the configured access token lifetime.
func (s *TokenService) AccessExpiry() time.Duration { return s.accessExpiry }

// RefreshExpiry returns the configured refresh token lifetime.
func (s *TokenService) RefreshExpiry() time.Duration { return s.refreshExpiry }

// IssuePair mints a fresh access/refresh pair for a user.
func (s *TokenService) IssuePair(user *models.User) (*TokenPair, error) {
	now := time.Now().UTC()

	access, err := s.sign(user, tokenTypeAccess, s.accessSecret, now, s.accessExpiry)
	if err != nil {
		return nil, err
	}
	refresh, err := s.sign(user, tokenTypeRefresh, s.refreshSecret, now, s.refreshExpiry)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int(s.accessExpiry.Seconds()),
	}, nil
}

func (s *TokenService) sign(user *models.User, typ string, secret []byte, now time.Time, expiry time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":  user.ID,
		"role": user.Role,
		"typ":  typ,
		"jti":  uuid.New().String(),
		"iat":  now.Unix(),
		"exp":  now.Add(expiry).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "failed to sign token", err)
	}
	return signed, nil
}

// VerifyAccess validates an access token and returns the caller identity.
func (s *TokenService) VerifyAccess(tokenString string) (*common.Identity, error) {
	return s.verify(tokenString, tokenTypeAccess, s.accessSecret)
}

// VerifyRefresh validates a refresh token and returns the caller identity.
func (s *TokenService) VerifyRefresh(tokenString string) (*common.Identity, error) {
	return s.verify(tokenString, tokenTypeRefresh, s.refreshSecret)
}

func (s *TokenService) verify(tokenString, wantType string, secret []byte) (*common.Identity, error) {
	claims, err := s.parse(tokenString, secret)
	if err != nil {
		return nil, err
	}
	if typ, _ := claims["typ"].(string); typ != wantType {
		return nil, apperr.New(apperr.KindUnauthorized, "invalid token")
	}

	sub, _ := claims["sub"].(string)
	role, _ := claims["role"].(string)
	jti, _ := claims["jti"].(string)
	if sub == "" || jti == "" || !models.ValidRole(role) {
		return nil, apperr.New(apperr.KindUnauthorized, "invalid token")
	}
	issuedAt := claimTime(claims, "iat")

	if s.isRevoked(jti, sub, issuedAt) {
		return nil, apperr.New(apperr.KindUnauthorized, "token has been revoked")
	}

	return &common.Identity{
		UserID:        sub,
		Role:          role,
		TokenID:       jti,
		TokenIssuedAt: issuedAt,
	}, nil
}

func (s *TokenService) parse(tokenString string, secret []byte) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return nil, apperr.New(apperr.KindUnauthorized, "invalid or expired token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, apperr.New(apperr.KindUnauthorized, "invalid token")
	}
	return claims, nil
}

// isRevoked checks the per-token and per-user revocation marks. Cache
// errors fail open.
func (s *TokenService) isRevoked(jti, userID string, issuedAt time.Time) bool {
	revoked, err := s.cache.Has(revokedTokenPrefix + jti)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Revocation check failed, accepting token")
		return false
	}
	if revoked {
		return true
	}

	value, found, err := s.cache.Get(revokedUserPrefix + userID)
	if err != nil {
		s.logger.Warn().Err(err).Msg("User invalidation check failed, accepting token")
		return false
	}
	if !found {
		return false
	}
	cutoff, err := strconv.ParseInt(string(value), 10, 64)
	if err != nil {
		return true
	}
	// Tokens minted at or before the invalidation instant are dead.
	// iat has one-second resolution, so a login in the same second as
	// the invalidation must be repeated; correctness wins over the
	// marginal inconvenience.
	return !issuedAt.After(time.Unix(cutoff, 0))
}

// Revoke marks a single token as unusable for the remainder of its
// lifetime. Expired or malformed tokens are a no-op: there is nothing
// left to revoke.
func (s *TokenService) Revoke(tokenString string) error {
	claims := s.parseUnverifiedExpiry(tokenString)
	if claims == nil {
		return nil
	}
	jti, _ := claims["jti"].(string)
	if jti == "" {
		return nil
	}
	remaining := time.Until(claimTime(claims, "exp"))
	if remaining <= 0 {
		return nil
	}
	if remaining < minRevokeTTL {
		remaining = minRevokeTTL
	}
	// First mark wins; a re-revoked token keeps its original TTL.
	if _, err := s.cache.SetIfAbsent(revokedTokenPrefix+jti, []byte("1"), remaining); err != nil {
		return apperr.Wrap(apperr.KindInternal, "failed to revoke token", err)
	}
	return nil
}

// parseUnverifiedExpiry extracts claims without signature verification.
// Revocation only needs jti and exp, and a token that fails verification
// was never usable anyway.
func (s *TokenService) parseUnverifiedExpiry(tokenString string) jwt.MapClaims {
	token, _, err := jwt.NewParser().ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return nil
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil
	}
	return claims
}

// InvalidateUser kills every token minted for a user at or before now.
// Used on password change and role change.
func (s *TokenService) InvalidateUser(userID string) error {
	now := strconv.FormatInt(time.Now().UTC().Unix(), 10)
	if err := s.cache.Set(revokedUserPrefix+userID, []byte(now), s.refreshExpiry); err != nil {
		return apperr.Wrap(apperr.KindInternal, "failed to invalidate user sessions", err)
	}
	return nil
}

func claimTime(claims jwt.MapClaims, key string) time.Time {
	switch v := claims[key].(type) {
	case float64:
		return time.Unix(int64(v), 0).UTC()
	case int64:
		return time.Unix(v, 0).UTC()
	}
	return time.Time{}
}
