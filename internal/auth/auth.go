package auth

import (
	"context"
	"errors"
	"time"

	"github.com/Ahmadhimdauoi/ChatPro-sub000/internal/content"
	"github.com/Ahmadhimdauoi/ChatPro-sub000/internal/models"

	"github.com/c-pro/geche"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultTokenExpiry = 24 * time.Hour

	// Verified tokens are cached briefly to avoid re-parsing the JWT on
	// every request from the same session.
	verifiedTokenTTL = time.Minute
)

var (
	ErrUserExists   = errors.New("user already exists")
	ErrLoginFailed  = errors.New("login failed")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Identity is the authenticated caller extracted from a verified token.
type Identity struct {
	UserID   string
	Username string
}

// CredentialStore is the subset of the storage layer auth needs.
type CredentialStore interface {
	UpsertUser(user models.User, passwordHash string) error
	GetUser(id string) (models.User, error)
	GetUserByName(username string) (models.User, string, error)
}

type Config struct {
	Secret      string        `json:"secret"`
	TokenExpiry time.Duration `json:"tokenExpiry"`
	Issuer      string        `json:"issuer"`
}

func (c *Config) Validate() error {
	if c.Secret == "" {
		return errors.New("secret is required")
	}
	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}
	if c.Issuer == "" {
		c.Issuer = "chatpro"
	}
	return nil
}

type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type AuthService struct {
	Config
	store    CredentialStore
	verified geche.Geche[string, Identity]
	now      func() time.Time
}

func NewAuthService(ctx context.Context, config Config, store CredentialStore) (*AuthService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &AuthService{
		Config:   config,
		store:    store,
		verified: geche.NewMapTTLCache[string, Identity](ctx, verifiedTokenTTL, time.Minute),
		now:      time.Now,
	}, nil
}

// AddUser creates a user with the given password. Returns ErrUserExists if
// the username is taken.
func (as *AuthService) AddUser(username, displayName, password string) (models.User, error) {
	if err := content.ValidateUsername(username); err != nil {
		return models.User{}, err
	}

	if _, _, err := as.store.GetUserByName(username); err == nil {
		return models.User{}, ErrUserExists
	} else if !errors.Is(err, models.ErrNotFound) {
		return models.User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, err
	}

	if displayName == "" {
		displayName = username
	}

	user := models.User{
		ID:          uuid.NewString(),
		UserName:    username,
		DisplayName: content.Sanitize(displayName),
	}
	if err := as.store.UpsertUser(user, string(hash)); err != nil {
		return models.User{}, err
	}

	return user, nil
}

// Login verifies the password and issues a signed bearer token.
func (as *AuthService) Login(username, password string) (string, models.User, error) {
	user, hash, err := as.store.GetUserByName(username)
	if err != nil {
		return "", models.User{}, ErrLoginFailed
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return "", models.User{}, ErrLoginFailed
	}

	token, err := as.IssueToken(user)
	if err != nil {
		return "", models.User{}, err
	}

	return token, user, nil
}

// IssueToken signs a token carrying the user's identity.
func (as *AuthService) IssueToken(user models.User) (string, error) {
	now := as.now()
	claims := Claims{
		Username: user.UserName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    as.Issuer,
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(as.TokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(as.Secret))
}

// VerifyToken checks the token signature and expiry and returns the
// caller's identity. Tokens failing any check are rejected outright.
func (as *AuthService) VerifyToken(tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, ErrInvalidToken
	}

	if id, err := as.verified.Get(tokenString); err == nil {
		return id, nil
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(as.Secret), nil
	}, jwt.WithTimeFunc(func() time.Time { return as.now() }))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrExpiredToken
		}
		return Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	id := Identity{
		UserID:   claims.Subject,
		Username: claims.Username,
	}
	as.verified.Set(tokenString, id)

	return id, nil
}
