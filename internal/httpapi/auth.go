package httpapi

import (
	"context"
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"pesanaja/backend/internal/domain"
)

// SalesmanStore is the slice of the repository the auth layer needs.
type SalesmanStore interface {
	GetSalesman(ctx context.Context, code string) (*domain.Salesman, error)
}

type AuthManager struct {
	secret        []byte
	tokenTTL      time.Duration
	salesmanStore SalesmanStore
}

type posCustomClaims struct {
	jwtlib.RegisteredClaims
	Name         string `json:"name"`
	Role         string `json:"role"`
	LocationCode string `json:"location_code"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, salesmanStore SalesmanStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}

	return &AuthManager{
		secret:        []byte(secret),
		tokenTTL:      tokenTTL,
		salesmanStore: salesmanStore,
	}
}

// Login verifies a salesman's credentials against the store. Blacklisted or
// suspended accounts are rejected with the same generic error as a wrong
// password so probes learn nothing about account state.
func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	code := strings.TrimSpace(req.SalesmanCode)
	if code == "" || strings.TrimSpace(req.Password) == "" {
		return domain.LoginResponse{}, errors.New("invalid credentials")
	}

	salesman, err := a.salesmanStore.GetSalesman(ctx, code)
	if err != nil {
		return domain.LoginResponse{}, errors.New("invalid credentials")
	}
	if salesman.Blacklisted || salesman.Suspended {
		return domain.LoginResponse{}, errors.New("invalid credentials")
	}
	if bcrypt.CompareHashAndPassword([]byte(salesman.PasswordHash), []byte(req.Password)) != nil {
		return domain.LoginResponse{}, errors.New("invalid credentials")
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(salesman, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken:  token,
		SalesmanName: salesman.Name,
		Role:         salesman.Role,
		LocationCode: salesman.LocationCode,
		ExpiresAt:    expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &posCustomClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{
		SalesmanCode: sub,
		Name:         claims.Name,
		Role:         claims.Role,
		LocationCode: claims.LocationCode,
	}, nil
}

func (a *AuthManager) sign(salesman *domain.Salesman, expiresAt time.Time) (string, error) {
	claims := posCustomClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   salesman.Code,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "pesanaja",
		},
		Name:         salesman.Name,
		Role:         salesman.Role,
		LocationCode: salesman.LocationCode,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}
