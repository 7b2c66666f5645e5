package service

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"roomit/internal/domain"
)

// JWTService valida los access tokens emitidos por el servicio de identidad.
// El núcleo confía en la identidad que sale de acá.
type JWTService struct {
	secret    []byte
	accessTTL time.Duration
	issuer    string
}

type Claims struct {
	SubjectID int64  `json:"sid"`
	Nickname  string `json:"nickname,omitempty"`
	Role      string `json:"role"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// Recipient traduce los claims al destinatario de notificaciones.
func (c Claims) Recipient() (domain.Recipient, bool) {
	role, ok := domain.ParseRecipientRole(c.Role)
	if !ok || c.SubjectID <= 0 {
		return domain.Recipient{}, false
	}
	return domain.Recipient{Role: role, ID: c.SubjectID}, true
}

// DisplayName es el nombre que se usa como remitente en el chat.
func (c Claims) DisplayName() string {
	if name := strings.TrimSpace(c.Nickname); name != "" {
		return name
	}
	return c.Subject
}

var (
	ErrJWTInvalid = errors.New("jwt invalid")
	ErrJWTExpired = errors.New("jwt expired")
)

func NewJWTService(secret string, accessTTL time.Duration) *JWTService {
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	return &JWTService{
		secret:    []byte(secret),
		accessTTL: accessTTL,
		issuer:    "roomit",
	}
}

// IssueAccessToken firma un access token; lo usan herramientas internas y tests.
func (s *JWTService) IssueAccessToken(recipient domain.Recipient, nickname string) (string, error) {
	if len(s.secret) == 0 || !recipient.Valid() {
		return "", ErrJWTInvalid
	}
	now := time.Now().UTC()
	subject := strconv.FormatInt(recipient.ID, 10)
	claims := Claims{
		SubjectID: recipient.ID,
		Nickname:  nickname,
		Role:      string(recipient.Role),
		TokenType: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *JWTService) ParseAccessToken(accessToken string) (Claims, error) {
	if len(s.secret) == 0 {
		return Claims{}, ErrJWTInvalid
	}
	if strings.TrimSpace(accessToken) == "" {
		return Claims{}, ErrJWTInvalid
	}
	claims, err := s.parseToken(accessToken)
	if err != nil {
		return Claims{}, err
	}
	if claims.TokenType != "access" {
		return Claims{}, ErrJWTInvalid
	}
	if !s.isValidClaims(claims) {
		return Claims{}, ErrJWTInvalid
	}
	return claims, nil
}

func (s *JWTService) parseToken(tokenString string) (Claims, error) {
	var claims Claims
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	_, err := parser.ParseWithClaims(tokenString, &claims, func(_ *jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrJWTExpired
		}
		return Claims{}, ErrJWTInvalid
	}
	return claims, nil
}

func (s *JWTService) isValidClaims(claims Claims) bool {
	if _, ok := claims.Recipient(); !ok {
		return false
	}
	if claims.Subject != strconv.FormatInt(claims.SubjectID, 10) {
		return false
	}
	return strings.TrimSpace(claims.Issuer) == s.issuer
}
