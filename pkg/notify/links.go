package notify

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LinkTTL is how long a calendar link stays valid.
const LinkTTL = 30 * 24 * time.Hour

// ErrInvalidLink is returned for a calendar token that fails verification.
var ErrInvalidLink = errors.New("notify: invalid calendar link")

// LinkClaims identifies the reservation a calendar link opens.
type LinkClaims struct {
	ReservationNumber string `json:"rn"`
	jwt.RegisteredClaims
}

// LinkSigner issues and verifies signed calendar links.
type LinkSigner struct {
	baseURL string
	secret  []byte
	now     func() time.Time
}

// NewLinkSigner creates a signer for links under baseURL.
func NewLinkSigner(baseURL, secret string) (*LinkSigner, error) {
	if secret == "" {
		return nil, errors.New("notify: link secret required")
	}
	return &LinkSigner{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  []byte(secret),
		now:     time.Now,
	}, nil
}

// SetClock replaces the time source.
func (s *LinkSigner) SetClock(now func() time.Time) {
	s.now = now
}

// Token signs a token for the reservation.
func (s *LinkSigner) Token(reservationNumber string) (string, error) {
	now := s.now()
	claims := LinkClaims{
		ReservationNumber: reservationNumber,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "calendar",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(LinkTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// URL returns the calendar link for the reservation.
func (s *LinkSigner) URL(reservationNumber string) (string, error) {
	tok, err := s.Token(reservationNumber)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/calendar?token=%s", s.baseURL, url.QueryEscape(tok)), nil
}

// Verify checks a token and returns the reservation number it carries.
func (s *LinkSigner) Verify(token string) (string, error) {
	var claims LinkClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidLink, err)
	}
	if claims.ReservationNumber == "" {
		return "", ErrInvalidLink
	}
	return claims.ReservationNumber, nil
}
