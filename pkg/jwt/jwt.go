package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrWrongScope   = errors.New("token scope mismatch")
)

// Token types.
const (
	TypeAccess = "access"
	TypeMedia  = "media"
)

// Participant roles.
const (
	RoleRequester = "requester"
	RoleProvider  = "provider"
	RoleService   = "service" // backend-to-backend calls
)

// Claims represents JWT claims for a consultation participant.
type Claims struct {
	jwt.RegisteredClaims
	ParticipantID string `json:"participant_id"`
	DisplayName   string `json:"display_name,omitempty"`
	Role          string `json:"role"`
	Type          string `json:"type"`
	RoomID        string `json:"room_id,omitempty"` // media tokens only
}

// Manager signs and validates HMAC tokens shared by the consultation services.
type Manager struct {
	secret         []byte
	accessDuration time.Duration
	mediaDuration  time.Duration
	issuer         string
	now            func() time.Time
}

// NewManager creates a new JWT manager.
func NewManager(secret string, accessDuration, mediaDuration time.Duration, issuer string) (*Manager, error) {
	if len(secret) < 16 {
		return nil, errors.New("jwt secret must be at least 16 bytes")
	}
	return &Manager{
		secret:         []byte(secret),
		accessDuration: accessDuration,
		mediaDuration:  mediaDuration,
		issuer:         issuer,
		now:            time.Now,
	}, nil
}

// IssueAccess creates an access token for a participant.
func (m *Manager) IssueAccess(participantID, displayName, role string) (string, error) {
	return m.sign(&Claims{
		RegisteredClaims: m.registered(participantID, m.accessDuration),
		ParticipantID:    participantID,
		DisplayName:      displayName,
		Role:             role,
		Type:             TypeAccess,
	})
}

// IssueMedia creates a short-lived token scoped to one media room.
func (m *Manager) IssueMedia(participantID, roomID string) (string, error) {
	return m.sign(&Claims{
		RegisteredClaims: m.registered(participantID, m.mediaDuration),
		ParticipantID:    participantID,
		Type:             TypeMedia,
		RoomID:           roomID,
	})
}

// ValidateToken validates an access token and returns its claims.
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	claims, err := m.parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Type != TypeAccess {
		return nil, ErrWrongScope
	}
	return claims, nil
}

// ValidateMedia validates a media token for roomID.
func (m *Manager) ValidateMedia(tokenString, roomID string) (*Claims, error) {
	claims, err := m.parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Type != TypeMedia || claims.RoomID != roomID {
		return nil, ErrWrongScope
	}
	return claims, nil
}

// ParseMedia validates a media token for any room.
func (m *Manager) ParseMedia(tokenString string) (*Claims, error) {
	claims, err := m.parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Type != TypeMedia || claims.RoomID == "" {
		return nil, ErrWrongScope
	}
	return claims, nil
}

func (m *Manager) registered(subject string, ttl time.Duration) jwt.RegisteredClaims {
	now := m.now()
	return jwt.RegisteredClaims{
		Issuer:    m.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (m *Manager) parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer), jwt.WithTimeFunc(m.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.ParticipantID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (m *Manager) sign(claims *Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}
