// Package auth resolves callers to users. The directory is a fixed set of
// demo accounts; sessions are HS256 JWTs signed with the server secret.
package auth

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/mossy-p/webrtc-mesh/internal/models"
)

const TokenTTL = 24 * time.Hour

var (
	ErrUnknownUser   = errors.New("unknown user")
	ErrGroupMismatch = errors.New("user does not belong to group")
	ErrInvalidToken  = errors.New("invalid token")
)

var mockUsers = map[string]models.User{
	"teacher@math101":  {Name: "Professor Smith", Role: models.RoleTeacher, GroupID: "math101"},
	"student1@math101": {Name: "Alice Johnson", Role: models.RoleStudent, GroupID: "math101"},
	"student2@math101": {Name: "Bob Wilson", Role: models.RoleStudent, GroupID: "math101"},
	"student3@math101": {Name: "Carol Davis", Role: models.RoleStudent, GroupID: "math101"},
	"student4@math101": {Name: "David Brown", Role: models.RoleStudent, GroupID: "math101"},
}

// Claims represents the claims in a session token
type Claims struct {
	Email   string      `json:"email"`
	Name    string      `json:"name"`
	Role    models.Role `json:"role"`
	GroupID string      `json:"group_id"`
	jwt.RegisteredClaims
}

// Authenticator issues and verifies session tokens.
type Authenticator struct {
	secret []byte
	now    func() time.Time
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret), now: time.Now}
}

// Lookup returns the directory entry for email.
func Lookup(email string) (models.User, bool) {
	u, ok := mockUsers[email]
	if !ok {
		return models.User{}, false
	}
	u.Email = email
	return u, true
}

// Users lists the directory sorted by email.
func Users() []models.User {
	out := make([]models.User, 0, len(mockUsers))
	for email := range mockUsers {
		u, _ := Lookup(email)
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out
}

// Login checks email against the directory and group, then issues a token.
func (a *Authenticator) Login(email, groupID string) (string, models.User, error) {
	user, ok := Lookup(email)
	if !ok {
		return "", models.User{}, ErrUnknownUser
	}
	if user.GroupID != groupID {
		return "", models.User{}, ErrGroupMismatch
	}

	now := a.now()
	claims := Claims{
		Email:   user.Email,
		Name:    user.Name,
		Role:    user.Role,
		GroupID: user.GroupID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.Email,
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", models.User{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, user, nil
}

// Verify parses a session token and returns its user.
func (a *Authenticator) Verify(tokenString string) (models.User, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil {
		return models.User{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Email == "" || claims.GroupID == "" {
		return models.User{}, ErrInvalidToken
	}
	return models.User{
		Email:   claims.Email,
		Name:    claims.Name,
		Role:    claims.Role,
		GroupID: claims.GroupID,
	}, nil
}
