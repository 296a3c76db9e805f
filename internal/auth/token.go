// Package auth extracts the agent's identity from the access token
// issued by the tutoring platform.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tutorbridge/meeting-agent/internal/models"
)

// Claims are the identity claims carried by a platform access token.
type Claims struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Identity is the resolved local participant.
type Identity struct {
	UserID string
	Role   models.Role
}

// ParseAccessToken extracts the participant identity from token. With
// a secret the signature is verified; without one the claims are
// trusted as issued (the meeting server performs its own checks on
// every request).
func ParseAccessToken(token, secret string) (*Identity, error) {
	claims := &Claims{}

	if secret != "" {
		parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil {
			return nil, fmt.Errorf("invalid access token: %w", err)
		}
		if !parsed.Valid {
			return nil, errors.New("invalid access token")
		}
	} else {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return nil, fmt.Errorf("malformed access token: %w", err)
		}
	}

	if claims.UserID == "" && claims.Subject != "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return nil, errors.New("access token missing user id")
	}

	role := models.Role(claims.Role)
	if role != models.RoleStudent && role != models.RoleTutor {
		return nil, fmt.Errorf("access token carries unknown role %q", claims.Role)
	}

	return &Identity{UserID: claims.UserID, Role: role}, nil
}
