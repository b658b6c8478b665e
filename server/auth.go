package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/wfunc/esquisse/logger"
	"github.com/wfunc/esquisse/models"
	"github.com/wfunc/esquisse/services"
)

const (
	tokenIssuer = "esquisse"
	callerKey   = "caller"
)

// Claims is what the identity provider puts in player tokens.
type Claims struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name,omitempty"`
	Icon     string `json:"icon,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) Profile() models.PlayerProfile {
	return models.PlayerProfile{ID: c.PlayerID, Name: c.Name, Icon: c.Icon}
}

// IssueToken signs a token for profile. The server only verifies tokens; this
// is used by tests and the command line client.
func IssueToken(profile models.PlayerProfile, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		PlayerID: profile.ID,
		Name:     profile.Name,
		Icon:     profile.Icon,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   profile.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseToken(tokenString string, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.PlayerID == "" {
		claims.PlayerID = claims.Subject
	}
	if claims.PlayerID == "" {
		return nil, errors.New("token has no player id")
	}
	return claims, nil
}

// bearerToken reads the Authorization header, falling back to the token query
// parameter for websocket clients that cannot set headers.
func bearerToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
		return ""
	}
	return c.Query("token")
}

// AuthMiddleware requires a valid player token and stores the caller profile.
func AuthMiddleware(secret string, players *services.PlayerService) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			writeError(c, services.ErrUnauthenticated)
			c.Abort()
			return
		}

		claims, err := ParseToken(raw, secret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, errorBody{Code: string(services.CodeUnauthenticated), Message: "invalid or expired token"})
			c.Abort()
			return
		}

		profile := claims.Profile()
		if players != nil {
			if err := players.RememberProfile(c.Request.Context(), profile); err != nil {
				logger.Log.Warnf("Failed to remember profile of %s: %v", profile.ID, err)
			}
		}

		c.Set(callerKey, profile)
		c.Next()
	}
}

// callerFrom returns the authenticated caller, or an empty profile.
func callerFrom(c *gin.Context) models.PlayerProfile {
	if v, ok := c.Get(callerKey); ok {
		if profile, ok := v.(models.PlayerProfile); ok {
			return profile
		}
	}
	return models.PlayerProfile{}
}
