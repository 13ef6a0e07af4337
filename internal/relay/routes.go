package relay

import (
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/jwtauth"
	log "github.com/sirupsen/logrus"
)

func SetRoutes(r chi.Router, h *Handler, tokenAuth *jwtauth.JWTAuth) {
	r.Route("/v1", func(r chi.Router) {
		// Secure routes
		r.Group(func(r chi.Router) {
			r.Use(jwtauth.Verifier(tokenAuth))
			r.Use(jwtauth.Authenticator)

			r.Get("/ws", h.HandleWebSocket)
			r.Get("/health", h.HealthHandler)
			r.Get("/rooms/{code}", h.RoomHandler)
		})
	})
}

func InitAuth(secret string) *jwtauth.JWTAuth {
	return jwtauth.New("HS256", []byte(secret), nil)
}

// IssueToken signs a client token valid for ttl.
func IssueToken(tokenAuth *jwtauth.JWTAuth, subject string, ttl time.Duration) (string, error) {
	_, tokenString, err := tokenAuth.Encode(map[string]interface{}{
		"sub": subject,
		"exp": time.Now().Add(ttl).Unix(),
	})
	if err != nil {
		log.Errorf("failed to sign token for %s: %v", subject, err)
		return "", err
	}
	return tokenString, nil
}
