package auth

import (
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/lsat-prep/cat/internal/models"
)

// TokenTTL is how long an issued token stays valid.
const TokenTTL = 24 * time.Hour

// Handler issues bearer tokens to the configured service client.
type Handler struct {
	secret     []byte
	clientID   string
	secretHash []byte
	now        func() time.Time
}

func NewHandler(secret []byte, clientID, clientSecretHash string) *Handler {
	return &Handler{
		secret:     secret,
		clientID:   clientID,
		secretHash: []byte(clientSecretHash),
		now:        time.Now,
	}
}

func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	var req models.TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return
	}

	req.ClientID = strings.TrimSpace(req.ClientID)
	if req.ClientID == "" || req.ClientSecret == "" {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "clientId and clientSecret are required"})
		return
	}

	idOK := subtle.ConstantTimeCompare([]byte(req.ClientID), []byte(h.clientID)) == 1
	if err := bcrypt.CompareHashAndPassword(h.secretHash, []byte(req.ClientSecret)); err != nil || !idOK {
		log.Printf("[auth] rejected credentials for client %q", req.ClientID)
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Invalid client credentials"})
		return
	}

	expires := h.now().Add(TokenTTL)
	token, err := generateToken(h.secret, req.ClientID, h.now(), expires)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to generate token"})
		return
	}

	writeJSON(w, http.StatusOK, models.TokenResponse{Token: token, ExpiresAt: expires.Unix()})
}

func generateToken(secret []byte, clientID string, issued, expires time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub": clientID,
		"exp": expires.Unix(),
		"iat": issued.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
