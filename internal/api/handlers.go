package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"time"

	"echohub/internal/auth"
	"echohub/internal/delivery"
	"echohub/internal/filestore"
	"echohub/internal/models"
	"echohub/internal/storage"
)

type API struct {
	auth        *auth.Service
	store       *storage.BboltStorage
	files       filestore.FileStore
	coordinator *delivery.Coordinator
}

func New(auth *auth.Service, store *storage.BboltStorage, files filestore.FileStore, coordinator *delivery.Coordinator) *API {
	return &API{
		auth:        auth,
		store:       store,
		files:       files,
		coordinator: coordinator,
	}
}

type signupRequest struct {
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.FullName == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "All fields are required")
		return
	}

	user, token, err := a.auth.SignUp(req.Email, req.FullName, req.Password)
	if err != nil {
		if errors.Is(err, models.ErrEmailExists) {
			writeError(w, http.StatusBadRequest, "Email already registered")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	a.setTokenCookie(w, token)
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, token, err := a.auth.Login(req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrThrottled):
			writeError(w, http.StatusTooManyRequests, err.Error())
		case errors.Is(err, auth.ErrInvalidCredentials):
			writeError(w, http.StatusBadRequest, "Invalid credentials")
		default:
			writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	a.setTokenCookie(w, token)
	writeJSON(w, http.StatusOK, user)
}

func (a *API) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if token := a.getToken(r); token != "" {
		if err := a.auth.Logoff(token); err != nil {
			log.Printf("failed to log off token: %v", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		HttpOnly: true,
		Path:     "/",
		MaxAge:   -1,
	})

	writeJSON(w, http.StatusOK, models.APIResponse{Success: true, Message: "Logged out"})
}

// CheckHandler returns the authenticated caller's own record. The frontend
// uses it to restore a session on page load.
func (a *API) CheckHandler(w http.ResponseWriter, r *http.Request) {
	user, err := a.store.GetUser(userIDFrom(r))
	if err != nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProfilePic string `json:"profilePic"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ProfilePic == "" {
		writeError(w, http.StatusBadRequest, "Profile pic is required")
		return
	}

	userID := userIDFrom(r)
	fileID, err := a.saveImage(userID, req.ProfilePic)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := a.store.UpdateUserAvatar(userID, fileID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) getToken(r *http.Request) string {
	token := r.Header.Get("token")
	if token == "" {
		if c, err := r.Cookie("token"); err == nil {
			token = c.Value
		}
	}
	return token
}

func (a *API) setTokenCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    token,
		HttpOnly: true,
		Path:     "/",
		Expires:  time.Now().Add(a.auth.TokenExpiry),
	})
}

type contextKey string

const userIDKey contextKey = "userID"

// RequireAuth resolves the session token and injects the verified user ID
// into the request context.
func (a *API) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.auth.GetUserID(a.getToken(r))
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	}
}

func userIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

// RequireSameOrigin rejects cross-origin requests on mutating endpoints.
// Requests without an Origin header (curl, tests) pass through.
func RequireSameOrigin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			u, err := url.Parse(origin)
			if err != nil || u.Host != r.Host {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.APIResponse{Success: false, Message: message})
}
