package server

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"

	"github.com/charmbracelet/log"

	"iptracker/internal/api/dto"
	"iptracker/internal/auth"
	"iptracker/internal/config"
	"iptracker/internal/database"
)

const (
	InvalidCredentialsMessage = "Invalid username or password."
	minPasswordLength         = 8
)

func (s *Server) checkLogin(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) loginInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, dto.LoginInfo{
		Message: "POST email (or username) and password as JSON or form data to sign in.",
		Fields:  []string{"email", "password"},
	})
}

// decodeCredentials accepts JSON bodies and classic form posts. form reports
// which of the two the client used.
func decodeCredentials(w http.ResponseWriter, r *http.Request) (creds dto.Credentials, form bool, err error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := r.ParseForm(); err != nil {
			return creds, true, err
		}
		creds.Email = r.PostForm.Get("email")
		creds.Username = r.PostForm.Get("username")
		creds.Password = r.PostForm.Get("password")
		return creds, true, nil
	default:
		err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&creds)
		return creds, false, err
	}
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	creds, form, err := decodeCredentials(w, r)
	if err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	user, err := s.store.FindUserByEmail(r.Context(), creds.Identifier())
	if err != nil {
		if !errors.Is(err, database.ErrUserNotFound) {
			log.Error("Login lookup failed", "error", err)
			writeError(w, "Failed to query database", http.StatusInternalServerError)
			return
		}
		auth.BurnPasswordCheck(creds.Password)
		writeError(w, InvalidCredentialsMessage, http.StatusUnauthorized)
		return
	}

	if !auth.CheckPasswordHash(creds.Password, user.Password) {
		writeError(w, InvalidCredentialsMessage, http.StatusUnauthorized)
		return
	}

	token, err := auth.GenerateJWT(user.ID, user.Role)
	if err != nil {
		writeError(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	setSessionCookie(w, token)
	log.Info("User logged in", "user_id", user.ID)

	if form {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, dto.TokenResponse{Token: token, Role: user.Role})
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	creds, _, err := decodeCredentials(w, r)
	if err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	email := creds.Identifier()
	if !auth.IsValidEmail(email) {
		writeError(w, "Invalid email format", http.StatusBadRequest)
		return
	}
	if len(creds.Password) < minPasswordLength {
		writeError(w, "Password must be at least 8 characters long", http.StatusBadRequest)
		return
	}

	hash, err := auth.HashPassword(creds.Password)
	if err != nil {
		writeError(w, "Failed to hash password", http.StatusInternalServerError)
		return
	}

	user, err := s.store.CreateUser(r.Context(), email, hash)
	switch {
	case errors.Is(err, database.ErrEmailInUse):
		writeError(w, "Email already in use", http.StatusConflict)
		return
	case err != nil:
		log.Error("Failed to create user", "error", err)
		writeError(w, "Failed to create user", http.StatusInternalServerError)
		return
	}

	token, err := auth.GenerateJWT(user.ID, user.Role)
	if err != nil {
		writeError(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	setSessionCookie(w, token)
	writeJSON(w, http.StatusCreated, dto.TokenResponse{Token: token, Role: user.Role})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   config.InProductionMode,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(auth.TokenLifetime.Seconds()),
		HttpOnly: true,
		Secure:   config.InProductionMode,
		SameSite: http.SameSiteLaxMode,
	})
}
