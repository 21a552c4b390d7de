package handlers

import (
	"net/http"

	apierrors "github.com/pribylovaa/shop-backoffice/internal/http/errors"
	"github.com/pribylovaa/shop-backoffice/internal/http/middleware"
)

func (h *Handlers) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var in credentialsRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	if _, err := h.Auth.RegisterUser(r.Context(), in.Email, in.Password); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
}

func (h *Handlers) LoginUser(w http.ResponseWriter, r *http.Request) {
	var in credentialsRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	pair, err := h.Auth.LoginUser(r.Context(), in.Email, in.Password)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toTokenPair(pair))
}

func (h *Handlers) LoginGoogle(w http.ResponseWriter, r *http.Request) {
	var in googleRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}
	if in.IDToken == "" {
		apierrors.WriteError(w, r, apierrors.ErrBadRequest)
		return
	}

	pair, err := h.Auth.AuthenticateFederated(r.Context(), in.IDToken)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toTokenPair(pair))
}

func (h *Handlers) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var in refreshRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}
	if in.RefreshToken == "" {
		apierrors.WriteError(w, r, apierrors.ErrBadRequest)
		return
	}

	pair, err := h.Auth.RefreshToken(r.Context(), in.RefreshToken)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toTokenPair(pair))
}

func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	var in refreshRequest
	if err := decodeStrict(w, r, &in); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	if err := h.Auth.Logout(r.Context(), in.RefreshToken); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll требует RequireAuth: ID берётся из контекста запроса.
func (h *Handlers) LogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFrom(r.Context())
	if !ok {
		apierrors.WriteError(w, r, apierrors.ErrUnauthenticated)
		return
	}

	if _, err := h.Auth.LogoutAll(r.Context(), userID); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFrom(r.Context())
	if !ok {
		apierrors.WriteError(w, r, apierrors.ErrUnauthenticated)
		return
	}

	user, err := h.Auth.UserByID(r.Context(), userID)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toUser(user))
}
