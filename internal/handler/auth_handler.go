package handler

import (
	"net/http"

	"github.com/boddenberg/esim-fleet-bfa/internal/domain"
	"github.com/boddenberg/esim-fleet-bfa/internal/service"

	"github.com/gorilla/sessions"
	"go.uber.org/zap"
)

// ============================================================
// Auth
// ============================================================

func authLoginHandler(authSvc *service.AuthService, store sessions.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /api/auth/login")
		defer span.End()

		var req domain.LoginRequest
		if err := decodeJSON(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		resp, err := authSvc.Login(ctx, req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		if err := saveSession(w, r, store, resp.User); err != nil {
			logger.Error("auth: failed to save session", zap.Int64("user_id", resp.User.UserID), zap.Error(err))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func authLogoutHandler(store sessions.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := clearSession(w, r, store); err != nil {
			logger.Warn("auth: failed to clear session", zap.Error(err))
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func authMeHandler(authSvc *service.AuthService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /api/auth/me")
		defer span.End()

		p, _ := PrincipalFromContext(ctx)
		me, err := authSvc.Me(ctx, p.UserID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, me)
	}
}
