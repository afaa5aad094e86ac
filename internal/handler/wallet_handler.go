package handler

import (
	"io"
	"net/http"

	"github.com/boddenberg/esim-fleet-bfa/internal/domain"
	"github.com/boddenberg/esim-fleet-bfa/internal/service"

	"go.uber.org/zap"
)

// ============================================================
// Wallet & payments
// ============================================================

func getWalletHandler(svc *service.WalletService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /api/wallet")
		defer span.End()

		p, _ := PrincipalFromContext(ctx)
		wallet, err := svc.GetWallet(ctx, p.CompanyID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, wallet)
	}
}

func topUpHandler(svc *service.WalletService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /api/wallet/top-up")
		defer span.End()

		var req domain.TopUpRequest
		if err := decodeJSON(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		p, _ := PrincipalFromContext(ctx)
		session, err := svc.CreateTopUp(ctx, p.CompanyID, req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, session)
	}
}

func paymentWebhookHandler(svc *service.WalletService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /api/payments/webhook")
		defer span.End()

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		credited, err := svc.HandlePaymentWebhook(ctx, payload, r.Header.Get("Stripe-Signature"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"received": true, "credited": credited})
	}
}
