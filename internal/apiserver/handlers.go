// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package apiserver

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/juju/errors"

	"github.com/canonical/vetpay/core/money"
	"github.com/canonical/vetpay/domain/audit"
	"github.com/canonical/vetpay/domain/plan"
	planerrors "github.com/canonical/vetpay/domain/plan/errors"
	"github.com/canonical/vetpay/internal/confirm"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

func (h *apiHandler) serveSweep(w http.ResponseWriter, req *http.Request) {
	result := h.config.Sweeper.Run(req.Context())
	status := http.StatusOK
	if !result.OK() {
		status = http.StatusInternalServerError
	}
	h.sendStatusAndJSON(w, status, result)
}

func (h *apiHandler) serveWebhook(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxBodyBytes))
	if err != nil {
		h.sendError(w, req, errors.BadRequestf("reading body: %v", err))
		return
	}
	if err := verifySignature(h.config.WebhookSecret, body, req.Header.Get(SignatureHeader)); err != nil {
		h.sendError(w, req, err)
		return
	}

	event, err := confirm.Parse(body)
	if err != nil {
		h.sendError(w, req, err)
		return
	}

	err = confirm.Apply(req.Context(), h.config.Collections, event)
	switch {
	case errors.Is(err, planerrors.PaymentStatusConflict), errors.Is(err, planerrors.PlanStatusConflict):
		// The provider has nothing to retry.
		h.config.Logger.Infof("ignoring %s webhook: %v", event.Type, err)
		h.sendStatusAndJSON(w, http.StatusOK, webhookResponse{Status: "ignored"})
	case err != nil:
		h.sendError(w, req, err)
	default:
		h.sendStatusAndJSON(w, http.StatusOK, webhookResponse{Status: "applied"})
	}
}

type webhookResponse struct {
	Status string `json:"status"`
}

// enrollRequest is the body of an enrollment.
type enrollRequest struct {
	Owner struct {
		ID             string `json:"id"`
		Email          string `json:"email"`
		Phone          string `json:"phone"`
		PayerReference string `json:"payer_reference"`
	} `json:"owner"`
	Clinic struct {
		ID      string `json:"id"`
		Account string `json:"account"`
	} `json:"clinic"`
	BillCents float64 `json:"bill_cents"`
}

func (h *apiHandler) serveEnroll(w http.ResponseWriter, req *http.Request) {
	var args enrollRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&args); err != nil {
		h.sendError(w, req, errors.BadRequestf("decoding enrollment: %v", err))
		return
	}
	bill, err := money.FromFloat(args.BillCents)
	if err != nil {
		h.sendError(w, req, errors.Annotate(err, "bill_cents"))
		return
	}

	ctx := req.Context()
	p, err := h.config.Plans.Enroll(ctx, plan.EnrollArgs{
		Owner: plan.Owner{
			ID:             args.Owner.ID,
			Email:          args.Owner.Email,
			Phone:          args.Owner.Phone,
			PayerReference: args.Owner.PayerReference,
		},
		Clinic: plan.Clinic{
			ID:      args.Clinic.ID,
			Account: args.Clinic.Account,
		},
		Bill: bill,
	}, audit.Actor{Kind: audit.ActorClinic, ID: args.Clinic.ID})
	if err != nil {
		h.sendError(w, req, err)
		return
	}

	resp := planResponse{Plan: newPlanView(p)}

	// A plan whose deposit could not be charged stays pending and can be
	// cancelled. The enrollment itself has succeeded.
	outcome, err := h.config.Collections.CollectDeposit(ctx, p.UUID)
	if err != nil {
		h.config.Logger.Warningf("collecting deposit of plan %q: %v", p.UUID, err)
	} else {
		resp.DepositOutcome = string(outcome)
	}
	if updated, err := h.config.Plans.GetPlan(ctx, p.UUID); err == nil {
		resp.Plan = newPlanView(updated)
	}
	h.sendStatusAndJSON(w, http.StatusCreated, resp)
}

func (h *apiHandler) servePlan(w http.ResponseWriter, req *http.Request) {
	planUUID := mux.Vars(req)["uuid"]

	ctx := req.Context()
	p, err := h.config.Plans.GetPlan(ctx, planUUID)
	if err != nil {
		h.sendError(w, req, err)
		return
	}
	payments, err := h.config.Plans.PaymentsForPlan(ctx, planUUID)
	if err != nil {
		h.sendError(w, req, err)
		return
	}

	resp := planResponse{Plan: newPlanView(p)}
	for _, pay := range payments {
		resp.Payments = append(resp.Payments, newPaymentView(pay))
	}
	h.sendStatusAndJSON(w, http.StatusOK, resp)
}

func (h *apiHandler) serveFundHealth(w http.ResponseWriter, req *http.Request) {
	health, err := h.config.Fund.Health(req.Context())
	if err != nil {
		h.sendError(w, req, err)
		return
	}
	h.sendStatusAndJSON(w, http.StatusOK, fundHealthResponse{
		ContributionsCents: int64(health.Contributions),
		ClaimsCents:        int64(health.Claims),
		RecoveriesCents:    int64(health.Recoveries),
		BalanceCents:       int64(health.Balance),
		ExposureCents:      int64(health.Exposure),
		ActivePlans:        health.ActivePlans,
		CoverageRatio:      health.CoverageRatio,
		Covered:            health.Covered(),
	})
}

type fundHealthResponse struct {
	ContributionsCents int64   `json:"contributions_cents"`
	ClaimsCents        int64   `json:"claims_cents"`
	RecoveriesCents    int64   `json:"recoveries_cents"`
	BalanceCents       int64   `json:"balance_cents"`
	ExposureCents      int64   `json:"exposure_cents"`
	ActivePlans        int     `json:"active_plans"`
	CoverageRatio      float64 `json:"coverage_ratio"`
	Covered            bool    `json:"covered"`
}

type planResponse struct {
	Plan           planView      `json:"plan"`
	Payments       []paymentView `json:"payments,omitempty"`
	DepositOutcome string        `json:"deposit_outcome,omitempty"`
}

type planView struct {
	UUID             string     `json:"uuid"`
	Status           string     `json:"status"`
	OwnerID          string     `json:"owner_id"`
	ClinicID         string     `json:"clinic_id"`
	BillCents        int64      `json:"bill_cents"`
	FeeCents         int64      `json:"fee_cents"`
	TotalCents       int64      `json:"total_cents"`
	DepositCents     int64      `json:"deposit_cents"`
	RemainingCents   int64      `json:"remaining_cents"`
	InstallmentCents int64      `json:"installment_cents"`
	InstallmentCount int        `json:"installment_count"`
	NextPaymentAt    *time.Time `json:"next_payment_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

func newPlanView(p plan.Plan) planView {
	return planView{
		UUID:             p.UUID,
		Status:           string(p.Status),
		OwnerID:          p.OwnerID,
		ClinicID:         p.ClinicID,
		BillCents:        int64(p.Bill),
		FeeCents:         int64(p.Fee),
		TotalCents:       int64(p.TotalWithFee),
		DepositCents:     int64(p.Deposit),
		RemainingCents:   int64(p.Remaining),
		InstallmentCents: int64(p.Installment),
		InstallmentCount: p.InstallmentCount,
		NextPaymentAt:    p.NextPaymentAt,
		CreatedAt:        p.CreatedAt,
	}
}

type paymentView struct {
	UUID          string     `json:"uuid"`
	Type          string     `json:"type"`
	Sequence      int        `json:"sequence"`
	AmountCents   int64      `json:"amount_cents"`
	Status        string     `json:"status"`
	RetryCount    int        `json:"retry_count"`
	FailureReason string     `json:"failure_reason,omitempty"`
	ScheduledAt   time.Time  `json:"scheduled_at"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
}

func newPaymentView(p plan.Payment) paymentView {
	return paymentView{
		UUID:          p.UUID,
		Type:          string(p.Type),
		Sequence:      p.Sequence,
		AmountCents:   int64(p.Amount),
		Status:        string(p.Status),
		RetryCount:    p.RetryCount,
		FailureReason: p.FailureReason,
		ScheduledAt:   p.ScheduledAt,
		ProcessedAt:   p.ProcessedAt,
	}
}
