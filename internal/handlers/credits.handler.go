package handlers

import (
	"context"
	"strconv"
	"strings"

	"github.com/fasthttp/router"
	"github.com/nimasrn/credits-gateway/internal/idempotency"
	"github.com/nimasrn/credits-gateway/internal/model"
	"github.com/nimasrn/credits-gateway/internal/services"
	xhttp "github.com/nimasrn/credits-gateway/pkg/http"
)

type LedgerService interface {
	GetAccount(ctx context.Context, userID int64) (*model.Account, error)
	CheckSufficient(ctx context.Context, userID int64, amount int64) (*model.SufficiencyCheck, error)
	ListTransactions(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, int64, error)
	Refund(ctx context.Context, userID int64, amount int64, reason string, originalTxID *int64) (*services.LedgerResult, error)
	Adjust(ctx context.Context, userID int64, amount int64, reason string) (*services.LedgerResult, error)
}

type ReadingService interface {
	PerformReading(ctx context.Context, userID int64, spread string) (*services.ReadingResult, error)
}

type BonusService interface {
	GrantDailyBonus(ctx context.Context, userID int64) (*services.DailyBonusResult, error)
	RedeemReferral(ctx context.Context, userID int64, code string) (*services.ReferralResult, error)
	ListUnlocked(ctx context.Context, userID int64) ([]services.Achievement, error)
}

type CreditsHandler struct {
	ledger   LedgerService
	readings ReadingService
	bonus    BonusService
	guard    *idempotency.Guard
}

func NewCreditsHandler(ledger LedgerService, readings ReadingService, bonus BonusService, guard *idempotency.Guard) *CreditsHandler {
	return &CreditsHandler{
		ledger:   ledger,
		readings: readings,
		bonus:    bonus,
		guard:    guard,
	}
}

func RegisterCreditsRoutes(e *router.Group, h *CreditsHandler) {
	e.GET("/credits/balance", h.GetBalance)
	e.GET("/credits/check", h.CheckSufficient)
	e.GET("/credits/transactions", h.ListTransactions)
	e.POST("/credits/readings", h.PerformReading)
	e.POST("/credits/refunds", h.Refund)
	e.POST("/credits/adjustments", h.Adjust)
	e.POST("/bonus/daily", h.ClaimDailyBonus)
	e.POST("/bonus/referral", h.RedeemReferral)
	e.GET("/achievements", h.ListAchievements)
	e.GET("/packages", h.ListPackages)
}

type transactionListResponse struct {
	Items []*model.Transaction `json:"items"`
	Total int64                `json:"total"`
}

/* --------------------------------- Routes ----------------------------------- */

func (h *CreditsHandler) GetBalance(ctx *xhttp.RequestCtx) {
	userID, err := queryInt64(ctx, "user_id")
	if err != nil {
		writeError(ctx, 400, "invalid user_id")
		return
	}

	acc, err := h.ledger.GetAccount(ctx, userID)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, acc)
}

func (h *CreditsHandler) CheckSufficient(ctx *xhttp.RequestCtx) {
	userID, err := queryInt64(ctx, "user_id")
	if err != nil {
		writeError(ctx, 400, "invalid user_id")
		return
	}
	amount, err := queryInt64(ctx, "amount")
	if err != nil {
		writeError(ctx, 400, "invalid amount")
		return
	}

	check, err := h.ledger.CheckSufficient(ctx, userID, amount)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, check)
}

func (h *CreditsHandler) ListTransactions(ctx *xhttp.RequestCtx) {
	var f model.TransactionFilter

	if v := query(ctx, "user_id"); v != "" {
		if id, e := strconv.ParseInt(v, 10, 64); e == nil {
			f.UserID = &id
		}
	}
	if v := query(ctx, "kind"); v != "" {
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
			if parts[i] != "" {
				f.Kinds = append(f.Kinds, model.TransactionKind(parts[i]))
			}
		}
	}
	if v := query(ctx, "status"); v != "" {
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
			if parts[i] != "" {
				f.Statuses = append(f.Statuses, model.TransactionStatus(parts[i]))
			}
		}
	}
	if v := query(ctx, "from"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.From = &t
		}
	}
	if v := query(ctx, "to"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.To = &t
		}
	}
	if v := query(ctx, "limit"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Limit = n
		}
	}
	if v := query(ctx, "offset"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Offset = n
		}
	}
	if strings.EqualFold(query(ctx, "order"), "desc") {
		f.Desc = true
	}

	items, total, err := h.ledger.ListTransactions(ctx, f)
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 200, transactionListResponse{Items: items, Total: total})
}

type performReadingRequest struct {
	UserID int64  `json:"user_id"`
	Spread string `json:"spread"`
}

func (h *CreditsHandler) PerformReading(ctx *xhttp.RequestCtx) {
	var req performReadingRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	withIdempotency(ctx, h.guard, func() (int, any, error) {
		res, err := h.readings.PerformReading(ctx, req.UserID, req.Spread)
		if err != nil {
			return 0, nil, err
		}
		return 201, res, nil
	})
}

type refundRequest struct {
	UserID        int64  `json:"user_id"`
	Amount        int64  `json:"amount"`
	Reason        string `json:"reason"`
	TransactionID *int64 `json:"transaction_id,omitempty"`
}

func (h *CreditsHandler) Refund(ctx *xhttp.RequestCtx) {
	var req refundRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	withIdempotency(ctx, h.guard, func() (int, any, error) {
		res, err := h.ledger.Refund(ctx, req.UserID, req.Amount, req.Reason, req.TransactionID)
		if err != nil {
			return 0, nil, err
		}
		return 201, res, nil
	})
}

type adjustRequest struct {
	UserID int64  `json:"user_id"`
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

func (h *CreditsHandler) Adjust(ctx *xhttp.RequestCtx) {
	var req adjustRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	withIdempotency(ctx, h.guard, func() (int, any, error) {
		res, err := h.ledger.Adjust(ctx, req.UserID, req.Amount, req.Reason)
		if err != nil {
			return 0, nil, err
		}
		return 201, res, nil
	})
}

type dailyBonusRequest struct {
	UserID int64 `json:"user_id"`
}

func (h *CreditsHandler) ClaimDailyBonus(ctx *xhttp.RequestCtx) {
	var req dailyBonusRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	res, err := h.bonus.GrantDailyBonus(ctx, req.UserID)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 201, res)
}

type referralRequest struct {
	UserID int64  `json:"user_id"`
	Code   string `json:"code"`
}

func (h *CreditsHandler) RedeemReferral(ctx *xhttp.RequestCtx) {
	var req referralRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	res, err := h.bonus.RedeemReferral(ctx, req.UserID, req.Code)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 201, res)
}

func (h *CreditsHandler) ListAchievements(ctx *xhttp.RequestCtx) {
	userID, err := queryInt64(ctx, "user_id")
	if err != nil {
		writeError(ctx, 400, "invalid user_id")
		return
	}

	unlocked, err := h.bonus.ListUnlocked(ctx, userID)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, 200, map[string]any{"items": unlocked})
}

func (h *CreditsHandler) ListPackages(ctx *xhttp.RequestCtx) {
	writeJSON(ctx, 200, map[string]any{"items": model.Packages()})
}
