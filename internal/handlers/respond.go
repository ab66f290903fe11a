package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/nimasrn/credits-gateway/internal/idempotency"
	"github.com/nimasrn/credits-gateway/internal/services"
	xhttp "github.com/nimasrn/credits-gateway/pkg/http"
	"github.com/nimasrn/credits-gateway/pkg/prom"
)

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	body := ctx.PostBody()
	return json.Unmarshal(body, dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeError(ctx *xhttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}

// writeServiceError maps service sentinels onto HTTP statuses.
func writeServiceError(ctx *xhttp.RequestCtx, err error) {
	var shortfall *services.InsufficientCreditsError
	if errors.As(err, &shortfall) {
		writeJSON(ctx, 402, map[string]any{
			"error":    "insufficient credits",
			"balance":  shortfall.Balance,
			"required": shortfall.Required,
		})
		return
	}

	switch {
	case errors.Is(err, services.ErrInvalidAmount),
		errors.Is(err, services.ErrZeroAmount),
		errors.Is(err, services.ErrInvalidPackage),
		errors.Is(err, services.ErrInvalidReferralCode):
		writeError(ctx, 400, err.Error())
	case errors.Is(err, services.ErrInsufficientCredits):
		writeError(ctx, 402, err.Error())
	case errors.Is(err, services.ErrAccountNotFound),
		errors.Is(err, services.ErrUserNotFound),
		errors.Is(err, services.ErrNoPendingTransaction):
		writeError(ctx, 404, err.Error())
	case errors.Is(err, services.ErrDailyBonusClaimed),
		errors.Is(err, services.ErrReferralRedeemed),
		errors.Is(err, idempotency.ErrInFlight):
		writeError(ctx, 409, err.Error())
	case errors.Is(err, services.ErrProviderNotConfigured):
		writeError(ctx, 503, err.Error())
	default:
		writeError(ctx, 500, "internal error")
	}
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

func queryInt64(ctx *xhttp.RequestCtx, key string) (int64, error) {
	return strconv.ParseInt(query(ctx, key), 10, 64)
}

func parseTime(s string) (time.Time, error) {
	// Accept RFC3339 or YYYY-MM-DD
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// idempotencyKey reads the client-supplied retry key; empty means the
// request is not guarded.
func idempotencyKey(ctx *xhttp.RequestCtx) string {
	return string(ctx.Request.Header.Peek("Idempotency-Key"))
}

// storedResponse is the envelope snapshotted by the idempotency guard so a
// replay can reproduce both status and body.
type storedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// withIdempotency runs op under the guard when the request carries a key.
// Every error-free outcome is snapshotted, whatever its status; op errors
// pass through to the client and leave the key free for a retry.
func withIdempotency(ctx *xhttp.RequestCtx, guard *idempotency.Guard, op func() (int, any, error)) {
	key := idempotencyKey(ctx)
	if guard == nil || key == "" {
		status, v, err := op()
		if err != nil {
			writeServiceError(ctx, err)
			return
		}
		writeJSON(ctx, status, v)
		return
	}

	var opErr error
	result, err := guard.Do(ctx, key, func(context.Context) ([]byte, error) {
		status, v, err := op()
		if err != nil {
			opErr = err
			return nil, err
		}
		body, merr := json.Marshal(v)
		if merr != nil {
			return nil, merr
		}
		return json.Marshal(storedResponse{Status: status, Body: body})
	})
	if err != nil {
		if opErr != nil {
			writeServiceError(ctx, opErr)
			return
		}
		writeServiceError(ctx, err)
		return
	}

	var env storedResponse
	if jerr := json.Unmarshal(result.Body, &env); jerr != nil {
		writeError(ctx, 500, "internal error")
		return
	}
	if result.Replayed {
		prom.IncIdempotentReplay("http")
		ctx.Response.Header.Set("Idempotency-Replayed", "true")
	}
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(env.Status)
	ctx.Response.SetBodyRaw(env.Body)
}
