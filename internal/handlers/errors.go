package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"html"
	"io"
	"net/http"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/bazaar-market/ledger/internal/payments"
	"github.com/bazaar-market/ledger/internal/platform/auth"
	"github.com/bazaar-market/ledger/internal/platform/httpx"
	"github.com/bazaar-market/ledger/internal/platform/observability"
	"github.com/bazaar-market/ledger/internal/services"
)

const defaultMaxBodySize = 16 * 1024

var (
	errBodyTooLarge = errors.New("request body too large")
	errInvalidJSON  = errors.New("invalid JSON body")

	textPolicy = bluemonday.StrictPolicy()
)

// writeServiceError maps the service error taxonomy onto the failure envelope. fallback is the
// message returned for errors outside the taxonomy.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error, fallback string) {
	if err == nil {
		return
	}

	message := fallback
	var svcErr *services.Error
	if errors.As(err, &svcErr) && strings.TrimSpace(svcErr.Message) != "" {
		message = svcErr.Message
	}

	switch {
	case errors.Is(err, services.ErrNotFound):
		httpx.WriteError(ctx, w, httpx.NewError(http.StatusNotFound, message))
	case errors.Is(err, services.ErrForbidden):
		httpx.WriteError(ctx, w, httpx.NewError(http.StatusForbidden, message))
	case errors.Is(err, services.ErrInvalid):
		httpx.WriteError(ctx, w, httpx.NewError(http.StatusBadRequest, message))
	case errors.Is(err, services.ErrUpstream):
		observability.FromContext(ctx).Warn("payment gateway call failed", zap.Error(err))
		resp := httpx.NewError(http.StatusInternalServerError, message)
		var gwErr *payments.GatewayError
		if errors.As(err, &gwErr) && gwErr.Payload != nil {
			resp = resp.WithDetail(gwErr.Payload)
		}
		httpx.WriteError(ctx, w, resp)
	default:
		observability.FromContext(ctx).Error("request failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError(http.StatusInternalServerError, fallback))
	}
}

// actorFromRequest converts the authenticated identity into the caller the services expect.
func actorFromRequest(r *http.Request) (services.Actor, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		return services.Actor{}, false
	}
	roles := make([]string, 0, len(identity.Roles))
	for _, role := range identity.Roles {
		if role = strings.ToLower(strings.TrimSpace(role)); role != "" {
			roles = append(roles, role)
		}
	}
	return services.Actor{
		ID:    strings.TrimSpace(identity.UID),
		Email: strings.TrimSpace(identity.Email),
		Name:  strings.TrimSpace(identity.Name),
		Roles: roles,
	}, true
}

func requireActor(w http.ResponseWriter, r *http.Request) (services.Actor, bool) {
	actor, ok := actorFromRequest(r)
	if !ok {
		httpx.WriteError(r.Context(), w, httpx.NewError(http.StatusUnauthorized, "Authentication required"))
	}
	return actor, ok
}

// decodeJSONBody reads at most limit bytes into dst. An empty body leaves dst untouched.
func decodeJSONBody(r *http.Request, limit int64, dst any) error {
	if r == nil || r.Body == nil {
		return nil
	}
	if limit <= 0 {
		limit = defaultMaxBodySize
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return err
	}
	if int64(len(data)) > limit {
		return errBodyTooLarge
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return errInvalidJSON
	}
	return nil
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError(http.StatusRequestEntityTooLarge, "Request body exceeds allowed size"))
	case errors.Is(err, errInvalidJSON):
		httpx.WriteError(ctx, w, httpx.NewError(http.StatusBadRequest, "Invalid JSON body"))
	default:
		httpx.WriteError(ctx, w, httpx.NewError(http.StatusBadRequest, "Unable to read request body"))
	}
}

// plainText strips markup from free text supplied by callers.
func plainText(value string) string {
	return strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(value)))
}
