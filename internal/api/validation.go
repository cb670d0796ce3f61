package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/domain"
	"github.com/janindujm/Computer-Engineering-project-backend-sem-5/internal/metrics"
)

// Pagination defaults and limits for list endpoints.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// maxRequestBodySize is the largest accepted request body (1MB).
const maxRequestBodySize = 1 << 20

var errBodyTooLarge = errors.New("request body too large")

// decodeBody decodes a JSON body into v. Domain validation errors raised
// while decoding (unknown weekday, bad time) keep their kind.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return errBodyTooLarge
		case errors.Is(err, domain.ErrValidation):
			return err
		default:
			return fmt.Errorf("%w: invalid json: %w", domain.ErrValidation, err)
		}
	}
	return nil
}

func validateCommand(req CommandRequest) (domain.Command, error) {
	if strings.TrimSpace(req.DeviceID) == "" {
		return "", fmt.Errorf("%w: device_id is required", domain.ErrValidation)
	}
	return domain.ParseCommand(req.Command)
}

func validateFire(req FireRequest) (domain.TriggerAction, error) {
	if strings.TrimSpace(req.DeviceID) == "" {
		return "", fmt.Errorf("%w: device_id is required", domain.ErrValidation)
	}
	return domain.ParseTriggerAction(req.Action)
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBodyTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUpstream), errors.Is(err, domain.ErrChannel):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// parsePagination reads limit and offset. A missing or zero limit means
// DefaultLimit.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit

	if s := r.URL.Query().Get("limit"); s != "" {
		limit, err = strconv.Atoi(s)
		if err != nil || limit < 0 {
			return 0, 0, fmt.Errorf("%w: invalid limit %q", domain.ErrValidation, s)
		}
		if limit > MaxLimit {
			return 0, 0, fmt.Errorf("%w: limit exceeds maximum of %d", domain.ErrValidation, MaxLimit)
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if s := r.URL.Query().Get("offset"); s != "" {
		offset, err = strconv.Atoi(s)
		if err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("%w: invalid offset %q", domain.ErrValidation, s)
		}
	}

	return limit, offset, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return items[:0]
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func errorKind(err error) string {
	if errors.Is(err, errBodyTooLarge) {
		return "too_large"
	}
	return metrics.ClassifyError(err)
}
