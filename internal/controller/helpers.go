package controller

import (
	"encoding/json"
	"errors"
	"net/http"

	domainErrors "github.com/cassiomorais/paygate/internal/domain/errors"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

var validate = validator.New()

type errorMapping struct {
	err    error
	status int
	code   string
}

// Order matters: the first match wins.
var errorMappings = []errorMapping{
	{domainErrors.ErrSignatureVerification, http.StatusUnauthorized, "invalid_signature"},
	{domainErrors.ErrWebhookParse, http.StatusBadRequest, "invalid_payload"},
	{domainErrors.ErrGatewayNotFound, http.StatusNotFound, "unknown_gateway"},
	{domainErrors.ErrAllGatewaysFailed, http.StatusServiceUnavailable, "all_gateways_failed"},
	{domainErrors.ErrVerificationFailed, http.StatusNotFound, "reference_not_found"},
	{domainErrors.ErrGatewayUnavailable, http.StatusServiceUnavailable, "gateway_unavailable"},
	{domainErrors.ErrGatewayRejected, http.StatusBadGateway, "gateway_rejected"},
	{domainErrors.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
	{domainErrors.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{domainErrors.ErrForbidden, http.StatusForbidden, "forbidden"},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error()}

	var validationErr *domainErrors.ValidationError
	if errors.As(err, &validationErr) {
		resp.Code = "validation_error"
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		resp.Code = "payload_too_large"
		writeJSON(w, http.StatusRequestEntityTooLarge, resp)
		return
	}

	var allFailed *domainErrors.AllGatewaysFailedError
	if errors.As(err, &allFailed) {
		resp.Code = "all_gateways_failed"
		resp.Failures = make([]FailureResponse, 0, len(allFailed.Failures))
		for _, f := range allFailed.Failures {
			resp.Failures = append(resp.Failures, FailureResponse{Gateway: f.Gateway, Kind: string(f.Kind), Reason: f.Reason})
		}
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			resp.Code = m.code
			writeJSON(w, m.status, resp)
			return
		}
	}

	var domainErr *domainErrors.DomainError
	if errors.As(err, &domainErr) {
		resp.Code = domainErr.Code
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	log.Error().Err(err).Msg("unhandled error in handler")
	resp.Code = "internal_error"
	resp.Error = "internal server error"
	writeJSON(w, http.StatusInternalServerError, resp)
}

func decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return err
		}
		return domainErrors.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	if err := validate.Struct(dst); err != nil {
		if ve, ok := err.(validator.ValidationErrors); ok && len(ve) > 0 {
			return domainErrors.NewValidationError(ve[0].Field(), ve[0].Tag()+" validation failed")
		}
		return domainErrors.NewValidationError("body", err.Error())
	}
	return nil
}
