// Package handler holds the HTTP handlers of the settlement API.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/premarket/internal/domain"
	"github.com/alanyoungcy/premarket/internal/server/middleware"
)

// maxBody caps decoded request bodies.
const maxBody = 1 << 20

// codeInvalidRequest marks malformed requests rejected before reaching the
// engine.
const codeInvalidRequest = "InvalidRequest"

// writeJSON marshals v as JSON and writes it with the given status. If
// marshaling fails it falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// writeError sends {"error": msg, "code": code}.
func writeError(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

func badRequest(w http.ResponseWriter, format string, args ...any) {
	writeError(w, http.StatusBadRequest, fmt.Sprintf(format, args...), codeInvalidRequest)
}

// statusFor maps an engine error kind to an HTTP status.
func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindState:
		return http.StatusConflict
	case domain.KindTransfer:
		return http.StatusPaymentRequired
	case domain.KindAuth:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError answers with the status and code carried by err. Errors
// without a code are logged and reported as a bare 500.
func writeDomainError(w http.ResponseWriter, logger *slog.Logger, err error) {
	if code := domain.CodeOf(err); code != "" {
		writeError(w, statusFor(domain.KindOf(err)), err.Error(), code)
		return
	}
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found", "NotFound")
		return
	}
	logger.Error("request failed", slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "internal server error", "")
}

// decodeJSON strictly decodes the request body into v. An empty body leaves v
// untouched.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// callFrom builds the engine call for the authenticated caller. attached is
// the optional native value, as a decimal string.
func callFrom(r *http.Request, attached string) (domain.Call, error) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		return domain.Call{}, errUnsigned
	}
	call := domain.Call{Caller: caller}
	if attached != "" {
		v, err := parseAmount("attached_value", attached)
		if err != nil {
			return domain.Call{}, err
		}
		call.Value = v
	}
	return call, nil
}

var errUnsigned = errors.New("request must be signed")

// writeCallError reports a callFrom failure.
func writeCallError(w http.ResponseWriter, err error) {
	if errors.Is(err, errUnsigned) {
		writeError(w, http.StatusUnauthorized, err.Error(), "Unauthorized")
		return
	}
	badRequest(w, "%s", err.Error())
}

// parseAmount parses a non-negative base-10 integer.
func parseAmount(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("%s: %q is not a base-10 integer", field, s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%s: must not be negative", field)
	}
	return v, nil
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%s: %q is not an address", field, s)
	}
	return common.HexToAddress(s), nil
}

// parseAssetID accepts a 0x-prefixed 32-byte hex id.
func parseAssetID(field, s string) (domain.AssetID, error) {
	b, err := hexutil.Decode(strings.TrimSpace(s))
	if err != nil || len(b) != common.HashLength {
		return domain.AssetID{}, fmt.Errorf("%s: %q is not a 0x-prefixed 32-byte hex id", field, s)
	}
	return common.BytesToHash(b), nil
}

func parseID(r *http.Request) (uint64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("id: %q is not a positive integer", raw)
	}
	return id, nil
}

// parseListOpts extracts pagination and time-range parameters.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{Limit: limit, Offset: offset}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"since", &opts.Since}, {"until", &opts.Until}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return domain.ListOpts{}, fmt.Errorf("%s: want RFC 3339 time, got %q", p.name, v)
		}
		*p.dst = &t
	}
	return opts, nil
}

// logHandler attaches the handler name to logger.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("component", "http"), slog.String("handler", handler))
}

func errRequired(field string) error {
	return fmt.Errorf("%s is required", field)
}
