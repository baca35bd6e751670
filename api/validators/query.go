package validators

import (
	"net/http"
	"strconv"
	"strings"

	pkgerrors "github.com/angelmondragon/cooperative-backend/pkg/errors"
)

// queryParam returns the trimmed value of key and whether it was supplied.
func queryParam(r *http.Request, key string) (string, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	return raw, raw != ""
}

func badQuery(key, msg string, extra map[string]any) error {
	details := map[string]any{"field": key}
	for k, v := range extra {
		details[k] = v
	}
	return pkgerrors.New(pkgerrors.CodeValidation, msg).WithDetails(details)
}

// ParseQueryInt reads an optional integer bounded to [min, max]. A missing
// value yields def.
func ParseQueryInt(r *http.Request, key string, def, min, max int) (int, error) {
	raw, ok := queryParam(r, key)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badQuery(key, "query parameter must be an integer", nil)
	}
	if n < min || n > max {
		return 0, badQuery(key, "query parameter out of range", map[string]any{"min": min, "max": max})
	}
	return n, nil
}

// ParseQueryBool reads an optional flag; absent means false.
func ParseQueryBool(r *http.Request, key string) (bool, error) {
	raw, ok := queryParam(r, key)
	if !ok {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, badQuery(key, "query parameter must be a boolean", nil)
	}
	return b, nil
}
