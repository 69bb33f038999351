package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// ErrEmptyBody is returned by ParseJSON when the request carries no JSON
// document
var ErrEmptyBody = errors.New("missing JSON data")

// ParseJSON decodes JSON from the request body into the destination. A
// body that is empty or the literal null yields ErrEmptyBody.
func ParseJSON(r *http.Request, dest interface{}) error {
	if r.Body == nil {
		return ErrEmptyBody
	}
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrEmptyBody
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if string(raw) == "null" {
		return ErrEmptyBody
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// GetPathVar returns a path variable, or "" when absent
func GetPathVar(r *http.Request, key string) string {
	return mux.Vars(r)[key]
}

// ParsePathInt64 extracts and parses an int64 path parameter
func ParsePathInt64(r *http.Request, key string) (int64, error) {
	vars := mux.Vars(r)
	str := vars[key]
	if str == "" {
		return 0, fmt.Errorf("missing path parameter: %s", key)
	}
	val, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %s", key, str)
	}
	return val, nil
}

// RouteTemplate returns a request namer reporting the path template of the
// router's matching route. Requests matching no route are named "unmatched".
func RouteTemplate(router *mux.Router) func(*http.Request) string {
	return func(r *http.Request) string {
		var match mux.RouteMatch
		if router.Match(r, &match) && match.Route != nil && match.MatchErr == nil {
			if tpl, err := match.Route.GetPathTemplate(); err == nil {
				return tpl
			}
		}
		return "unmatched"
	}
}
