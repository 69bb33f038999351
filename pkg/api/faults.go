package api

import (
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/platinummonkey/catalog/pkg/httputil"
	"github.com/platinummonkey/catalog/pkg/observability"
)

// FaultKind is one of the failures GET /error reports
type FaultKind int

const (
	FaultDivByZero FaultKind = iota
	FaultIndexOutOfBounds
	FaultMissingKey
	FaultTypeMismatch
)

// Faults lists every injectable fault
var Faults = []FaultKind{FaultDivByZero, FaultIndexOutOfBounds, FaultMissingKey, FaultTypeMismatch}

var faultNames = map[FaultKind]string{
	FaultDivByZero:        "Division by zero",
	FaultIndexOutOfBounds: "Index out of bounds",
	FaultMissingKey:       "Missing key",
	FaultTypeMismatch:     "Type mismatch",
}

var faultMessages = map[FaultKind]string{
	FaultDivByZero:        "integer divide by zero",
	FaultIndexOutOfBounds: "index out of range [999] with length 0",
	FaultMissingKey:       `key "missing_key" not found`,
	FaultTypeMismatch:     `strconv.Atoi: parsing "not_a_number": invalid syntax`,
}

// Name is the stable name reported in the response type field and the
// error_type log field
func (k FaultKind) Name() string {
	if name, ok := faultNames[k]; ok {
		return name
	}
	return "Unknown fault"
}

// Message describes the failure the fault stands for
func (k FaultKind) Message() string {
	if msg, ok := faultMessages[k]; ok {
		return msg
	}
	return "unknown fault"
}

func (k FaultKind) String() string {
	return k.Name()
}

// RandomFault picks a fault uniformly at random
func RandomFault() FaultKind {
	return Faults[rand.IntN(len(Faults))]
}

type faultResponse struct {
	Error     string    `json:"error"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// injectError handles GET /error: it always answers 500 naming the fault
func (s *Server) injectError(w http.ResponseWriter, r *http.Request) {
	log := observability.FromContext(r.Context())
	log.Info("Error endpoint called, injecting a fault")

	kind := s.pickFault()

	if span := observability.SpanFromContext(r.Context()); span != nil {
		span.SetError()
		span.LogEvent(map[string]interface{}{
			"event":      "error",
			"error.kind": kind.Name(),
		})
	}

	log.WithFields(map[string]interface{}{
		"error_type": kind.Name(),
		"error":      kind.Message(),
	}).Errorf("Injected fault: %s", kind.Name())

	httputil.WriteJSON(w, http.StatusInternalServerError, faultResponse{
		Error:     "Internal server error",
		Type:      kind.Name(),
		Message:   kind.Message(),
		Timestamp: time.Now().UTC(),
	})
}
