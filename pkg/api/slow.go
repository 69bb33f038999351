package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/platinummonkey/catalog/pkg/httputil"
	"github.com/platinummonkey/catalog/pkg/observability"
)

type slowResponse struct {
	Message      string    `json:"message"`
	DelaySeconds float64   `json:"delay_seconds"`
	Timestamp    time.Time `json:"timestamp"`
}

// slow handles GET /slow. It waits for the configured delay, or until the
// client goes away.
func (s *Server) slow(w http.ResponseWriter, r *http.Request) {
	log := observability.FromContext(r.Context())
	seconds := s.slowDelay.Seconds()
	log.WithField("delay_seconds", seconds).Infof("Slow endpoint called, simulating %gs of latency", seconds)

	span := s.spans.StartChild(observability.SpanFromContext(r.Context()), "simulate_slow_operation")
	defer span.Finish()
	span.SetTag("delay.seconds", seconds)

	timer := time.NewTimer(s.slowDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-r.Context().Done():
		span.SetError()
		span.LogEvent(map[string]interface{}{"event": "cancelled"})
		log.WithError(r.Context().Err()).Warn("Slow request cancelled before the delay elapsed")
		httputil.WriteErrorMessage(w, http.StatusServiceUnavailable, "Request cancelled", r.Context().Err().Error())
		return
	}

	log.Infof("Latency of %gs completed", seconds)
	httputil.WriteSuccess(w, slowResponse{
		Message:      fmt.Sprintf("Response after %g seconds of latency", seconds),
		DelaySeconds: seconds,
		Timestamp:    time.Now().UTC(),
	})
}
