package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/services"
)

// eventStream writes Server-Sent Events. The first frame is a "status"
// snapshot; every later frame carries one services.Event.
type eventStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	logger  *zap.Logger
}

// newEventStream sets the SSE headers. It writes an error response and
// returns false when the writer cannot flush.
func newEventStream(w http.ResponseWriter, logger *zap.Logger) (*eventStream, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		logger.Error("SSE not supported")
		if err := ErrorResponse(w, http.StatusInternalServerError, "sse_unsupported", "SSE not supported"); err != nil {
			logger.Error("Failed to write error response", zap.Error(err))
		}
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	return &eventStream{w: w, flusher: flusher, logger: logger}, true
}

func (s *eventStream) send(name string, data any) {
	b, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("Failed to marshal event", zap.Error(err))
		return
	}
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, b)
	s.flusher.Flush()
}

// relay forwards events until last reports true for one of them, the channel
// closes, or the client disconnects.
func (s *eventStream) relay(r *http.Request, events <-chan services.Event, last func(services.Event) bool) {
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.send(string(ev.Type), ev)
			if last(ev) {
				return
			}
		}
	}
}
