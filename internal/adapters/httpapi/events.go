package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/hlog"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/domain"
)

const heartbeatInterval = 15 * time.Second

// handleEvents diffuse les événements métier en SSE. ?topics=schedule.created,task.assigned
// restreint le flux; sans filtre, tous les événements sont envoyés.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	kinds, err := parseTopics(r.URL.Query().Get("topics"))
	if err != nil {
		badRequest(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events, cancel := s.bus.Subscribe(kinds...)
	defer cancel()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	fmt.Fprintf(w, "event: hello\ndata: {\"status\":\"connected\"}\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			b, err := json.Marshal(evt)
			if err != nil {
				hlog.FromRequest(r).Warn().Err(err).Str("topic", evt.Topic).Msg("event not serializable")
				continue
			}
			fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", evt.ID, evt.Topic, b)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprintf(w, "event: ping\ndata: {}\n\n")
			flusher.Flush()
		}
	}
}

func parseTopics(raw string) ([]domain.EventKind, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	byTopic := map[string]domain.EventKind{}
	for _, k := range domain.EventKinds() {
		byTopic[k.Topic()] = k
	}
	var out []domain.EventKind
	for _, t := range strings.Split(raw, ",") {
		k, ok := byTopic[strings.TrimSpace(t)]
		if !ok {
			return nil, fmt.Errorf("unknown topic %q", t)
		}
		out = append(out, k)
	}
	return out, nil
}
