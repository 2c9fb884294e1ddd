package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/psaab/homegw/pkg/logging"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, Response{Success: false, Error: msg})
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.startTime).Truncate(time.Second).String(),
	}
	if st := s.snapshot(); st != nil {
		resp.LastEvent = st.Updated.Format(time.RFC3339)
		for _, l := range st.Links {
			if l.Role == "wan" && l.RaAttached {
				resp.UplinkAttached = true
			}
		}
		for _, p := range st.Prefixes {
			resp.Delegated += len(p.Prefixes)
		}
	}
	writeOK(w, resp)
}

func (s *Server) statusHandler(w http.ResponseWriter, _ *http.Request) {
	st := s.snapshot()
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "controller not running")
		return
	}
	writeOK(w, st)
}

func (s *Server) statusSectionHandler(w http.ResponseWriter, r *http.Request) {
	st := s.snapshot()
	if st == nil {
		writeError(w, http.StatusServiceUnavailable, "controller not running")
		return
	}
	var data any
	switch section := r.PathValue("section"); section {
	case "links":
		data = st.Links
	case "addresses":
		data = st.Addresses
	case "routes":
		data = st.Routes
	case "prefixes":
		data = st.Prefixes
	case "radvd":
		data = st.Radvd
	case "tunnels":
		data = st.Tunnels
	default:
		writeError(w, http.StatusNotFound, "unknown status section "+strconv.Quote(section))
		return
	}
	writeOK(w, data)
}

func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if s.eventBuf == nil {
		writeOK(w, []EventEntry{})
		return
	}

	limit := queryInt(r, "limit", 50)
	if limit > 10000 {
		limit = 10000
	}
	filter := logging.EventFilter{
		Link: r.URL.Query().Get("link"),
		Kind: r.URL.Query().Get("kind"),
	}

	events := s.eventBuf.LatestFiltered(limit, filter)
	result := make([]EventEntry, len(events))
	for i, ev := range events {
		result[i] = eventEntryFromRecord(ev)
	}
	writeOK(w, result)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
