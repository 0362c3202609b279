package handlers

import (
	"net/http"
	"strconv"
)

// UsageHandler handles GET /api/usage?limit=N&since=M: running counters plus
// the newest persisted request rows, optionally from the last M minutes.
func (g *Gateway) UsageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		since, _ := strconv.Atoi(r.URL.Query().Get("since"))
		if g.Monitor == nil {
			writeJSON(w, http.StatusOK, map[string]interface{}{"logs": []interface{}{}})
			return
		}
		logs, err := g.Monitor.GetLogs(limit, since)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"stats": g.Monitor.GetStats(),
			"logs":  logs,
		})
	}
}
