package websocket

import (
	"net/http"
	"strconv"

	ws "github.com/coder/websocket"
)

// HandleWebSocket upgrades the request and runs it as a Hub client. The
// optional child_id query parameter scopes the feed to one child.
func HandleWebSocket(hub *Hub, originPatterns []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var childID int64
		if v := r.URL.Query().Get("child_id"); v != "" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil || id < 1 {
				http.Error(w, "invalid child_id", http.StatusBadRequest)
				return
			}
			childID = id
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			hub.logger.Warn("websocket accept", "error", err)
			return
		}

		NewClient(hub, conn, childID).Run(r.Context())
	}
}
