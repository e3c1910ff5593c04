package stats

import (
	"encoding/json"
	"net/http"
)

// Handler serves "GET /ws/stats" as a JSON-encoded Snapshot.
func Handler(agg *Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(agg.Snapshot())
	}
}
