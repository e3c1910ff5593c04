package supervisor

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/corallang/voicerelay/pkg/relay/stats"
	"github.com/corallang/voicerelay/pkg/relay/token"
)

// DefaultPathPrefix is the relay's external WebSocket path prefix.
const DefaultPathPrefix = "/ws/voice"

// NewRouter builds the relay's HTTP surface: the WebSocket upgrade
// endpoints under pathPrefix (with or without a path-segment session id)
// and "GET /ws/stats".
func NewRouter(sup *Supervisor, agg *stats.Aggregator, pathPrefix string) http.Handler {
	if pathPrefix == "" {
		pathPrefix = DefaultPathPrefix
	}

	r := mux.NewRouter()
	r.HandleFunc(pathPrefix+"/{sessionId}", func(w http.ResponseWriter, req *http.Request) {
		sup.ServeWS(w, req, mux.Vars(req)["sessionId"])
	})
	r.HandleFunc(pathPrefix, func(w http.ResponseWriter, req *http.Request) {
		sup.ServeWS(w, req, "")
	})
	r.HandleFunc("/ws/stats", statsHandler(sup, agg)).Methods(http.MethodGet)
	return r
}

// statsHandler wraps stats.Handler with token verification and, when the
// supervisor has an AuthPolicy configured, a PermSessionAdmin check.
func statsHandler(sup *Supervisor, agg *stats.Aggregator) http.HandlerFunc {
	inner := stats.Handler(agg)
	return func(w http.ResponseWriter, r *http.Request) {
		tok, err := token.FromRequest(r)
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		if _, err := sup.AuthorizeStats(r.Context(), tok); err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		inner(w, r)
	}
}
