package harness

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
)

// newStub serves routes and answers 404 to anything else.
func newStub(routes []Route) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, route := range routes {
			if route.Path != r.URL.Path || (route.Method != "" && route.Method != r.Method) {
				continue
			}
			status := route.Status
			if status == 0 {
				status = http.StatusOK
			}
			if route.Body == nil {
				w.WriteHeader(status)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(route.Body)
			return
		}
		http.NotFound(w, r)
	}))
}
