package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{name: "generated when absent"},
		{name: "caller id kept", incoming: "trace-42.a:b", keep: true},
		{name: "unsafe id replaced", incoming: "bad id\nwith newline"},
		{name: "oversized id replaced", incoming: string(make([]byte, 65))},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var seen string
			h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = RequestIDFromContext(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.incoming != "" {
				req.Header.Set(HeaderRequestID, tc.incoming)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if got := rr.Header().Get(HeaderRequestID); got != seen {
				t.Fatalf("header %q does not match context %q", got, seen)
			}
			if tc.keep {
				if seen != tc.incoming {
					t.Fatalf("expected %q to be kept, got %q", tc.incoming, seen)
				}
				return
			}
			if _, err := uuid.Parse(seen); err != nil {
				t.Fatalf("expected a generated uuid, got %q", seen)
			}
		})
	}
}
