package httpmiddleware

import (
	"net/http"

	"github.com/go-faster/jx"
)

// WriteError writes a JSON error body of the form
// {"code": status, "message": message, "request_id": id}.
func WriteError(w http.ResponseWriter, r *http.Request, status int, message string) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Int(status) })
		e.Field("message", func(e *jx.Encoder) { e.Str(message) })
		if id := RequestIDFromContext(r.Context()); id != "" {
			e.Field("request_id", func(e *jx.Encoder) { e.Str(id) })
		}
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
