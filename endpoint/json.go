package endpoint

import (
	"encoding/json"
	"net/http"
)

// JSONRenderer writes Value as a JSON document, trailing newline included,
// under Content-Type "application/json". An encoding failure surfaces only
// after the status line is out, so it is a best-effort signal.
type JSONRenderer struct {
	Status int
	Value  any
}

func (j *JSONRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	w.Header().Set("Content-Type", "application/json")
	status := j.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(j.Value)
}
