package endpoint

import "net/http"

// StringRenderer writes a string body with an optional status and content
// type. When ContentType is empty it defaults to "text/plain; charset=utf-8".
type StringRenderer struct {
	Status      int
	Body        string
	ContentType string
}

// setContentType sets Content-Type unless an outer layer already did.
func setContentType(w http.ResponseWriter, contentType string) {
	if w.Header().Get("Content-Type") != "" {
		return
	}
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
}

func (sr *StringRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	setContentType(w, sr.ContentType)
	status := sr.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if sr.Body == "" {
		return nil
	}
	_, err := w.Write([]byte(sr.Body))
	return err
}

// HTMLRenderer writes a string body with an HTML content type.
type HTMLRenderer struct {
	StringRenderer
}

func (h *HTMLRenderer) Render(w http.ResponseWriter, r *http.Request) error {
	h.StringRenderer.ContentType = "text/html; charset=utf-8"
	return h.StringRenderer.Render(w, r)
}

// NoContentRenderer writes a bare status line, http.StatusNoContent unless
// Status says otherwise.
type NoContentRenderer struct {
	Status int
}

func (n *NoContentRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	status := n.Status
	if status == 0 {
		status = http.StatusNoContent
	}
	w.WriteHeader(status)
	return nil
}

// RedirectRenderer sends the client to URL, with a 307 Temporary Redirect
// unless Status picks another code.
type RedirectRenderer struct {
	URL    string
	Status int
}

func (rd *RedirectRenderer) Render(w http.ResponseWriter, r *http.Request) error {
	status := rd.Status
	if status == 0 {
		status = http.StatusTemporaryRedirect
	}
	http.Redirect(w, r, rd.URL, status)
	return nil
}
