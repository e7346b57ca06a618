package deeptrace

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError renders err as {"error","code","field"} with the mapped status.
// Errors that are not AuthErrors are logged and hidden behind a generic
// message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeErrorStatus(w, r, err, 0)
}

// writeErrorStatus is writeError with an explicit status. Zero means the
// status derived from the error.
func writeErrorStatus(w http.ResponseWriter, r *http.Request, err error, status int) {
	var ae *AuthError
	if !errors.As(err, &ae) {
		LoggerFromContext(r.Context()).Error("unhandled error", "error", err)
		ae = NewAuthError("internal_error", "internal server error", "")
	} else if ae.Err != nil {
		LoggerFromContext(r.Context()).Warn("request failed", "code", ae.Code, "error", ae.Err)
	}
	body := map[string]any{
		"error": ae.Message,
		"code":  ae.Code,
	}
	if ae.Field != "" {
		body["field"] = ae.Field
	}
	if status == 0 {
		status = HTTPStatus(ae)
	}
	writeJSON(w, status, body)
}

// decodeJSON reads a JSON body into dst. Form encoded bodies are accepted
// too, mapped by json field name, for clients posting plain HTML forms.
func decodeJSON(r *http.Request, dst any) error {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			return invalidInput("", "error parsing form")
		}
		values := map[string]string{}
		for k := range r.PostForm {
			values[k] = r.PostForm.Get(k)
		}
		raw, _ := json.Marshal(values)
		if err := json.Unmarshal(raw, dst); err != nil {
			return invalidInput("", "invalid form body")
		}
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return invalidInput("", "invalid request body")
	}
	return nil
}

// clientIP is the caller address used for rate limiting keys. Forwarded
// headers are client controlled, so X-Forwarded-For is read only when
// trustProxy is set, and then its last hop: the one our proxy appended.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			hops := strings.Split(fwd, ",")
			if last := strings.TrimSpace(hops[len(hops)-1]); last != "" {
				return last
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
