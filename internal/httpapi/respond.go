package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/suspectuso/commando-rewards/internal/ledger"
)

const maxBody = 1 << 20

type envelope map[string]any

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, body envelope) {
	if body == nil {
		body = envelope{}
	}
	body["success"] = true
	writeJSON(w, http.StatusOK, body)
}

func writeFailure(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{"success": false, "error": msg})
}

// statusFor maps the ledger taxonomy onto HTTP
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrUnauthorized), errors.Is(err, ledger.ErrNotSubscribed):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrAlreadyProcessed), errors.Is(err, ledger.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrLimitReached):
		return http.StatusTooManyRequests
	case errors.Is(err, ledger.ErrExternalUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error(op, "error", err, "path", r.URL.Path)
		writeFailure(w, status, "internal error")
		return
	}
	s.log.Debug(op, "error", err, "status", status)
	writeFailure(w, status, err.Error())
}

// params merges the JSON body and the query string. Body fields win.
type params struct {
	body  map[string]any
	raw   []byte
	query map[string][]string
}

func readParams(r *http.Request) (*params, error) {
	p := &params{query: r.URL.Query()}
	if r.Body == nil || r.Method == http.MethodGet {
		return p, nil
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return nil, err
	}
	p.raw = raw
	if len(bytes.TrimSpace(raw)) == 0 {
		return p, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&p.body); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *params) lookup(name string) (any, bool) {
	if v, ok := p.body[name]; ok && v != nil {
		return v, true
	}
	if vs, ok := p.query[name]; ok && len(vs) > 0 && vs[0] != "" {
		return vs[0], true
	}
	return nil, false
}

// str returns the first non-empty value among names
func (p *params) str(names ...string) string {
	for _, n := range names {
		v, ok := p.lookup(n)
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			if s := strings.TrimSpace(t); s != "" {
				return s
			}
		case json.Number:
			return t.String()
		}
	}
	return ""
}

// id parses the first present value among names as a positive integer
func (p *params) id(names ...string) (int64, bool) {
	s := p.str(names...)
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// value returns a field value with JSON numbers as float64
func (p *params) value(name string) (any, bool) {
	v, ok := p.lookup(name)
	if !ok {
		return nil, false
	}
	if n, isNum := v.(json.Number); isNum {
		f, err := n.Float64()
		if err != nil {
			return nil, false
		}
		return f, true
	}
	return v, true
}

func (p *params) decode(v any) error {
	if len(p.raw) == 0 {
		return io.EOF
	}
	return json.Unmarshal(p.raw, v)
}
