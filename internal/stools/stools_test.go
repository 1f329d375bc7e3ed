package stools

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func newRequest(body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func TestDecodeJSONBody(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		status  int
		message string
	}{
		{"valid", `{"name":"a","count":2}`, 0, ""},
		{"empty", ``, http.StatusBadRequest, "must not be empty"},
		{"malformed", `{"name":`, http.StatusBadRequest, "malformed JSON"},
		{"syntax", `{"name" "a"}`, http.StatusBadRequest, "position"},
		{"wrong type", `{"count":"two"}`, http.StatusBadRequest, `"count" field`},
		{"unknown field", `{"nope":1}`, http.StatusBadRequest, `unknown field "nope"`},
		{"trailing", `{"name":"a"}{"name":"b"}`, http.StatusBadRequest, "single JSON object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p payload
			err := DecodeJSONBody(newRequest(tt.body), &p)
			if tt.status == 0 {
				require.NoError(t, err)
				assert.Equal(t, payload{Name: "a", Count: 2}, p)
				return
			}
			var re *RequestError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, tt.status, re.Status)
			assert.Contains(t, re.Message, tt.message)
		})
	}
}

func TestDecodeJSONBodyLimits(t *testing.T) {
	r := newRequest(`{"name":"` + strings.Repeat("x", 64) + `"}`)
	r.Body = http.MaxBytesReader(httptest.NewRecorder(), r.Body, 16)
	var re *RequestError
	require.ErrorAs(t, DecodeJSONBody(r, &payload{}), &re)
	assert.Equal(t, http.StatusRequestEntityTooLarge, re.Status)

	r = newRequest(`{}`)
	r.Header.Set("Content-Type", "text/plain")
	require.ErrorAs(t, DecodeJSONBody(r, &payload{}), &re)
	assert.Equal(t, http.StatusUnsupportedMediaType, re.Status)
}

func TestDecodeOptionalJSONBody(t *testing.T) {
	p := payload{Name: "kept"}
	require.NoError(t, DecodeOptionalJSONBody(newRequest(""), &p))
	assert.Equal(t, "kept", p.Name)

	require.NoError(t, DecodeOptionalJSONBody(newRequest(`{"count":3}`), &p))
	assert.Equal(t, 3, p.Count)
}

func TestAdaptHandlerOrder(t *testing.T) {
	var order []string
	mw := func(name string) func(http.HandlerFunc) http.HandlerFunc {
		return func(next http.HandlerFunc) http.HandlerFunc {
			return func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next(w, r)
			}
		}
	}
	h := AdaptHandler(func(w http.ResponseWriter, r *http.Request) { order = append(order, "handler") },
		Chain([]func(http.HandlerFunc) http.HandlerFunc{mw("outer")}, []func(http.HandlerFunc) http.HandlerFunc{mw("inner")})...)
	h(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}
