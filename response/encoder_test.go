package response

import (
	"errors"
	"testing"

	"github.com/momentics/hioload-app/api"
	"github.com/stretchr/testify/assert"
)

func TestEncodeMapping(t *testing.T) {
	cases := []struct {
		name   string
		in     any
		status int
		ctype  string
		body   string
	}{
		{"nil", nil, 204, "", ""},
		{"string", "hi", 200, api.ContentTypeText, "hi"},
		{"status message", api.StatusMessage{Status: 418, Message: "teapot"}, 418, api.ContentTypeText, "teapot"},
		{"status message table", api.Object("status", 401, "message", "no"), 401, api.ContentTypeText, "no"},
		{"table", api.Object("ok", true), 200, api.ContentTypeJSON, `{"ok":true}`},
		{"array", api.Array("a"), 200, api.ContentTypeJSON, `["a"]`},
		{"int", 42, 200, api.ContentTypeText, "42"},
		{"float", 2.5, 200, api.ContentTypeText, "2.5"},
		{"bool", false, 200, api.ContentTypeText, "false"},
		{"error", errors.New("boom"), 500, api.ContentTypeText, "boom"},
		{"unsupported", make(chan int), 500, api.ContentTypeText, "Unsupported return type: chan int"},
		{"json builder", api.JSON(201, map[string]any{"id": 1}), 201, api.ContentTypeJSON, `{"id":1}`},
		{"html builder", api.HTML(200, "<p>"), 200, api.ContentTypeHTML, "<p>"},
		{"empty builder", api.Empty(0), 204, "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := Encode(tc.in)
			assert.Equal(t, tc.status, r.Status)
			assert.Equal(t, tc.ctype, r.ContentType)
			assert.Equal(t, tc.body, string(r.Body))
		})
	}
}

func TestEncodeTableWithExtraKeysIsJSON(t *testing.T) {
	r := Encode(api.Object("status", 200, "message", "x", "extra", 1))
	assert.Equal(t, api.ContentTypeJSON, r.ContentType)
}

func TestEncodeRedirect(t *testing.T) {
	r := Encode(api.Redirect(0, "/login"))
	assert.Equal(t, 302, r.Status)
	assert.Equal(t, []api.Header{{Name: "Location", Value: "/login"}}, r.Headers)
}
