package api_test

import (
	"errors"
	"testing"

	"github.com/momentics/hioload-app/api"
)

func TestTableOrderAndNormalization(t *testing.T) {
	tbl := api.NewTable()
	tbl.Set("b", 1).Set(int32(2), "two").Set("a", true).Set(3.0, "three")

	if got := tbl.Get(2); got != "two" {
		t.Fatalf("int key lookup: got %v", got)
	}
	if got := tbl.Get(int64(3)); got != "three" {
		t.Fatalf("float key not normalized: got %v", got)
	}
	want := []any{"b", int64(2), "a", int64(3)}
	keys := tbl.Keys()
	if len(keys) != len(want) {
		t.Fatalf("keys: got %v", keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("key %d: got %v want %v", i, keys[i], want[i])
		}
	}

	tbl.Set("b", nil)
	if tbl.Has("b") || tbl.Len() != 3 {
		t.Errorf("delete failed: len=%d", tbl.Len())
	}
}

func TestArray(t *testing.T) {
	tbl := api.Array("x", "y")
	if tbl.Get(1) != "x" || tbl.Get(2) != "y" || tbl.Len() != 2 {
		t.Fatalf("unexpected array table")
	}
}

func TestRequestContextAccessors(t *testing.T) {
	ctx := api.NewRequestContext("GET", "/users/7", "q=a%20b&x=1&x=2",
		[]api.Header{{Name: "Content-Type", Value: "application/json"}, {Name: "X-Tag", Value: "a"}, {Name: "x-tag", Value: "b"}},
		[]api.Param{{Name: "id", Value: "7"}},
		[]byte(`{"n":5}`))

	if ctx.Header("content-type") != "application/json" {
		t.Errorf("case-insensitive header lookup failed")
	}
	if got := ctx.Headers()["x-tag"]; got != "a, b" {
		t.Errorf("joined header: got %q", got)
	}
	if ctx.QueryValue("q") != "a b" || ctx.QueryValue("x") != "1" {
		t.Errorf("query: %v", ctx.Query())
	}
	if ctx.Param("id") != "7" {
		t.Errorf("param: %q", ctx.Param("id"))
	}
	var body struct{ N int }
	if err := ctx.JSON(&body); err != nil || body.N != 5 {
		t.Errorf("json body: %v %+v", err, body)
	}
	ctx.Set("user", "alice")
	if ctx.Get("user") != "alice" {
		t.Errorf("values not shared")
	}
}

func TestRequestContextBodyErrors(t *testing.T) {
	ctx := api.NewRequestContext("POST", "/", "", nil, nil, nil)
	if _, err := ctx.Body(); !errors.Is(err, api.ErrNoBody) {
		t.Errorf("expected ErrNoBody, got %v", err)
	}
	ctx = api.NewRequestContext("POST", "/", "", nil, nil, []byte{0xff, 0xfe})
	if _, err := ctx.Body(); !errors.Is(err, api.ErrInvalidUTF8) {
		t.Errorf("expected ErrInvalidUTF8, got %v", err)
	}
	if api.CodeOf(ctx.JSON(&struct{}{})) != api.ErrCodeMalformedRequest {
		t.Errorf("expected malformed request code")
	}
}
