package builtins

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/swarmguard/flowengine/registry"
)

func TestDouble(t *testing.T) {
	out, err := Double(context.Background(), map[string]any{"n": 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != 6 {
		t.Fatalf("expected 6, got %#v", out)
	}
}

func TestSum(t *testing.T) {
	out, err := Sum(context.Background(), map[string]any{"x": 2, "y": 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != 7 {
		t.Fatalf("expected 7, got %#v", out)
	}
}

func TestConcatValuesList(t *testing.T) {
	out, err := Concat(context.Background(), map[string]any{"values": []any{"a", "b", 3}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "ab3" {
		t.Fatalf("expected 'ab3', got %#v", out)
	}
}

func TestIdentity(t *testing.T) {
	out, err := Identity(context.Background(), map[string]any{"value": "unchanged"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "unchanged" {
		t.Fatalf("expected 'unchanged', got %#v", out)
	}
}

type fakeClient struct {
	resp *http.Response
	err  error
}

func (f *fakeClient) Do(req *http.Request) (*http.Response, error) {
	return f.resp, f.err
}

func TestLLMCompleteDecodesJSON(t *testing.T) {
	body := io.NopCloser(bytes.NewBufferString(`{"text":"hello"}`))
	client := &fakeClient{resp: &http.Response{StatusCode: 200, Body: body}}

	fn := LLMComplete(client)
	out, err := fn(context.Background(), map[string]any{"model": "gpt", "prompt": "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result, ok := out.(map[string]any)
	if !ok || result["text"] != "hello" {
		t.Fatalf("unexpected result: %#v", out)
	}
}

func TestLLMCompleteSurfacesHTTPError(t *testing.T) {
	body := io.NopCloser(bytes.NewBufferString(`boom`))
	client := &fakeClient{resp: &http.Response{StatusCode: 500, Body: body}}

	fn := LLMComplete(client)
	if _, err := fn(context.Background(), map[string]any{"model": "gpt"}); err == nil {
		t.Fatalf("expected error for 5xx response")
	}
}

func TestRegisterInstallsAllBuiltins(t *testing.T) {
	fns := registry.New()
	Register(fns)
	for _, name := range []string{"llm_complete", "double", "sum", "concat", "identity"} {
		if _, err := fns.Lookup(name); err != nil {
			t.Fatalf("expected %q to be registered: %v", name, err)
		}
	}
}
