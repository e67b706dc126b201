// Package builtins provides the example registered functions a freshly
// constructed engine ships with: an LLM HTTP client function and a handful
// of small text/math helpers used in tests and sample workflows. None of
// this is part of the core; it is exactly the kind of external collaborator
// the function registry exists to decouple the core from.
package builtins

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/swarmguard/flowengine/registry"
)

// Register installs every built-in function into fns.
func Register(fns *registry.Registry) {
	fns.Register("llm_complete", LLMComplete(nil))
	fns.Register("double", Double)
	fns.Register("sum", Sum)
	fns.Register("concat", Concat)
	fns.Register("identity", Identity)
}

// LLMClient is the subset of http.Client that LLMComplete depends on, so
// tests can substitute a fake transport.
type LLMClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// LLMComplete returns a registry.Func that POSTs {model, prompt, params} to
// the endpoint named by the LLM_ENDPOINT_URL environment variable (falling
// back to a local default) and returns the decoded JSON response. Passing a
// nil client builds one with pooled keep-alive connections, matching the
// connection-pool sizing the platform's HTTP task executor used.
func LLMComplete(client LLMClient) registry.Func {
	if client == nil {
		client = &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	tracer := otel.Tracer("flowengine-builtins-llm")
	endpoint := getEnvDefault("LLM_ENDPOINT_URL", "http://localhost:8081/v1/complete")

	return func(ctx context.Context, params map[string]any) (any, error) {
		ctx, span := tracer.Start(ctx, "llm.complete", trace.WithAttributes(
			attribute.String("model", fmt.Sprintf("%v", params["model"])),
		))
		defer span.End()

		body, err := json.Marshal(map[string]any{
			"model":  params["model"],
			"prompt": params["prompt"],
			"params": params["params"],
		})
		if err != nil {
			return nil, fmt.Errorf("builtins: marshal llm request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("builtins: build llm request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("builtins: llm request failed: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
		if err != nil {
			return nil, fmt.Errorf("builtins: read llm response: %w", err)
		}

		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("builtins: llm endpoint returned %d: %s", resp.StatusCode, string(respBody))
		}

		var result map[string]any
		if err := json.Unmarshal(respBody, &result); err != nil {
			return map[string]any{"text": string(respBody)}, nil
		}
		return result, nil
	}
}

// Double multiplies its "n" parameter by two. It is the worked example from
// the value-propagation design's linear scenario.
func Double(ctx context.Context, params map[string]any) (any, error) {
	n, err := asFloat(params["n"])
	if err != nil {
		return nil, fmt.Errorf("builtins: double: %w", err)
	}
	return asNumber(n * 2, params["n"]), nil
}

// Sum adds its "x" and "y" parameters.
func Sum(ctx context.Context, params map[string]any) (any, error) {
	x, err := asFloat(params["x"])
	if err != nil {
		return nil, fmt.Errorf("builtins: sum: %w", err)
	}
	y, err := asFloat(params["y"])
	if err != nil {
		return nil, fmt.Errorf("builtins: sum: %w", err)
	}
	return asNumber(x+y, params["x"]), nil
}

// Concat joins the items of its "values" list parameter, each rendered with
// %v, in list order. Without a "values" list it returns its "a" and "b"
// parameters rendered with %v and joined; other parameters are ignored.
func Concat(ctx context.Context, params map[string]any) (any, error) {
	if v, ok := params["values"].([]any); ok {
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, fmt.Sprintf("%v", item))
		}
		return strings.Join(parts, ""), nil
	}
	return fmt.Sprintf("%v%v", params["a"], params["b"]), nil
}

// Identity returns its "value" parameter unchanged; useful for workflows
// whose only purpose is to reshape or relay an input.
func Identity(ctx context.Context, params map[string]any) (any, error) {
	return params["value"], nil
}

func asFloat(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}

// asNumber renders result in the same integer-or-float shape as sample, so
// double(2) == 4 (int) rather than 4.0 (float64).
func asNumber(result float64, sample any) any {
	switch sample.(type) {
	case int, int64:
		return int(result)
	default:
		return result
	}
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
