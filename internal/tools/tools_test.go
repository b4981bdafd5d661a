package tools

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func staticTool(name string, items ...Item) *Tool {
	return &Tool{
		Name:        name,
		Description: "returns " + name + " fixtures",
		Handler: func(context.Context, string) (Result, error) {
			return Result{Items: items}, nil
		},
	}
}

func TestRegistry_CatalogOrder(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(staticTool("web_search"))
	r.Register(staticTool("web_fetch"))
	r.Register(staticTool("calendar"))
	r.Register(staticTool("web_search")) // replacement keeps its slot

	want := []string{"web_search", "web_fetch", "calendar"}
	if diff := cmp.Diff(want, r.Names()); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
	cat := r.Catalog()
	if len(cat) != 3 || cat[1].Name != "web_fetch" || cat[1].Description != "returns web_fetch fixtures" {
		t.Errorf("catalog = %+v", cat)
	}
}

func TestRegistry_InvokePassesInput(t *testing.T) {
	r := NewRegistry(nil)
	var got string
	r.Register(&Tool{
		Name: "echo",
		Handler: func(_ context.Context, in string) (Result, error) {
			got = in
			return Result{Items: []Item{{URL: "https://asu.edu", Snippet: in}}}, nil
		},
	})

	res, err := r.Invoke(context.Background(), "echo", "tempe events")
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if got != "tempe events" {
		t.Errorf("handler input = %q", got)
	}
	if len(res.Items) != 1 || res.Items[0].Snippet != "tempe events" {
		t.Errorf("result = %+v", res)
	}
}

func TestRegistry_InvokeUnknownTool(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(staticTool("web_search"))
	r.Register(staticTool("web_fetch"))

	res, err := r.Invoke(context.Background(), "google", "x")
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("err = %v, want ErrUnknownTool", err)
	}
	var tu *ErrToolUnavailable
	if !errors.As(err, &tu) || tu.ToolName != "google" {
		t.Errorf("errors.As = %v, %+v", err, tu)
	}
	want := "google is not a valid tool, try one of [web_search, web_fetch]."
	if res.Error != want {
		t.Errorf("result error = %q, want %q", res.Error, want)
	}
	if len(res.Items) != 0 {
		t.Errorf("unknown tool returned items: %v", res.Items)
	}
}

func TestRegistry_InvokeHandlerErrorIsObservation(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&Tool{
		Name: "flaky",
		Handler: func(context.Context, string) (Result, error) {
			return Result{}, fmt.Errorf("search API returned 502")
		},
	})

	res, err := r.Invoke(context.Background(), "flaky", "q")
	if err != nil {
		t.Fatalf("Invoke error = %v, want nil", err)
	}
	if res.Error != "search API returned 502" || len(res.Items) != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestRegistry_InvokeTimeoutIsObservation(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&Tool{
		Name:    "slow",
		Timeout: 10 * time.Millisecond,
		Handler: func(ctx context.Context, _ string) (Result, error) {
			<-ctx.Done()
			return Result{}, ctx.Err()
		},
	})

	res, err := r.Invoke(context.Background(), "slow", "q")
	if err != nil {
		t.Fatalf("Invoke error = %v, want nil", err)
	}
	if !strings.Contains(res.Error, "deadline exceeded") {
		t.Errorf("result error = %q, want deadline exceeded", res.Error)
	}
}

func TestRegistry_InvokeUnavailableIsFatal(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&Tool{
		Name: "web_search",
		Handler: func(context.Context, string) (Result, error) {
			return Result{}, fmt.Errorf("tavily: %w", ErrUnavailable)
		},
	})

	res, err := r.Invoke(context.Background(), "web_search", "q")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if !res.Failed() {
		t.Error("result should carry an error")
	}
}

func TestRegistry_InvokeDialErrorIsObservation(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&Tool{
		Name: "web_fetch",
		Handler: func(context.Context, string) (Result, error) {
			return Result{}, &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
		},
	})

	res, err := r.Invoke(context.Background(), "web_fetch", "http://127.0.0.1:1/")
	if err != nil {
		t.Fatalf("Invoke error = %v, want nil", err)
	}
	if !strings.Contains(res.Error, "connection refused") {
		t.Errorf("result error = %q, want connection refused", res.Error)
	}
}

func TestRegistry_InvokeCancelled(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&Tool{
		Name: "web_search",
		Handler: func(ctx context.Context, _ string) (Result, error) {
			return Result{}, ctx.Err()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.Invoke(ctx, "web_search", "q"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestResult_Observation(t *testing.T) {
	tests := []struct {
		name string
		res  Result
		want string
	}{
		{"error", Result{Error: "boom"}, "Error: boom"},
		{"empty", Result{}, "No results found."},
		{
			"items",
			Result{Items: []Item{
				{Title: "ASU Events", URL: "https://asu.edu/events", Snippet: "Career fair Oct 1"},
				{URL: "https://tempe.gov"},
			}},
			"1. ASU Events\n   https://asu.edu/events\n   Career fair Oct 1\n\n2. https://tempe.gov",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.res.Observation(); got != tt.want {
				t.Errorf("Observation() =\n%q\nwant\n%q", got, tt.want)
			}
		})
	}
}
