package executor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cronflow/internal/domain"
)

func TestRegistryFallsBackToGeneric(t *testing.T) {
	reg := NewRegistry()

	result, err := reg.Execute(context.Background(), domain.Task{
		ID:   "tsk_1",
		Type: domain.TypeEmail,
	})
	require.NoError(t, err)
	assert.Equal(t, "acknowledged email task", result)
}

type fakeExecutor struct{ result string }

func (f fakeExecutor) Execute(context.Context, domain.Task) (string, error) {
	return f.result, nil
}

func TestRegistryRoutesByType(t *testing.T) {
	reg := NewRegistry()
	reg.Register(domain.TypeReport, fakeExecutor{result: "report done"})

	result, err := reg.Execute(context.Background(), domain.Task{Type: domain.TypeReport})
	require.NoError(t, err)
	assert.Equal(t, "report done", result)
}

func TestKindClassification(t *testing.T) {
	assert.Equal(t, KindHTTP, Kind(classify(KindHTTP, errors.New("boom"))))
	assert.Equal(t, KindTimeout, Kind(context.DeadlineExceeded))
	assert.Equal(t, KindInternal, Kind(errors.New("plain")))
}

func TestWebhookSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	result, err := NewWebhook().Execute(context.Background(), domain.Task{
		Payload: map[string]any{
			"url":     srv.URL,
			"method":  "post",
			"headers": map[string]any{"X-Token": "secret"},
			"body":    `{"ping":true}`,
		},
	})
	require.NoError(t, err)
	assert.Contains(t, result, "200")
}

func TestWebhookServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewWebhook().Execute(context.Background(), domain.Task{
		Payload: map[string]any{"url": srv.URL},
	})
	require.Error(t, err)
	assert.Equal(t, KindHTTP, Kind(err))
}

func TestWebhookMissingURL(t *testing.T) {
	_, err := NewWebhook().Execute(context.Background(), domain.Task{Payload: map[string]any{}})
	require.Error(t, err)
	assert.Equal(t, KindInvalid, Kind(err))
}

func TestShellRunsCommand(t *testing.T) {
	result, err := Shell{}.Execute(context.Background(), domain.Task{
		Payload: map[string]any{
			"command": "echo",
			"args":    []any{"hello"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", result)
}

func TestShellMissingCommand(t *testing.T) {
	_, err := Shell{}.Execute(context.Background(), domain.Task{Payload: map[string]any{}})
	require.Error(t, err)
	assert.Equal(t, KindInvalid, Kind(err))
}
