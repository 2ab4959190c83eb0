package a2a

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastClient() *Client {
	return NewClient(WithBackoff(time.Millisecond, 5*time.Millisecond, 100*time.Millisecond))
}

func testMessage() Message {
	return Message{
		Role:      MessageRoleAgent,
		Parts:     []Part{NewTextPart("do the thing")},
		MessageID: "m1",
		ContextID: "conv-1",
		Metadata: map[string]any{
			MetaConversationID: "conv-1",
			MetaIsDelegation:   true,
			MetaDelegationID:   "del_abc",
		},
	}
}

func TestClient_SendSuccess(t *testing.T) {
	var gotPath string
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHeader = r.Header.Get("X-API-Key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":{"state":"completed"},"artifacts":[{"artifactId":"a1","parts":[{"kind":"text","text":"done"}]}]}`))
	}))
	defer srv.Close()

	result, err := fastClient().Send(context.Background(), srv.URL, testMessage(), map[string]string{"X-API-Key": "secret"})
	require.NoError(t, err)
	assert.Equal(t, "/message/send", gotPath)
	assert.Equal(t, "secret", gotHeader)
	assert.Equal(t, TaskStateCompleted, result.Status.State)
	assert.Equal(t, "done", result.Text())
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":{"state":"completed"}}`))
	}))
	defer srv.Close()

	result, err := fastClient().Send(context.Background(), srv.URL, testMessage(), nil)
	require.NoError(t, err)
	assert.Equal(t, TaskStateCompleted, result.Status.State)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := fastClient().Send(context.Background(), srv.URL, testMessage(), nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_GivesUpAfterElapsedBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := fastClient().Send(context.Background(), srv.URL, testMessage(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after")
}

func TestTask_TextJoinsParts(t *testing.T) {
	task := &Task{Input: TaskInput{Parts: []Part{
		NewTextPart("hello"),
		NewDataPart(map[string]any{"k": "v"}),
		NewTextPart("world"),
	}}}
	assert.Equal(t, "hello world", task.Text())
}

func TestTaskResult_TransferTarget(t *testing.T) {
	result := &TaskResult{
		Status: TaskStatus{State: TaskStateCompleted},
		Artifacts: []Artifact{{Parts: []Part{
			NewTransferPart("refunds", "t1", "billing", "original"),
		}}},
	}
	assert.Equal(t, "refunds", result.TransferTarget())

	plain := &TaskResult{Artifacts: []Artifact{{Parts: []Part{NewTextPart("x")}}}}
	assert.Empty(t, plain.TransferTarget())
}

func TestMessage_ToTask(t *testing.T) {
	task := testMessage().ToTask("task_conv-1_x")
	assert.Equal(t, "conv-1", task.ContextID)
	assert.True(t, task.IsDelegation())
	assert.Equal(t, "do the thing", task.Text())
}
