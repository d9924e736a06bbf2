package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coreapi/datatypes"
)

type staticKeys struct{}

func (staticKeys) Issue(context.Context) (string, string, error) {
	return "test-key", "test-secret", nil
}

// countingKeys mints a distinct pair per call and counts issuance.
type countingKeys struct{ issued atomic.Int32 }

func (k *countingKeys) Issue(context.Context) (string, string, error) {
	n := k.issued.Add(1)
	return fmt.Sprintf("key-%d", n), fmt.Sprintf("secret-%d", n), nil
}

func newTestClient(t *testing.T, handler http.Handler) *InferenceClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c := NewInferenceClient(server.URL, server.Client(), staticKeys{}, testLogger())
	c.readyDelay = time.Millisecond
	c.readyDelayCap = 4 * time.Millisecond
	return c
}

func TestReadySucceedsFirstTry(t *testing.T) {
	var heads atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodHead, r.Method)
		require.Equal(t, "/chats", r.URL.Path)
		require.Equal(t, "test-key", r.Header.Get("X-API-KEY"))
		require.Equal(t, "test-secret", r.Header.Get("X-API-SECRET"))
		heads.Add(1)
		w.WriteHeader(http.StatusOK)
	}))

	require.NoError(t, c.Ready(context.Background()))
	assert.Equal(t, int32(1), heads.Load())
}

func TestReadyMintsFreshPairPerProbe(t *testing.T) {
	var seen []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("X-API-KEY"))
		if len(seen) < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	keys := &countingKeys{}
	c := NewInferenceClient(server.URL, server.Client(), keys, testLogger())
	c.readyDelay = time.Millisecond
	c.readyDelayCap = 4 * time.Millisecond

	require.NoError(t, c.Ready(context.Background()))
	require.Len(t, seen, 2)
	assert.NotEqual(t, seen[0], seen[1], "each probe attempt carries its own pair")
	assert.Equal(t, int32(2), keys.issued.Load())
}

func TestReadyRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	require.NoError(t, c.Ready(context.Background()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestReadyGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	err := c.Ready(context.Background())
	assert.ErrorIs(t, err, ErrInferenceUnavailable)
	assert.Equal(t, int32(1+maxReadyRetries), calls.Load())
}

func TestReadyDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))

	err := c.Ready(context.Background())
	assert.ErrorIs(t, err, ErrInferenceUnavailable)
	assert.Equal(t, int32(1), calls.Load())
}

func TestStreamForwardsChunksAndStopsAtDone(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/chats", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-API-KEY"))
		assert.Equal(t, "test-secret", r.Header.Get("X-API-SECRET"))

		var req datatypes.InferenceRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "what is up", req.Question)

		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"type":"token","data":"All"}`)
		fmt.Fprintln(w, `{"type":"token","data":" good"}`)
		fmt.Fprintln(w, `{"type":"sources","data":[{"fileName":"a.md","pageNumber":1,"snippet":"s"}]}`)
		fmt.Fprintln(w, `{"type":"done","data":true}`)
		fmt.Fprintln(w, `{"type":"token","data":"never seen"}`)
	}))

	var chunks []datatypes.ChatChunk
	err := c.Stream(context.Background(), &datatypes.InferenceRequest{Question: "what is up"}, func(chunk datatypes.ChatChunk) error {
		chunks = append(chunks, chunk)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, chunks, 3, "done is consumed, nothing after it is read")
	assert.Equal(t, "All", chunks[0].TokenText())
	assert.Equal(t, " good", chunks[1].TokenText())
	assert.Equal(t, datatypes.ChunkTypeSources, chunks[2].Type)
}

func TestStreamSkipsMalformedLines(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `not json at all`)
		fmt.Fprintln(w, `{"type":"token","data":"ok"}`)
		fmt.Fprintln(w, `{"type":"done","data":true}`)
	}))

	var chunks []datatypes.ChatChunk
	err := c.Stream(context.Background(), &datatypes.InferenceRequest{Question: "q"}, func(chunk datatypes.ChatChunk) error {
		chunks = append(chunks, chunk)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
}

func TestStreamNonOKStatus(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))

	err := c.Stream(context.Background(), &datatypes.InferenceRequest{Question: "q"}, func(datatypes.ChatChunk) error {
		t.Fatal("no chunk should be emitted")
		return nil
	})
	assert.ErrorIs(t, err, ErrInferenceUnavailable)
}

func TestStreamAbortsWhenEmitFails(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"type":"token","data":"a"}`)
		fmt.Fprintln(w, `{"type":"token","data":"b"}`)
		fmt.Fprintln(w, `{"type":"done","data":true}`)
	}))

	calls := 0
	err := c.Stream(context.Background(), &datatypes.InferenceRequest{Question: "q"}, func(datatypes.ChatChunk) error {
		calls++
		return fmt.Errorf("client went away")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestSummarize(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/summarize", r.URL.Path)
		var req datatypes.SummarizeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "prior", req.PreviousSummary)
		json.NewEncoder(w).Encode(datatypes.SummarizeResponse{Summary: "rolled up"})
	}))

	summary, err := c.Summarize(context.Background(), &datatypes.SummarizeRequest{
		PreviousSummary: "prior",
		Question:        "q",
		Answer:          "a",
	})
	require.NoError(t, err)
	assert.Equal(t, "rolled up", summary)
}

func TestGenerateTitle(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/generate-title", r.URL.Path)
		json.NewEncoder(w).Encode(datatypes.TitleResponse{Title: "Short Title"})
	}))

	title, err := c.GenerateTitle(context.Background(), &datatypes.TitleRequest{Question: "q", Answer: "a"})
	require.NoError(t, err)
	assert.Equal(t, "Short Title", title)
}
