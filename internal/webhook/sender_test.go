package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliverySignedPayload(t *testing.T) {
	t.Parallel()

	type received struct {
		payload   Payload
		signature string
		body      []byte
	}
	got := make(chan received, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var p Payload
		require.NoError(t, json.Unmarshal(body, &p))

		got <- received{payload: p, signature: r.Header.Get("X-Spool-Signature"), body: body}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewSender(srv.URL, "s3cret")
	defer sender.Stop()

	sender.JobCompleted("job-1")

	select {
	case r := <-got:
		assert.Equal(t, EventJobCompleted, r.payload.Event)
		assert.Equal(t, "job-1", r.payload.JobID)
		assert.Empty(t, r.payload.Error)

		mac := hmac.New(sha256.New, []byte("s3cret"))
		mac.Write(r.body)
		assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), r.signature)
	case <-time.After(5 * time.Second):
		t.Fatal("webhook was not delivered")
	}
}

func TestDeliveryFailedEvent(t *testing.T) {
	t.Parallel()

	got := make(chan Payload, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p Payload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		got <- p
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sender := NewSender(srv.URL, "")
	defer sender.Stop()

	sender.JobFailed("job-2", "no cassette")

	select {
	case p := <-got:
		assert.Equal(t, EventJobFailed, p.Event)
		assert.Equal(t, "job-2", p.JobID)
		assert.Equal(t, "no cassette", p.Error)
	case <-time.After(5 * time.Second):
		t.Fatal("webhook was not delivered")
	}
}

func TestNoSignatureWithoutSecret(t *testing.T) {
	t.Parallel()

	got := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get("X-Spool-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewSender(srv.URL, "")
	defer sender.Stop()

	sender.JobCompleted("job-3")

	select {
	case sig := <-got:
		assert.Empty(t, sig)
	case <-time.After(5 * time.Second):
		t.Fatal("webhook was not delivered")
	}
}

func TestStatusError(t *testing.T) {
	t.Parallel()

	err := &StatusError{Code: http.StatusBadGateway}
	assert.Equal(t, "webhook endpoint returned status 502", err.Error())
}
