package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/BearBump/FreightTrack/internal/services/notify"
	"github.com/stretchr/testify/require"
)

func TestSender_PostsToEveryRecipient(t *testing.T) {
	var (
		mu   sync.Mutex
		got  []sendTextRequest
		keys []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/message/sendText/freight", r.URL.Path)
		var body sendTextRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		got = append(got, body)
		keys = append(keys, r.Header.Get("apikey"))
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"key":{"id":"1"}}`))
	}))
	defer srv.Close()

	s := New(Config{BaseURL: srv.URL, Instance: "freight", APIKey: "secret", Recipients: []string{"5511999990000", "5511888880000"}, PerMinute: 6000})
	err := s.Send(context.Background(), notify.Digest{Subject: "Atualização de Entregas", Text: "| NF |\n"})
	require.NoError(t, err)

	require.Len(t, got, 2)
	require.Equal(t, "5511999990000", got[0].Number)
	require.Contains(t, got[0].Text, "*Atualização de Entregas*")
	require.Contains(t, got[0].Text, "| NF |")
	require.Equal(t, []string{"secret", "secret"}, keys)
}

func TestSender_HTTPErrorFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "instance offline", http.StatusBadGateway)
	}))
	defer srv.Close()

	s := New(Config{BaseURL: srv.URL, Instance: "x", Recipients: []string{"1"}, PerMinute: 6000})
	err := s.Send(context.Background(), notify.Digest{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "502")
}

func TestSender_NoRecipients(t *testing.T) {
	require.Error(t, New(Config{}).Send(context.Background(), notify.Digest{}))
}
