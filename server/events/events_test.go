package events

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gear6io/icecatalog/server/commit"
	"github.com/gear6io/icecatalog/server/config"
	"github.com/gear6io/icecatalog/server/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSinkVariants(t *testing.T) {
	logger := zerolog.Nop()

	tests := []struct {
		name    string
		sink    string
		wantErr bool
	}{
		{name: "empty defaults to none", sink: "", wantErr: false},
		{name: "none", sink: "none", wantErr: false},
		{name: "cloudevents-log", sink: "cloudevents-log", wantErr: false},
		{name: "nats is recognized but not built", sink: "nats", wantErr: true},
		{name: "unknown sink", sink: "pulsar", wantErr: true},
		{name: "kafka without brokers", sink: "kafka", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSink(config.EventsConfig{Sink: tt.sink}, logger)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, s)
			assert.NoError(t, s.Close())
		})
	}
}

func TestLogSinkPublish(t *testing.T) {
	s := &logSink{log: zerolog.Nop()}
	s.Publish(context.Background(), commit.Event{
		ID:         "evt-1",
		Type:       "updated",
		EntityType: "table",
		EntityID:   "tab-1",
		Payload:    map[string]interface{}{"updates": []string{"add-snapshot"}},
	})
	// A payload the JSON encoder cannot handle is replaced, not fatal.
	s.Publish(context.Background(), commit.Event{ID: "evt-2", Payload: make(chan int)})
}

func TestWebhookVerifier(t *testing.T) {
	md := model.EmptyTableMetadata("uuid-1", "s3://b/t", model.FormatVersion2)

	t.Run("allow", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"allowed": true}`))
		}))
		defer srv.Close()

		v := NewWebhookVerifier(srv.URL, zerolog.Nop())
		allowed, _ := v.Verify(context.Background(), "tab-1", md, md)
		assert.True(t, allowed)
	})

	t.Run("veto with reason", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"allowed": false, "reason": "schema change frozen"}`))
		}))
		defer srv.Close()

		v := NewWebhookVerifier(srv.URL, zerolog.Nop())
		allowed, reason := v.Verify(context.Background(), "tab-1", md, md)
		assert.False(t, allowed)
		assert.Equal(t, "schema change frozen", reason)
	})

	t.Run("unreachable endpoint vetoes", func(t *testing.T) {
		v := NewWebhookVerifier("http://127.0.0.1:1/verify", zerolog.Nop())
		allowed, reason := v.Verify(context.Background(), "tab-1", md, md)
		assert.False(t, allowed)
		assert.NotEmpty(t, reason)
	})

	t.Run("non-200 vetoes", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		v := NewWebhookVerifier(srv.URL, zerolog.Nop())
		allowed, _ := v.Verify(context.Background(), "tab-1", md, md)
		assert.False(t, allowed)
	})
}

func TestAllowAllVerifier(t *testing.T) {
	allowed, reason := AllowAllVerifier{}.Verify(context.Background(), "tab-1", nil, nil)
	assert.True(t, allowed)
	assert.Empty(t, reason)
}
