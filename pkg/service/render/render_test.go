package render_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/ingestd/pkg/domain/model"
	"github.com/secmon-lab/ingestd/pkg/domain/model/config"
	"github.com/secmon-lab/ingestd/pkg/service/render"
)

func TestRender(t *testing.T) {
	var got map[string]any
	var query map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gt.Value(t, r.URL.Path).Equal("/v1/content")
		gt.Value(t, r.Method).Equal(http.MethodPost)
		query = r.URL.Query()
		gt.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte("<html><body>rendered</body></html>"))
	}))
	defer srv.Close()

	client, err := render.New(srv.URL+"/v1/", "tkn", config.DefaultIngestConfig().Web)
	gt.NoError(t, err).Required()

	html, err := client.Render(context.Background(), "https://shop.example/menu")
	gt.NoError(t, err).Required()
	gt.Value(t, string(html)).Equal("<html><body>rendered</body></html>")
	gt.Value(t, got["url"]).Equal("https://shop.example/menu")
	gt.Value(t, got["bestAttempt"]).Equal(true)
	gt.Value(t, got["gotoOptions"].(map[string]any)["waitUntil"]).Equal("networkidle2")
	gt.Value(t, query["stealth"]).Equal([]string{"true"})
	gt.Value(t, query["token"]).Equal([]string{"tkn"})
}

func TestRender_Classification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   model.ErrorCode
	}{
		{"rate limited", http.StatusTooManyRequests, model.CodeHeadlessBlocked},
		{"gateway timeout", http.StatusGatewayTimeout, model.CodeHeadlessTimeout},
		{"server error", http.StatusInternalServerError, model.CodeHeadlessError},
		{"unauthorized", http.StatusUnauthorized, model.CodeHeadlessError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			client, err := render.New(srv.URL, "", config.DefaultIngestConfig().Web)
			gt.NoError(t, err).Required()

			_, err = client.Render(context.Background(), "https://shop.example/")
			gt.Value(t, model.CodeOf(err)).Equal(tt.want)
		})
	}
}

func TestRender_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := config.DefaultIngestConfig().Web
	cfg.HeadlessTimeout = 50 * time.Millisecond
	cfg.HeadlessExtraWait = 10 * time.Millisecond
	client, err := render.New(srv.URL, "", cfg)
	gt.NoError(t, err).Required()

	_, err = client.Render(context.Background(), "https://shop.example/")
	gt.Value(t, model.CodeOf(err)).Equal(model.CodeHeadlessTimeout)
}

func TestNew_RequiresEndpoint(t *testing.T) {
	_, err := render.New("", "", config.DefaultIngestConfig().Web)
	gt.Error(t, err)
}
