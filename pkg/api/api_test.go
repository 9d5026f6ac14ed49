package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourorg/provision-gateway/internal/version"
	"github.com/yourorg/provision-gateway/pkg/auth"
	"github.com/yourorg/provision-gateway/pkg/metrics"
	"github.com/yourorg/provision-gateway/pkg/provision"
)

type mockProvisioner struct {
	mock.Mock
}

func (m *mockProvisioner) Download(ctx context.Context, req provision.Request) (*provision.Result, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*provision.Result)
	return res, args.Error(1)
}

func (m *mockProvisioner) DeviceInfo(ctx context.Context, req provision.Request) (*provision.DeviceInfo, error) {
	args := m.Called(ctx, req)
	info, _ := args.Get(0).(*provision.DeviceInfo)
	return info, args.Error(1)
}

func withFilename(name string) interface{} {
	return mock.MatchedBy(func(req provision.Request) bool { return req.Filename == name })
}

func newTestServer(t *testing.T, p Provisioner, checks ...ReadinessCheck) (*Server, *auth.JWTManager) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	jwtManager := auth.NewJWTManager("test-secret", "provision-gateway", time.Hour)
	srv := NewServer(DefaultServerConfig(), &Dependencies{
		Logger:      logger,
		Provisioner: p,
		Auth:        auth.NewMiddleware(jwtManager, logger),
		Metrics:     metrics.New(),
		Checks:      checks,
	})
	return srv, jwtManager
}

func do(srv *Server, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	srv, _ := newTestServer(t, &mockProvisioner{})

	w := do(srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
	assert.Equal(t, version.Product(), w.Header().Get("Server"))
}

func TestReadiness(t *testing.T) {
	t.Run("all ok", func(t *testing.T) {
		srv, _ := newTestServer(t, &mockProvisioner{},
			ReadinessCheck{Name: "database", Check: func(context.Context) error { return nil }})

		w := do(srv, http.MethodGet, "/ready", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"database":"ok"`)
	})

	t.Run("one failing", func(t *testing.T) {
		srv, _ := newTestServer(t, &mockProvisioner{},
			ReadinessCheck{Name: "database", Check: func(context.Context) error { return nil }},
			ReadinessCheck{Name: "templates", Check: func(context.Context) error { return errors.New("no primary") }})

		w := do(srv, http.MethodGet, "/ready", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), `"templates":"unavailable"`)
		assert.NotContains(t, w.Body.String(), "no primary")
	})
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &mockProvisioner{})

	w := do(srv, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestDownloadRoutes(t *testing.T) {
	tests := []struct {
		path     string
		filename string
	}{
		{"/api/download-xml", ""},
		{"/api/download-xml/", ""},
		{"/api/download-xml/phone.xml", "phone.xml"},
		{"/api/download-xml/phone.xml/", "phone.xml"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			p := &mockProvisioner{}
			p.On("Download", mock.Anything, withFilename(tt.filename)).Return(&provision.Result{
				Body:        "<config/>",
				ContentType: provision.ContentTypeXML,
				Filename:    "ModelX.xml",
				Extension:   "xml",
			}, nil).Once()
			srv, _ := newTestServer(t, p)

			w := do(srv, http.MethodGet, tt.path, http.Header{"User-Agent": {"Acme ModelX 1.0 aabbccddeeff"}})
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "<config/>", w.Body.String())
			assert.Equal(t, provision.ContentTypeXML, w.Header().Get("Content-Type"))
			assert.Equal(t, `attachment; filename="ModelX.xml"`, w.Header().Get("Content-Disposition"))
			p.AssertExpectations(t)
		})
	}
}

func TestDownloadPassesUserAgent(t *testing.T) {
	p := &mockProvisioner{}
	p.On("Download", mock.Anything, mock.MatchedBy(func(req provision.Request) bool {
		return req.UserAgent == "Acme ModelX 1.0 aabbccddeeff" && req.HTTP != nil
	})).Return(&provision.Result{Body: "x", ContentType: provision.ContentTypeText, Filename: "a.cfg"}, nil).Once()
	srv, _ := newTestServer(t, p)

	w := do(srv, http.MethodGet, "/api/download-xml/a.cfg", http.Header{"User-Agent": {"Acme ModelX 1.0 aabbccddeeff"}})
	assert.Equal(t, http.StatusOK, w.Code)
	p.AssertExpectations(t)
}

func TestDownloadRejections(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"auth", &provision.Rejection{Kind: provision.ErrAuthFailure, Stage: provision.StageAuth}, "Forbidden: Invalid API key"},
		{"descriptor", &provision.Rejection{Kind: provision.ErrInvalidDescriptor, Stage: provision.StageDescriptor}, "Forbidden: Invalid User-Agent format"},
		{"device", &provision.Rejection{Kind: provision.ErrDeviceNotFound, Stage: provision.StageDevice}, "Forbidden: Identifier not found"},
		{"template", &provision.Rejection{Kind: provision.ErrTemplateNotFound, Stage: provision.StageTemplate}, "Configuration template not found for this model and extension"},
		{"render", &provision.Rejection{Kind: provision.ErrRenderError, Stage: provision.StageRender, Err: errors.New("line 3: unexpected token")}, "Configuration could not be generated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &mockProvisioner{}
			p.On("Download", mock.Anything, mock.Anything).Return(nil, tt.err).Once()
			srv, _ := newTestServer(t, p)

			w := do(srv, http.MethodGet, "/api/download-xml/", nil)
			assert.Equal(t, http.StatusForbidden, w.Code)
			assert.Equal(t, tt.want, w.Body.String())
			assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain"))
			assert.Empty(t, w.Header().Get("Content-Disposition"))
		})
	}
}

func TestDownloadPanicIsServerError(t *testing.T) {
	p := &mockProvisioner{}
	p.On("Download", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		panic("renderer blew up")
	}).Return(nil, nil)
	srv, _ := newTestServer(t, p)

	w := do(srv, http.MethodGet, "/api/download-xml/", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestDeviceInfo(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		p := &mockProvisioner{}
		p.On("DeviceInfo", mock.Anything, mock.Anything).Return(&provision.DeviceInfo{
			ID:         "dev-1",
			Identifier: "device-1",
			MACAddress: "aabbccddeeff",
		}, nil).Once()
		srv, _ := newTestServer(t, p)

		w := do(srv, http.MethodGet, "/api/device-info/", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var got provision.DeviceInfo
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, "device-1", got.Identifier)
		assert.Equal(t, "aabbccddeeff", got.MACAddress)
	})

	t.Run("not found", func(t *testing.T) {
		p := &mockProvisioner{}
		p.On("DeviceInfo", mock.Anything, mock.Anything).
			Return(nil, &provision.Rejection{Kind: provision.ErrDeviceNotFound, Stage: provision.StageDevice}).Once()
		srv, _ := newTestServer(t, p)

		w := do(srv, http.MethodGet, "/api/device-info", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("forbidden", func(t *testing.T) {
		p := &mockProvisioner{}
		p.On("DeviceInfo", mock.Anything, mock.Anything).
			Return(nil, &provision.Rejection{Kind: provision.ErrAuthFailure, Stage: provision.StageAuth}).Once()
		srv, _ := newTestServer(t, p)

		w := do(srv, http.MethodGet, "/api/device-info/", nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), "Forbidden: Invalid API key")
	})
}

func TestWhoAmI(t *testing.T) {
	srv, jwtManager := newTestServer(t, &mockProvisioner{})

	t.Run("no token", func(t *testing.T) {
		w := do(srv, http.MethodGet, "/api/whoami/", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("missing scope", func(t *testing.T) {
		token, err := jwtManager.GenerateAPIToken("ops", []string{auth.ScopeProvision}, time.Hour)
		require.NoError(t, err)

		w := do(srv, http.MethodGet, "/api/whoami/", http.Header{"Authorization": {"Bearer " + token}})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("read scope", func(t *testing.T) {
		token, err := jwtManager.GenerateAPIToken("ops", []string{auth.ScopeRead}, time.Hour)
		require.NoError(t, err)

		for _, path := range []string{"/api/whoami", "/api/whoami/"} {
			w := do(srv, http.MethodGet, path, http.Header{"Authorization": {"Bearer " + token}})
			require.Equal(t, http.StatusOK, w.Code, path)

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, "ops", body["subject"])
			assert.Equal(t, true, body["is_authenticated"])
		}
	})
}

func TestRunDrainsRequestsBeforeCleanup(t *testing.T) {
	var (
		mu     sync.Mutex
		events []string
	)
	record := func(e string) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	p := &mockProvisioner{}
	p.On("Download", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		close(entered)
		<-release
		record("request-done")
	}).Return(&provision.Result{Body: "<config/>", ContentType: provision.ContentTypeXML, Filename: "a.xml"}, nil).Once()
	srv, _ := newTestServer(t, p)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() {
		runErr <- srv.serve(ctx, ln, []func() error{
			func() error { record("cleanup"); return nil },
		})
	}()

	respCode := make(chan int, 1)
	go func() {
		resp, err := http.Get("http://" + ln.Addr().String() + "/api/download-xml/")
		if err != nil {
			respCode <- 0
			return
		}
		resp.Body.Close()
		respCode <- resp.StatusCode
	}()

	<-entered
	cancel()

	select {
	case <-runErr:
		t.Fatal("Run returned while a request was in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-runErr)
	assert.Equal(t, http.StatusOK, <-respCode)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"request-done", "cleanup"}, events)
}
