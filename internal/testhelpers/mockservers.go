package testhelpers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// MockBackend provides a configurable stand-in for the operations backend:
// the token refresh endpoint plus a catch-all resource handler.
type MockBackend struct {
	Server *httptest.Server

	mu               sync.Mutex
	accessToken      string
	refreshStatus    int
	refreshDelay     time.Duration
	refreshCount     int
	lastRefreshToken string
	authHeaders      []string
	resourceHandler  http.HandlerFunc
}

// SetupMockBackend creates a backend whose refresh endpoint returns
// accessToken. Resource requests answer with an empty JSON object unless a
// handler is configured.
func SetupMockBackend(t *testing.T, accessToken string) *MockBackend {
	t.Helper()

	mock := &MockBackend{
		accessToken:   accessToken,
		refreshStatus: http.StatusOK,
	}

	router := http.NewServeMux()

	router.HandleFunc("POST /auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		mock.mu.Lock()
		mock.refreshCount++
		mock.lastRefreshToken = body.RefreshToken
		status := mock.refreshStatus
		delay := mock.refreshDelay
		token := mock.accessToken
		mock.mu.Unlock()

		if delay > 0 {
			time.Sleep(delay)
		}

		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}

		WriteJSON(w, map[string]string{
			"accessToken":  token,
			"refreshToken": "rotated-refresh-token",
		})
	})

	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.authHeaders = append(mock.authHeaders, r.Header.Get("Authorization"))
		handler := mock.resourceHandler
		mock.mu.Unlock()

		if handler != nil {
			handler(w, r)
			return
		}

		WriteJSON(w, map[string]any{})
	})

	mock.Server = httptest.NewServer(router)
	t.Cleanup(mock.Server.Close)

	return mock
}

// URL returns the base URL of the server.
func (m *MockBackend) URL() string {
	return m.Server.URL
}

// SetRefreshStatus makes the refresh endpoint answer with status.
func (m *MockBackend) SetRefreshStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshStatus = status
}

// SetRefreshDelay delays refresh responses, widening the window for
// concurrent callers.
func (m *MockBackend) SetRefreshDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshDelay = d
}

// SetResourceHandler replaces the catch-all handler.
func (m *MockBackend) SetResourceHandler(h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resourceHandler = h
}

// RefreshCount is the number of refresh calls received.
func (m *MockBackend) RefreshCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshCount
}

// LastRefreshToken is the refresh token sent by the most recent refresh call.
func (m *MockBackend) LastRefreshToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRefreshToken
}

// AuthHeaders returns the Authorization headers of resource requests in the
// order received.
func (m *MockBackend) AuthHeaders() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.authHeaders...)
}

// WriteJSON is a helper function that writes a JSON response.
// It sets the Content-Type header and marshals the payload to JSON.
func WriteJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(payload)
	if err != nil {
		// In test context, this should never happen with valid test data
		http.Error(w, fmt.Sprintf("failed to marshal JSON: %v", err), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(data)
}
