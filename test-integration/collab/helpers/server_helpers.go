// Package helpers starts the collaboration server and drives websocket
// clients for the integration suite.
package helpers

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/onsi/gomega"

	collabapp "github.com/stacklok/notes-collab-server/internal/app"
	"github.com/stacklok/notes-collab-server/internal/config"
	"github.com/stacklok/notes-collab-server/internal/store"
)

// TestSecret signs every token issued by the helper
const TestSecret = "integration-secret-0123456789abcdef"

// ServerTestHelper manages the server lifecycle for one test
type ServerTestHelper struct {
	ctx        context.Context
	dir        string
	baseURL    string
	httpClient *http.Client
	app        *collabapp.NotesCollabApp
	done       chan error
}

// NewServerTestHelper writes the secret and seed into dir
func NewServerTestHelper(ctx context.Context, dir string) *ServerTestHelper {
	return &ServerTestHelper{
		ctx: ctx,
		dir: dir,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// StartServer builds the app from a memory-store config seeded with seed
// and serves it on an ephemeral port.
func (s *ServerTestHelper) StartServer(seed string, mutate ...func(*config.Config)) error {
	secretFile := filepath.Join(s.dir, "jwt-secret")
	if err := os.WriteFile(secretFile, []byte(TestSecret), 0o600); err != nil {
		return err
	}
	seedFile := filepath.Join(s.dir, "seed.yaml")
	if err := os.WriteFile(seedFile, []byte(seed), 0o600); err != nil {
		return err
	}

	cfg := &config.Config{
		Server: config.ServerConfig{Address: "127.0.0.1:0"},
		Auth: config.AuthConfig{
			Mode: config.AuthModeHMAC,
			HMAC: &config.HMACConfig{SecretFile: secretFile, Audience: "notes-collab"},
		},
		Storage: config.StorageConfig{Type: config.StorageTypeMemory, SeedFile: seedFile},
	}
	for _, m := range mutate {
		m(cfg)
	}

	app, err := collabapp.NewNotesCollabApp(s.ctx, collabapp.WithConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to build app: %w", err)
	}
	s.app = app

	s.done = make(chan error, 1)
	go func() {
		s.done <- app.Start()
	}()

	select {
	case <-app.Ready():
	case err := <-s.done:
		return fmt.Errorf("server did not start: %w", err)
	case <-time.After(10 * time.Second):
		return fmt.Errorf("server did not start listening")
	}
	s.baseURL = "http://" + app.Addr().String()
	return nil
}

// StopServer gracefully stops the server and waits for Start to return
func (s *ServerTestHelper) StopServer() error {
	if s.app == nil {
		return nil
	}
	app := s.app
	s.app = nil
	if err := app.Stop(5 * time.Second); err != nil {
		return err
	}
	return <-s.done
}

// MemoryStore returns the seeded store so tests can change shares mid-session
func (s *ServerTestHelper) MemoryStore() *store.MemoryStore {
	mem, ok := s.app.Components().Store.(*store.MemoryStore)
	gomega.Expect(ok).To(gomega.BeTrue(), "server is not using the memory store")
	return mem
}

// BaseURL returns the http:// address of the server
func (s *ServerTestHelper) BaseURL() string {
	return s.baseURL
}

// WebsocketURL returns the ws:// address of the realtime endpoint
func (s *ServerTestHelper) WebsocketURL() string {
	return "ws" + s.baseURL[len("http"):] + "/ws"
}

// Token signs an HS256 token for user
func (*ServerTestHelper) Token(userID, name string) string {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   userID,
		"name":  name,
		"email": userID + "@example.com",
		"aud":   "notes-collab",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(TestSecret))
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	return token
}

// Get issues a GET with an optional bearer token
func (s *ServerTestHelper) Get(path, token string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(s.ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return s.httpClient.Do(req)
}
