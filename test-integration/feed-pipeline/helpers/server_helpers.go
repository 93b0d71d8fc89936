package helpers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/onsi/gomega"

	v1 "github.com/stacklok/catalog-feed-server/internal/api/v1"
	feedapp "github.com/stacklok/catalog-feed-server/internal/app"
	"github.com/stacklok/catalog-feed-server/internal/config"
	"github.com/stacklok/catalog-feed-server/internal/scheduler"
	"github.com/stacklok/catalog-feed-server/internal/service"
	"github.com/stacklok/catalog-feed-server/internal/status"
)

// ServerTestHelper manages the catalog feed server lifecycle for testing
type ServerTestHelper struct {
	ctx        context.Context
	configPath string
	baseURL    string
	address    string
	httpClient *http.Client
	app        *feedapp.FeedApp
	done       chan error
}

// NewServerTestHelper creates a helper for the server configured at configPath,
// listening on a free local port
func NewServerTestHelper(ctx context.Context, configPath string) (*ServerTestHelper, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	address := listener.Addr().String()
	if err := listener.Close(); err != nil {
		return nil, err
	}

	return &ServerTestHelper{
		ctx:        ctx,
		configPath: configPath,
		address:    address,
		baseURL:    "http://" + address,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// StartServer starts the server programmatically
func (s *ServerTestHelper) StartServer() error {
	cfg, err := config.LoadConfig(config.WithConfigPath(s.configPath))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	app, err := feedapp.NewFeedApp(s.ctx,
		feedapp.WithConfig(cfg),
		feedapp.WithAddress(s.address),
		feedapp.WithSchedulerOptions(scheduler.WithPollInterval(20*time.Millisecond)),
	)
	if err != nil {
		return fmt.Errorf("failed to build app: %w", err)
	}
	s.app = app

	s.done = make(chan error, 1)
	go func() {
		err := app.Start()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Server start failed: %v\n", err)
		}
		s.done <- err
	}()
	return nil
}

// StopServer gracefully stops the server and waits for Start to return
func (s *ServerTestHelper) StopServer() error {
	if s.app == nil {
		return nil
	}
	err := s.app.Stop(5 * time.Second)
	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		return fmt.Errorf("server did not stop")
	}
	s.app = nil
	return err
}

// App returns the running application
func (s *ServerTestHelper) App() *feedapp.FeedApp {
	return s.app
}

// WaitForServerReady waits for the readiness endpoint to answer 200
func (s *ServerTestHelper) WaitForServerReady(timeout time.Duration) {
	gomega.Eventually(func() int {
		resp, err := s.httpClient.Get(s.baseURL + "/readiness")
		if err != nil {
			return 0
		}
		defer resp.Body.Close()
		return resp.StatusCode
	}, timeout, 50*time.Millisecond).Should(gomega.Equal(http.StatusOK))
}

// GetStatus fetches GET /v1/feed/status
func (s *ServerTestHelper) GetStatus() (*service.FeedStatus, error) {
	var st service.FeedStatus
	if err := s.getJSON("/v1/feed/status", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// WaitForStatus waits until the generation status equals want and returns the status
func (s *ServerTestHelper) WaitForStatus(want status.Phase, timeout time.Duration) *service.FeedStatus {
	var last *service.FeedStatus
	gomega.Eventually(func() (status.Phase, error) {
		st, err := s.GetStatus()
		if err != nil {
			return "", err
		}
		last = st
		return st.State.Status, nil
	}, timeout, 50*time.Millisecond).Should(gomega.Equal(want))
	return last
}

// GetDestinations fetches GET /v1/feed/destinations
func (s *ServerTestHelper) GetDestinations(inspect bool) ([]service.DestinationStatus, error) {
	var resp v1.DestinationsResponse
	if err := s.getJSON(fmt.Sprintf("/v1/feed/destinations?inspect=%t", inspect), &resp); err != nil {
		return nil, err
	}
	return resp.Destinations, nil
}

// Post sends an empty POST request and returns the status code
func (s *ServerTestHelper) Post(path string) (int, error) {
	resp, err := s.httpClient.Post(s.baseURL+path, "application/json", bytes.NewReader(nil))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func (s *ServerTestHelper) getJSON(path string, v any) error {
	resp, err := s.httpClient.Get(s.baseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s returned %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
