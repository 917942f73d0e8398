package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/mschirtzinger/issuesync/internal/reconcile"
)

func startServer(t *testing.T, metrics http.Handler) *Server {
	t.Helper()
	server := NewServer(&Config{
		Port:    0, // Use random available port
		Metrics: metrics,
		Logger:  log.New(io.Discard, "", 0),
	})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })
	return server
}

func localAddr(t *testing.T, server *Server) string {
	t.Helper()
	_, port, err := net.SplitHostPort(server.GetAddr())
	if err != nil {
		t.Fatalf("Bad server address %q: %v", server.GetAddr(), err)
	}
	return "127.0.0.1:" + port
}

// dial connects a client and consumes the status message sent on connect.
func dial(ctx context.Context, t *testing.T, server *Server) (*websocket.Conn, Status) {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, "ws://"+localAddr(t, server)+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	msg := readMessage(ctx, t, conn)
	if msg.Type != MessageTypeStatus {
		t.Fatalf("Expected welcome message type %s, got %s", MessageTypeStatus, msg.Type)
	}
	var status Status
	if err := json.Unmarshal(msg.Data, &status); err != nil {
		t.Fatalf("Failed to unmarshal status: %v", err)
	}
	return conn, status
}

func readMessage(ctx context.Context, t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{Port: 0, Logger: log.New(io.Discard, "", 0)})

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if addr := server.GetAddr(); addr == "" || strings.HasSuffix(addr, ":0") {
		t.Fatalf("Server address not resolved: %q", addr)
	}

	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Second Stop failed: %v", err)
	}
}

func TestStopWithoutStart(t *testing.T) {
	server := NewServer(&Config{Port: 0, Logger: log.New(io.Discard, "", 0)})
	if err := server.Stop(); err != nil {
		t.Fatalf("Stop without Start failed: %v", err)
	}
	// Broadcast after Stop is a no-op.
	server.Broadcast(Message{Type: MessageTypeBatchCompleted})
}

func TestMultipleClients(t *testing.T) {
	server := startServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	numClients := 3
	for i := 0; i < numClients; i++ {
		dial(ctx, t, server)
	}

	if count := server.ClientCount(); count != numClients {
		t.Errorf("Expected %d clients, got %d", numClients, count)
	}
}

func TestMessageBroadcast(t *testing.T) {
	server := startServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first, _ := dial(ctx, t, server)
	second, _ := dial(ctx, t, server)

	msg, err := newMessage(MessageTypeRepositoryStarted, RepositoryStartedData{Repository: "api"})
	if err != nil {
		t.Fatalf("newMessage failed: %v", err)
	}
	server.Broadcast(msg)

	for _, conn := range []*websocket.Conn{first, second} {
		received := readMessage(ctx, t, conn)
		if received.Type != MessageTypeRepositoryStarted {
			t.Errorf("Expected message type %s, got %s", MessageTypeRepositoryStarted, received.Type)
		}
		var data RepositoryStartedData
		if err := json.Unmarshal(received.Data, &data); err != nil {
			t.Fatalf("Failed to unmarshal data: %v", err)
		}
		if data.Repository != "api" {
			t.Errorf("Expected repository api, got %q", data.Repository)
		}
	}
}

func TestHandlerSessionEvents(t *testing.T) {
	server := startServer(t, nil)
	handler := NewHandler(server, log.New(io.Discard, "", 0))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, status := dial(ctx, t, server)
	if status.Running || status.Sessions != 0 {
		t.Fatalf("Unexpected initial status: %+v", status)
	}

	handler.RepositoryStarted("api")
	if st := server.Status(); !st.Running || st.Repository != "api" {
		t.Errorf("Status after start = %+v", st)
	}

	handler.BatchCompleted(reconcile.OpCreate, 0, 10, 1)
	handler.ItemFailed(&reconcile.ItemError{
		Op:       reconcile.OpCreate,
		IssueURL: "https://github.com/acme/api/issues/7",
		Err:      errors.New("validation_error"),
	})

	repo := &reconcile.RepositoryReport{
		Repository: "api",
		Fetched:    12,
		Create: &reconcile.BatchReport{
			Succeeded: make([]reconcile.ItemResult, 9),
			Failed:    []reconcile.ItemError{{Op: reconcile.OpCreate}},
		},
		Update:   &reconcile.BatchReport{Succeeded: make([]reconcile.ItemResult, 2)},
		Bodies:   &reconcile.BodySyncReport{Updated: make([]reconcile.ItemResult, 2)},
		Duration: 1500 * time.Millisecond,
	}
	handler.RepositoryCompleted(repo)

	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	handler.SessionCompleted(&reconcile.SessionReport{
		StartedAt:    started,
		FinishedAt:   started.Add(2 * time.Second),
		Repositories: []*reconcile.RepositoryReport{repo},
	}, nil)

	wantTypes := []MessageType{
		MessageTypeRepositoryStarted,
		MessageTypeBatchCompleted,
		MessageTypeItemFailed,
		MessageTypeRepositoryCompleted,
		MessageTypeSessionCompleted,
	}
	var got []Message
	for range wantTypes {
		got = append(got, readMessage(ctx, t, conn))
	}
	for i, want := range wantTypes {
		if got[i].Type != want {
			t.Fatalf("Message %d type = %s, want %s", i, got[i].Type, want)
		}
	}

	var batch BatchCompletedData
	if err := json.Unmarshal(got[1].Data, &batch); err != nil {
		t.Fatalf("Failed to unmarshal batch data: %v", err)
	}
	if batch.Op != reconcile.OpCreate || batch.Size != 10 || batch.Failed != 1 {
		t.Errorf("Unexpected batch data: %+v", batch)
	}

	var failed ItemFailedData
	if err := json.Unmarshal(got[2].Data, &failed); err != nil {
		t.Fatalf("Failed to unmarshal failure data: %v", err)
	}
	if failed.IssueURL != "https://github.com/acme/api/issues/7" || failed.Error != "validation_error" {
		t.Errorf("Unexpected failure data: %+v", failed)
	}

	var repoData RepositoryCompletedData
	if err := json.Unmarshal(got[3].Data, &repoData); err != nil {
		t.Fatalf("Failed to unmarshal repository data: %v", err)
	}
	if repoData.Created != 9 || repoData.Updated != 2 || repoData.Bodies != 2 || repoData.Failed != 1 || repoData.DurationMS != 1500 {
		t.Errorf("Unexpected repository data: %+v", repoData)
	}

	var session SessionCompletedData
	if err := json.Unmarshal(got[4].Data, &session); err != nil {
		t.Fatalf("Failed to unmarshal session data: %v", err)
	}
	if session.Created != 9 || session.Failed != 1 || session.DurationMS != 2000 || len(session.Repositories) != 1 {
		t.Errorf("Unexpected session data: %+v", session)
	}

	st := server.Status()
	if st.Running || st.Sessions != 1 || st.LastSession == nil || st.LastSession.Created != 9 {
		t.Errorf("Status after session = %+v", st)
	}

	// A client joining later sees the last session in its welcome message.
	_, status = dial(ctx, t, server)
	if status.LastSession == nil || status.LastSession.Updated != 2 {
		t.Errorf("Welcome status = %+v", status)
	}
}

func TestHandlerSessionError(t *testing.T) {
	server := startServer(t, nil)
	handler := NewHandler(server, log.New(io.Discard, "", 0))

	handler.SessionCompleted(&reconcile.SessionReport{}, reconcile.ErrSourceUnavailable)

	st := server.Status()
	if st.LastSession == nil || st.LastSession.Error == "" {
		t.Fatalf("Expected session error in status, got %+v", st)
	}
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "issuesync_sessions_total 3\n")
	})
	server := startServer(t, metrics)
	base := "http://" + localAddr(t, server)

	resp, err := http.Get(base + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	var health struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
		Sync    Status `json:"sync"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode health: %v", err)
	}
	if health.Status != "ok" || health.Clients != 0 {
		t.Errorf("Unexpected health: %+v", health)
	}

	resp2, err := http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp2.Body.Close()
	body, _ := io.ReadAll(resp2.Body)
	if !strings.Contains(string(body), "issuesync_sessions_total 3") {
		t.Errorf("Unexpected metrics body: %q", body)
	}

	resp3, err := http.Get(base + "/nope")
	if err != nil {
		t.Fatalf("GET /nope failed: %v", err)
	}
	resp3.Body.Close()
	if resp3.StatusCode != http.StatusNotFound {
		t.Errorf("Unknown path status = %d, want 404", resp3.StatusCode)
	}
}

func TestMetricsEndpointAbsentWithoutHandler(t *testing.T) {
	server := startServer(t, nil)

	resp, err := http.Get("http://" + localAddr(t, server) + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", resp.StatusCode)
	}
}
