package agentlink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tinkerbelle-io/fleetmend/internal/executor"
	"github.com/tinkerbelle-io/fleetmend/internal/hostdir"
)

// dialAgent connects a scripted agent to the hub and answers exec requests
// with respond until the connection closes.
func dialAgent(t *testing.T, srv *httptest.Server, hostID string, respond func(execRequest) execResponse) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/agent"
	header := http.Header{HostHeader: []string{hostID}}
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ws.Close() })

	go func() {
		for {
			var req execRequest
			if err := ws.ReadJSON(&req); err != nil {
				return
			}
			if respond == nil {
				continue
			}
			resp := respond(req)
			data, _ := json.Marshal(resp)
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}()
	return ws
}

func newHubServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub()
	mux := http.NewServeMux()
	mux.HandleFunc("/agent", hub.HandleAgent)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return hub, srv
}

func waitConnected(t *testing.T, hub *Hub, hostID string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, id := range hub.Connected() {
			if id == hostID {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("agent %s never registered", hostID)
}

func TestRemoteExecutesThroughAgent(t *testing.T) {
	hub, srv := newHubServer(t)
	dialAgent(t, srv, "web-01", func(req execRequest) execResponse {
		return execResponse{
			Type: "result",
			ID:   req.ID,
			Result: executor.Result{
				OK: true,
				PerCommand: []executor.CommandOutput{
					{Command: req.Commands[0], Output: "nginx restarted"},
				},
			},
		}
	})
	waitConnected(t, hub, "web-01")

	remote := NewRemote(hub, 5*time.Second)
	res, err := remote.Execute(context.Background(), hostdir.Host{ID: "web-01"}, []string{"systemctl restart nginx"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK {
		t.Fatalf("result = %+v", res)
	}
	if len(res.PerCommand) != 1 || res.PerCommand[0].Output != "nginx restarted" {
		t.Fatalf("per-command = %+v", res.PerCommand)
	}
}

func TestRemoteReportsCommandFailure(t *testing.T) {
	hub, srv := newHubServer(t)
	dialAgent(t, srv, "web-01", func(req execRequest) execResponse {
		return execResponse{
			Type: "result",
			ID:   req.ID,
			Result: executor.Result{
				OK:    false,
				Error: "command \"false\" failed: exit status 1",
			},
		}
	})
	waitConnected(t, hub, "web-01")

	remote := NewRemote(hub, 5*time.Second)
	res, err := remote.Execute(context.Background(), hostdir.Host{ID: "web-01"}, []string{"false"})
	if err != nil {
		t.Fatal(err)
	}
	if res.OK || res.Error == "" {
		t.Fatalf("result = %+v, want a command failure", res)
	}
}

func TestRemoteDisconnectedHostIsEnvironmentError(t *testing.T) {
	hub, _ := newHubServer(t)

	remote := NewRemote(hub, time.Second)
	res, err := remote.Execute(context.Background(), hostdir.Host{ID: "web-99"}, []string{"true"})
	if err == nil {
		t.Fatalf("expected an error for a host with no agent, got %+v", res)
	}
}

func TestRemoteBlocksDeniedCommands(t *testing.T) {
	hub, srv := newHubServer(t)
	called := false
	dialAgent(t, srv, "web-01", func(req execRequest) execResponse {
		called = true
		return execResponse{ID: req.ID, Result: executor.Result{OK: true}}
	})
	waitConnected(t, hub, "web-01")

	remote := NewRemote(hub, time.Second)
	res, err := remote.Execute(context.Background(), hostdir.Host{ID: "web-01"}, []string{"rm -rf /"})
	if err != nil {
		t.Fatal(err)
	}
	if res.OK {
		t.Fatal("denied command must fail the result")
	}
	if called {
		t.Error("denied command must never reach the agent")
	}
}

func TestReconnectReplacesAgent(t *testing.T) {
	hub, srv := newHubServer(t)
	dialAgent(t, srv, "web-01", nil)
	waitConnected(t, hub, "web-01")

	dialAgent(t, srv, "web-01", func(req execRequest) execResponse {
		return execResponse{ID: req.ID, Result: executor.Result{OK: true}}
	})

	// Give the hub a moment to swap the registration.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		remote := NewRemote(hub, time.Second)
		res, err := remote.Execute(context.Background(), hostdir.Host{ID: "web-01"}, []string{"true"})
		if err == nil && res.OK {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("second connection never took over")
}
