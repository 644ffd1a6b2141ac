package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClient_Tools_WrapperShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tools" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("auth header = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"tools": [{"name": "battery_status", "description": "Battery level"}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok")
	tools := client.Tools(context.Background())
	if len(tools) != 1 || tools[0].Name != "battery_status" {
		t.Errorf("tools = %+v", tools)
	}
}

func TestClient_Tools_BareArray(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"name": "screenshot"}, {"name": "send_imessage", "sensitive": true}]`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok")
	tools := client.Tools(context.Background())
	if len(tools) != 2 {
		t.Fatalf("tools = %d, want 2", len(tools))
	}
	if !tools[1].Sensitive {
		t.Error("sensitive flag lost")
	}
}

func TestClient_Tools_EmptyOnFailure(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()
		if tools := NewClient(server.URL, "tok").Tools(context.Background()); len(tools) != 0 {
			t.Errorf("tools = %+v, want empty", tools)
		}
	})

	t.Run("bad json", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{nope`))
		}))
		defer server.Close()
		if tools := NewClient(server.URL, "tok").Tools(context.Background()); len(tools) != 0 {
			t.Errorf("tools = %+v, want empty", tools)
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		server.Close()
		if tools := NewClient(server.URL, "tok").Tools(context.Background()); len(tools) != 0 {
			t.Errorf("tools = %+v, want empty", tools)
		}
	})
}

func TestClient_Execute_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/execute" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var body struct {
			Tool string         `json:"tool"`
			Args map[string]any `json:"args"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.Tool != "battery_status" {
			t.Errorf("tool = %q", body.Tool)
		}
		if body.Args == nil {
			t.Error("args must never be null on the wire")
		}
		w.Write([]byte(`{"success": true, "result": "82%"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "tok")
	res := client.Execute(context.Background(), "battery_status", nil)
	if !res.Success || res.Result != "82%" {
		t.Errorf("result = %+v", res)
	}
}

func TestClient_Execute_StructuredResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": true, "result": {"level": 82, "charging": false}}`))
	}))
	defer server.Close()

	res := NewClient(server.URL, "tok").Execute(context.Background(), "battery_status", nil)
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if res.Result == "" {
		t.Error("structured result must keep its JSON form")
	}
}

func TestClient_Execute_FailureFromAgent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": false, "error": "no such tool"}`))
	}))
	defer server.Close()

	res := NewClient(server.URL, "tok").Execute(context.Background(), "bogus", nil)
	if res.Success || res.Error != "no such tool" {
		t.Errorf("result = %+v", res)
	}
}

func TestClient_Execute_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer func() {
		close(release)
		server.Close()
	}()

	client := NewClient(server.URL, "tok", WithTimeout(50*time.Millisecond))
	res := client.Execute(context.Background(), "slow_tool", nil)
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Error != ResultTimeout {
		t.Errorf("error = %q, want %q", res.Error, ResultTimeout)
	}
}

func TestClient_Execute_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	res := NewClient(server.URL, "tok").Execute(context.Background(), "any", nil)
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Error != ResultUnreachable {
		t.Errorf("error = %q, want %q", res.Error, ResultUnreachable)
	}
}

func TestClient_Execute_ImagePassthrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": true, "result": "captured", "image": "aGVsbG8="}`))
	}))
	defer server.Close()

	res := NewClient(server.URL, "tok").Execute(context.Background(), "screenshot", nil)
	if res.Image != "aGVsbG8=" {
		t.Errorf("image = %q", res.Image)
	}
}

func TestClient_Health(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	if !NewClient(server.URL, "tok").Health(context.Background()) {
		t.Error("expected healthy")
	}

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	down.Close()
	if NewClient(down.URL, "tok").Health(context.Background()) {
		t.Error("expected unhealthy")
	}
}

func TestClient_Health_LegacyPathFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	if !NewClient(server.URL, "tok").Health(context.Background()) {
		t.Error("expected healthy via /health fallback")
	}
}

func TestMonitor_Transitions(t *testing.T) {
	healthy := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer server.Close()

	var changes []Status
	monitor := NewMonitor(NewClient(server.URL, "tok"), time.Minute, nil, func(s Status) {
		changes = append(changes, s)
	})

	monitor.Probe(context.Background())
	monitor.Probe(context.Background()) // no transition
	healthy = false
	monitor.Probe(context.Background())
	healthy = true
	monitor.Probe(context.Background())

	if len(changes) != 3 {
		t.Fatalf("changes = %d, want 3 (initial, down, up)", len(changes))
	}
	if !changes[0].Connected || changes[1].Connected || !changes[2].Connected {
		t.Errorf("transition sequence wrong: %+v", changes)
	}
}
