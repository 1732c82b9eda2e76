//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

var baseURL string

func TestMain(m *testing.M) {
	baseURL = os.Getenv("AGORA_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	// Wait for server readiness (up to 30s)
	ready := false
	for i := 0; i < 30; i++ {
		resp, err := http.Get(baseURL + "/api/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				ready = true
				break
			}
		}
		time.Sleep(1 * time.Second)
	}
	if !ready {
		fmt.Fprintf(os.Stderr, "server at %s not ready after 30s\n", baseURL)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

var client = &http.Client{Timeout: 90 * time.Second}

func postJSON(t *testing.T, path string, body interface{}, out interface{}) int {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := client.Post(baseURL+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("unmarshal response: %v (body: %s)", err, string(data))
		}
	}
	return resp.StatusCode
}

func getJSON(t *testing.T, path string, out interface{}) int {
	t.Helper()
	resp, err := client.Get(baseURL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("unmarshal response: %v (body: %s)", err, string(data))
		}
	}
	return resp.StatusCode
}

type smokeConversation struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Messages []struct {
		Author  string `json:"author"`
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func TestSmokeConversationFlow(t *testing.T) {
	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	ada := "smoke-ada-" + suffix
	bo := "smoke-bo-" + suffix

	for _, id := range []string{ada, bo} {
		status := postJSON(t, "/api/agents", map[string]interface{}{
			"id": id, "name": id, "interests": []string{"the weather"},
		}, nil)
		if status != http.StatusCreated {
			t.Fatalf("create agent %s: status %d", id, status)
		}
	}

	var conv smokeConversation
	status := postJSON(t, "/api/conversations", map[string]interface{}{
		"participants": []string{ada, bo},
		"topic":        "the weather",
		"location":     "the square",
	}, &conv)
	if status != http.StatusCreated {
		t.Fatalf("start conversation: status %d", status)
	}
	if conv.ID == "" || conv.Status != "active" {
		t.Fatalf("conversation = %+v", conv)
	}

	status = postJSON(t, "/api/conversations/"+conv.ID+"/turn", nil, &conv)
	if status != http.StatusOK {
		t.Fatalf("run turn: status %d", status)
	}
	if len(conv.Messages) == 0 {
		t.Fatal("expected at least one message after a turn")
	}
	t.Logf("first line: [%s] %.120s", conv.Messages[0].Author, conv.Messages[0].Content)

	var metrics map[string]interface{}
	if status := getJSON(t, "/api/conversations/"+conv.ID+"/metrics", &metrics); status != http.StatusOK {
		t.Fatalf("metrics: status %d", status)
	}
	if _, ok := metrics["quality"]; !ok {
		t.Fatalf("metrics missing quality: %v", metrics)
	}

	req, err := http.NewRequest(http.MethodDelete, baseURL+"/api/conversations/"+conv.ID, nil)
	if err != nil {
		t.Fatalf("new delete request: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("DELETE conversation: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("end conversation: status %d", resp.StatusCode)
	}

	var quota map[string]interface{}
	if status := getJSON(t, "/api/agents/"+ada+"/quota", &quota); status != http.StatusOK {
		t.Fatalf("quota: status %d", status)
	}
	if quota["busy"] != false {
		t.Fatalf("agent still busy after end: %v", quota)
	}
}

func TestSmokeDistricts(t *testing.T) {
	var districts []map[string]interface{}
	if status := getJSON(t, "/api/districts", &districts); status != http.StatusOK {
		t.Fatalf("districts: status %d", status)
	}
	if len(districts) == 0 {
		t.Fatal("expected at least one district")
	}
}
