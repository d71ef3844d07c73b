package orchestrator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/loqalabs/loqa-feedcast/internal/feed"
	"github.com/loqalabs/loqa-feedcast/internal/tts"
)

// synthesisServer answers every text message with one final audio frame, except that it drops
// the connection when the text contains "FAIL".
func synthesisServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg struct {
				Text string `json:"text"`
			}
			_ = json.Unmarshal(data, &msg)
			if strings.Contains(msg.Text, "FAIL") {
				return
			}
			reply := map[string]any{"audio": base64.StdEncoding.EncodeToString(make([]byte, 256)), "final": true}
			if err := conn.WriteJSON(reply); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestMidStreamFailureLeavesSiblingsIntact(t *testing.T) {
	srv := synthesisServer(t)
	client, err := tts.NewStreamClient(tts.StreamConfig{
		Endpoint:   "ws" + strings.TrimPrefix(srv.URL, "http"),
		APIKey:     "test",
		SampleRate: 16000,
	}, newLogger())
	if err != nil {
		t.Fatalf("stream client: %v", err)
	}
	o, _ := newTestOrchestrator(t, client, func(opts *Options) { opts.Fanout = 3 })

	report, err := o.Process(context.Background(), []feed.Post{
		post("s1", "linkedin", "Hiring senior engineers for the platform team"),
		post("s2", "linkedin", "FAIL the connection while this narration streams"),
		post("s3", "twitter", "Conference keynote slides are now available"),
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(report.Succeeded) != 2 || len(report.Failed) != 1 || report.Failed[0].PostID != "s2" {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Failed[0].Kind != "transport" {
		t.Fatalf("mid-stream drop should be a transport failure, got %q", report.Failed[0].Kind)
	}
	for _, it := range o.History() {
		if got := it.HasAudio(); got == (it.Post.ID == "s2") {
			t.Fatalf("item %s has audio=%v", it.Post.ID, got)
		}
	}
}
