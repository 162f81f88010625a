package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/artifix/voicecore/internal/detector"
	"github.com/artifix/voicecore/internal/engine"
	"github.com/artifix/voicecore/internal/session"
)

type stubDetector struct{}

func (stubDetector) Name() string { return "stub" }

func (stubDetector) Configure(detector.Config) error { return nil }

func (stubDetector) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func newTestServer(t *testing.T, cfg session.Config, authToken string) (*httptest.Server, *engine.Engine) {
	t.Helper()

	eng := engine.New(cfg)
	eng.RegisterDetector(stubDetector{})

	ctx, cancel := context.WithCancel(context.Background())
	eng.Start(ctx)

	b := newTestBroadcaster(time.Hour)
	srv := NewServer(eng, b, nil, authToken)
	mux := http.NewServeMux()
	srv.SetupRoutes(mux)
	ts := httptest.NewServer(mux)

	t.Cleanup(func() {
		ts.Close()
		eng.Stop(time.Second)
		cancel()
	})
	return ts, eng
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestActivateEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, session.Config{}, "")

	resp := postJSON(t, ts.URL+"/api/activate", struct{}{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	var sess session.Session
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		t.Fatal(err)
	}
	if sess.Phase != session.Listening {
		t.Errorf("phase = %s, want listening", sess.Phase)
	}

	again := postJSON(t, ts.URL+"/api/activate", struct{}{})
	defer again.Body.Close()
	if again.StatusCode != http.StatusConflict {
		t.Errorf("second activate status = %d, want 409", again.StatusCode)
	}
}

func TestSessionEndpoint(t *testing.T) {
	ts, eng := newTestServer(t, session.Config{}, "")

	resp, err := http.Get(ts.URL + "/api/session")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("idle status = %d, want 404", resp.StatusCode)
	}

	created := postJSON(t, ts.URL+"/api/activate", struct{}{})
	created.Body.Close()

	resp, err = http.Get(ts.URL + "/api/session")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var sess session.Session
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		t.Fatal(err)
	}
	current, ok := eng.CurrentSession()
	if !ok || sess.ID != current.ID {
		t.Errorf("returned session %q, engine has %q", sess.ID, current.ID)
	}
}

func TestSessionCallbackFlow(t *testing.T) {
	ts, eng := newTestServer(t, session.Config{}, "")

	created := postJSON(t, ts.URL+"/api/activate", struct{}{})
	created.Body.Close()
	sess, _ := eng.CurrentSession()
	base := ts.URL + "/api/sessions/" + sess.ID

	resp := postJSON(t, base+"/utterance", map[string]string{"text": "turn on the lights"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("utterance status = %d", resp.StatusCode)
	}
	if got, _ := eng.CurrentSession(); got.Phase != session.Processing {
		t.Fatalf("phase = %s, want processing", got.Phase)
	}

	resp = postJSON(t, base+"/processing-done", map[string]bool{"hasResponse": true})
	resp.Body.Close()
	if got, _ := eng.CurrentSession(); got.Phase != session.Responding {
		t.Fatalf("phase = %s, want responding", got.Phase)
	}

	resp = postJSON(t, base+"/response-complete", struct{}{})
	resp.Body.Close()
	if _, ok := eng.CurrentSession(); ok {
		t.Error("session still active after response complete without continuous conversation")
	}
}

func TestCancelCallback(t *testing.T) {
	ts, eng := newTestServer(t, session.Config{}, "")

	created := postJSON(t, ts.URL+"/api/activate", struct{}{})
	created.Body.Close()
	sess, _ := eng.CurrentSession()

	resp := postJSON(t, ts.URL+"/api/sessions/"+sess.ID+"/cancel", struct{}{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("cancel status = %d", resp.StatusCode)
	}
	if _, ok := eng.CurrentSession(); ok {
		t.Error("session survived cancel")
	}
}

func TestDetectorEndpoints(t *testing.T) {
	ts, _ := newTestServer(t, session.Config{}, "")

	resp := postJSON(t, ts.URL+"/api/detectors/stub", detector.Config{Enabled: true})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("configure status = %d, want 204", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/api/detectors/nope", detector.Config{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown detector status = %d, want 400", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/api/detectors/stub/rearm", struct{}{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("rearm of healthy detector status = %d, want 409", resp.StatusCode)
	}
}

func TestAuthToken(t *testing.T) {
	ts, _ := newTestServer(t, session.Config{}, "sekrit")

	resp, err := http.Get(ts.URL + "/api/session")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/session", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		t.Error("bearer token rejected")
	}
}

func TestSystemEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, session.Config{}, "")

	resp, err := http.Get(ts.URL + "/api/system")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var info struct {
		MemoryPercent float64 `json:"memoryPercent"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatal(err)
	}
	if info.MemoryPercent < 0 || info.MemoryPercent > 100 {
		t.Errorf("memoryPercent = %v", info.MemoryPercent)
	}
}

func TestWSEndpointDeliversSnapshot(t *testing.T) {
	ts, _ := newTestServer(t, session.Config{}, "")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if msg := readMessage(t, conn); msg.Type != MsgSnapshot {
		t.Errorf("first message type = %s, want snapshot", msg.Type)
	}
}
