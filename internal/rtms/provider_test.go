package rtms

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eleven-am/rtms-sentiment/internal/protocol"
	"github.com/eleven-am/rtms-sentiment/internal/transcript"
	"github.com/gorilla/websocket"
)

const keepAliveTimestamp = 1727472000123

type frame map[string]any

func (f frame) msgType() int {
	v, _ := f["msg_type"].(float64)
	return int(v)
}

type fakeSigner struct{}

func (fakeSigner) StreamSignature(sessionID, streamID string) string {
	return "sig-" + sessionID + "-" + streamID
}

type stubClassifier struct {
	mu    sync.Mutex
	texts []string
}

func (c *stubClassifier) Classify(_ context.Context, text string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
	return "joy", nil
}

func (c *stubClassifier) Texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.texts...)
}

type providerConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *providerConn) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

func (c *providerConn) sendRaw(data string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, []byte(data))
}

var providerUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// fakeProvider serves a signaling and a media endpoint that speak the
// streaming protocol.
type fakeProvider struct {
	server *httptest.Server

	signalingStatus    int
	mediaStatus        int
	silentSignaling    bool
	silentMedia        bool
	signalingKeepAlive bool
	mediaKeepAlive     bool
	garbageFirst       bool

	mu                    sync.Mutex
	signalingFrames       []frame
	mediaFrames           []frame
	signalingDials        int
	mediaDials            int
	mediaDialsAtKeepAlive int
	signalingConn         *providerConn
	mediaConn             *providerConn
}

func newFakeProvider(t *testing.T, configure func(*fakeProvider)) *fakeProvider {
	t.Helper()
	p := &fakeProvider{mediaDialsAtKeepAlive: -1}
	if configure != nil {
		configure(p)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/signaling", p.handleSignaling)
	mux.HandleFunc("/media", p.handleMedia)
	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakeProvider) url(path string) string {
	return "ws" + strings.TrimPrefix(p.server.URL, "http") + path
}

func (p *fakeProvider) handshakeResponse() frame {
	return frame{
		"msg_type":    2,
		"status_code": p.signalingStatus,
		"media_server": frame{
			"server_urls": frame{
				"audio":      p.url("/media"),
				"transcript": p.url("/media"),
				"all":        p.url("/media"),
			},
		},
	}
}

func (p *fakeProvider) handleSignaling(w http.ResponseWriter, r *http.Request) {
	ws, err := providerUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	conn := &providerConn{ws: ws}
	p.mu.Lock()
	p.signalingDials++
	p.signalingConn = conn
	p.mu.Unlock()

	responded := false
	for {
		var f frame
		if err := ws.ReadJSON(&f); err != nil {
			return
		}
		p.mu.Lock()
		p.signalingFrames = append(p.signalingFrames, f)
		p.mu.Unlock()

		switch f.msgType() {
		case 1:
			if p.silentSignaling {
				continue
			}
			if p.garbageFirst {
				_ = conn.sendRaw("not a protocol frame")
				_ = conn.send(frame{"msg_type": 99})
			}
			if p.signalingKeepAlive {
				_ = conn.send(frame{"msg_type": 12, "timestamp": keepAliveTimestamp})
				continue
			}
			responded = true
			_ = conn.send(p.handshakeResponse())
		case 13:
			if p.signalingKeepAlive && !responded {
				p.mu.Lock()
				p.mediaDialsAtKeepAlive = p.mediaDials
				p.mu.Unlock()
				responded = true
				_ = conn.send(p.handshakeResponse())
			}
		}
	}
}

func (p *fakeProvider) handleMedia(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.mediaDials++
	p.mu.Unlock()

	ws, err := providerUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	conn := &providerConn{ws: ws}
	p.mu.Lock()
	p.mediaConn = conn
	p.mu.Unlock()

	responded := false
	for {
		var f frame
		if err := ws.ReadJSON(&f); err != nil {
			return
		}
		p.mu.Lock()
		p.mediaFrames = append(p.mediaFrames, f)
		p.mu.Unlock()

		switch f.msgType() {
		case 3:
			if p.silentMedia {
				continue
			}
			if p.mediaKeepAlive {
				_ = conn.send(frame{"msg_type": 12, "timestamp": keepAliveTimestamp})
				continue
			}
			responded = true
			_ = conn.send(frame{"msg_type": 4, "status_code": p.mediaStatus})
		case 13:
			if p.mediaKeepAlive && !responded {
				responded = true
				_ = conn.send(frame{"msg_type": 4, "status_code": p.mediaStatus})
			}
		}
	}
}

func (p *fakeProvider) frames(role protocol.Role) []frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	if role == protocol.RoleMedia {
		return append([]frame(nil), p.mediaFrames...)
	}
	return append([]frame(nil), p.signalingFrames...)
}

func (p *fakeProvider) framesOfType(role protocol.Role, msgType int) []frame {
	var out []frame
	for _, f := range p.frames(role) {
		if f.msgType() == msgType {
			out = append(out, f)
		}
	}
	return out
}

func (p *fakeProvider) media() *providerConn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mediaConn
}

func (p *fakeProvider) signaling() *providerConn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signalingConn
}

func (p *fakeProvider) dials() (signaling, media int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signalingDials, p.mediaDials
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testConfig() Config {
	return Config{
		ContentTypes:     protocol.ContentTranscript,
		Transcript:       transcript.Config{Threshold: 100, Unit: transcript.UnitChars},
		HandshakeTimeout: 2 * time.Second,
	}
}

func newTestController(t *testing.T, cfg Config, deps Deps) *Controller {
	t.Helper()
	if deps.Signer == nil {
		deps.Signer = fakeSigner{}
	}
	if deps.Classifier == nil {
		deps.Classifier = &stubClassifier{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ctrl, err := NewController(cfg, deps)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = ctrl.Close(ctx)
	})
	return ctrl
}

func startParams(p *fakeProvider) StartParams {
	return StartParams{
		SessionID:    "sess-1",
		StreamID:     "stream-1",
		SignalingURL: p.url("/signaling"),
	}
}
