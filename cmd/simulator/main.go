package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/eleven-am/rtms-sentiment/internal/dto"
	"github.com/eleven-am/rtms-sentiment/internal/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var defaultLines = []string{
	"good morning everyone thanks for joining",
	"i am really happy with how the launch went",
	"honestly i was worried we would miss the deadline",
	"the support queue is still frustrating and slow",
	"but the feedback from customers has been amazing",
	"lets make sure we celebrate this as a team",
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type simulator struct {
	addr      string
	sessionID string
	streamID  string
	lines     []string
	interval  time.Duration

	mu    sync.Mutex
	ready bool
}

func main() {
	addr := getEnv("SIM_ADDR", "localhost:9090")
	serverURL := getEnv("SERVER_URL", "http://localhost:8080")

	sim := &simulator{
		addr:      addr,
		sessionID: getEnv("SESSION_ID", uuid.NewString()),
		streamID:  getEnv("STREAM_ID", uuid.NewString()),
		lines:     defaultLines,
		interval:  time.Duration(getEnvInt("INTERVAL_MS", 1500)) * time.Millisecond,
	}

	if path := os.Getenv("TRANSCRIPT_FILE"); path != "" {
		lines, err := readLines(path)
		if err != nil {
			log.Fatal("read transcript file:", err)
		}
		sim.lines = lines
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/signaling", sim.signaling)
	mux.HandleFunc("/media", sim.media)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		fmt.Printf("[SIM] Provider listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen:", err)
		}
	}()

	time.Sleep(200 * time.Millisecond)

	started := dto.WebhookRequest{
		Event: "session.rtms_started",
		Payload: dto.WebhookPayload{
			SessionID:  sim.sessionID,
			StreamID:   sim.streamID,
			ServerURLs: "ws://" + addr + "/signaling",
		},
	}
	if err := postWebhook(serverURL, started); err != nil {
		log.Fatal("webhook:", err)
	}
	fmt.Printf("[SIM] Announced session=%s stream=%s\n", sim.sessionID, sim.streamID)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	fmt.Println("[SIM] Shutting down...")
	stopped := dto.WebhookRequest{
		Event:   "session.rtms_stopped",
		Payload: dto.WebhookPayload{SessionID: sim.sessionID},
	}
	if err := postWebhook(serverURL, stopped); err != nil {
		fmt.Printf("[SIM] Stop webhook failed: %v\n", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

func (s *simulator) signaling(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		fmt.Printf("[SIM] Signaling upgrade failed: %v\n", err)
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(msg protocol.Message) error {
		data, err := protocol.Encode(msg)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	done := make(chan struct{})
	defer close(done)
	go keepAlive(done, write)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			fmt.Printf("[SIM] Signaling closed: %v\n", err)
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			fmt.Printf("[SIM] Signaling decode error: %v\n", err)
			continue
		}

		switch m := msg.(type) {
		case protocol.HandshakeRequest:
			fmt.Printf("[SIM] Signaling handshake session=%s signature=%s\n", m.SessionID, m.Signature)
			mediaURL := "ws://" + s.addr + "/media"
			resp := protocol.HandshakeResponse{
				StatusCode: protocol.StatusOK,
				MediaServer: protocol.MediaServer{ServerURLs: protocol.ServerURLs{
					Audio:      mediaURL,
					Transcript: mediaURL,
					All:        mediaURL,
				}},
			}
			if err := write(resp); err != nil {
				fmt.Printf("[SIM] Signaling write error: %v\n", err)
				return
			}
		case protocol.ClientReadyAck:
			fmt.Printf("[SIM] Client ready for stream %s\n", m.StreamID)
			s.mu.Lock()
			s.ready = true
			s.mu.Unlock()
		case protocol.KeepAliveResponse:
			fmt.Printf("[SIM] Signaling keep-alive echoed %s\n", m.Timestamp)
		}
	}
}

func (s *simulator) media(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		fmt.Printf("[SIM] Media upgrade failed: %v\n", err)
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(msg protocol.Message) error {
		data, err := protocol.Encode(msg)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	done := make(chan struct{})
	defer close(done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			fmt.Printf("[SIM] Media closed: %v\n", err)
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			fmt.Printf("[SIM] Media decode error: %v\n", err)
			continue
		}

		switch m := msg.(type) {
		case protocol.DataHandshakeRequest:
			fmt.Printf("[SIM] Data handshake media_type=%s\n", m.MediaType)
			if err := write(protocol.DataHandshakeResponse{StatusCode: protocol.StatusOK}); err != nil {
				fmt.Printf("[SIM] Media write error: %v\n", err)
				return
			}
			go s.stream(done, write)
		case protocol.KeepAliveResponse:
			fmt.Printf("[SIM] Media keep-alive echoed %s\n", m.Timestamp)
		}
	}
}

func (s *simulator) stream(done <-chan struct{}, write func(protocol.Message) error) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for i := 0; ; i++ {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		ready := s.ready
		s.mu.Unlock()
		if !ready {
			continue
		}

		line := s.lines[i%len(s.lines)]
		msg := protocol.TranscriptContent{Content: protocol.TranscriptPayload{
			Speaker:   protocol.Speaker{UserID: 1, UserName: "Simulator"},
			Data:      line + " ",
			Timestamp: time.Now().UnixMilli(),
		}}
		if err := write(msg); err != nil {
			fmt.Printf("[SIM] Transcript write error: %v\n", err)
			return
		}
		fmt.Printf("[SIM] Sent transcript %q\n", line)
	}
}

func keepAlive(done <-chan struct{}, write func(protocol.Message) error) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := write(protocol.KeepAliveRequest{Timestamp: protocol.UnixMillis(time.Now().UnixMilli())}); err != nil {
				return
			}
		}
	}
}

func postWebhook(serverURL string, req dto.WebhookRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	resp, err := http.Post(serverURL+"/webhook", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%s has no lines", path)
	}
	return lines, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
