// Command console drives a running livevoice daemon from the terminal: it
// starts a session, prints state changes and transcript turns, and stops the
// session on Ctrl+C.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/room4-2/livevoice/messages"
)

type serverMessage struct {
	Type      string         `json:"type"`
	SessionID string         `json:"sessionId,omitempty"`
	Payload   map[string]any `json:"payload"`
}

func main() {
	serverURL := flag.String("server", "ws://localhost:8080/ws", "WebSocket server URL")
	start := flag.Bool("start", true, "start a session after connecting")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	logger.Info("🔌 Connecting", "url", *serverURL)

	conn, _, err := websocket.DefaultDialer.Dial(*serverURL, nil)
	if err != nil {
		logger.Error("Failed to connect", "error", err)
		os.Exit(1)
	}
	defer conn.Close()
	logger.Info("✅ Connected!")

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				logger.Info("Read error", "error", err)
				return
			}
			var msg serverMessage
			if err := sonic.Unmarshal(data, &msg); err != nil {
				logger.Warn("Parse error", "error", err)
				continue
			}
			show(msg)
		}
	}()

	send := func(action string) {
		frame, err := messages.NewControlMessage(action)
		if err == nil {
			err = conn.WriteMessage(websocket.TextMessage, frame)
		}
		if err != nil {
			logger.Error("Send error", "action", action, "error", err)
		}
	}

	if *start {
		send(messages.ActionStart)
	}

	select {
	case <-done:
		logger.Info("Connection closed")
	case <-interrupt:
		fmt.Println()
		logger.Info("👋 Interrupted, stopping session...")
		send(messages.ActionStop)
		time.Sleep(200 * time.Millisecond)
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
}

func show(msg serverMessage) {
	p := msg.Payload
	switch msg.Type {
	case messages.TypeState:
		fmt.Printf("📊 %v -> %v\n", p["from"], p["state"])
	case messages.TypeTurn:
		fmt.Printf("📝 %v: %v\n", p["speaker"], p["text"])
	case messages.TypeTranscript:
		turns, _ := p["turns"].([]any)
		for _, t := range turns {
			if turn, ok := t.(map[string]any); ok {
				fmt.Printf("📝 %v: %v\n", turn["speaker"], turn["text"])
			}
		}
	case messages.TypeInterrupted:
		fmt.Println("✋ interrupted")
	case messages.TypeError:
		fmt.Printf("❌ %v: %v\n", p["code"], p["message"])
	case messages.TypeStatus:
		fmt.Printf("📊 status: %v\n", p["status"])
	}
}
