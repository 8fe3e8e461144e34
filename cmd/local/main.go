// Command local runs one voice session directly against the default audio
// devices, without the UI server. Turns are printed as they complete.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/room4-2/livevoice/config"
	"github.com/room4-2/livevoice/device"
	"github.com/room4-2/livevoice/dialer"
	"github.com/room4-2/livevoice/session"
)

func main() {
	os.Exit(run(device.Init))
}

// run returns the process exit code. Deferred cleanup, the audio driver's
// termination included, has run by the time it returns.
func run(initAudio func() (func(), error)) int {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	logger := config.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	terminate, err := initAudio()
	if err != nil {
		logger.Error("audio devices unavailable", "error", err)
		return 1
	}
	defer terminate()

	d, err := dialer.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to create transport", "error", err)
		return 1
	}

	manager := session.NewManager(cfg, d, device.NewMicrophone(logger),
		session.WithLogger(logger),
		session.WithSink(device.NewSpeaker(logger)),
	)
	defer manager.Stop()

	failed := make(chan error, 1)
	manager.Subscribe(session.ListenerFuncs{
		StateChange: func(c session.StateChange) {
			fmt.Printf("📊 %s -> %s\n", c.From, c.To)
			if c.To != session.StateError && c.To != session.StateDisconnected {
				return
			}
			select {
			case failed <- c.Err:
			default:
			}
		},
		Turn: func(e session.TurnEvent) {
			fmt.Printf("📝 %s: %s\n", e.Turn.Speaker, e.Turn.Text)
		},
		Interrupted: func(string) {
			fmt.Println("✋ interrupted")
		},
	})

	if err := manager.Start(ctx); err != nil && !errors.Is(err, session.ErrSessionStopped) {
		logger.Error("❌ session failed to start", "error", err)
		return 1
	}
	fmt.Println("🎤 Speak now. Press Ctrl+C to stop.")

	code := 0
	select {
	case <-ctx.Done():
	case err := <-failed:
		if err != nil {
			logger.Error("❌ session ended with error", "error", err)
			code = 1
		}
	}
	manager.Stop()
	fmt.Println("Done")
	return code
}
