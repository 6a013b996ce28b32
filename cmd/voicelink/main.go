package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/serenelabs/voicelink/audio"
	"github.com/serenelabs/voicelink/internal/auth"
	"github.com/serenelabs/voicelink/stream"
)

func main() {
	_ = godotenv.Load()

	serverURL := flag.String("server", "http://localhost:8080", "voicelink server base URL")
	configID := flag.String("config", "cfg-default", "voice configuration ID")
	userID := flag.String("user", "", "optional user ID")
	useMic := flag.Bool("mic", false, "stream microphone audio into the session")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	ctx := context.Background()

	// Fetch a short-lived access token from the server
	tokens := auth.NewTokenClient(*serverURL)
	accessToken, err := tokens.FetchToken(ctx, *configID, *userID)
	if err != nil {
		logger.Fatal("Failed to fetch access token", zap.Error(err))
	}

	endpoint := "ws" + strings.TrimPrefix(*serverURL, "http") + "/v1/chat"

	// Assistant audio plays at the capture rate; the dev server synthesizes
	// its voice frames at the same rate it expects microphone input
	player, err := audio.NewPlayer(audio.CaptureSampleRate)
	if err != nil {
		logger.Warn("Audio output unavailable, replies will be text only", zap.Error(err))
	}

	client, err := stream.NewClient(stream.Config{
		Endpoint:    endpoint,
		ConfigID:    *configID,
		AccessToken: accessToken,
		Logger:      logger,
	}, stream.Callbacks{
		OnConnect: func() {
			fmt.Println("connected, type a message and press enter")
		},
		OnDisconnect: func() {
			fmt.Println("disconnected, retrying...")
		},
		OnError: func(err error) {
			fmt.Printf("transport trouble: %v\n", err)
		},
		OnMessage: func(msg stream.ChatMessage) {
			fmt.Printf("[%s] %s\n", msg.Role, msg.Content)
		},
		OnEmotion: func(scores []stream.EmotionScore) {
			parts := make([]string, 0, len(scores))
			for _, s := range scores {
				parts = append(parts, fmt.Sprintf("%s %.2f", s.Name, s.Score))
			}
			fmt.Printf("  feels like: %s\n", strings.Join(parts, ", "))
		},
		OnAudio: func(pcm []byte) {
			if player != nil {
				if err := player.Write(pcm); err != nil {
					logger.Warn("Playback write failed", zap.Error(err))
				}
			}
		},
	})
	if err != nil {
		logger.Fatal("Failed to create stream client", zap.Error(err))
	}

	if err := client.Connect(ctx); err != nil {
		logger.Warn("Initial connect failed, reconnection is scheduled", zap.Error(err))
	}

	if *useMic {
		mic := audio.NewMicrophone(audio.DefaultMicrophoneConfig(), logger)
		if err := client.StartCapture(mic); err != nil {
			logger.Fatal("Failed to start audio capture", zap.Error(err))
		}
		fmt.Println("microphone streaming, speak any time")
	}

	// Stdin lines become text turns; SIGINT ends the session
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if err := client.SendText(line); err != nil {
				fmt.Printf("send failed: %v\n", err)
				return
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	fmt.Println("\nending session")
	client.Disconnect()
	if player != nil {
		_ = player.Close()
	}
}
