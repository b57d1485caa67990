package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"

	"github.com/game-storage/internal/kafka"
)

var gameModes = []string{"classic", "arcade", "time_attack"}

// registerUsers creates load-test users through the HTTP API and returns their ids
func registerUsers(ctx context.Context, apiURL string, count int) ([]string, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	ids := make([]string, 0, count)

	for i := 0; i < count; i++ {
		body, err := json.Marshal(map[string]string{
			"telegram_id": fmt.Sprintf("load-%d", i),
			"username":    fmt.Sprintf("player%d", i),
		})
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+"/api/v1/users", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("registering user %d: %w", i, err)
		}

		var envelope struct {
			Success bool `json:"success"`
			Data    struct {
				User struct {
					ID string `json:"id"`
				} `json:"user"`
			} `json:"data"`
			Error string `json:"error"`
		}
		err = json.NewDecoder(resp.Body).Decode(&envelope)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("decoding user %d: %w", i, err)
		}
		if !envelope.Success {
			return nil, fmt.Errorf("registering user %d: %s", i, envelope.Error)
		}
		ids = append(ids, envelope.Data.User.ID)
	}
	return ids, nil
}

// randomScore favours the first users so the top of the board keeps moving
func randomScore(ids []string) kafka.ScoreMessage {
	idx := rand.Intn(len(ids))
	if len(ids) > 20 && rand.Intn(100) < 70 {
		idx = rand.Intn(20)
	}

	score := rand.Intn(400) + 200
	if idx < 10 {
		score = rand.Intn(800) + 400
	}

	return kafka.ScoreMessage{
		UserID:           ids[idx],
		GameMode:         gameModes[rand.Intn(len(gameModes))],
		Score:            score,
		CoinsEarned:      score / 100,
		ExperienceEarned: score / 10,
	}
}

func main() {
	// Command line flags
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "game-scores", "Kafka topic")
	apiURL := flag.String("api", "http://localhost:8080", "Game storage API used to register users")
	totalUsers := flag.Int("users", 100, "Number of users to register")
	updatesPerSecond := flag.Int("rate", 100, "Scores per second")
	duration := flag.Duration("duration", 0, "Duration to run (0 = forever)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	if *totalUsers <= 0 || *updatesPerSecond <= 0 {
		logger.Error("users and rate must be positive")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	logger.Info("registering users", "api", *apiURL, "count", *totalUsers)
	ids, err := registerUsers(ctx, strings.TrimRight(*apiURL, "/"), *totalUsers)
	if err != nil {
		logger.Error("failed to register users", "error", err)
		os.Exit(1)
	}

	// Configure Sarama producer
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(strings.Split(*brokers, ","), config)
	if err != nil {
		logger.Error("failed to create producer", "error", err)
		os.Exit(1)
	}

	// Handle producer errors and successes
	var successCount, errorCount, sentCount int64
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			logger.Warn("producer error", "error", err)
		}
	}()

	ticker := time.NewTicker(time.Second / time.Duration(*updatesPerSecond))
	defer ticker.Stop()
	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	logger.Info("producing scores", "topic", *topic, "rate", *updatesPerSecond)
loop:
	for {
		select {
		case <-ctx.Done():
			break loop

		case <-ticker.C:
			msg := randomScore(ids)
			data, err := json.Marshal(msg)
			if err != nil {
				logger.Warn("failed to marshal message", "error", err)
				continue
			}
			select {
			case producer.Input() <- &sarama.ProducerMessage{
				Topic: *topic,
				Key:   sarama.StringEncoder(msg.UserID),
				Value: sarama.ByteEncoder(data),
			}:
				atomic.AddInt64(&sentCount, 1)
			case <-ctx.Done():
				break loop
			}

		case <-statsTicker.C:
			logger.Info("progress",
				"sent", atomic.LoadInt64(&sentCount),
				"acked", atomic.LoadInt64(&successCount),
				"errors", atomic.LoadInt64(&errorCount),
			)
		}
	}

	producer.AsyncClose()
	wg.Wait()
	logger.Info("completed",
		"sent", atomic.LoadInt64(&sentCount),
		"acked", atomic.LoadInt64(&successCount),
		"errors", atomic.LoadInt64(&errorCount),
	)
}
