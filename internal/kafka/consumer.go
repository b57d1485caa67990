package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/game-storage/internal/config"
	"github.com/game-storage/internal/domain"
)

// ScoreHandler processes decoded game scores
type ScoreHandler interface {
	SubmitGameScoreBatch(ctx context.Context, scores []domain.NewGameScore) int
}

// ScoreMessage is the wire format of a game score event
type ScoreMessage struct {
	UserID           string `json:"user_id"`
	GameMode         string `json:"game_mode"`
	Score            int    `json:"score"`
	CoinsEarned      int    `json:"coins_earned,omitempty"`
	ExperienceEarned int    `json:"experience_earned,omitempty"`
}

// ToNewGameScore converts the message into a score submission
func (m ScoreMessage) ToNewGameScore() domain.NewGameScore {
	return domain.NewGameScore{
		UserID:           m.UserID,
		GameMode:         m.GameMode,
		Score:            m.Score,
		CoinsEarned:      m.CoinsEarned,
		ExperienceEarned: m.ExperienceEarned,
	}
}

// decodeScore parses and validates a message payload
func decodeScore(value []byte) (domain.NewGameScore, error) {
	var msg ScoreMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return domain.NewGameScore{}, fmt.Errorf("unmarshaling score message: %w", err)
	}
	if msg.UserID == "" || msg.Score < 0 {
		return domain.NewGameScore{}, domain.ErrInvalidRequest
	}
	return msg.ToNewGameScore(), nil
}

// Consumer consumes game score messages from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	handler       ScoreHandler
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler ScoreHandler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		handler:       handler,
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}, nil
}

// Start begins consuming messages and waits for the first session or ctx
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	ready := c.ready
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				config:  c.config,
				handler: c.handler,
				logger:  c.logger,
				ready:   ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			// Check if context was cancelled
			if c.ctx.Err() != nil {
				return
			}

			// Later sessions signal a fresh channel nobody waits on
			ready = make(chan bool)
		}
	}()

	select {
	case <-c.ready:
		c.logger.Info("Kafka consumer ready")
	case <-ctx.Done():
		return fmt.Errorf("waiting for consumer session: %w", ctx.Err())
	}

	// Handle errors in separate goroutine
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	err := c.consumerGroup.Close()
	c.wg.Wait()
	return err
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	config  *config.KafkaConfig
	handler ScoreHandler
	logger  *slog.Logger
	ready   chan bool
	once    sync.Once
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.once.Do(func() { close(h.ready) })
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim batches scores from a partition. Offsets are marked only after
// the batch holding the message has been handed to the service.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	batch := make([]domain.NewGameScore, 0, h.config.BatchSize)
	var last *sarama.ConsumerMessage
	batchTimer := time.NewTimer(h.config.BatchTimeout)
	defer batchTimer.Stop()

	processBatch := func() {
		if len(batch) > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			accepted := h.handler.SubmitGameScoreBatch(ctx, batch)
			cancel()

			h.logger.Debug("processed batch", "batch_size", len(batch), "accepted", accepted)
			batch = batch[:0]
		}
		if last != nil {
			session.MarkMessage(last, "")
			last = nil
		}
	}

	for {
		select {
		case <-session.Context().Done():
			// Process remaining batch before exit
			processBatch()
			return nil

		case <-batchTimer.C:
			processBatch()
			batchTimer.Reset(h.config.BatchTimeout)

		case message, ok := <-claim.Messages():
			if !ok {
				processBatch()
				return nil
			}
			last = message

			score, err := decodeScore(message.Value)
			if err != nil {
				h.logger.Warn("skipping invalid score message",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
				continue
			}

			batch = append(batch, score)
			if len(batch) >= h.config.BatchSize {
				processBatch()
				batchTimer.Reset(h.config.BatchTimeout)
			}
		}
	}
}
