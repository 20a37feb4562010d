// Package publish pushes pump status to redis for other lab services.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/shaunagostinho/hplc-pump/internal/pump"
)

// Config holds redis publishing configuration.
type Config struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"-"`
	DB       int    `yaml:"db" json:"db"`
	Channel  string `yaml:"channel" json:"channel"`
	History  int    `yaml:"history" json:"history"` // entries kept in the history list
}

// Publisher publishes status frames on a pub/sub channel and keeps a capped
// history list per pump.
type Publisher struct {
	client  *redis.Client
	channel string
	history int64
	log     *logrus.Logger
}

// Message is the published payload.
type Message struct {
	Pump   string       `json:"pump"`
	Status *pump.Status `json:"status"`
}

// NewPublisher connects to redis and verifies the connection.
func NewPublisher(ctx context.Context, cfg Config, log *logrus.Logger) (*Publisher, error) {
	if cfg.Channel == "" {
		cfg.Channel = "hplc:pump"
	}
	if cfg.History <= 0 {
		cfg.History = 1000
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 2 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("publish: connect %s: %w", cfg.Addr, err)
	}
	log.Infof("[publish] connected to redis %s, channel %s", cfg.Addr, cfg.Channel)

	return &Publisher{
		client:  client,
		channel: cfg.Channel,
		history: int64(cfg.History),
		log:     log,
	}, nil
}

// HistoryKey is the list holding recent status frames of a pump.
func HistoryKey(pumpName string) string {
	return fmt.Sprintf("hplc:%s:status", pumpName)
}

// Publish sends st on the channel and prepends it to the pump's history.
// History failures are logged, not returned.
func (p *Publisher) Publish(ctx context.Context, pumpName string, st *pump.Status) error {
	data, err := json.Marshal(Message{Pump: pumpName, Status: st})
	if err != nil {
		return fmt.Errorf("publish: marshal: %w", err)
	}

	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	key := HistoryKey(pumpName)
	pipe := p.client.Pipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, p.history-1)
	if _, err := pipe.Exec(ctx); err != nil {
		p.log.Warnf("[publish] history %s: %v", key, err)
	}
	return nil
}

// Close closes the redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}
