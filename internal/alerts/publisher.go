// Package alerts pushes critical fuel-consumption alerts to Redis pub/sub,
// where the dashboard's alert banners listen.
package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"fleet-fuel-monitor/internal/consumption"
	"fleet-fuel-monitor/internal/models"
)

// Channel is the pub/sub channel alerts are published on
const Channel = "fleet:consumption:alerts"

// DedupTTL is how long the same vehicle is not re-alerted
const DedupTTL = 6 * time.Hour

// Publisher sends alerts; a Publisher without a client does nothing
type Publisher struct {
	client *redis.Client
}

// NewPublisher connects to redisURL. An empty URL yields a disabled publisher.
func NewPublisher(ctx context.Context, redisURL string) (*Publisher, error) {
	if redisURL == "" {
		log.Println("Redis URL not provided, consumption alerts disabled")
		return &Publisher{}, nil
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Publisher{client: client}, nil
}

// Enabled reports whether alerts are actually sent
func (p *Publisher) Enabled() bool {
	return p != nil && p.client != nil
}

// Close closes the Redis connection
func (p *Publisher) Close() error {
	if !p.Enabled() {
		return nil
	}
	return p.client.Close()
}

// Message is the JSON payload of one alert
type Message struct {
	VehicleID   string  `json:"vehicle_id"`
	DriverID    *string `json:"driver_id"`
	Level       string  `json:"level"`
	LiterPerKm  float64 `json:"liter_per_km"`
	TotalLiters float64 `json:"total_liters"`
	TotalKm     float64 `json:"total_km"`
	TriggeredAt int64   `json:"triggered_at"`
}

// NewMessage builds the alert payload for an analysis
func NewMessage(a models.ConsumptionAnalysis, now time.Time) Message {
	return Message{
		VehicleID:   a.VehicleID,
		DriverID:    a.DriverID,
		Level:       string(a.Level),
		LiterPerKm:  a.LiterPerKm,
		TotalLiters: a.TotalLiters,
		TotalKm:     a.TotalKm,
		TriggeredAt: now.Unix(),
	}
}

// Publish sends one alert per red analysis not already alerted within
// DedupTTL. It returns the number of alerts published.
func (p *Publisher) Publish(ctx context.Context, analyses []models.ConsumptionAnalysis) (int, error) {
	if !p.Enabled() {
		return 0, nil
	}

	published := 0
	for _, a := range consumption.Alerts(analyses) {
		key := fmt.Sprintf("alert:%s:consumption", a.VehicleID)
		fresh, err := p.client.SetNX(ctx, key, "1", DedupTTL).Result()
		if err != nil {
			return published, fmt.Errorf("dedup check for %s: %w", a.VehicleID, err)
		}
		if !fresh {
			continue
		}

		payload, err := json.Marshal(NewMessage(a, time.Now()))
		if err != nil {
			return published, fmt.Errorf("encode alert for %s: %w", a.VehicleID, err)
		}
		if err := p.client.Publish(ctx, Channel, payload).Err(); err != nil {
			return published, fmt.Errorf("publish alert for %s: %w", a.VehicleID, err)
		}
		published++
	}
	return published, nil
}
