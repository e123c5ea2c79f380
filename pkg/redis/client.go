package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/onurcolak/unified-inbox/environments"
	"github.com/onurcolak/unified-inbox/internal/domain"
	"github.com/onurcolak/unified-inbox/pkg/logger"
)

type Client struct {
	client valkey.Client
}

const (
	deliveryKeyPrefix = "inbox:delivery:"
	deliveryTTL       = 24 * time.Hour
)

func NewRedisClient(cfg environments.RedisConfig) (*Client, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)},
		Password:    cfg.Password,
		SelectDB:    cfg.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Infof("Connected to Redis (via Valkey client)")

	return &Client{client: client}, nil
}

// CacheDelivery remembers a successful notification send for a day.
func (c *Client) CacheDelivery(ctx context.Context, notificationID int64, chatID string, sentAt time.Time) error {
	data, err := json.Marshal(domain.DeliveryCache{ChatID: chatID, SentAt: sentAt})
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}

	key := fmt.Sprintf("%s%d", deliveryKeyPrefix, notificationID)

	err = c.client.Do(ctx, c.client.B().Set().Key(key).Value(string(data)).ExSeconds(int64(deliveryTTL.Seconds())).Build()).Error()
	if err != nil {
		return fmt.Errorf("failed to cache delivery: %w", err)
	}

	logger.Debugf("Cached delivery of notification %d -> %s", notificationID, chatID)

	return nil
}

func (c *Client) GetAllCachedDeliveries(ctx context.Context) (map[int64]*domain.DeliveryCache, error) {
	pattern := deliveryKeyPrefix + "*"

	var keys []string
	var cursor uint64
	for {
		result := c.client.Do(ctx, c.client.B().Scan().Cursor(cursor).Match(pattern).Count(100).Build())
		if result.Error() != nil {
			return nil, fmt.Errorf("failed to scan cache keys: %w", result.Error())
		}

		scanResult, err := result.AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("failed to parse scan result: %w", err)
		}

		keys = append(keys, scanResult.Elements...)
		cursor = scanResult.Cursor

		if cursor == 0 {
			break
		}
	}

	deliveries := make(map[int64]*domain.DeliveryCache, len(keys))
	if len(keys) == 0 {
		return deliveries, nil
	}

	values, err := c.client.Do(ctx, c.client.B().Mget().Key(keys...).Build()).ToArray()
	if err != nil {
		return nil, fmt.Errorf("failed to read cached deliveries: %w", err)
	}

	for i, key := range keys {
		if i >= len(values) {
			break
		}

		data, err := values[i].ToString()
		if err != nil {
			// expired between SCAN and MGET
			continue
		}

		var cache domain.DeliveryCache
		if err := json.Unmarshal([]byte(data), &cache); err != nil {
			continue
		}

		var id int64
		if _, err := fmt.Sscanf(key, deliveryKeyPrefix+"%d", &id); err != nil {
			logger.Warnf("failed to parse notification id from key %q: %v", key, err)
			continue
		}

		deliveries[id] = &cache
	}

	return deliveries, nil
}

// AcquireLease takes key for ttl if nobody else holds it.
func (c *Client) AcquireLease(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	cmd := c.client.B().Set().Key(key).Value(time.Now().UTC().Format(time.RFC3339)).Nx().PxMilliseconds(ttl.Milliseconds()).Build()

	err := c.client.Do(ctx, cmd).Error()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}

	return true, nil
}

func (c *Client) Close() error {
	c.client.Close()
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Do(ctx, c.client.B().Ping().Build()).Error()
}
