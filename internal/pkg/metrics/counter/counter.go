package counter

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const webhookCountersKey = "webhook:counters"

const (
	OutcomeProcessed        = "processed"
	OutcomeDuplicate        = "duplicate"
	OutcomeIgnored          = "ignored"
	OutcomeInvalidSignature = "invalid_signature"
	OutcomeError            = "error"
)

// WebhookCounter keeps per provider delivery counts in a Redis hash with
// fields "{provider}:{outcome}". A nil counter records nothing.
type WebhookCounter struct {
	client *redis.Client
}

func NewWebhookCounter(client *redis.Client) *WebhookCounter {
	return &WebhookCounter{client: client}
}

// Add increments the counter for one delivery.
func (w *WebhookCounter) Add(ctx context.Context, provider, outcome string) error {
	if w == nil || w.client == nil {
		return nil
	}
	return w.client.HIncrBy(ctx, webhookCountersKey, field(provider, outcome), 1).Err()
}

// Snapshot returns the counts grouped by provider.
func (w *WebhookCounter) Snapshot(ctx context.Context) (map[string]map[string]int64, error) {
	if w == nil || w.client == nil {
		return map[string]map[string]int64{}, nil
	}
	data, err := w.client.HGetAll(ctx, webhookCountersKey).Result()
	if err != nil {
		return nil, err
	}
	return group(data), nil
}

// Drain returns the counts and resets them. The hash is renamed to a temp
// key first so increments arriving during the drain land in a fresh hash.
func (w *WebhookCounter) Drain(ctx context.Context) (map[string]map[string]int64, error) {
	if w == nil || w.client == nil {
		return map[string]map[string]int64{}, nil
	}
	tmpKey := fmt.Sprintf("%s:tmp:%d", webhookCountersKey, time.Now().UnixNano())
	if err := w.client.Rename(ctx, webhookCountersKey, tmpKey).Err(); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return map[string]map[string]int64{}, nil
		}
		return nil, err
	}
	defer w.client.Del(ctx, tmpKey)

	data, err := w.client.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return nil, err
	}
	return group(data), nil
}

func field(provider, outcome string) string {
	return strings.ToLower(provider) + ":" + outcome
}

func group(data map[string]string) map[string]map[string]int64 {
	out := make(map[string]map[string]int64)
	for k, v := range data {
		provider, outcome, ok := strings.Cut(k, ":")
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		if out[provider] == nil {
			out[provider] = make(map[string]int64)
		}
		out[provider][outcome] += n
	}
	return out
}
