/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	v1 "github.com/courierkit/courier/pkg/apis/v1"
)

// Channel is the pub/sub channel realtime consumers subscribe to.
const Channel = "message_events"

// RedisRecorder publishes committed events as JSON to a Redis channel. Publish
// failures are logged and dropped.
type RedisRecorder struct {
	client *redis.Client
	log    *zap.SugaredLogger
}

// NewRedisRecorder connects a client for the given URL ("redis://host:port/db").
func NewRedisRecorder(ctx context.Context, redisURL string, log *zap.SugaredLogger) (*RedisRecorder, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &RedisRecorder{client: client, log: log.Named("events")}, nil
}

type wireEvent struct {
	TS        time.Time      `json:"ts"`
	MessageID string         `json:"message_id"`
	Status    string         `json:"status"`
	Detail    v1.EventDetail `json:"detail"`
}

func (r *RedisRecorder) Record(ctx context.Context, event *v1.MessageStatusEvent) {
	payload, err := json.Marshal(wireEvent{
		TS:        event.Timestamp,
		MessageID: event.MessageID.String(),
		Status:    string(event.Status),
		Detail:    event.Detail,
	})
	if err != nil {
		r.log.Errorw("encoding event", "message_id", event.MessageID, "error", err)
		return
	}
	if err := r.client.Publish(ctx, Channel, payload).Err(); err != nil {
		r.log.Errorw("publishing event", "message_id", event.MessageID, "error", err)
	}
}

// Close releases the underlying client.
func (r *RedisRecorder) Close() error {
	return r.client.Close()
}
