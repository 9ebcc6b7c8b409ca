package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ClareAI/voice-sell-agent/pkg/logger"
	"github.com/ClareAI/voice-sell-agent/pkg/redis"
	"go.uber.org/zap"
)

const (
	EndedChannel = "voicesell:call:ended"
	CallTTL      = 1 * time.Hour
)

// CallInfo is the registry entry for an active call
type CallInfo struct {
	JobID     string    `json:"jobId"`
	RoomName  string    `json:"roomName"`
	WorkerID  string    `json:"workerId"`
	Scenario  string    `json:"scenario"`
	StartTime time.Time `json:"startTime"`
}

// EndedMessage is published when a call is torn down
type EndedMessage struct {
	JobID    string `json:"jobId"`
	RoomName string `json:"roomName"`
}

// Manager records active calls in Redis. A nil Manager, or one built without a
// Redis service, is a no-op so the worker runs without Redis.
type Manager struct {
	redisSvc redis.RedisServiceInterface
	workerID string
}

func NewManager(redisSvc redis.RedisServiceInterface, workerID string) *Manager {
	return &Manager{
		redisSvc: redisSvc,
		workerID: workerID,
	}
}

func (m *Manager) enabled() bool {
	return m != nil && m.redisSvc != nil
}

// Register records the call as active
func (m *Manager) Register(ctx context.Context, info CallInfo) error {
	if !m.enabled() {
		return nil
	}
	info.WorkerID = m.workerID
	if info.StartTime.IsZero() {
		info.StartTime = time.Now()
	}

	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	key := m.redisSvc.GenerateKey(redis.ACTIVE_CALL, info.JobID)

	if err := m.redisSvc.SetValue(ctx, key, string(data), CallTTL); err != nil {
		return err
	}
	logger.Base().Info("Call registered in Redis", zap.String("job_id", info.JobID), zap.String("worker_id", m.workerID))
	return nil
}

// Unregister removes the call and announces that it ended. An entry that
// another worker has registered for the same job is left in place.
func (m *Manager) Unregister(ctx context.Context, jobID, roomName string) error {
	if !m.enabled() {
		return nil
	}
	if info, err := m.Lookup(ctx, jobID); err == nil && info.WorkerID != m.workerID {
		logger.Base().Warn("Call registered by another worker, keeping entry",
			zap.String("job_id", jobID),
			zap.String("owner", info.WorkerID))
	} else {
		key := m.redisSvc.GenerateKey(redis.ACTIVE_CALL, jobID)
		if err := m.redisSvc.DelValue(ctx, key); err != nil {
			return err
		}
	}
	return m.redisSvc.Publish(ctx, EndedChannel, EndedMessage{JobID: jobID, RoomName: roomName})
}

// Lookup returns the registry entry of an active call
func (m *Manager) Lookup(ctx context.Context, jobID string) (*CallInfo, error) {
	if !m.enabled() {
		return nil, redis.ErrKeyNotExist
	}
	raw, err := m.redisSvc.GetValue(ctx, m.redisSvc.GenerateKey(redis.ACTIVE_CALL, jobID))
	if err != nil {
		return nil, err
	}
	var info CallInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// SubscribeToEnded listens for call-ended announcements from every worker
func (m *Manager) SubscribeToEnded(ctx context.Context, handler func(EndedMessage)) error {
	if !m.enabled() {
		return nil
	}
	return m.redisSvc.Subscribe(ctx, EndedChannel, func(payload string) {
		var msg EndedMessage
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			logger.Base().Error("Failed to unmarshal call ended message", zap.Error(err))
			return
		}
		handler(msg)
	})
}
