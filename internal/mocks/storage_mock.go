package mocks

import (
	"context"
	"time"

	"github.com/benmeehan/iot-fleet/internal/models"
	"github.com/benmeehan/iot-fleet/pkg/s3"
	"github.com/stretchr/testify/mock"
)

// MockObjectStorage is a mock implementation of s3.ObjectStorageClient
type MockObjectStorage struct {
	mock.Mock
}

func (m *MockObjectStorage) ListObjects(ctx context.Context, bucket, prefix string) ([]s3.ObjectInfo, error) {
	args := m.Called(ctx, bucket, prefix)
	objs, _ := args.Get(0).([]s3.ObjectInfo)
	return objs, args.Error(1)
}

func (m *MockObjectStorage) PresignGet(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
	args := m.Called(ctx, bucket, key, expiry)
	return args.String(0), args.Error(1)
}

// MockStateStore is a mock implementation of the presence state store
type MockStateStore struct {
	mock.Mock
}

func (m *MockStateStore) Upsert(rec models.PresenceRecord) error {
	args := m.Called(rec)
	return args.Error(0)
}

func (m *MockStateStore) Get(id string) (models.PresenceRecord, bool) {
	args := m.Called(id)
	return args.Get(0).(models.PresenceRecord), args.Bool(1)
}

func (m *MockStateStore) List() []models.PresenceRecord {
	args := m.Called()
	recs, _ := args.Get(0).([]models.PresenceRecord)
	return recs
}

func (m *MockStateStore) Summary() models.Summary {
	args := m.Called()
	return args.Get(0).(models.Summary)
}

func (m *MockStateStore) Clear() {
	m.Called()
}
