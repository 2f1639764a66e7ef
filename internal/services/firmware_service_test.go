package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/benmeehan/iot-fleet/internal/mocks"
	"github.com/benmeehan/iot-fleet/internal/models"
	"github.com/benmeehan/iot-fleet/internal/utils"
	"github.com/benmeehan/iot-fleet/pkg/s3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	commitA = "a1b2c3d"
	commitB = "0123456789abcdef0123456789abcdef01234567"
	sumS3   = "1111111111111111111111111111111111111111111111111111111111111111"
	sumC3   = "2222222222222222222222222222222222222222222222222222222222222222"
	sumB    = "3333333333333333333333333333333333333333333333333333333333333333"
)

func firmwareObjects() []s3.ObjectInfo {
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	return []s3.ObjectInfo{
		{Key: "firmware/esp32s3/" + commitA + "_" + sumS3 + "_firmware.bin", Size: 1024, LastModified: day},
		{Key: "firmware/esp32c3/" + commitA + "_" + sumC3 + "_firmware.bin", Size: 2048, LastModified: day},
		{Key: "firmware/esp32s3/" + commitB + "_" + sumB + "_firmware.bin", Size: 4096, LastModified: day.Add(24 * time.Hour)},
		{Key: "firmware/esp32s3/readme.txt"},
		{Key: "firmware/esp32s3/nested/" + commitA + "_" + sumS3 + "_firmware.bin"},
		{Key: "firmware/esp32s3/" + commitA + "_" + sumS3[:10] + "_firmware.bin"},
	}
}

func newFirmwareService(storage *mocks.MockObjectStorage, client *mocks.MockMQTTClient) *FirmwareService {
	cfg := utils.FirmwareConfig{
		Bucket:        "builds",
		Prefix:        "firmware/",
		OTATopic:      "devices/ota",
		QOS:           1,
		PresignExpiry: time.Hour,
		Workers:       2,
	}
	return NewFirmwareService(cfg, storage, client, zerolog.Nop())
}

func TestFirmwareService_Releases(t *testing.T) {
	// Setup
	storage := new(mocks.MockObjectStorage)
	storage.On("ListObjects", mock.Anything, "builds", "firmware/").Return(firmwareObjects(), nil)
	f := newFirmwareService(storage, new(mocks.MockMQTTClient))

	// Execute
	releases, err := f.Releases(context.Background())

	// Assert
	require.NoError(t, err)
	require.Len(t, releases, 2)
	assert.Equal(t, commitB, releases[0].CommitSHA)
	assert.Equal(t, commitA, releases[1].CommitSHA)
	assert.Equal(t, []string{"esp32c3", "esp32s3"}, releases[1].Boards)
	require.Len(t, releases[1].FirmwareInfo, 2)
	assert.Equal(t, sumS3, releases[1].FirmwareInfo[0].FirmwareSHA256)
	assert.Equal(t, int64(1024), releases[1].FirmwareInfo[0].Size)
}

func TestFirmwareService_Releases_StorageError(t *testing.T) {
	storage := new(mocks.MockObjectStorage)
	storage.On("ListObjects", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("access denied"))
	f := newFirmwareService(storage, new(mocks.MockMQTTClient))

	_, err := f.Releases(context.Background())

	assert.ErrorContains(t, err, "access denied")
}

func TestFirmwareService_Dispatch(t *testing.T) {
	// Setup
	storage := new(mocks.MockObjectStorage)
	storage.On("ListObjects", mock.Anything, "builds", "firmware/").Return(firmwareObjects(), nil)
	storage.On("PresignGet", mock.Anything, "builds", "firmware/esp32s3/"+commitA+"_"+sumS3+"_firmware.bin", time.Hour).
		Return("https://builds.example.com/s3?sig=1", nil)

	client := new(mocks.MockMQTTClient)
	client.On("Publish", "devices/ota/esp32s3", byte(1), false, mock.MatchedBy(func(p []byte) bool {
		var cmd models.OTACommand
		return json.Unmarshal(p, &cmd) == nil &&
			cmd.OTA.FirmwareURL == "https://builds.example.com/s3?sig=1" &&
			cmd.OTA.SHA256 == sumS3
	})).Return(mocks.NewCompletedToken(nil)).Once()

	f := newFirmwareService(storage, client)
	require.NoError(t, f.Start())
	defer f.Stop()

	// Execute
	results, err := f.Dispatch(context.Background(), commitA, []string{"esp32s3", "esp8266"})

	// Assert
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, models.DispatchResult{Board: "esp32s3", Topic: "devices/ota/esp32s3", Success: true}, results[0])
	assert.False(t, results[1].Success)
	assert.Contains(t, results[1].Error, "not found")
	client.AssertExpectations(t)
}

func TestFirmwareService_Dispatch_AllBoards(t *testing.T) {
	storage := new(mocks.MockObjectStorage)
	storage.On("ListObjects", mock.Anything, mock.Anything, mock.Anything).Return(firmwareObjects(), nil)
	storage.On("PresignGet", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("https://signed", nil)
	client := new(mocks.MockMQTTClient)
	client.On("Publish", mock.Anything, byte(1), false, mock.Anything).Return(mocks.NewCompletedToken(nil))

	f := newFirmwareService(storage, client)
	require.NoError(t, f.Start())
	defer f.Stop()

	results, err := f.Dispatch(context.Background(), commitA, nil)

	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.Success, r.Board)
		assert.True(t, strings.HasPrefix(r.Topic, "devices/ota/"))
	}
	client.AssertNumberOfCalls(t, "Publish", 2)
}

func TestFirmwareService_Dispatch_PerBoardFailures(t *testing.T) {
	storage := new(mocks.MockObjectStorage)
	storage.On("ListObjects", mock.Anything, mock.Anything, mock.Anything).Return(firmwareObjects(), nil)
	storage.On("PresignGet", mock.Anything, mock.Anything, mock.MatchedBy(func(k string) bool { return strings.Contains(k, "esp32c3") }), mock.Anything).
		Return("", errors.New("signature mismatch"))
	storage.On("PresignGet", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("https://signed", nil)
	client := new(mocks.MockMQTTClient)
	client.On("Publish", "devices/ota/esp32s3", mock.Anything, mock.Anything, mock.Anything).
		Return(mocks.NewCompletedToken(errors.New("not connected")))

	f := newFirmwareService(storage, client)
	require.NoError(t, f.Start())
	defer f.Stop()

	results, err := f.Dispatch(context.Background(), commitA, []string{"esp32c3", "esp32s3"})

	require.NoError(t, err)
	assert.Equal(t, "signature mismatch", results[0].Error)
	assert.Equal(t, "not connected", results[1].Error)
}

func TestFirmwareService_Dispatch_UnknownCommit(t *testing.T) {
	storage := new(mocks.MockObjectStorage)
	storage.On("ListObjects", mock.Anything, mock.Anything, mock.Anything).Return(firmwareObjects(), nil)
	f := newFirmwareService(storage, new(mocks.MockMQTTClient))
	require.NoError(t, f.Start())
	defer f.Stop()

	_, err := f.Dispatch(context.Background(), "fffffff", []string{"esp32s3"})

	assert.ErrorIs(t, err, ErrUnknownCommit)
}

func TestFirmwareService_Lifecycle(t *testing.T) {
	storage := new(mocks.MockObjectStorage)
	storage.On("ListObjects", mock.Anything, mock.Anything, mock.Anything).Return(firmwareObjects(), nil)
	f := newFirmwareService(storage, new(mocks.MockMQTTClient))

	_, err := f.Dispatch(context.Background(), commitA, nil)
	assert.EqualError(t, err, "firmware service is not running")

	require.NoError(t, f.Start())
	assert.EqualError(t, f.Start(), "firmware service is already running")
	require.NoError(t, f.Stop())
	assert.EqualError(t, f.Stop(), "firmware service is not running")
}
