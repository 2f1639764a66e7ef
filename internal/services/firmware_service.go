package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/benmeehan/iot-fleet/internal/models"
	"github.com/benmeehan/iot-fleet/internal/utils"
	"github.com/benmeehan/iot-fleet/pkg/mqtt"
	"github.com/benmeehan/iot-fleet/pkg/s3"
	"github.com/rs/zerolog"
)

// ErrUnknownCommit is returned by Dispatch when no firmware exists for the
// requested commit.
var ErrUnknownCommit = errors.New("firmware for commit not found")

// FirmwareService lists firmware builds in the artifact store and sends OTA
// commands that point devices at signed download URLs.
type FirmwareService struct {
	Bucket         string
	Prefix         string
	OTATopic       string
	QOS            int
	PresignExpiry  time.Duration
	PublishTimeout time.Duration
	Workers        int
	Storage        s3.ObjectStorageClient
	MqttClient     mqtt.MQTTClient
	Logger         zerolog.Logger

	keyPattern *regexp.Regexp
	pool       *utils.WorkerPool
	mu         sync.RWMutex
}

// NewFirmwareService initializes a new FirmwareService.
func NewFirmwareService(cfg utils.FirmwareConfig, storage s3.ObjectStorageClient, mqttClient mqtt.MQTTClient, logger zerolog.Logger) *FirmwareService {
	return &FirmwareService{
		Bucket:         cfg.Bucket,
		Prefix:         cfg.Prefix,
		OTATopic:       cfg.OTATopic,
		QOS:            cfg.QOS,
		PresignExpiry:  cfg.PresignExpiry,
		PublishTimeout: 10 * time.Second,
		Workers:        cfg.Workers,
		Storage:        storage,
		MqttClient:     mqttClient,
		Logger:         logger.With().Str("component", "firmware").Logger(),
		keyPattern:     firmwareKeyPattern(cfg.Prefix),
	}
}

// firmwareKeyPattern matches <prefix><board>/<commit>_<sha256>_firmware.bin.
func firmwareKeyPattern(prefix string) *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `([^/]+)/([a-f0-9]{7,40})_([a-f0-9]{64})_firmware\.bin$`)
}

// Start brings up the dispatch worker pool.
func (f *FirmwareService) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pool != nil {
		return errors.New("firmware service is already running")
	}
	f.pool = utils.NewWorkerPool(f.Workers)
	f.Logger.Info().Str("bucket", f.Bucket).Int("workers", f.Workers).Msg("FirmwareService started successfully")
	return nil
}

// Stop waits for queued dispatches and shuts the pool down.
func (f *FirmwareService) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pool == nil {
		return errors.New("firmware service is not running")
	}
	f.pool.Shutdown()
	f.pool = nil
	f.Logger.Info().Msg("FirmwareService stopped successfully")
	return nil
}

// Releases groups the firmware objects under the configured prefix by commit,
// newest first. Objects whose key does not follow the naming scheme are
// skipped.
func (f *FirmwareService) Releases(ctx context.Context) ([]models.FirmwareRelease, error) {
	objects, err := f.Storage.ListObjects(ctx, f.Bucket, f.Prefix)
	if err != nil {
		return nil, fmt.Errorf("list firmware objects: %w", err)
	}

	byCommit := make(map[string]*models.FirmwareRelease)
	newest := make(map[string]time.Time)
	for _, obj := range objects {
		m := f.keyPattern.FindStringSubmatch(obj.Key)
		if m == nil {
			continue
		}
		board, commit, sum := m[1], m[2], m[3]

		rel, ok := byCommit[commit]
		if !ok {
			rel = &models.FirmwareRelease{CommitSHA: commit}
			byCommit[commit] = rel
		}
		if !slices.Contains(rel.Boards, board) {
			rel.Boards = append(rel.Boards, board)
		}
		rel.FirmwareInfo = append(rel.FirmwareInfo, models.FirmwareInfo{
			Key:            obj.Key,
			Board:          board,
			CommitSHA:      commit,
			FirmwareSHA256: sum,
			Size:           obj.Size,
			LastModified:   obj.LastModified,
		})
		if obj.LastModified.After(newest[commit]) {
			newest[commit] = obj.LastModified
		}
	}

	releases := make([]models.FirmwareRelease, 0, len(byCommit))
	for _, rel := range byCommit {
		sort.Strings(rel.Boards)
		releases = append(releases, *rel)
	}
	sort.Slice(releases, func(i, j int) bool {
		ti, tj := newest[releases[i].CommitSHA], newest[releases[j].CommitSHA]
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return releases[i].CommitSHA < releases[j].CommitSHA
	})
	return releases, nil
}

// Dispatch sends the OTA command for commitSHA to every requested board.
// An empty board list targets every board the commit was built for. Per
// board failures are reported in the results, not as an error.
func (f *FirmwareService) Dispatch(ctx context.Context, commitSHA string, boards []string) ([]models.DispatchResult, error) {
	releases, err := f.Releases(ctx)
	if err != nil {
		return nil, err
	}
	idx := slices.IndexFunc(releases, func(r models.FirmwareRelease) bool { return r.CommitSHA == commitSHA })
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommit, commitSHA)
	}
	release := releases[idx]
	if len(boards) == 0 {
		boards = release.Boards
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.pool == nil {
		return nil, errors.New("firmware service is not running")
	}

	results := make([]models.DispatchResult, len(boards))
	var wg sync.WaitGroup
	for i, board := range boards {
		info, ok := findBoard(release, board)
		if !ok {
			results[i] = models.DispatchResult{Board: board, Error: "firmware file info not found for this board"}
			continue
		}

		wg.Add(1)
		err := f.pool.Submit(func() {
			defer wg.Done()
			results[i] = f.dispatchBoard(ctx, info)
		})
		if err != nil {
			wg.Done()
			results[i] = models.DispatchResult{Board: board, Error: err.Error()}
		}
	}
	wg.Wait()

	f.Logger.Info().Str("commit", commitSHA).Strs("boards", boards).Msg("OTA command dispatch completed")
	return results, nil
}

func (f *FirmwareService) dispatchBoard(ctx context.Context, info models.FirmwareInfo) models.DispatchResult {
	result := models.DispatchResult{Board: info.Board}

	url, err := f.Storage.PresignGet(ctx, f.Bucket, info.Key, f.PresignExpiry)
	if err != nil {
		result.Error = err.Error()
		f.Logger.Error().Err(err).Str("board", info.Board).Str("key", info.Key).Msg("Failed to presign firmware URL")
		return result
	}

	payload, err := json.Marshal(models.OTACommand{OTA: models.OTAInstruction{FirmwareURL: url, SHA256: info.FirmwareSHA256}})
	if err != nil {
		result.Error = err.Error()
		return result
	}

	topic := f.OTATopic + "/" + info.Board
	token := f.MqttClient.Publish(topic, byte(f.QOS), false, payload)
	if !token.WaitTimeout(f.PublishTimeout) {
		result.Error = fmt.Sprintf("publish to %s timed out", topic)
		f.Logger.Error().Str("topic", topic).Msg("OTA command publish timed out")
		return result
	}
	if err := token.Error(); err != nil {
		result.Error = err.Error()
		f.Logger.Error().Err(err).Str("topic", topic).Msg("Failed to publish OTA command")
		return result
	}

	result.Success = true
	result.Topic = topic
	f.Logger.Info().Str("topic", topic).Str("commit", info.CommitSHA).Msg("OTA command published")
	return result
}

func findBoard(release models.FirmwareRelease, board string) (models.FirmwareInfo, bool) {
	for _, info := range release.FirmwareInfo {
		if info.Board == board {
			return info, true
		}
	}
	return models.FirmwareInfo{}, false
}
