package cdn_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lumenworks/lumen/internal/cdn"
	"github.com/lumenworks/lumen/internal/database"
	"github.com/lumenworks/lumen/internal/event"
	"github.com/lumenworks/lumen/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockUploader struct {
	mock.Mock
}

func (m *mockUploader) Upload(_ context.Context, key string, body io.Reader, contentType string) error {
	args := m.Called(key, contentType)
	return args.Error(0)
}

func (m *mockUploader) PublicURL(key string) string {
	return "https://cdn.example.com/" + key
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetByID(_ database.Queryable, id uuid.UUID) (*media.Media, error) {
	args := m.Called(id)
	if v, ok := args.Get(0).(*media.Media); ok {
		return v, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) SetCDNUrl(_ database.Queryable, id uuid.UUID, url string) error {
	args := m.Called(id, url)
	return args.Error(0)
}

func (m *mockStore) ListPendingCDNSync(_ database.Queryable, limit int) ([]*media.Media, error) {
	args := m.Called(limit)
	//nolint:forcetypeassert
	return args.Get(0).([]*media.Media), args.Error(1)
}

func testAsset(t *testing.T, rootDir string) *media.Media {
	t.Helper()

	asset := &media.Media{}
	asset.ID = uuid.New()
	asset.SourcePath = filepath.Join("image", "photo.png")
	asset.Variants = []media.VariantDescriptor{
		{Preset: "small", Format: "webp", URL: filepath.Join("processed", "images", "small", "photo.webp")},
	}

	for _, relative := range asset.FilePaths() {
		path := filepath.Join(rootDir, relative)
		assert.Nil(t, os.MkdirAll(filepath.Dir(path), 0o755))
		assert.Nil(t, os.WriteFile(path, []byte("bytes"), 0o644))
	}

	return asset
}

func startService(t *testing.T, service *cdn.Service) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		assert.Nil(t, service.Run(ctx))
		wg.Done()
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
}

func TestStartupCatchUpPushesPendingAssets(t *testing.T) {
	rootDir, err := os.MkdirTemp("", "lumen_cdn_test")
	assert.Nil(t, err)
	defer os.RemoveAll(rootDir)

	asset := testAsset(t, rootDir)
	store := new(mockStore)
	uploader := new(mockUploader)

	store.On("ListPendingCDNSync", mock.Anything).Return([]*media.Media{asset}, nil)
	uploader.On("Upload", "image/photo.png", "image/png").Return(nil).Once()
	uploader.On("Upload", "processed/images/small/photo.webp", "image/webp").Return(nil).Once()
	store.On("SetCDNUrl", asset.ID, "https://cdn.example.com/image/photo.png").Return(nil).Once()

	service := cdn.New(cdn.Config{RetryIntervalMinutes: 15}, rootDir, nil, store, uploader, event.New())
	startService(t, service)

	assert.Eventually(t, func() bool {
		return uploader.AssertNumberOfCalls(&testing.T{}, "Upload", 2)
	}, time.Second*2, time.Millisecond*20)
	store.AssertExpectations(t)
}

func TestNewMediaEventTriggersSync(t *testing.T) {
	rootDir, err := os.MkdirTemp("", "lumen_cdn_test")
	assert.Nil(t, err)
	defer os.RemoveAll(rootDir)

	asset := testAsset(t, rootDir)
	store := new(mockStore)
	uploader := new(mockUploader)
	eventBus := event.New()

	store.On("ListPendingCDNSync", mock.Anything).Return([]*media.Media{}, nil)
	store.On("GetByID", asset.ID).Return(asset, nil).Once()
	uploader.On("Upload", mock.Anything, mock.Anything).Return(nil)
	store.On("SetCDNUrl", asset.ID, mock.Anything).Return(nil).Once()

	service := cdn.New(cdn.Config{RetryIntervalMinutes: 15}, rootDir, nil, store, uploader, eventBus)
	startService(t, service)

	eventBus.Dispatch(event.NewMediaEvent, asset.ID)

	assert.Eventually(t, func() bool {
		return store.AssertCalled(&testing.T{}, "SetCDNUrl", asset.ID, mock.Anything)
	}, time.Second*2, time.Millisecond*20)
}

func TestFailedPushLeavesAssetEligibleForRetry(t *testing.T) {
	rootDir, err := os.MkdirTemp("", "lumen_cdn_test")
	assert.Nil(t, err)
	defer os.RemoveAll(rootDir)

	asset := testAsset(t, rootDir)
	store := new(mockStore)
	uploader := new(mockUploader)
	eventBus := event.New()

	store.On("ListPendingCDNSync", mock.Anything).Return([]*media.Media{}, nil)
	store.On("GetByID", asset.ID).Return(asset, nil).Once()
	uploader.On("Upload", mock.Anything, mock.Anything).Return(errors.New("bucket unreachable"))

	service := cdn.New(cdn.Config{RetryIntervalMinutes: 15}, rootDir, nil, store, uploader, eventBus)
	startService(t, service)

	eventBus.Dispatch(event.NewMediaEvent, asset.ID)

	assert.Eventually(t, func() bool {
		return uploader.AssertCalled(&testing.T{}, "Upload", mock.Anything, mock.Anything)
	}, time.Second*2, time.Millisecond*20)
	store.AssertNotCalled(t, "SetCDNUrl", mock.Anything, mock.Anything)
}
