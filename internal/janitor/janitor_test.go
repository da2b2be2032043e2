package janitor_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lumenworks/lumen/internal/database"
	"github.com/lumenworks/lumen/internal/event"
	"github.com/lumenworks/lumen/internal/ingest"
	"github.com/lumenworks/lumen/internal/janitor"
	"github.com/lumenworks/lumen/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// A default event bus which should be used as a NOOP event bus. DO NOT subscribe to this
// inside of a test as the subscribers are not removed between tests.
var defaultEventBus = event.New()

type mockStore struct {
	mock.Mock
}

func (m *mockStore) AllFilePaths(_ database.Queryable) (map[string]struct{}, error) {
	args := m.Called()
	//nolint:forcetypeassert
	return args.Get(0).(map[string]struct{}), args.Error(1)
}

func (m *mockStore) ListRetentionCandidates(_ database.Queryable, cutoff time.Time) ([]*media.Media, error) {
	args := m.Called(cutoff)
	//nolint:forcetypeassert
	return args.Get(0).([]*media.Media), args.Error(1)
}

func (m *mockStore) Delete(_ database.Queryable, id uuid.UUID) error {
	args := m.Called(id)
	return args.Error(0)
}

func writeFile(t *testing.T, rootDir string, relative string) string {
	t.Helper()

	path := filepath.Join(rootDir, relative)
	assert.Nil(t, os.MkdirAll(filepath.Dir(path), 0o755))
	assert.Nil(t, os.WriteFile(path, []byte("payload"), 0o644))

	return path
}

func TestOrphanSweepRemovesOnlyUnreferencedFiles(t *testing.T) {
	rootDir, err := os.MkdirTemp("", "lumen_janitor_test")
	assert.Nil(t, err)
	defer os.RemoveAll(rootDir)

	referenced := writeFile(t, rootDir, filepath.Join("image", "kept.png"))
	reserved := writeFile(t, rootDir, filepath.Join("image", "inflight.png"))
	orphan := writeFile(t, rootDir, filepath.Join("processed", "images", "small", "orphan.webp"))

	reservations := ingest.NewReservationSet()
	reservations.Reserve(filepath.Join("image", "inflight.png"))

	store := new(mockStore)
	store.On("AllFilePaths").Return(map[string]struct{}{
		filepath.Join("image", "kept.png"): {},
	}, nil).Once()

	service := janitor.New(janitor.Config{MinimumFileAgeMinutes: 0}, rootDir, nil, store, reservations, defaultEventBus)
	service.Sweep(context.Background())

	_, err = os.Stat(referenced)
	assert.Nil(t, err, "referenced file must survive the sweep")
	_, err = os.Stat(reserved)
	assert.Nil(t, err, "reserved in-flight file must survive the sweep")
	_, err = os.Stat(orphan)
	assert.True(t, os.IsNotExist(err), "orphaned file must be removed")
}

func TestOrphanSweepSparesFreshFiles(t *testing.T) {
	rootDir, err := os.MkdirTemp("", "lumen_janitor_test")
	assert.Nil(t, err)
	defer os.RemoveAll(rootDir)

	fresh := writeFile(t, rootDir, filepath.Join("image", "justwritten.png"))

	store := new(mockStore)
	store.On("AllFilePaths").Return(map[string]struct{}{}, nil).Once()

	service := janitor.New(janitor.Config{MinimumFileAgeMinutes: 60}, rootDir, nil, store, ingest.NewReservationSet(), defaultEventBus)
	service.Sweep(context.Background())

	_, err = os.Stat(fresh)
	assert.Nil(t, err, "files younger than the minimum age must survive")
}

func TestRetentionSweepRemovesUnusedAssetsAndTheirFiles(t *testing.T) {
	rootDir, err := os.MkdirTemp("", "lumen_janitor_test")
	assert.Nil(t, err)
	defer os.RemoveAll(rootDir)

	candidate := &media.Media{}
	candidate.ID = uuid.New()
	candidate.SourcePath = filepath.Join("image", "stale.png")
	candidate.UploadedAt = time.Now().AddDate(0, 0, -90)
	candidate.Variants = []media.VariantDescriptor{
		{Preset: "small", Format: "webp", URL: filepath.Join("processed", "images", "small", "stale.webp")},
	}

	source := writeFile(t, rootDir, candidate.SourcePath)
	variant := writeFile(t, rootDir, candidate.Variants[0].URL)

	store := new(mockStore)
	store.On("ListRetentionCandidates", mock.Anything).Return([]*media.Media{candidate}, nil).Once()
	store.On("Delete", candidate.ID).Return(nil).Once()
	store.On("AllFilePaths").Return(map[string]struct{}{}, nil).Once()

	service := janitor.New(janitor.Config{RetentionDays: 30, MinimumFileAgeMinutes: 60}, rootDir, nil, store, ingest.NewReservationSet(), defaultEventBus)
	service.Sweep(context.Background())

	_, err = os.Stat(source)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(variant)
	assert.True(t, os.IsNotExist(err))
	store.AssertExpectations(t)
}

func TestRetentionSweepDisabledWhenNoThresholdConfigured(t *testing.T) {
	rootDir, err := os.MkdirTemp("", "lumen_janitor_test")
	assert.Nil(t, err)
	defer os.RemoveAll(rootDir)

	store := new(mockStore)
	store.On("AllFilePaths").Return(map[string]struct{}{}, nil).Once()

	service := janitor.New(janitor.Config{RetentionDays: 0, MinimumFileAgeMinutes: 60}, rootDir, nil, store, ingest.NewReservationSet(), defaultEventBus)
	service.Sweep(context.Background())

	store.AssertNotCalled(t, "ListRetentionCandidates", mock.Anything)
}
