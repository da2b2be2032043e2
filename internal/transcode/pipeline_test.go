package transcode_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lumenworks/lumen/internal/transcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockTranscoder struct {
	mock.Mock
	probeCtx context.Context
}

func (m *mockTranscoder) Probe(ctx context.Context, inputPath string) (*transcode.ProbeResult, error) {
	m.probeCtx = ctx
	args := m.Called(inputPath)
	if v, ok := args.Get(0).(*transcode.ProbeResult); ok {
		return v, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockTranscoder) Transcode(_ context.Context, inputPath string, outputPath string, opts transcode.RenditionOptions) error {
	args := m.Called(inputPath, outputPath, opts)
	return args.Error(0)
}

func testConfig() transcode.Config {
	return transcode.Config{
		Ladder: []transcode.Tier{
			{Name: "preview", Width: 426, Height: 240, VideoBitRate: "400k", AudioBitRate: "64k", VideoCodec: "libx264", AudioCodec: "aac", Format: "mp4", Extension: "mp4"},
			{Name: "sd", Width: 854, Height: 480, VideoBitRate: "1200k", AudioBitRate: "96k", VideoCodec: "libx264", AudioCodec: "aac", Format: "mp4", Extension: "mp4"},
			{Name: "hd", Width: 1280, Height: 720, VideoBitRate: "3000k", AudioBitRate: "128k", VideoCodec: "libx264", AudioCodec: "aac", Format: "mp4", Extension: "mp4"},
		},
	}
}

func probeResult() *transcode.ProbeResult {
	return &transcode.ProbeResult{
		Width:         854,
		Height:        480,
		Duration:      120,
		Codec:         "h264",
		FrameRateExpr: "30000/1001",
	}
}

func TestTiersAboveSourceResolutionAreSkipped(t *testing.T) {
	transcoderMock := new(mockTranscoder)
	transcoderMock.On("Probe", "/store/video/clip.mp4").Return(probeResult(), nil).Once()
	transcoderMock.On("Transcode", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	pipeline := transcode.NewPipeline(transcoderMock, testConfig(), "/store")
	result, err := pipeline.Process(context.Background(), "/store/video/clip.mp4", "clip")

	assert.Nil(t, err)
	assert.Equal(t, 854, result.Width)
	assert.Equal(t, 480, result.Height)
	assert.Equal(t, float64(120), result.Duration)
	assert.InDelta(t, 29.97, result.FrameRate, 0.01)

	// The 720p tier exceeds the 480p source and must be omitted; the
	// poster plus two renditions makes three transcoder invocations.
	assert.Len(t, result.Variants, 2)
	assert.Equal(t, "preview", result.Variants[0].Preset)
	assert.Equal(t, "sd", result.Variants[1].Preset)
	assert.Equal(t, "processed/videos/clip-sd.mp4", result.Variants[1].URL)
	transcoderMock.AssertNumberOfCalls(t, "Transcode", 3)
}

func TestInvocationTimeoutAppliesToProbe(t *testing.T) {
	transcoderMock := new(mockTranscoder)
	transcoderMock.On("Probe", mock.Anything).Return(probeResult(), nil).Once()
	transcoderMock.On("Transcode", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	config := testConfig()
	config.InvocationTimeoutSeconds = 30

	pipeline := transcode.NewPipeline(transcoderMock, config, "/store")
	_, err := pipeline.Process(context.Background(), "/store/video/clip.mp4", "clip")
	assert.Nil(t, err)

	require.NotNil(t, transcoderMock.probeCtx)
	deadline, hasDeadline := transcoderMock.probeCtx.Deadline()
	assert.True(t, hasDeadline, "probe invocation should carry the configured deadline")
	assert.WithinDuration(t, time.Now().Add(time.Second*30), deadline, time.Second*5)
}

func TestPosterIsExtractedAtTenPercentOfDuration(t *testing.T) {
	transcoderMock := new(mockTranscoder)
	transcoderMock.On("Probe", mock.Anything).Return(probeResult(), nil).Once()
	transcoderMock.On("Transcode", mock.Anything, mock.Anything, mock.MatchedBy(func(opts transcode.RenditionOptions) bool {
		return opts.SingleFrame
	})).Return(nil).Once()
	transcoderMock.On("Transcode", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	pipeline := transcode.NewPipeline(transcoderMock, testConfig(), "/store")
	result, err := pipeline.Process(context.Background(), "/store/video/clip.mp4", "clip")

	assert.Nil(t, err)
	assert.Equal(t, "thumbnails/clip.jpg", result.PosterURL)

	// 10% of a 120 second clip.
	posterCall := transcoderMock.Calls[1]
	opts, ok := posterCall.Arguments.Get(2).(transcode.RenditionOptions)
	assert.True(t, ok)
	assert.True(t, opts.SingleFrame)
	assert.InDelta(t, 12.0, opts.SeekSeconds, 0.001)
}

func TestFailedTierIsOmittedWithoutAbortingOthers(t *testing.T) {
	transcoderMock := new(mockTranscoder)
	transcoderMock.On("Probe", mock.Anything).Return(probeResult(), nil).Once()

	// Poster succeeds, the preview tier explodes, the sd tier succeeds.
	transcoderMock.On("Transcode", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	transcoderMock.On("Transcode", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("encoder crashed")).Once()
	transcoderMock.On("Transcode", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	pipeline := transcode.NewPipeline(transcoderMock, testConfig(), "/store")
	result, err := pipeline.Process(context.Background(), "/store/video/clip.mp4", "clip")

	assert.Nil(t, err)
	assert.Len(t, result.Variants, 1)
	assert.Equal(t, "sd", result.Variants[0].Preset)
}

func TestProbeFailureIsFatal(t *testing.T) {
	transcoderMock := new(mockTranscoder)
	transcoderMock.On("Probe", mock.Anything).Return(nil, errors.New("no video stream")).Once()

	pipeline := transcode.NewPipeline(transcoderMock, testConfig(), "/store")
	_, err := pipeline.Process(context.Background(), "/store/video/clip.mp4", "clip")

	assert.NotNil(t, err)
	transcoderMock.AssertNotCalled(t, "Transcode", mock.Anything, mock.Anything, mock.Anything)
}

func TestPosterFailureIsFatal(t *testing.T) {
	transcoderMock := new(mockTranscoder)
	transcoderMock.On("Probe", mock.Anything).Return(probeResult(), nil).Once()
	transcoderMock.On("Transcode", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("seek failed")).Once()

	pipeline := transcode.NewPipeline(transcoderMock, testConfig(), "/store")
	_, err := pipeline.Process(context.Background(), "/store/video/clip.mp4", "clip")

	assert.NotNil(t, err)
	transcoderMock.AssertNumberOfCalls(t, "Transcode", 1)
}

func TestFrameRateExpressionParsing(t *testing.T) {
	tests := []struct {
		expr     string
		expected float64
	}{
		{"30/1", 30},
		{"30000/1001", 29.97002997002997},
		{"25", 25},
		{"0/0", 0},
		{"24/0", 0},
		{"garbage", 0},
		{"", 0},
	}

	for _, tt := range tests {
		probe := transcode.ProbeResult{FrameRateExpr: tt.expr}
		assert.InDelta(t, tt.expected, probe.FrameRate(), 0.0001, "expression %q", tt.expr)
	}
}
