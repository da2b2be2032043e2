package transcode

import "time"

type (
	// Tier is one rung of the video quality ladder.
	Tier struct {
		Name         string `yaml:"name"`
		Width        int    `yaml:"width"`
		Height       int    `yaml:"height"`
		VideoBitRate string `yaml:"video_bitrate"`
		AudioBitRate string `yaml:"audio_bitrate"`
		VideoCodec   string `yaml:"video_codec"`
		AudioCodec   string `yaml:"audio_codec"`
		Format       string `yaml:"format"`
		Extension    string `yaml:"extension"`
	}

	Config struct {
		FfmpegBinaryPath  string `yaml:"ffmpeg_binary" env:"FFMPEG_BINARY_PATH" env-default:"ffmpeg"`
		FfprobeBinaryPath string `yaml:"ffprobe_binary" env:"FFPROBE_BINARY_PATH" env-default:"ffprobe"`

		// InvocationTimeoutSeconds is a defensive per-invocation ceiling on
		// transcode/probe calls. Zero disables the timeout.
		InvocationTimeoutSeconds int `yaml:"invocation_timeout" env:"TRANSCODE_INVOCATION_TIMEOUT" env-default:"0"`

		Ladder []Tier `yaml:"ladder"`
	}
)

// DefaultLadder is the rendition ladder produced for every video upload
// unless overridden: four h264/mp4 quality tiers plus one alternate-codec
// rendition for clients that prefer it.
func DefaultLadder() []Tier {
	return []Tier{
		{Name: "preview", Width: 426, Height: 240, VideoBitRate: "400k", AudioBitRate: "64k", VideoCodec: "libx264", AudioCodec: "aac", Format: "mp4", Extension: "mp4"},
		{Name: "sd", Width: 854, Height: 480, VideoBitRate: "1000k", AudioBitRate: "128k", VideoCodec: "libx264", AudioCodec: "aac", Format: "mp4", Extension: "mp4"},
		{Name: "hd", Width: 1280, Height: 720, VideoBitRate: "2500k", AudioBitRate: "128k", VideoCodec: "libx264", AudioCodec: "aac", Format: "mp4", Extension: "mp4"},
		{Name: "fullhd", Width: 1920, Height: 1080, VideoBitRate: "5000k", AudioBitRate: "192k", VideoCodec: "libx264", AudioCodec: "aac", Format: "mp4", Extension: "mp4"},
		{Name: "hd-vp9", Width: 1280, Height: 720, VideoBitRate: "2000k", AudioBitRate: "128k", VideoCodec: "libvpx-vp9", AudioCodec: "libopus", Format: "webm", Extension: "webm"},
	}
}

func (config *Config) ApplyDefaults() {
	if len(config.Ladder) == 0 {
		config.Ladder = DefaultLadder()
	}
}

func (config *Config) InvocationTimeout() time.Duration {
	return time.Duration(config.InvocationTimeoutSeconds) * time.Second
}
