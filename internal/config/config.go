package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr      string `env:"VIDEOFORGE_ADDR" envDefault:":8080"`
	BaseURL   string `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
	UploadDir string `env:"UPLOAD_DIR"      envDefault:"./uploads"`
	DBPath    string `env:"DB_PATH"         envDefault:"./videoforge.db"`

	JWTSecret string        `env:"JWT_SECRET" envDefault:"dev-change-me"`
	AccessTTL time.Duration `env:"ACCESS_TTL" envDefault:"12h"`

	MinVideoDuration int `env:"MIN_VIDEO_DURATION" envDefault:"5"`
	MaxVideoDuration int `env:"MAX_VIDEO_DURATION" envDefault:"120"`
	SegmentDuration  int `env:"SEGMENT_DURATION"   envDefault:"12"`

	MaxSegmentRetries int  `env:"MAX_SEGMENT_RETRIES" envDefault:"3"`
	MaxConcurrentJobs int  `env:"MAX_CONCURRENT_JOBS" envDefault:"1"`
	ParallelSegments  bool `env:"PARALLEL_SEGMENTS"   envDefault:"false"`

	PollingInterval time.Duration `env:"POLLING_INTERVAL_MS" envDefault:"10s"`
	SegmentTimeout  time.Duration `env:"SEGMENT_TIMEOUT_MS"  envDefault:"15m"`
	VideoTimeout    time.Duration `env:"VIDEO_TIMEOUT_MS"    envDefault:"30m"`
	LockTimeout     time.Duration `env:"LOCK_TIMEOUT_MS"     envDefault:"30m"`

	CacheTTL        time.Duration `env:"CACHE_TTL"         envDefault:"168h"`
	CacheHashLength int           `env:"CACHE_HASH_LENGTH" envDefault:"32"`

	StoryboardAPIURL string `env:"STORYBOARD_API_URL" envDefault:"https://api.openai.com/v1"`
	StoryboardAPIKey string `env:"STORYBOARD_API_KEY"`
	StoryboardModel  string `env:"STORYBOARD_MODEL" envDefault:"gpt-4o"`

	VideoAPIURL        string `env:"VIDEO_API_URL"`
	VideoAPIKey        string `env:"VIDEO_API_KEY"`
	VideoAPIDeployment string `env:"VIDEO_API_DEPLOYMENT" envDefault:"sora"`

	TTSAPIURL  string `env:"TTS_API_URL" envDefault:"https://api.elevenlabs.io"`
	TTSAPIKey  string `env:"TTS_API_KEY"`
	TTSModel   string `env:"TTS_MODEL"    envDefault:"eleven_multilingual_v2"`
	TTSVoiceID string `env:"TTS_VOICE_ID" envDefault:"21m00Tcm4TlvDq8ikWAM"`

	VoicesFile string `env:"VOICES_FILE" envDefault:"./voices.yaml"`

	FFmpegPath  string `env:"FFMPEG_PATH"  envDefault:"ffmpeg"`
	FFprobePath string `env:"FFPROBE_PATH" envDefault:"ffprobe"`

	DemoUserEmail    string `env:"DEMO_USER_EMAIL"    envDefault:"demo@videoforge.local"`
	DemoUserPassword string `env:"DEMO_USER_PASSWORD" envDefault:"demo123456"`
}

// Load reads .env (if present) and then the environment. Durations use
// Go syntax; the *_MS keys accept "10000ms" as well as "10s".
func Load() (*Config, error) {
	_ = godotenv.Load()
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.MinVideoDuration < 5 {
		cfg.MinVideoDuration = 5
	}
	if cfg.MaxVideoDuration > 120 {
		cfg.MaxVideoDuration = 120
	}
	if cfg.MaxConcurrentJobs < 1 {
		cfg.MaxConcurrentJobs = 1
	}
	return cfg, nil
}

type Voice struct {
	ID        string  `yaml:"id"`
	Name      string  `yaml:"name"`
	Stability float64 `yaml:"stability"`
	Clarity   float64 `yaml:"clarity"`
}

type VoiceCatalog struct {
	Voices []Voice `yaml:"voices"`
}

// LoadVoices reads the optional voice preset file. A missing file is
// not an error: the TTS default voice is used for every run.
func LoadVoices(path string) (*VoiceCatalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &VoiceCatalog{}, nil
		}
		return nil, err
	}
	cat := &VoiceCatalog{}
	if err := yaml.Unmarshal(raw, cat); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cat, nil
}

func (c *VoiceCatalog) Find(id string) (Voice, bool) {
	for _, v := range c.Voices {
		if v.ID == id {
			return v, true
		}
	}
	return Voice{}, false
}
