package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/artifix/voicecore/internal/detector"
)

type Config struct {
	Server    ServerConfig               `yaml:"server"`
	Engine    EngineConfig               `yaml:"engine"`
	Detectors map[string]detector.Config `yaml:"detectors"`
	Feedback  FeedbackConfig             `yaml:"feedback"`
	Audio     AudioConfig                `yaml:"audio"`
}

type ServerConfig struct {
	Port      int    `yaml:"port"`
	Host      string `yaml:"host"`
	AuthToken string `yaml:"auth_token"`
}

type EngineConfig struct {
	ContinuousConversation bool          `yaml:"continuous_conversation"`
	FollowUpWindow         time.Duration `yaml:"follow_up_window"`
	ProcessingTimeout      time.Duration `yaml:"processing_timeout"`
	CancelPhrases          []string      `yaml:"cancel_phrases"`
}

type FeedbackConfig struct {
	BroadcastThrottle time.Duration `yaml:"broadcast_throttle"`
	SnapshotInterval  time.Duration `yaml:"snapshot_interval"`
}

type AudioConfig struct {
	PCMPath          string  `yaml:"pcm_path"`
	SampleRate       float64 `yaml:"sample_rate"`
	VoskModel        string  `yaml:"vosk_model"`
	PorcupineKeyword string  `yaml:"porcupine_keyword"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "0.0.0.0",
		},
		Engine: EngineConfig{
			ContinuousConversation: true,
			FollowUpWindow:         10 * time.Second,
			ProcessingTimeout:      30 * time.Second,
		},
		Detectors: map[string]detector.Config{
			"wake_word": {
				Enabled:     true,
				Sensitivity: 0.5,
				Phrases:     []string{"hey artifix", "artifix"},
			},
			"clap": {
				Enabled:   true,
				Threshold: 0.5,
				MaxGap:    2 * time.Second,
			},
		},
		Feedback: FeedbackConfig{
			BroadcastThrottle: 100 * time.Millisecond,
			SnapshotInterval:  5 * time.Second,
		},
		Audio: AudioConfig{
			PCMPath:    "/dev/stdin",
			SampleRate: 16000,
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Engine.FollowUpWindow <= 0 {
		return fmt.Errorf("engine.follow_up_window must be positive, got %s", c.Engine.FollowUpWindow)
	}
	if c.Engine.ProcessingTimeout < 0 {
		return fmt.Errorf("engine.processing_timeout must not be negative, got %s", c.Engine.ProcessingTimeout)
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be positive, got %v", c.Audio.SampleRate)
	}
	for name, dc := range c.Detectors {
		if dc.Sensitivity < 0 || dc.Sensitivity > 1 {
			return fmt.Errorf("detectors.%s.sensitivity %v out of range [0,1]", name, dc.Sensitivity)
		}
		if dc.Threshold < 0 {
			return fmt.Errorf("detectors.%s.threshold must not be negative, got %v", name, dc.Threshold)
		}
		if dc.MaxGap < 0 {
			return fmt.Errorf("detectors.%s.max_gap must not be negative, got %s", name, dc.MaxGap)
		}
	}
	return nil
}
