package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/artifix/voicecore/internal/audio"
	"github.com/artifix/voicecore/internal/config"
	"github.com/artifix/voicecore/internal/detector"
	"github.com/artifix/voicecore/internal/engine"
	"github.com/artifix/voicecore/internal/mock"
	"github.com/artifix/voicecore/internal/session"
	"github.com/artifix/voicecore/internal/ws"
)

func main() {
	mockMode := flag.Bool("mock", false, "Drive the engine with scripted sessions instead of audio")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *port > 0 {
		cfg.Server.Port = *port
	}

	eng := engine.New(session.Config{
		ContinuousConversation: cfg.Engine.ContinuousConversation,
		FollowUpWindow:         cfg.Engine.FollowUpWindow,
		ProcessingTimeout:      cfg.Engine.ProcessingTimeout,
		CancelPhrases:          cfg.Engine.CancelPhrases,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *mockMode {
		log.Println("Starting in mock mode")
	} else {
		if err := registerDetectors(eng, cfg); err != nil {
			log.Fatalf("Failed to set up detectors: %v", err)
		}
	}

	broadcaster := ws.NewBroadcaster(cfg.Feedback.BroadcastThrottle, cfg.Feedback.SnapshotInterval)
	eng.SubscribeSession(broadcaster.ObserveSession)
	eng.SubscribeFeedback(broadcaster.ObserveFeedback)
	eng.SubscribeWarnings(broadcaster.ObserveWarning)

	eng.Start(ctx)

	if *mockMode {
		gen := mock.NewGenerator(eng)
		gen.Start(ctx)
	}

	if err := config.Watch(ctx, *configPath, func(next *config.Config) {
		for name, dc := range next.Detectors {
			if err := eng.ConfigureDetector(name, dc); err != nil {
				log.Printf("Detector %s not reconfigured: %v", name, err)
			}
		}
	}); err != nil {
		log.Printf("Config watching disabled: %v", err)
	}

	server := ws.NewServer(eng, broadcaster, nil, cfg.Server.AuthToken)
	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		eng.Stop(5 * time.Second)
		cancel()
		os.Exit(0)
	}()

	if err := ws.ListenAndServe(cfg.Server.Host, cfg.Server.Port, mux); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// registerDetectors builds the audio pipeline from the config: Vosk
// transcription feeds the wake-word detector, a PCM amplitude meter feeds
// the clap detector, and Porcupine is added when its access key and
// keyword model are present. Each detector gets its own handle on the
// input so one loop's reads never starve another's.
func registerDetectors(eng *engine.Engine, cfg *config.Config) error {
	if wwCfg, ok := cfg.Detectors["wake_word"]; ok && wwCfg.Enabled {
		if cfg.Audio.VoskModel == "" {
			log.Println("Wake word detector skipped: no vosk model configured")
		} else {
			pcm, err := os.Open(cfg.Audio.PCMPath)
			if err != nil {
				return err
			}
			source, err := audio.NewVoskSource(cfg.Audio.VoskModel, pcm, cfg.Audio.SampleRate)
			if err != nil {
				return err
			}
			ww, err := detector.NewWakeWord(source, eng.Emitter(), wwCfg)
			if err != nil {
				return err
			}
			eng.RegisterDetector(ww)
		}
	}

	if clapCfg, ok := cfg.Detectors["clap"]; ok && clapCfg.Enabled {
		pcm, err := os.Open(cfg.Audio.PCMPath)
		if err != nil {
			return err
		}
		meter := audio.NewPCMMeter(pcm, cfg.Audio.SampleRate, 100*time.Millisecond)
		clap, err := detector.NewClap(meter, eng.Emitter(), clapCfg)
		if err != nil {
			return err
		}
		eng.RegisterDetector(clap)
	}

	accessKey := os.Getenv("PORCUPINE_ACCESS_KEY")
	if accessKey != "" && cfg.Audio.PorcupineKeyword != "" {
		pcm, err := os.Open(cfg.Audio.PCMPath)
		if err != nil {
			return err
		}
		pd, err := audio.NewPorcupineDetector(accessKey, cfg.Audio.PorcupineKeyword, 0.5, pcm, eng.Emitter())
		if err != nil {
			return err
		}
		eng.RegisterDetector(pd)
	} else {
		log.Println("Porcupine detector skipped: access key or keyword model not configured")
	}

	return nil
}
