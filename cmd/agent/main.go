package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lokutor-ai/voice-core/pkg/audio"
	"github.com/lokutor-ai/voice-core/pkg/config"
	"github.com/lokutor-ai/voice-core/pkg/logging"
	"github.com/lokutor-ai/voice-core/pkg/stt"
	"github.com/lokutor-ai/voice-core/pkg/transcription"
)

func main() {
	logLevel := flag.String("log-level", "info", "debug, info, warn, error")
	dumpWAV := flag.String("dump-wav", "", "if set, write captured audio to this WAV file on exit")
	flag.Parse()

	log := logging.NewCharmLogger(*logLevel)

	cfg, err := config.Load(log)
	if err != nil {
		log.Error("config load failed", "err", err)
		os.Exit(1)
	}

	svc := transcription.NewService(stt.New, cfg, log)

	source := audio.NewSource(func() int64 { return time.Now().UnixMilli() })
	if err := source.Initialize(48000); err != nil {
		log.Error("audio init failed", "err", err)
		os.Exit(1)
	}
	defer source.Close()

	var dumped []int16
	onChunk := func(chunk audio.Chunk) {
		if *dumpWAV != "" {
			dumped = append(dumped, chunk.Samples...)
		}
		svc.SendAudio(chunk)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		for evt := range svc.Events() {
			switch evt.Type {
			case transcription.EventTranscriptPartial:
				t := evt.Data.(transcription.Transcription)
				fmt.Printf("\r\033[K... %s", t.Text)
			case transcription.EventTranscriptFinal:
				t := evt.Data.(transcription.Transcription)
				fmt.Printf("\r\033[K%s\n", t.Text)
			case transcription.EventRecordingStatus:
				s := evt.Data.(transcription.RecordingStatusEvent)
				log.Info("recording status", "status", s.Status)
			case transcription.EventTranscriptError:
				e := evt.Data.(transcription.TranscriptErrorEvent)
				log.Error("transcript error", "kind", e.Kind, "message", e.Message)
			case transcription.EventConnectionQuality:
				log.Debug("connection quality", "quality", evt.Data)
			case transcription.EventUsageUpdate:
				log.Debug("usage update", "data", evt.Data)
			}
		}
	}()

	if err := source.StartCapture(onChunk); err != nil {
		log.Error("start capture failed", "err", err)
		os.Exit(1)
	}

	if err := svc.StartRecording(ctx); err != nil {
		log.Error("start recording failed", "err", err)
		os.Exit(1)
	}
	log.Info("listening", "provider", cfg.Stt.Provider, "language", cfg.Stt.Language)
	fmt.Println("Press Ctrl+C to stop")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	fmt.Println("\nShutting down...")

	_ = svc.StopRecording(true)
	source.StopCapture()
	svc.Shutdown()

	if *dumpWAV != "" && len(dumped) > 0 {
		if err := audio.DumpDebugWAV(*dumpWAV, dumped, 16000); err != nil {
			log.Error("dump wav failed", "err", err)
		} else {
			log.Info("wrote debug capture", "path", *dumpWAV)
		}
	}
}
