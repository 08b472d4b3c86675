// Package app wires configuration into a running assistant.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/ent0n29/totoro/internal/audio"
	"github.com/ent0n29/totoro/internal/backend"
	"github.com/ent0n29/totoro/internal/config"
	"github.com/ent0n29/totoro/internal/httpapi"
	"github.com/ent0n29/totoro/internal/llm"
	"github.com/ent0n29/totoro/internal/logging"
	"github.com/ent0n29/totoro/internal/memory"
	"github.com/ent0n29/totoro/internal/observability"
	"github.com/ent0n29/totoro/internal/processor"
	"github.com/ent0n29/totoro/internal/recognizer"
	"github.com/ent0n29/totoro/internal/session"
	"github.com/ent0n29/totoro/internal/tools"
	"github.com/ent0n29/totoro/internal/tts"
)

const (
	sinkBufferSeconds = 2.0
	modelLoadTimeout  = 2 * time.Minute
	livenessTimeout   = 5 * time.Second
	recentDispatches  = 50
)

// Core is the text pipeline without audio: tools, model and processor.
type Core struct {
	Registry  *tools.Registry
	Processor *processor.Processor
	Archive   memory.Archive
}

// BuildCore assembles the processing pipeline. metrics may be nil.
func BuildCore(ctx context.Context, cfg config.Config, log zerolog.Logger, metrics *observability.Metrics) (*Core, error) {
	archive, err := memory.NewArchive(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("memory archive init failed: %w", err)
	}

	registry := tools.DefaultRegistry(time.Now)
	gen := newGenerator(ctx, cfg, metrics, logging.Module(log, "llm"))

	proc := processor.New(processor.Config{
		TemperatureSmartHome: cfg.LLMTemperatureSmartHome,
		TemperatureGeneral:   cfg.LLMTemperatureGeneral,
		HistoryMaxTurns:      cfg.HistoryMaxTurns,
		PromptTailTurns:      cfg.HistoryPromptTailTurns,
		TurnTruncateChars:    cfg.HistoryTurnTruncateChars,
	}, registry, gen,
		processor.WithArchive(archive),
		processor.WithMetrics(metrics),
		processor.WithLogger(logging.Module(log, "processor")),
	)
	return &Core{Registry: registry, Processor: proc, Archive: archive}, nil
}

type BuildResult struct {
	Config     config.Config
	API        *httpapi.Server
	Controller *session.Controller
	Processor  *processor.Processor
	Engine     *tts.Engine
	Recognizer *recognizer.LineRecognizer
	Metrics    *observability.Metrics
	Recorder   *backend.Recorder

	// Cleanup releases the model worker, the audio device and the archive.
	Cleanup func() error
}

// Build assembles every component. input feeds the line recognizer.
func Build(ctx context.Context, cfg config.Config, log zerolog.Logger, input io.Reader) (*BuildResult, error) {
	quant, err := tts.ParseQuantization(cfg.TTSQuantization)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(cfg.MetricsNamespace, reg)

	core, err := BuildCore(ctx, cfg, log, metrics)
	if err != nil {
		return nil, err
	}
	proc, archive := core.Processor, core.Archive

	sink := newSink(cfg, logging.Module(log, "audio"))
	engine := tts.NewEngine(tts.Config{
		SampleRate:       cfg.TTSSampleRateHz,
		ChunkSize:        cfg.TTSChunkSizeSamples,
		BufferChunks:     cfg.TTSBufferChunks,
		PacingFactor:     cfg.TTSPacingFactor,
		SpeakerReference: cfg.TTSSpeakerReferencePath,
		Language:         cfg.TTSLanguage,
	}, newLoader(cfg, quant, logging.Module(log, "tts")), sink,
		tts.WithObserver(metrics),
		tts.WithLogger(logging.Module(log, "tts")),
	)

	recorder := backend.NewRecorder(recentDispatches)
	adapters := backend.Fanout{backend.NewLogAdapter(logging.Module(log, "backend")), recorder}

	rec := recognizer.NewLineRecognizer(input, cfg.WakeWord, logging.Module(log, "recognizer"))

	ctrl := session.NewController(session.Config{
		CommandTimeout: cfg.CommandTimeout(),
		AwakeHold:      cfg.SessionAwakeHold,
		ErrorCooldown:  cfg.SessionErrorCooldown,
		CurrentRoom:    cfg.DefaultRoom,
		SpeakerRef:     cfg.TTSSpeakerReferencePath,
	}, proc,
		session.WithRecognizer(rec),
		session.WithSpeaker(engine),
		session.WithTaskSink(adapters),
		session.WithMetrics(metrics),
		session.WithLogger(logging.Module(log, "session")),
	)

	api := httpapi.New(cfg, ctrl, metrics, recorder, archive, logging.Module(log, "http"))

	cleanup := func() error {
		return errors.Join(engine.Close(), sink.Close(), archive.Close())
	}

	return &BuildResult{
		Config:     cfg,
		API:        api,
		Controller: ctrl,
		Processor:  proc,
		Engine:     engine,
		Recognizer: rec,
		Metrics:    metrics,
		Recorder:   recorder,
		Cleanup:    cleanup,
	}, nil
}

func newGenerator(ctx context.Context, cfg config.Config, metrics *observability.Metrics, log zerolog.Logger) llm.Generator {
	if cfg.LLMMock {
		log.Info().Msg("llm: mock generator")
		return llm.NewMockGenerator()
	}
	client := llm.NewOllamaClient(llm.Config{
		BaseURL:        cfg.LLMBaseURL,
		Model:          cfg.LLMModel,
		MaxAttempts:    cfg.LLMRetryMax,
		AttemptTimeout: cfg.LLMAttemptTimeout,
		ConnectTimeout: cfg.LLMConnectTimeout,
		MaxTokens:      cfg.LLMMaxTokens,
		BackoffBase:    cfg.LLMRetryBackoff,
	}, metrics, log)

	go func() {
		pingCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), livenessTimeout)
		defer cancel()
		client.CheckLiveness(pingCtx)
	}()
	return client
}

func newLoader(cfg config.Config, quant tts.Quantization, log zerolog.Logger) tts.Loader {
	if cfg.TTSMock {
		log.Info().Msg("tts: tone model")
		return tts.NewToneLoader(cfg.TTSSampleRateHz)
	}
	log.Info().
		Str("model", cfg.TTSModelName).
		Str("quantization", string(quant)).
		Msg("tts: worker model")
	return tts.NewWorkerLoader(tts.WorkerConfig{
		Python:       cfg.TTSWorkerPython,
		Script:       cfg.TTSWorkerScript,
		ModelName:    cfg.TTSModelName,
		Quantization: quant,
		Language:     cfg.TTSLanguage,
		LoadTimeout:  modelLoadTimeout,
	}, log)
}

// newSink opens the playback device, falling back to a discard sink that
// keeps real-time pacing when no device is available.
func newSink(cfg config.Config, log zerolog.Logger) audio.Sink {
	if cfg.AudioSink == "malgo" {
		s, err := audio.NewMalgoSink(cfg.TTSSampleRateHz, sinkBufferSeconds)
		if err == nil {
			return s
		}
		log.Warn().Err(err).Msg("audio device unavailable, discarding playback")
	}
	return audio.NewDiscardSink(cfg.TTSSampleRateHz, true)
}
