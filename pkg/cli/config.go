package cli

import (
	"context"
	"os"
	"time"

	"github.com/m-mizutani/facegreet/pkg/adapter"
	"github.com/m-mizutani/facegreet/pkg/adapter/goface"
	"github.com/m-mizutani/facegreet/pkg/adapter/portaudio"
	"github.com/m-mizutani/facegreet/pkg/model"
	"github.com/m-mizutani/facegreet/pkg/policy"
	"github.com/m-mizutani/facegreet/pkg/repository"
	"github.com/m-mizutani/facegreet/pkg/service/eventlog"
	"github.com/m-mizutani/facegreet/pkg/usecase/greeting"
	"github.com/m-mizutani/facegreet/pkg/usecase/match"
	"github.com/m-mizutani/facegreet/pkg/usecase/recognition"
	"github.com/m-mizutani/facegreet/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// config holds configuration values
type config struct {
	logLevel string

	// Repository
	store     string
	badgerDir string
	project   string
	database  string

	// Greeting
	ttsProvider    string
	googleAPIKey   string
	openaiAPIKey   string
	ttsModel       string
	ttsVoice       string
	languageCode   string
	template       string
	greetingPolicy string
	noAudio        bool

	// Detector
	modelDir string
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Aliases:     []string{"l"},
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("FACEGREET_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "store",
			Usage:       "Identity store (firestore, badger, memory)",
			Value:       "badger",
			Sources:     cli.EnvVars("FACEGREET_STORE"),
			Destination: &cfg.store,
		},
		&cli.StringFlag{
			Name:        "badger-dir",
			Usage:       "BadgerDB directory",
			Value:       "./facegreet.db",
			Sources:     cli.EnvVars("FACEGREET_BADGER_DIR"),
			Destination: &cfg.badgerDir,
		},
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
	}
}

// greetingFlags returns flags for speech synthesis and playback
func greetingFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "tts-provider",
			Usage:       "Speech synthesis provider (gemini, openai)",
			Value:       "gemini",
			Sources:     cli.EnvVars("FACEGREET_TTS_PROVIDER"),
			Destination: &cfg.ttsProvider,
		},
		&cli.StringFlag{
			Name:        "google-api-key",
			Usage:       "Gemini API key, used when the store has no googleApiKey setting",
			Sources:     cli.EnvVars("GOOGLE_API_KEY", "GEMINI_API_KEY"),
			Destination: &cfg.googleAPIKey,
		},
		&cli.StringFlag{
			Name:        "openai-api-key",
			Usage:       "OpenAI API key, used when the store has no openaiApiKey setting",
			Sources:     cli.EnvVars("OPENAI_API_KEY"),
			Destination: &cfg.openaiAPIKey,
		},
		&cli.StringFlag{
			Name:        "tts-model",
			Usage:       "Speech synthesis model (provider default when empty)",
			Sources:     cli.EnvVars("FACEGREET_TTS_MODEL"),
			Destination: &cfg.ttsModel,
		},
		&cli.StringFlag{
			Name:        "tts-voice",
			Usage:       "Voice name (provider default when empty)",
			Sources:     cli.EnvVars("FACEGREET_TTS_VOICE"),
			Destination: &cfg.ttsVoice,
		},
		&cli.StringFlag{
			Name:        "language-code",
			Usage:       "Language of the greeting",
			Value:       greeting.DefaultVoice.LanguageCode,
			Sources:     cli.EnvVars("FACEGREET_LANGUAGE_CODE"),
			Destination: &cfg.languageCode,
		},
		&cli.StringFlag{
			Name:        "greeting-template",
			Usage:       "Greeting text template ({{.Name}} and {{.Age}} are available)",
			Value:       greeting.DefaultTemplate,
			Sources:     cli.EnvVars("FACEGREET_GREETING_TEMPLATE"),
			Destination: &cfg.template,
		},
		&cli.StringFlag{
			Name:        "greeting-policy",
			Usage:       "Rego file or directory (package greeting) that may override the greeting text",
			Sources:     cli.EnvVars("FACEGREET_GREETING_POLICY"),
			Destination: &cfg.greetingPolicy,
		},
		&cli.BoolFlag{
			Name:        "no-audio",
			Usage:       "Do not open an audio device, only log greetings",
			Sources:     cli.EnvVars("FACEGREET_NO_AUDIO"),
			Destination: &cfg.noAudio,
		},
	}
}

// detectorFlags returns flags for the face detection model
func detectorFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model-dir",
			Usage:       "Directory of dlib models (shape predictor, recognition, detector)",
			Value:       "./models",
			Sources:     cli.EnvVars("FACEGREET_MODEL_DIR"),
			Destination: &cfg.modelDir,
		},
	}
}

// setupLogger installs the logger for the command and returns a context carrying it
func (cfg *config) setupLogger(ctx context.Context) context.Context {
	logger := logging.New(cfg.logLevel, os.Stderr)
	logging.SetDefault(logger)
	return logging.With(ctx, logger)
}

// newRepository creates a new repository instance. The returned function
// releases it.
func (cfg *config) newRepository(ctx context.Context) (repository.Repository, func(), error) {
	switch cfg.store {
	case "firestore":
		if cfg.project == "" {
			return nil, nil, goerr.New("project is required")
		}
		if cfg.database == "" {
			return nil, nil, goerr.New("database is required")
		}
		repo, err := repository.NewFirestore(ctx, cfg.project, cfg.database)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create repository")
		}
		return repo, func() { closeWithLog(ctx, "firestore", repo.Close) }, nil

	case "badger":
		repo, err := repository.NewBadger(cfg.badgerDir)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create repository")
		}
		return repo, func() { closeWithLog(ctx, "badger", repo.Close) }, nil

	case "memory":
		logging.From(ctx).Warn("memory store is not persisted, enrolled identities are lost on exit")
		return repository.NewMemory(), func() {}, nil

	default:
		return nil, nil, goerr.New("unknown store", goerr.V("store", cfg.store))
	}
}

func closeWithLog(ctx context.Context, name string, fn func() error) {
	if err := fn(); err != nil {
		logging.From(ctx).Warn("failed to close", "target", name, "error", err)
	}
}

// newDetector loads the face detection models
func (cfg *config) newDetector() (*goface.Detector, error) {
	if cfg.modelDir == "" {
		return nil, goerr.New("model-dir is required")
	}
	return goface.New(cfg.modelDir)
}

// newSynthesizerFactory returns the setting key holding the provider
// credential, the credential given by flag and the factory
func (cfg *config) newSynthesizerFactory() (model.SettingKey, string, adapter.SynthesizerFactory, error) {
	switch cfg.ttsProvider {
	case "gemini":
		var opts []adapter.GeminiOption
		if cfg.ttsModel != "" {
			opts = append(opts, adapter.WithTTSModel(cfg.ttsModel))
		}
		if cfg.ttsVoice != "" {
			opts = append(opts, adapter.WithGeminiVoice(cfg.ttsVoice))
		}
		return model.SettingGoogleAPIKey, cfg.googleAPIKey, func(ctx context.Context, apiKey string) (adapter.Synthesizer, error) {
			return adapter.NewGeminiTTS(ctx, apiKey, opts...)
		}, nil

	case "openai":
		var opts []adapter.OpenAIOption
		if cfg.ttsModel != "" {
			opts = append(opts, adapter.WithOpenAIModel(cfg.ttsModel))
		}
		if cfg.ttsVoice != "" {
			opts = append(opts, adapter.WithOpenAIVoice(cfg.ttsVoice))
		}
		return model.SettingOpenAIAPIKey, cfg.openaiAPIKey, func(ctx context.Context, apiKey string) (adapter.Synthesizer, error) {
			return adapter.NewOpenAITTS(apiKey, opts...)
		}, nil

	default:
		return "", "", nil, goerr.New("unknown tts provider", goerr.V("provider", cfg.ttsProvider))
	}
}

// newPhrase builds the greeting phrase from template, language and policy
func (cfg *config) newPhrase(ctx context.Context) (*greeting.Phrase, error) {
	var p *policy.Greeting
	if cfg.greetingPolicy != "" {
		loaded, err := policy.LoadGreeting(ctx, cfg.greetingPolicy)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to load greeting policy")
		}
		if loaded == nil {
			logging.From(ctx).Warn("no greeting policy found", "path", cfg.greetingPolicy)
		}
		p = loaded
	}

	voice := model.Voice{LanguageCode: cfg.languageCode}
	return greeting.NewPhrase(cfg.template, voice, p)
}

// newCache creates the greeting cache
func (cfg *config) newCache(ctx context.Context, repo repository.Repository, opts ...greeting.CacheOption) (*greeting.Cache, error) {
	key, fallback, factory, err := cfg.newSynthesizerFactory()
	if err != nil {
		return nil, err
	}
	phrase, err := cfg.newPhrase(ctx)
	if err != nil {
		return nil, err
	}

	opts = append(opts,
		greeting.WithPhrase(phrase),
		greeting.WithFallbackCredential(fallback))
	return greeting.NewCache(repo, key, factory, opts...), nil
}

// newPlayer opens the default audio device. Without a device the greeting
// is only logged. The returned function releases the device.
func (cfg *config) newPlayer(ctx context.Context) (adapter.Player, func()) {
	if cfg.noAudio {
		return adapter.NopPlayer{}, func() {}
	}

	player, err := portaudio.New()
	if err != nil {
		logging.From(ctx).Warn("audio device is not available, greetings are only logged", "error", err)
		return adapter.NopPlayer{}, func() {}
	}
	return player, func() { closeWithLog(ctx, "portaudio", player.Close) }
}

// sourceConfig holds the frame source and event export settings of the run command
type sourceConfig struct {
	frameFile   string
	frameBucket string
	frameObject string

	bigqueryProject string
	bigqueryDataset string
	bigqueryTable   string
}

func sourceFlags(src *sourceConfig) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "frame-file",
			Usage:       "Snapshot file written by a capture tool",
			Sources:     cli.EnvVars("FACEGREET_FRAME_FILE"),
			Destination: &src.frameFile,
		},
		&cli.StringFlag{
			Name:        "frame-bucket",
			Usage:       "Cloud Storage bucket holding the snapshot",
			Sources:     cli.EnvVars("FACEGREET_FRAME_BUCKET"),
			Destination: &src.frameBucket,
		},
		&cli.StringFlag{
			Name:        "frame-object",
			Usage:       "Object name of the snapshot in frame-bucket",
			Value:       "snapshot.jpg",
			Sources:     cli.EnvVars("FACEGREET_FRAME_OBJECT"),
			Destination: &src.frameObject,
		},
		&cli.StringFlag{
			Name:        "bigquery-project",
			Usage:       "Google Cloud project of the event table",
			Sources:     cli.EnvVars("FACEGREET_BIGQUERY_PROJECT"),
			Destination: &src.bigqueryProject,
		},
		&cli.StringFlag{
			Name:        "bigquery-dataset",
			Usage:       "BigQuery dataset for recognition events. Events are not exported when empty",
			Sources:     cli.EnvVars("FACEGREET_BIGQUERY_DATASET"),
			Destination: &src.bigqueryDataset,
		},
		&cli.StringFlag{
			Name:        "bigquery-table",
			Usage:       "BigQuery table for recognition events",
			Value:       "events",
			Sources:     cli.EnvVars("FACEGREET_BIGQUERY_TABLE"),
			Destination: &src.bigqueryTable,
		},
	}
}

// newFrameSource picks the snapshot file, or the bucket object when no file is given
func (src *sourceConfig) newFrameSource(ctx context.Context) (adapter.FrameSource, error) {
	switch {
	case src.frameFile != "":
		return adapter.NewFileFrameSource(src.frameFile), nil

	case src.frameBucket != "":
		storage, err := adapter.NewStorage(ctx, src.frameBucket)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create storage")
		}
		return adapter.NewStorageFrameSource(storage, src.frameObject), nil

	default:
		return nil, goerr.New("frame-file or frame-bucket is required")
	}
}

// newEventRecorder returns nil when event export is not configured
func (src *sourceConfig) newEventRecorder(ctx context.Context) (*eventlog.Recorder, error) {
	if src.bigqueryDataset == "" {
		return nil, nil
	}
	if src.bigqueryProject == "" {
		return nil, goerr.New("bigquery-project is required for event export")
	}

	bq, err := adapter.NewBigQuery(ctx, src.bigqueryProject, src.bigqueryDataset,
		adapter.WithEventTable(src.bigqueryTable))
	if err != nil {
		return nil, err
	}
	if err := bq.EnsureEventTable(ctx); err != nil {
		return nil, err
	}
	return eventlog.New(bq), nil
}

// sessionFile is the optional YAML file of the run command. Zero values keep
// the current setting.
type sessionFile struct {
	DistanceThreshold   float64       `yaml:"distance_threshold"`
	ConfidenceThreshold int           `yaml:"confidence_threshold"`
	Cooldown            time.Duration `yaml:"cooldown"`
	OutOfFrameReset     time.Duration `yaml:"out_of_frame_reset"`
	FrameInterval       time.Duration `yaml:"frame_interval"`
	ItemDelay           time.Duration `yaml:"item_delay"`
	Voice               model.Voice   `yaml:"voice"`
	Template            string        `yaml:"template"`
}

func loadSessionFile(path string) (*sessionFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read session config", goerr.V("path", path))
	}

	var f sessionFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, goerr.Wrap(err, "failed to parse session config", goerr.V("path", path))
	}

	if f.DistanceThreshold < 0 {
		return nil, goerr.New("distance_threshold must not be negative", goerr.V("path", path))
	}
	if f.ConfidenceThreshold < 0 || f.ConfidenceThreshold > 100 {
		return nil, goerr.New("confidence_threshold must be in 0..100", goerr.V("path", path))
	}
	return &f, nil
}

// runSettings are the tunables of a recognition session
type runSettings struct {
	policy          match.Policy
	cooldown        time.Duration
	outOfFrameReset time.Duration
	frameInterval   time.Duration
	itemDelay       time.Duration
}

func defaultRunSettings() runSettings {
	return runSettings{
		policy:          match.DefaultPolicy(),
		cooldown:        greeting.DefaultCooldown,
		outOfFrameReset: greeting.DefaultOutOfFrameReset,
		frameInterval:   recognition.DefaultFrameInterval,
		itemDelay:       greeting.DefaultItemDelay,
	}
}

// apply overlays non-zero values of the file onto s and the greeting
// options of cfg. Greeting options set by flag are kept.
func (f *sessionFile) apply(s *runSettings, cfg *config, isSet func(string) bool) {
	if f.DistanceThreshold > 0 {
		s.policy.DistanceThreshold = f.DistanceThreshold
	}
	if f.ConfidenceThreshold > 0 {
		s.policy.ConfidenceThreshold = f.ConfidenceThreshold
	}
	if f.Cooldown > 0 {
		s.cooldown = f.Cooldown
	}
	if f.OutOfFrameReset > 0 {
		s.outOfFrameReset = f.OutOfFrameReset
	}
	if f.FrameInterval > 0 {
		s.frameInterval = f.FrameInterval
	}
	if f.ItemDelay > 0 {
		s.itemDelay = f.ItemDelay
	}

	if f.Template != "" && !isSet("greeting-template") {
		cfg.template = f.Template
	}
	if f.Voice.LanguageCode != "" && !isSet("language-code") {
		cfg.languageCode = f.Voice.LanguageCode
	}
	if f.Voice.Name != "" && !isSet("tts-voice") {
		cfg.ttsVoice = f.Voice.Name
	}
}
