// Package generation defines the media pipelines executed by the task manager.
package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/clipforge/server/internal/module/provider"
	"github.com/clipforge/server/internal/module/task"
	apperrors "github.com/clipforge/server/internal/shared/errors"
)

// Step names double as the progress messages clients see.
const (
	StepWritingScript  = "writing script"
	StepSynthesizing   = "synthesizing audio"
	StepFetchingImages = "fetching images"
	StepAssembling     = "assembling video"
)

// Execution state keys shared between steps.
const (
	stateScript    = "script"
	stateAudio     = "audio"
	stateImages    = "images"
	stateProviders = "providers"
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
	ModTime     time.Time
}

// Storage persists generated media and returns public URLs.
type Storage interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
	// Stat fails with an error matching errors.ErrNotFound for missing keys.
	Stat(ctx context.Context, key string) (*ObjectInfo, error)
}

// Fetcher downloads remote media.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// TaskReader reads task snapshots.
type TaskReader interface {
	GetStatus(ctx context.Context, id string) (*task.Task, error)
}

// Config contains generation configuration.
type Config struct {
	Retry         task.RetryPolicy
	ImageCacheTTL time.Duration
	PosterWidth   int
	PosterHeight  int
	DefaultVoice  string
}

// DefaultConfig returns the default generation configuration.
func DefaultConfig() *Config {
	return &Config{
		Retry:         task.DefaultRetryPolicy(),
		ImageCacheTTL: 30 * time.Minute,
		PosterWidth:   1280,
		PosterHeight:  720,
	}
}

// Service builds and runs the generation pipelines.
type Service struct {
	resolver *provider.Resolver
	storage  Storage
	fetcher  Fetcher
	tasks    TaskReader
	images   *cache.Cache
	logger   *zap.Logger
	config   *Config
	now      func() time.Time
}

// NewService creates a new generation service. fetcher may be nil, in which
// case no posters are rendered.
func NewService(resolver *provider.Resolver, storage Storage, fetcher Fetcher, logger *zap.Logger, config *Config) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := config.ImageCacheTTL
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}

	return &Service{
		resolver: resolver,
		storage:  storage,
		fetcher:  fetcher,
		images:   cache.New(ttl, 10*time.Minute),
		logger:   logger.Named("generation"),
		config:   config,
		now:      time.Now,
	}
}

// Register installs one pipeline per task kind on m.
func (s *Service) Register(m *task.Manager) {
	s.tasks = m

	synthesize := task.Step{Name: StepSynthesizing, Weight: 4, Run: s.synthesize}
	search := task.Step{Name: StepFetchingImages, Weight: 2, Run: s.searchImages}
	assemble := task.Step{Name: StepAssembling, Weight: 3, Run: s.assemble}

	m.RegisterPipeline(task.KindSpeechSynthesis, &task.Pipeline{
		Validate: validateSpeech,
		Steps:    []task.Step{synthesize},
	})
	m.RegisterPipeline(task.KindImageSearch, &task.Pipeline{
		Validate: validateImageSearch,
		Steps:    []task.Step{search},
	})
	m.RegisterPipeline(task.KindVideoAssembly, &task.Pipeline{
		Validate: validateVideo,
		Steps:    []task.Step{synthesize, search, assemble},
	})
	m.RegisterPipeline(task.KindComposite, &task.Pipeline{
		Validate: validateComposite,
		Steps: []task.Step{
			{Name: StepWritingScript, Weight: 3, Run: s.writeScript},
			synthesize, search, assemble,
		},
	})
}

func (s *Service) writeScript(ctx context.Context, exec *task.Execution) error {
	req := provider.ScriptRequest{
		Prompt:   paramString(exec.Params, ParamPrompt),
		MaxWords: paramInt(exec.Params, ParamMaxWords, DefaultMaxWords),
		Style:    paramString(exec.Params, ParamStyle),
	}

	var used string
	script, err := task.Retry(ctx, s.config.Retry, string(provider.CapabilityText), func(ctx context.Context) (string, error) {
		return provider.Call(ctx, s.resolver, provider.CapabilityText, func(ctx context.Context, g provider.TextGenerator) (string, error) {
			used = g.Name()
			return g.GenerateScript(ctx, req)
		})
	})
	if err != nil {
		return err
	}
	script = strings.TrimSpace(script)
	if script == "" {
		return apperrors.ProviderError(used, errors.New("empty script"))
	}

	exec.Set(stateScript, script)
	exec.SetResult("script", script)
	recordProvider(exec, provider.CapabilityText, used)
	return nil
}

func (s *Service) synthesize(ctx context.Context, exec *task.Execution) error {
	script := s.script(exec)
	// Video kinds narrate at normal pace; playback speed is applied to the timeline.
	speed := DefaultSpeed
	if exec.Kind == task.KindSpeechSynthesis {
		speed = paramFloat(exec.Params, ParamSpeed, DefaultSpeed)
	}
	voice := paramString(exec.Params, ParamVoice)
	if voice == "" {
		voice = s.config.DefaultVoice
	}
	req := provider.SpeechRequest{Text: script, Voice: voice, Speed: speed}

	var used string
	audio, err := task.Retry(ctx, s.config.Retry, string(provider.CapabilitySpeech), func(ctx context.Context) (*provider.Audio, error) {
		return provider.Call(ctx, s.resolver, provider.CapabilitySpeech, func(ctx context.Context, a provider.SpeechSynthesizer) (*provider.Audio, error) {
			used = a.Name()
			return a.Synthesize(ctx, req)
		})
	})
	if err != nil {
		return err
	}
	if audio == nil || len(audio.Data) == 0 {
		return apperrors.ProviderError(used, errors.New("empty audio"))
	}
	exec.Report(0.8, "storing audio")

	url, err := s.storage.Put(ctx, AudioKey(exec.TaskID, audio.ContentType), audio.ContentType, audio.Data)
	if err != nil {
		return apperrors.Storage("put audio", err)
	}

	seconds := audio.Duration.Seconds()
	if seconds <= 0 {
		seconds = estimateSpeechSeconds(script, speed)
	}
	track := Track{URL: url, Duration: round2(seconds)}

	exec.Set(stateAudio, track)
	exec.SetResult("audioUrl", url)
	exec.SetResult("durationSeconds", track.Duration)
	recordProvider(exec, provider.CapabilitySpeech, used)
	return nil
}

type imageHit struct {
	provider string
	images   []provider.Image
}

func (s *Service) searchImages(ctx context.Context, exec *task.Execution) error {
	query := paramString(exec.Params, ParamQuery)
	if query == "" {
		query = keywords(s.script(exec), 3)
	}
	count := paramInt(exec.Params, ParamImageCount, DefaultImageCount)
	orientation := paramString(exec.Params, ParamOrientation)
	if orientation == "" && exec.Kind != task.KindImageSearch {
		orientation = "landscape"
	}
	q := provider.ImageQuery{Query: query, Count: count, Orientation: orientation}
	key := fmt.Sprintf("%s|%d|%s", strings.ToLower(query), count, orientation)

	var hit imageHit
	if cached, ok := s.images.Get(key); ok {
		hit = cached.(imageHit)
		s.logger.Debug("image search cache hit", zap.String("task_id", exec.TaskID), zap.String("query", query))
	} else {
		images, err := task.Retry(ctx, s.config.Retry, string(provider.CapabilityImage), func(ctx context.Context) ([]provider.Image, error) {
			return provider.Call(ctx, s.resolver, provider.CapabilityImage, func(ctx context.Context, a provider.ImageSearcher) ([]provider.Image, error) {
				hit.provider = a.Name()
				return a.SearchImages(ctx, q)
			})
		})
		if err != nil {
			return err
		}
		if len(images) > count {
			images = images[:count]
		}
		hit.images = images
		if len(images) > 0 {
			s.images.Set(key, hit, cache.DefaultExpiration)
		}
	}

	if len(hit.images) == 0 && exec.Kind != task.KindImageSearch {
		return apperrors.ProviderError(hit.provider, fmt.Errorf("no images found for %q", query))
	}

	exec.Set(stateImages, hit.images)
	exec.SetResult("images", hit.images)
	if exec.Kind == task.KindImageSearch {
		exec.SetResult("query", query)
	}
	recordProvider(exec, provider.CapabilityImage, hit.provider)
	return nil
}

func (s *Service) assemble(ctx context.Context, exec *task.Execution) error {
	v, _ := exec.Get(stateAudio)
	track, ok := v.(Track)
	if !ok {
		return apperrors.Internal("assembly started without narration", nil)
	}
	v, _ = exec.Get(stateImages)
	images, _ := v.([]provider.Image)

	format := paramString(exec.Params, ParamOutputFormat)
	if format == "" {
		format = DefaultOutputFormat
	}
	m := buildManifest(exec.TaskID, format,
		paramFloat(exec.Params, ParamSpeed, DefaultSpeed),
		track, images, paramStrings(exec.Params, ParamTransitions), s.now())

	exec.Report(0.2, "rendering poster")
	posterURL := s.renderAndStorePoster(ctx, exec.TaskID, images)

	data, err := json.Marshal(m)
	if err != nil {
		return apperrors.Internal("encode manifest", err)
	}
	exec.Report(0.7, "storing video")
	videoURL, err := s.storage.Put(ctx, VideoKey(exec.TaskID), "application/json", data)
	if err != nil {
		return apperrors.Storage("put video", err)
	}

	exec.SetResult("videoId", exec.TaskID)
	exec.SetResult("videoUrl", videoURL)
	if posterURL != "" {
		exec.SetResult("posterUrl", posterURL)
	}
	exec.SetResult("duration", m.Duration)
	exec.SetResult("size", int64(len(data)))
	exec.SetResult("format", format)
	exec.SetResult("clips", len(m.Clips))
	return nil
}

// renderAndStorePoster is best effort; failures leave the video without a poster.
func (s *Service) renderAndStorePoster(ctx context.Context, videoID string, images []provider.Image) string {
	if s.fetcher == nil || len(images) == 0 {
		return ""
	}
	src := images[0].URL
	if images[0].PreviewURL != "" {
		src = images[0].PreviewURL
	}

	log := s.logger.With(zap.String("task_id", videoID))
	raw, err := s.fetcher.Fetch(ctx, src)
	if err != nil {
		log.Warn("failed to fetch poster source", zap.String("url", src), zap.Error(err))
		return ""
	}
	poster, err := renderPoster(raw, s.config.PosterWidth, s.config.PosterHeight)
	if err != nil {
		log.Warn("failed to render poster", zap.Error(err))
		return ""
	}
	url, err := s.storage.Put(ctx, PosterKey(videoID), "image/jpeg", poster)
	if err != nil {
		log.Warn("failed to store poster", zap.Error(err))
		return ""
	}
	return url
}

func (s *Service) script(exec *task.Execution) string {
	if v, ok := exec.Get(stateScript); ok {
		if script, ok := v.(string); ok {
			return script
		}
	}
	return paramString(exec.Params, ParamScript)
}

// VideoStatus reports playback readiness of a generated asset. The video id
// is the id of the task that produced it.
type VideoStatus struct {
	VideoID    string      `json:"videoId"`
	Status     task.Status `json:"status"`
	Progress   int         `json:"progress"`
	IsComplete bool        `json:"isComplete"`
	IsPlayable bool        `json:"isPlayable"`
	Duration   float64     `json:"duration"`
	Size       int64       `json:"size"`
}

// VideoStatus returns the playback readiness of videoID.
func (s *Service) VideoStatus(ctx context.Context, videoID string) (*VideoStatus, error) {
	if s.tasks == nil {
		return nil, apperrors.Internal("generation service not registered", nil)
	}
	t, err := s.tasks.GetStatus(ctx, videoID)
	if err != nil {
		return nil, err
	}

	vs := &VideoStatus{VideoID: videoID, Status: t.Status, Progress: t.Progress}
	if t.Status != task.StatusCompleted {
		return vs, nil
	}
	vs.IsComplete = true

	switch t.Kind {
	case task.KindSpeechSynthesis:
		vs.Duration, _ = t.Result["durationSeconds"].(float64)
		vs.IsPlayable = t.Result["audioUrl"] != nil
	case task.KindVideoAssembly, task.KindComposite:
		vs.Duration, _ = t.Result["duration"].(float64)
		info, err := s.storage.Stat(ctx, VideoKey(videoID))
		if err != nil {
			s.logger.Debug("video artifact missing", zap.String("task_id", videoID), zap.Error(err))
			return vs, nil
		}
		vs.Size = info.Size
		vs.IsPlayable = info.Size > 0
	}
	return vs, nil
}

// AudioKey returns the storage key of a task's narration.
func AudioKey(taskID, contentType string) string {
	return "audio/" + taskID + audioExtension(contentType)
}

// VideoKey returns the storage key of a task's video manifest.
func VideoKey(taskID string) string {
	return "videos/" + taskID + "/timeline.json"
}

// PosterKey returns the storage key of a task's poster.
func PosterKey(taskID string) string {
	return "videos/" + taskID + "/poster.jpg"
}

func audioExtension(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0])) {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/ogg", "audio/opus":
		return ".ogg"
	case "audio/aac":
		return ".aac"
	default:
		return ".bin"
	}
}

// estimateSpeechSeconds assumes roughly 150 spoken words per minute.
func estimateSpeechSeconds(script string, speed float64) float64 {
	if speed <= 0 {
		speed = DefaultSpeed
	}
	words := len(strings.Fields(script))
	return float64(words) / 2.5 / speed
}

func recordProvider(exec *task.Execution, c provider.Capability, name string) {
	v, _ := exec.Get(stateProviders)
	prev, _ := v.(map[string]string)
	next := make(map[string]string, len(prev)+1)
	for k, n := range prev {
		next[k] = n
	}
	next[string(c)] = name
	exec.Set(stateProviders, next)
	exec.SetResult("providers", next)
}
