package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipforge/server/internal/module/provider"
	"github.com/clipforge/server/internal/module/task"
	apperrors "github.com/clipforge/server/internal/shared/errors"
)

type mockBase struct {
	name string
	tier provider.Tier
}

func (m *mockBase) Name() string                      { return m.name }
func (m *mockBase) Tier() provider.Tier               { return m.tier }
func (m *mockBase) Configured() bool                  { return true }
func (m *mockBase) HealthCheck(context.Context) error { return nil }

// MockSpeech implements provider.SpeechSynthesizer.
type MockSpeech struct {
	mockBase
	calls atomic.Int32
	err   error
	speed atomic.Value
}

func (m *MockSpeech) Capability() provider.Capability { return provider.CapabilitySpeech }

func (m *MockSpeech) Synthesize(_ context.Context, req provider.SpeechRequest) (*provider.Audio, error) {
	m.calls.Add(1)
	m.speed.Store(req.Speed)
	if m.err != nil {
		return nil, m.err
	}
	return &provider.Audio{Data: []byte("ID3" + req.Text), ContentType: "audio/mpeg", Duration: 12 * time.Second}, nil
}

// MockImages implements provider.ImageSearcher.
type MockImages struct {
	mockBase
	calls  atomic.Int32
	images []provider.Image
}

func (m *MockImages) Capability() provider.Capability { return provider.CapabilityImage }

func (m *MockImages) SearchImages(_ context.Context, q provider.ImageQuery) ([]provider.Image, error) {
	m.calls.Add(1)
	return m.images, nil
}

// MockText implements provider.TextGenerator.
type MockText struct {
	mockBase
	script string
}

func (m *MockText) Capability() provider.Capability { return provider.CapabilityText }

func (m *MockText) GenerateScript(context.Context, provider.ScriptRequest) (string, error) {
	return m.script, nil
}

// MockStorage keeps objects in memory.
type MockStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewMockStorage() *MockStorage {
	return &MockStorage{objects: make(map[string][]byte)}
}

func (s *MockStorage) Put(_ context.Context, key, _ string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
	return "/media/" + key, nil
}

func (s *MockStorage) Stat(_ context.Context, key string) (*ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, apperrors.NotFound("object", key)
	}
	return &ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (s *MockStorage) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	return data, ok
}

// MockFetcher serves a generated PNG.
type MockFetcher struct {
	err error
}

func (f *MockFetcher) Fetch(context.Context, string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for x := 0; x < 64; x++ {
		for y := 0; y < 48; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 5), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type fixture struct {
	manager  *task.Manager
	resolver *provider.Resolver
	service  *Service
	storage  *MockStorage
	speech   *MockSpeech
	images   *MockImages
	text     *MockText
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		resolver: provider.NewResolver(nil, nil, nil, nil),
		storage:  NewMockStorage(),
		speech:   &MockSpeech{mockBase: mockBase{name: "elevenlabs", tier: provider.TierPaid}},
		images: &MockImages{mockBase: mockBase{name: "pexels", tier: provider.TierFree}, images: []provider.Image{
			{URL: "https://img.test/1.jpg", Width: 1920, Height: 1080, Author: "Ann", Source: "pexels"},
			{URL: "https://img.test/2.jpg", Width: 1920, Height: 1080, Source: "pexels"},
			{URL: "https://img.test/3.jpg", Width: 1920, Height: 1080, Source: "pexels"},
		}},
		text: &MockText{mockBase: mockBase{name: "ollama", tier: provider.TierFree}, script: "Mountains rise above the valley. Mountains glow at dawn."},
	}
	require.NoError(t, f.resolver.Register(f.speech))
	require.NoError(t, f.resolver.Register(f.images))
	require.NoError(t, f.resolver.Register(f.text))

	cfg := DefaultConfig()
	cfg.Retry = task.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	cfg.PosterWidth, cfg.PosterHeight = 32, 18
	f.service = NewService(f.resolver, f.storage, &MockFetcher{}, nil, cfg)

	f.manager = task.NewManager(task.NewMemoryStore(), nil, nil, nil, &task.Config{Workers: 2, QueueCeiling: 10, Retention: time.Hour})
	f.service.Register(f.manager)
	f.manager.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = f.manager.Stop(ctx)
	})
	return f
}

func (f *fixture) wait(t *testing.T, id string) *task.Task {
	t.Helper()
	var got *task.Task
	require.Eventually(t, func() bool {
		var err error
		got, err = f.manager.GetStatus(context.Background(), id)
		return err == nil && got.IsTerminal()
	}, 3*time.Second, 5*time.Millisecond)
	return got
}

func TestSpeechSynthesis(t *testing.T) {
	ctx := context.Background()

	t.Run("completes with stored audio", func(t *testing.T) {
		f := newFixture(t)
		id, err := f.manager.Submit(ctx, task.KindSpeechSynthesis, task.Params{"script": "Hello there", "speed": 1.5})
		require.NoError(t, err)

		got := f.wait(t, id)
		require.Equal(t, task.StatusCompleted, got.Status, got.Error)
		assert.Equal(t, "/media/audio/"+id+".mp3", got.Result["audioUrl"])
		assert.Equal(t, 12.0, got.Result["durationSeconds"])
		assert.Equal(t, map[string]string{"speech": "elevenlabs"}, got.Result["providers"])
		assert.Equal(t, 1.5, f.speech.speed.Load())

		_, ok := f.storage.Get(AudioKey(id, "audio/mpeg"))
		assert.True(t, ok)
	})

	t.Run("only speech provider unhealthy fails with no provider available", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.resolver.SetHealth("elevenlabs", false))

		id, err := f.manager.Submit(ctx, task.KindSpeechSynthesis, task.Params{"script": "Hello"})
		require.NoError(t, err)

		got := f.wait(t, id)
		assert.Equal(t, task.StatusFailed, got.Status)
		assert.Equal(t, apperrors.CodeNoProviderAvailable, got.ErrorCode)
		assert.Equal(t, int32(0), f.speech.calls.Load())
	})

	t.Run("persistent provider errors fail after retries", func(t *testing.T) {
		f := newFixture(t)
		f.speech.err = errors.New("500 internal error")

		id, err := f.manager.Submit(ctx, task.KindSpeechSynthesis, task.Params{"script": "Hello"})
		require.NoError(t, err)

		got := f.wait(t, id)
		assert.Equal(t, task.StatusFailed, got.Status)
		assert.Equal(t, apperrors.CodeProviderError, got.ErrorCode)
		assert.Equal(t, int32(2), f.speech.calls.Load())
	})
}

func TestImageSearch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.manager.Submit(ctx, task.KindImageSearch, task.Params{"query": "mountains", "imageCount": 2})
	require.NoError(t, err)
	got := f.wait(t, first)
	require.Equal(t, task.StatusCompleted, got.Status, got.Error)
	images, ok := got.Result["images"].([]provider.Image)
	require.True(t, ok)
	assert.Len(t, images, 2)
	assert.Equal(t, "mountains", got.Result["query"])

	second, err := f.manager.Submit(ctx, task.KindImageSearch, task.Params{"query": "Mountains", "imageCount": 2})
	require.NoError(t, err)
	f.wait(t, second)
	assert.Equal(t, int32(1), f.images.calls.Load(), "second search is served from cache")
}

func TestVideoAssembly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.manager.Submit(ctx, task.KindVideoAssembly, task.Params{
		"script":       "Mountains rise above the quiet valley at dawn.",
		"speed":        2.0,
		"transitions":  []any{"fade", "zoom"},
		"outputFormat": "webm",
	})
	require.NoError(t, err)

	got := f.wait(t, id)
	require.Equal(t, task.StatusCompleted, got.Status, got.Error)
	assert.Equal(t, "/media/"+VideoKey(id), got.Result["videoUrl"])
	assert.Equal(t, "/media/"+PosterKey(id), got.Result["posterUrl"])
	assert.Equal(t, "webm", got.Result["format"])
	assert.Equal(t, 6.0, got.Result["duration"])
	assert.Equal(t, 1.0, f.speech.speed.Load(), "video narration is synthesized at normal pace")

	raw, ok := f.storage.Get(VideoKey(id))
	require.True(t, ok)
	var m Manifest
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, id, m.VideoID)
	require.Len(t, m.Clips, 3)
	assert.Equal(t, "fade", m.Clips[0].Transition)
	assert.Equal(t, "zoom", m.Clips[1].Transition)
	assert.Equal(t, "fade", m.Clips[2].Transition)

	status, err := f.service.VideoStatus(ctx, id)
	require.NoError(t, err)
	assert.True(t, status.IsComplete)
	assert.True(t, status.IsPlayable)
	assert.Equal(t, int64(len(raw)), status.Size)
	assert.Equal(t, 6.0, status.Duration)
}

func TestVideoAssembly_PosterIsBestEffort(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.service.fetcher = &MockFetcher{err: errors.New("403")}

	id, err := f.manager.Submit(ctx, task.KindVideoAssembly, task.Params{"script": "Ocean waves"})
	require.NoError(t, err)

	got := f.wait(t, id)
	require.Equal(t, task.StatusCompleted, got.Status, got.Error)
	assert.NotContains(t, got.Result, "posterUrl")
	assert.Contains(t, got.Result, "videoUrl")
}

func TestComposite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	id, err := f.manager.Submit(ctx, task.KindComposite, task.Params{"prompt": "a short film about mountains"})
	require.NoError(t, err)

	got := f.wait(t, id)
	require.Equal(t, task.StatusCompleted, got.Status, got.Error)
	assert.Equal(t, f.text.script, got.Result["script"])
	assert.Equal(t, map[string]string{"text": "ollama", "speech": "elevenlabs", "image": "pexels"}, got.Result["providers"])
}

func TestVideoStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.service.VideoStatus(ctx, "missing")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name     string
		validate func(task.Params) (task.Params, error)
		params   task.Params
		wantErr  bool
	}{
		{"speech ok", validateSpeech, task.Params{"script": "hi"}, false},
		{"speech missing script", validateSpeech, task.Params{}, true},
		{"speech blank script", validateSpeech, task.Params{"script": "   "}, true},
		{"speech speed too fast", validateSpeech, task.Params{"script": "hi", "speed": 2.5}, true},
		{"speech speed not a number", validateSpeech, task.Params{"script": "hi", "speed": "fast"}, true},
		{"image ok", validateImageSearch, task.Params{"query": "cats", "imageCount": 20}, false},
		{"image count too high", validateImageSearch, task.Params{"query": "cats", "imageCount": 21}, true},
		{"image count fractional", validateImageSearch, task.Params{"query": "cats", "imageCount": 2.5}, true},
		{"image bad orientation", validateImageSearch, task.Params{"query": "cats", "orientation": "diagonal"}, true},
		{"video ok", validateVideo, task.Params{"script": "hi", "transitions": []any{"slide"}, "outputFormat": "MP4"}, false},
		{"video bad format", validateVideo, task.Params{"script": "hi", "outputFormat": "avi"}, true},
		{"video bad transition", validateVideo, task.Params{"script": "hi", "transitions": []any{"wipe"}}, true},
		{"video transitions not strings", validateVideo, task.Params{"script": "hi", "transitions": []any{1}}, true},
		{"composite ok", validateComposite, task.Params{"prompt": "about cats"}, false},
		{"composite needs prompt", validateComposite, task.Params{"script": "hi"}, true},
		{"composite maxWords too small", validateComposite, task.Params{"prompt": "x", "maxWords": 5}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.validate(tt.params)
			if tt.wantErr {
				assert.ErrorIs(t, err, apperrors.ErrInvalidParams)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidation_Defaults(t *testing.T) {
	p, err := validateVideo(task.Params{"script": " hi "})
	require.NoError(t, err)
	assert.Equal(t, "hi", p[ParamScript])
	assert.Equal(t, DefaultSpeed, p[ParamSpeed])
	assert.Equal(t, DefaultImageCount, p[ParamImageCount])
	assert.Equal(t, DefaultOutputFormat, p[ParamOutputFormat])
	assert.Equal(t, []string{DefaultTransition}, p[ParamTransitions])
}
