package provider

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/clipforge/server/internal/shared/errors"
	"github.com/clipforge/server/internal/shared/metrics"
)

// MockAdapter implements SpeechSynthesizer for testing.
type MockAdapter struct {
	name       string
	capability Capability
	tier       Tier
	configured bool
	healthErr  error
	checks     atomic.Int32
}

func newMock(name string, c Capability, tier Tier) *MockAdapter {
	return &MockAdapter{name: name, capability: c, tier: tier, configured: true}
}

func (m *MockAdapter) Name() string           { return m.name }
func (m *MockAdapter) Capability() Capability { return m.capability }
func (m *MockAdapter) Tier() Tier             { return m.tier }
func (m *MockAdapter) Configured() bool       { return m.configured }

func (m *MockAdapter) HealthCheck(context.Context) error {
	m.checks.Add(1)
	return m.healthErr
}

func (m *MockAdapter) Synthesize(context.Context, SpeechRequest) (*Audio, error) {
	return &Audio{Data: []byte(m.name), ContentType: "audio/mpeg"}, nil
}

// MockMirror is an in-memory HealthMirror.
type MockMirror struct {
	mu     sync.Mutex
	health map[string]bool
	err    error
}

func NewMockMirror() *MockMirror {
	return &MockMirror{health: make(map[string]bool)}
}

func (m *MockMirror) GetHealth(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	healthy, ok := m.health[name]
	if !ok {
		return true, nil
	}
	return healthy, nil
}

func (m *MockMirror) SetHealth(_ context.Context, name string, healthy bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.health[name] = healthy
	return m.err
}

func newTestResolver(t *testing.T, adapters ...Adapter) *Resolver {
	t.Helper()
	r := NewResolver(nil, nil, nil, nil)
	for _, a := range adapters {
		require.NoError(t, r.Register(a))
	}
	return r
}

func TestResolver_Resolve(t *testing.T) {
	t.Run("paid before free", func(t *testing.T) {
		r := newTestResolver(t,
			newMock("streamelements", CapabilitySpeech, TierFree),
			newMock("elevenlabs", CapabilitySpeech, TierPaid),
		)
		a, err := r.Resolve(CapabilitySpeech)
		require.NoError(t, err)
		assert.Equal(t, "elevenlabs", a.Name())
	})

	t.Run("registration order breaks ties", func(t *testing.T) {
		r := newTestResolver(t,
			newMock("pexels", CapabilityImage, TierFree),
			newMock("pixabay", CapabilityImage, TierFree),
		)
		a, err := r.Resolve(CapabilityImage)
		require.NoError(t, err)
		assert.Equal(t, "pexels", a.Name())
	})

	t.Run("skips unconfigured adapters", func(t *testing.T) {
		paid := newMock("openai", CapabilityText, TierPaid)
		paid.configured = false
		r := newTestResolver(t, paid, newMock("ollama", CapabilityText, TierFree))

		a, err := r.Resolve(CapabilityText)
		require.NoError(t, err)
		assert.Equal(t, "ollama", a.Name())
	})

	t.Run("skips unhealthy adapters", func(t *testing.T) {
		r := newTestResolver(t,
			newMock("elevenlabs", CapabilitySpeech, TierPaid),
			newMock("streamelements", CapabilitySpeech, TierFree),
		)
		require.NoError(t, r.SetHealth("elevenlabs", false))

		a, err := r.Resolve(CapabilitySpeech)
		require.NoError(t, err)
		assert.Equal(t, "streamelements", a.Name())
	})

	t.Run("no candidate", func(t *testing.T) {
		r := newTestResolver(t, newMock("elevenlabs", CapabilitySpeech, TierPaid))
		require.NoError(t, r.SetHealth("elevenlabs", false))

		a, err := r.Resolve(CapabilitySpeech)
		assert.Nil(t, a)
		assert.ErrorIs(t, err, apperrors.ErrNoProviderAvailable)

		_, err = r.Resolve(CapabilityImage)
		assert.ErrorIs(t, err, apperrors.ErrNoProviderAvailable)
	})
}

func TestResolver_Register(t *testing.T) {
	r := newTestResolver(t, newMock("pexels", CapabilityImage, TierFree))

	assert.Error(t, r.Register(newMock("pexels", CapabilityImage, TierFree)))
	assert.Error(t, r.Register(newMock("x", Capability("video"), TierFree)))
}

func TestResolveAs(t *testing.T) {
	r := newTestResolver(t, newMock("elevenlabs", CapabilitySpeech, TierPaid))

	s, err := ResolveAs[SpeechSynthesizer](r, CapabilitySpeech)
	require.NoError(t, err)
	assert.Equal(t, "elevenlabs", s.Name())

	_, err = ResolveAs[ImageSearcher](r, CapabilitySpeech)
	assert.ErrorIs(t, err, apperrors.ErrNoProviderAvailable)
}

func TestResolver_Probe(t *testing.T) {
	ctx := context.Background()

	t.Run("marks failing adapters unhealthy and mirrors results", func(t *testing.T) {
		good := newMock("pexels", CapabilityImage, TierFree)
		bad := newMock("pixabay", CapabilityImage, TierFree)
		bad.healthErr = errors.New("401 unauthorized")
		other := newMock("openai", CapabilityText, TierPaid)

		reg := prometheus.NewRegistry()
		met := metrics.NewWithRegisterer("test", reg)
		mirror := NewMockMirror()
		r := NewResolver(mirror, nil, met, nil)
		for _, a := range []Adapter{good, bad, other} {
			require.NoError(t, r.Register(a))
		}

		result := r.Probe(ctx, CapabilityImage)
		require.Len(t, result, 2)
		assert.True(t, result["pexels"].Healthy)
		assert.False(t, result["pixabay"].Healthy)
		assert.Contains(t, result["pixabay"].LastError, "401")
		assert.NotNil(t, result["pixabay"].LastChecked)
		assert.Equal(t, int32(0), other.checks.Load())

		healthy, err := mirror.GetHealth(ctx, "pixabay")
		require.NoError(t, err)
		assert.False(t, healthy)
		assert.Equal(t, 0.0, testutil.ToFloat64(met.ProviderHealth.WithLabelValues("pixabay", "image", "free")))
		assert.Equal(t, 1.0, testutil.ToFloat64(met.ProviderHealth.WithLabelValues("pexels", "image", "free")))
	})

	t.Run("unconfigured adapters are not called", func(t *testing.T) {
		a := newMock("elevenlabs", CapabilitySpeech, TierPaid)
		a.configured = false
		r := newTestResolver(t, a)

		result := r.Probe(ctx, CapabilitySpeech)
		assert.False(t, result["elevenlabs"].Configured)
		assert.False(t, result["elevenlabs"].Healthy)
		assert.Equal(t, int32(0), a.checks.Load())
	})

	t.Run("recovery restores selection", func(t *testing.T) {
		a := newMock("elevenlabs", CapabilitySpeech, TierPaid)
		a.healthErr = errors.New("down")
		r := newTestResolver(t, a)

		r.ProbeAll(ctx)
		_, err := r.Resolve(CapabilitySpeech)
		assert.ErrorIs(t, err, apperrors.ErrNoProviderAvailable)

		a.healthErr = nil
		r.ProbeAll(ctx)
		got, err := r.Resolve(CapabilitySpeech)
		require.NoError(t, err)
		assert.Equal(t, "elevenlabs", got.Name())
	})
}

func TestResolver_Do(t *testing.T) {
	ctx := context.Background()

	t.Run("breaker trip routes to the next adapter", func(t *testing.T) {
		paid := newMock("elevenlabs", CapabilitySpeech, TierPaid)
		free := newMock("streamelements", CapabilitySpeech, TierFree)
		r := NewResolver(nil, nil, nil, &Config{FailureThreshold: 2})
		require.NoError(t, r.Register(paid))
		require.NoError(t, r.Register(free))

		fail := func(context.Context, Adapter) error { return errors.New("502 bad gateway") }
		for i := 0; i < 2; i++ {
			err := r.Do(ctx, CapabilitySpeech, fail)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "elevenlabs")
		}

		d, err := r.Describe("elevenlabs")
		require.NoError(t, err)
		assert.False(t, d.Healthy)
		assert.Equal(t, "open", d.BreakerState)

		var used string
		require.NoError(t, r.Do(ctx, CapabilitySpeech, func(_ context.Context, a Adapter) error {
			used = a.Name()
			return nil
		}))
		assert.Equal(t, "streamelements", used)
	})

	t.Run("cancellations do not trip the breaker", func(t *testing.T) {
		a := newMock("elevenlabs", CapabilitySpeech, TierPaid)
		r := NewResolver(nil, nil, nil, &Config{FailureThreshold: 1})
		require.NoError(t, r.Register(a))

		err := r.Do(ctx, CapabilitySpeech, func(context.Context, Adapter) error { return context.Canceled })
		assert.ErrorIs(t, err, context.Canceled)

		_, err = r.Resolve(CapabilitySpeech)
		assert.NoError(t, err)
	})
}

func TestCall(t *testing.T) {
	r := newTestResolver(t, newMock("openai-tts", CapabilitySpeech, TierPaid))

	audio, err := Call(context.Background(), r, CapabilitySpeech, func(ctx context.Context, s SpeechSynthesizer) (*Audio, error) {
		return s.Synthesize(ctx, SpeechRequest{Text: "hi"})
	})
	require.NoError(t, err)
	assert.Equal(t, "openai-tts", string(audio.Data))
}

func TestResolver_Restore(t *testing.T) {
	mirror := NewMockMirror()
	mirror.health["elevenlabs"] = false

	r := NewResolver(mirror, nil, nil, nil)
	require.NoError(t, r.Register(newMock("elevenlabs", CapabilitySpeech, TierPaid)))
	require.NoError(t, r.Register(newMock("streamelements", CapabilitySpeech, TierFree)))

	r.Restore(context.Background())

	a, err := r.Resolve(CapabilitySpeech)
	require.NoError(t, err)
	assert.Equal(t, "streamelements", a.Name())
}

func TestResolver_Descriptors(t *testing.T) {
	r := newTestResolver(t,
		newMock("ollama", CapabilityText, TierFree),
		newMock("openai", CapabilityText, TierPaid),
		newMock("pexels", CapabilityImage, TierFree),
	)

	all := r.Descriptors()
	require.Len(t, all[CapabilityText], 2)
	assert.Equal(t, "openai", all[CapabilityText][0].Name)
	assert.Equal(t, "ollama", all[CapabilityText][1].Name)
	assert.Equal(t, "closed", all[CapabilityText][0].BreakerState)
	assert.Len(t, all[CapabilityImage], 1)

	_, err := r.Describe("nope")
	assert.True(t, apperrors.IsNotFound(err))
	assert.True(t, apperrors.IsNotFound(r.SetHealth("nope", true)))
}

func TestResolver_ConcurrentReads(t *testing.T) {
	r := newTestResolver(t,
		newMock("elevenlabs", CapabilitySpeech, TierPaid),
		newMock("streamelements", CapabilitySpeech, TierFree),
	)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				a, err := r.Resolve(CapabilitySpeech)
				if err == nil {
					d, _ := r.Describe(a.Name())
					_ = d
				}
			}
		}()
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = r.SetHealth("elevenlabs", (i+j)%2 == 0)
			}
		}(i)
	}
	wg.Wait()

	_, err := r.Resolve(CapabilitySpeech)
	assert.NoError(t, err, "streamelements is never marked unhealthy")
}
