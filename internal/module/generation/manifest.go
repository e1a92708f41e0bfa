package generation

import (
	"bytes"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/disintegration/imaging"

	"github.com/clipforge/server/internal/module/provider"
)

// Manifest is the timeline of an assembled video: narration plus one clip per
// image. Players and downstream renderers consume it as the video artifact.
type Manifest struct {
	VideoID   string    `json:"videoId"`
	Format    string    `json:"format"`
	Speed     float64   `json:"speed"`
	Duration  float64   `json:"duration"`
	Audio     Track     `json:"audio"`
	Clips     []Clip    `json:"clips"`
	CreatedAt time.Time `json:"createdAt"`
}

// Track is the narration track.
type Track struct {
	URL      string  `json:"url"`
	Duration float64 `json:"duration"`
}

// Clip shows one image for a slice of the timeline.
type Clip struct {
	ImageURL   string  `json:"imageUrl"`
	Start      float64 `json:"start"`
	Duration   float64 `json:"duration"`
	Transition string  `json:"transition"`
	Credit     string  `json:"credit,omitempty"`
}

// minClipSeconds keeps very short narrations from producing flicker.
const minClipSeconds = 2.0

// buildManifest spreads images evenly over the narration. Playback speed
// shortens the timeline; transitions are applied round-robin.
func buildManifest(videoID, format string, speed float64, audio Track, images []provider.Image, trans []string, now time.Time) *Manifest {
	if speed <= 0 {
		speed = DefaultSpeed
	}
	if len(trans) == 0 {
		trans = []string{DefaultTransition}
	}

	total := round2(audio.Duration / speed)
	m := &Manifest{
		VideoID:   videoID,
		Format:    format,
		Speed:     speed,
		Duration:  total,
		Audio:     audio,
		Clips:     make([]Clip, 0, len(images)),
		CreatedAt: now,
	}
	if len(images) == 0 {
		return m
	}

	per := total / float64(len(images))
	if per < minClipSeconds {
		per = minClipSeconds
	}
	for i, img := range images {
		start := round2(float64(i) * per)
		if total > 0 && start >= total {
			break
		}
		d := per
		if total > 0 && start+d > total {
			d = total - start
		}
		m.Clips = append(m.Clips, Clip{
			ImageURL:   img.URL,
			Start:      start,
			Duration:   round2(d),
			Transition: trans[i%len(trans)],
			Credit:     img.Author,
		})
	}
	return m
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// renderPoster crops the source image to the poster size and encodes it as JPEG.
func renderPoster(src []byte, width, height int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}
	poster := imaging.Fill(img, width, height, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, poster, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true, "this": true,
	"from": true, "your": true, "you": true, "are": true, "was": true, "were": true,
	"have": true, "has": true, "will": true, "into": true, "about": true, "their": true,
	"they": true, "them": true, "what": true, "when": true, "where": true, "which": true,
	"while": true, "there": true, "here": true, "then": true, "than": true, "just": true,
	"like": true, "more": true, "most": true, "some": true, "very": true, "can": true,
	"our": true, "out": true, "not": true, "but": true, "all": true, "any": true,
}

// keywords picks up to n distinctive words of the script, most frequent
// first, for use as an image search query.
func keywords(script string, n int) string {
	counts := make(map[string]int)
	var order []string
	for _, w := range strings.FieldsFunc(strings.ToLower(script), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		if len(w) < 4 || stopWords[w] {
			continue
		}
		if counts[w] == 0 {
			order = append(order, w)
		}
		counts[w]++
	}

	picked := make([]string, 0, n)
	for len(picked) < n && len(order) > 0 {
		best := 0
		for i, w := range order {
			if counts[w] > counts[order[best]] {
				best = i
			}
		}
		picked = append(picked, order[best])
		order = append(order[:best], order[best+1:]...)
	}
	if len(picked) == 0 {
		fields := strings.Fields(script)
		if len(fields) > n {
			fields = fields[:n]
		}
		return strings.Join(fields, " ")
	}
	return strings.Join(picked, " ")
}
