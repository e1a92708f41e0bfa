package generation

import (
	"encoding/json"
	"strings"

	"github.com/clipforge/server/internal/module/task"
	apperrors "github.com/clipforge/server/internal/shared/errors"
)

// Param keys accepted on submission.
const (
	ParamScript       = "script"
	ParamPrompt       = "prompt"
	ParamQuery        = "query"
	ParamVoice        = "voice"
	ParamSpeed        = "speed"
	ParamTransitions  = "transitions"
	ParamOutputFormat = "outputFormat"
	ParamImageCount   = "imageCount"
	ParamOrientation  = "orientation"
	ParamMaxWords     = "maxWords"
	ParamStyle        = "style"
)

// Limits and defaults.
const (
	MaxScriptLength     = 5000
	MaxPromptLength     = 2000
	MinSpeed            = 0.5
	MaxSpeed            = 2.0
	DefaultSpeed        = 1.0
	MinImageCount       = 1
	MaxImageCount       = 20
	DefaultImageCount   = 5
	DefaultMaxWords     = 150
	MaxMaxWords         = 1000
	DefaultOutputFormat = "mp4"
	DefaultTransition   = "fade"
)

var (
	outputFormats = map[string]bool{"mp4": true, "webm": true}
	transitions   = map[string]bool{"fade": true, "slide": true, "zoom": true, "none": true}
	orientations  = map[string]bool{"": true, "landscape": true, "portrait": true, "square": true}
)

func validateSpeech(p task.Params) (task.Params, error) {
	script, err := requiredText(p, ParamScript, MaxScriptLength)
	if err != nil {
		return nil, err
	}
	speed, err := speedParam(p)
	if err != nil {
		return nil, err
	}
	return task.Params{
		ParamScript: script,
		ParamVoice:  optionalString(p, ParamVoice),
		ParamSpeed:  speed,
	}, nil
}

func validateImageSearch(p task.Params) (task.Params, error) {
	query, err := requiredText(p, ParamQuery, 200)
	if err != nil {
		return nil, err
	}
	count, err := imageCountParam(p)
	if err != nil {
		return nil, err
	}
	orientation := optionalString(p, ParamOrientation)
	if !orientations[orientation] {
		return nil, apperrors.InvalidParams("orientation must be one of landscape, portrait, square")
	}
	return task.Params{
		ParamQuery:       query,
		ParamImageCount:  count,
		ParamOrientation: orientation,
	}, nil
}

func validateVideo(p task.Params) (task.Params, error) {
	script, err := requiredText(p, ParamScript, MaxScriptLength)
	if err != nil {
		return nil, err
	}
	out, err := videoOptions(p)
	if err != nil {
		return nil, err
	}
	out[ParamScript] = script
	return out, nil
}

func validateComposite(p task.Params) (task.Params, error) {
	prompt, err := requiredText(p, ParamPrompt, MaxPromptLength)
	if err != nil {
		return nil, err
	}
	out, err := videoOptions(p)
	if err != nil {
		return nil, err
	}
	maxWords, err := intParam(p, ParamMaxWords, DefaultMaxWords)
	if err != nil {
		return nil, err
	}
	if maxWords < 20 || maxWords > MaxMaxWords {
		return nil, apperrors.InvalidParams("maxWords must be between 20 and %d", MaxMaxWords)
	}
	out[ParamPrompt] = prompt
	out[ParamMaxWords] = maxWords
	out[ParamStyle] = optionalString(p, ParamStyle)
	return out, nil
}

// videoOptions validates the options shared by every kind that assembles video.
func videoOptions(p task.Params) (task.Params, error) {
	speed, err := speedParam(p)
	if err != nil {
		return nil, err
	}
	count, err := imageCountParam(p)
	if err != nil {
		return nil, err
	}

	format := strings.ToLower(optionalString(p, ParamOutputFormat))
	if format == "" {
		format = DefaultOutputFormat
	}
	if !outputFormats[format] {
		return nil, apperrors.InvalidParams("outputFormat must be mp4 or webm")
	}

	list, err := stringList(p, ParamTransitions)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		list = []string{DefaultTransition}
	}
	for i, t := range list {
		list[i] = strings.ToLower(t)
		if !transitions[list[i]] {
			return nil, apperrors.InvalidParams("unsupported transition %q", t)
		}
	}

	return task.Params{
		ParamVoice:        optionalString(p, ParamVoice),
		ParamSpeed:        speed,
		ParamImageCount:   count,
		ParamOutputFormat: format,
		ParamTransitions:  list,
	}, nil
}

func requiredText(p task.Params, key string, maxLen int) (string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return "", apperrors.InvalidParams("%s is required", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", apperrors.InvalidParams("%s must be a string", key)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", apperrors.InvalidParams("%s is required", key)
	}
	if len(s) > maxLen {
		return "", apperrors.InvalidParams("%s exceeds %d characters", key, maxLen)
	}
	return s, nil
}

func optionalString(p task.Params, key string) string {
	s, _ := p[key].(string)
	return strings.TrimSpace(s)
}

func speedParam(p task.Params) (float64, error) {
	speed, err := floatParam(p, ParamSpeed, DefaultSpeed)
	if err != nil {
		return 0, err
	}
	if speed < MinSpeed || speed > MaxSpeed {
		return 0, apperrors.InvalidParams("speed must be between %.1f and %.1f", MinSpeed, MaxSpeed)
	}
	return speed, nil
}

func imageCountParam(p task.Params) (int, error) {
	n, err := intParam(p, ParamImageCount, DefaultImageCount)
	if err != nil {
		return 0, err
	}
	if n < MinImageCount || n > MaxImageCount {
		return 0, apperrors.InvalidParams("imageCount must be between %d and %d", MinImageCount, MaxImageCount)
	}
	return n, nil
}

func floatParam(p task.Params, key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, apperrors.InvalidParams("%s must be a number", key)
		}
		return f, nil
	default:
		return 0, apperrors.InvalidParams("%s must be a number", key)
	}
}

func intParam(p task.Params, key string, def int) (int, error) {
	f, err := floatParam(p, key, float64(def))
	if err != nil {
		return 0, err
	}
	if f != float64(int(f)) {
		return 0, apperrors.InvalidParams("%s must be an integer", key)
	}
	return int(f), nil
}

func stringList(p task.Params, key string) ([]string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...), nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, apperrors.InvalidParams("%s must be a list of strings", key)
			}
			out = append(out, s)
		}
		return out, nil
	case string:
		return []string{list}, nil
	default:
		return nil, apperrors.InvalidParams("%s must be a list of strings", key)
	}
}

// The accessors below read params that already passed validation.

func paramString(p task.Params, key string) string {
	s, _ := p[key].(string)
	return s
}

func paramFloat(p task.Params, key string, def float64) float64 {
	f, err := floatParam(p, key, def)
	if err != nil {
		return def
	}
	return f
}

func paramInt(p task.Params, key string, def int) int {
	n, err := intParam(p, key, def)
	if err != nil {
		return def
	}
	return n
}

func paramStrings(p task.Params, key string) []string {
	list, _ := stringList(p, key)
	return list
}
