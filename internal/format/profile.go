package format

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Category is the media category of a container format.
type Category string

const (
	CategoryAudio Category = "audio"
	CategoryVideo Category = "video"
)

// ErrUnsupported is returned when the requested output extension is not a
// known audio or video container.
var ErrUnsupported = errors.New("unsupported output format")

// videoTargets maps a video output container to the codec a converted file
// is expected to carry.
var videoTargets = map[string]string{
	"mp4":  "h264",
	"m4v":  "h264",
	"mov":  "h264",
	"mkv":  "hevc",
	"webm": "vp9",
	"avi":  "mpeg4",
	"wmv":  "wmv2",
	"flv":  "flv1",
	"ts":   "h264",
}

var audioTargets = map[string]string{
	"mp3":  "mp3",
	"m4a":  "aac",
	"aac":  "aac",
	"ogg":  "vorbis",
	"opus": "opus",
	"flac": "flac",
	"wav":  "pcm_s16le",
	"wma":  "wmav2",
}

// Source-only extensions: accepted as input, never offered as a target.
var videoSources = []string{"mpg", "mpeg", "3gp", "m2ts", "mts", "vob", "ogv", "divx", "asf"}
var audioSources = []string{"aiff", "aif", "ape", "wv", "amr", "mka", "ac3", "dts"}

// Profile is derived once per run from the requested output extension.
type Profile struct {
	Ext       string // without leading dot, lower case
	Category  Category
	Codec     string
	inputExts map[string]struct{}
}

// Resolve looks up ext (case-insensitive, leading dot optional) in the known
// container tables.
func Resolve(ext string) (Profile, error) {
	ext = NormalizeExt(ext)
	if ext == "" {
		return Profile{}, fmt.Errorf("%w: empty extension", ErrUnsupported)
	}
	if codec, ok := videoTargets[ext]; ok {
		return Profile{Ext: ext, Category: CategoryVideo, Codec: codec, inputExts: inputSet(videoTargets, videoSources)}, nil
	}
	if codec, ok := audioTargets[ext]; ok {
		return Profile{Ext: ext, Category: CategoryAudio, Codec: codec, inputExts: inputSet(audioTargets, audioSources)}, nil
	}
	return Profile{}, fmt.Errorf("%w: %q", ErrUnsupported, ext)
}

// NormalizeExt lower-cases ext and strips a leading dot.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

func inputSet(targets map[string]string, sources []string) map[string]struct{} {
	set := make(map[string]struct{}, len(targets)+len(sources))
	for ext := range targets {
		set[ext] = struct{}{}
	}
	for _, ext := range sources {
		set[ext] = struct{}{}
	}
	return set
}

// Matches reports whether path has an extension of the profile's category.
func (p Profile) Matches(path string) bool {
	_, ok := p.inputExts[NormalizeExt(filepath.Ext(path))]
	return ok
}

// IsTarget reports whether path already carries the output extension.
func (p Profile) IsTarget(path string) bool {
	return NormalizeExt(filepath.Ext(path)) == p.Ext
}

// TargetPath returns src with its extension replaced by the output extension.
func (p Profile) TargetPath(src string) string {
	return strings.TrimSuffix(src, filepath.Ext(src)) + "." + p.Ext
}

// InputExtensions returns the sorted input extension set.
func (p Profile) InputExtensions() []string {
	out := make([]string, 0, len(p.inputExts))
	for ext := range p.inputExts {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Supported lists every known output extension, sorted.
func Supported() []string {
	out := make([]string, 0, len(videoTargets)+len(audioTargets))
	for ext := range videoTargets {
		out = append(out, ext)
	}
	for ext := range audioTargets {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}
