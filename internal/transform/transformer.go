package transform

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"post_orchestrator/internal/domain"
)

// Payload is the platform-ready wire form of a post. All fields are plain
// structs with fixed key order so that adapting the same post twice yields
// byte-identical bytes, which the retry path depends on.
type Payload struct {
	Platform          domain.Platform    `json:"platform"`
	Endpoint          string             `json:"endpoint"`
	Method            string             `json:"method"`
	Body              json.RawMessage    `json:"body"`
	Media             []domain.MediaItem `json:"media,omitempty"`
	RequiresUpload    bool               `json:"requires_upload,omitempty"`
	RequiresContainer bool               `json:"requires_container,omitempty"`
	Text              string             `json:"text"`
}

// Encode renders the payload for caching on the job row.
func (p *Payload) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// Decode restores a cached payload.
func Decode(raw []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &p, nil
}

// Violation describes one platform constraint the payload breaks.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Transformer adapts a unified post into one platform's wire format and
// enforces that platform's constraints. Adapt must be deterministic.
type Transformer interface {
	Platform() domain.Platform
	Adapt(post *domain.UnifiedPost) (*Payload, error)
	Validate(payload *Payload) []Violation
}

// limits captures the per-platform content ceilings shared by the
// transformer variants.
type limits struct {
	characters   int
	media        int
	hashtags     int
	videoSeconds int
	videoBytes   int64
	imageBytes   int64
}

func (l limits) check(p *Payload) []Violation {
	var out []Violation
	if n := utf8.RuneCountInString(p.Text); n > l.characters {
		out = append(out, Violation{
			Field:   "text",
			Message: fmt.Sprintf("text exceeds %d character limit (%d characters)", l.characters, n),
		})
	}
	if n := len(p.Media); n > l.media {
		out = append(out, Violation{
			Field:   "media",
			Message: fmt.Sprintf("too many media items (%d), limit is %d", n, l.media),
		})
	}
	return out
}

var hashtagPattern = regexp.MustCompile(`#(\w+)`)

// ExtractHashtags pulls inline #tags out of free text.
func ExtractHashtags(text string) []string {
	matches := hashtagPattern.FindAllStringSubmatch(text, -1)
	tags := make([]string, 0, len(matches))
	for _, m := range matches {
		tags = append(tags, m[1])
	}
	return tags
}

// hashtagLine renders up to limit tags as "#a #b".
func hashtagLine(tags []string, limit int) string {
	if len(tags) == 0 {
		return ""
	}
	if len(tags) > limit {
		tags = tags[:limit]
	}
	parts := make([]string, len(tags))
	for i, t := range tags {
		parts[i] = "#" + t
	}
	return strings.Join(parts, " ")
}

// truncate cuts text to max characters and appends an ellipsis marker,
// mirroring how the platform UIs elide long content. Limits are character
// counts, so the cut lands on a rune boundary.
func truncate(text string, max int) string {
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	return string(runes[:max-3]) + "..."
}

// Registry maps platforms to their transformer variant. New platforms are
// added here as new variants, never by touching shared logic.
type Registry struct {
	byPlatform map[domain.Platform]Transformer
}

func NewRegistry(transformers ...Transformer) *Registry {
	r := &Registry{byPlatform: make(map[domain.Platform]Transformer, len(transformers))}
	for _, t := range transformers {
		r.byPlatform[t.Platform()] = t
	}
	return r
}

// DefaultRegistry wires every supported platform variant.
func DefaultRegistry() *Registry {
	return NewRegistry(
		NewTwitter(),
		NewInstagram(),
		NewFacebook(),
		NewLinkedIn(),
	)
}

// For returns the variant for a platform.
func (r *Registry) For(platform domain.Platform) (Transformer, error) {
	t, ok := r.byPlatform[platform]
	if !ok {
		return nil, domain.E(domain.KindValidation, "no transformer for platform %q", platform)
	}
	return t, nil
}

// Adapt is a convenience wrapper combining lookup and adaptation.
func (r *Registry) Adapt(post *domain.UnifiedPost, platform domain.Platform) (*Payload, error) {
	t, err := r.For(platform)
	if err != nil {
		return nil, err
	}
	return t.Adapt(post)
}
