package domain

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Platform identifies an external social network.
type Platform string

const (
	PlatformTwitter   Platform = "twitter"
	PlatformInstagram Platform = "instagram"
	PlatformFacebook  Platform = "facebook"
	PlatformLinkedIn  Platform = "linkedin"
)

// KnownPlatforms lists every platform a transformer exists for.
var KnownPlatforms = []Platform{
	PlatformTwitter,
	PlatformInstagram,
	PlatformFacebook,
	PlatformLinkedIn,
}

func (p Platform) Valid() bool {
	for _, known := range KnownPlatforms {
		if p == known {
			return true
		}
	}
	return false
}

// PostStatus is the post-level aggregate status.
type PostStatus string

const (
	PostStatusDraft              PostStatus = "draft"
	PostStatusScheduled          PostStatus = "scheduled"
	PostStatusQueued             PostStatus = "queued"
	PostStatusPublished          PostStatus = "published"
	PostStatusPartiallyPublished PostStatus = "partially_published"
	PostStatusFailed             PostStatus = "failed"
	PostStatusCancelled          PostStatus = "cancelled"
)

// MediaKind distinguishes media handling paths per platform.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
	MediaGIF   MediaKind = "gif"
)

// MediaItem describes one attached media reference. The bytes live behind
// the URL and are fetched through a MediaResolver only when a platform
// needs them uploaded.
type MediaItem struct {
	URL         string    `json:"url" db:"url"`
	MimeType    string    `json:"mime_type" db:"mime_type"`
	AltText     string    `json:"alt_text,omitempty" db:"alt_text"`
	SizeBytes   int64     `json:"size_bytes,omitempty" db:"size_bytes"`
	DurationSec int       `json:"duration_sec,omitempty" db:"duration_sec"`
}

// Kind derives the media kind from the mime type.
func (m MediaItem) Kind() MediaKind {
	switch {
	case strings.HasPrefix(m.MimeType, "video/"):
		return MediaVideo
	case m.MimeType == "image/gif":
		return MediaGIF
	default:
		return MediaImage
	}
}

// UTMParams are appended to outbound links for campaign tracking.
type UTMParams struct {
	Source   string `json:"source,omitempty"`
	Medium   string `json:"medium,omitempty"`
	Campaign string `json:"campaign,omitempty"`
	Content  string `json:"content,omitempty"`
}

// UnifiedPost is the platform-agnostic content contract. It is immutable
// once dispatched: workers only ever read it.
type UnifiedPost struct {
	ID              string
	AccountID       string
	Title           string
	Body            string
	Summary         string
	MediaItems      []MediaItem
	TargetPlatforms []Platform
	Tags            []string
	Mentions        []string
	Links           []string
	ScheduledAt     *time.Time
	UTM             *UTMParams
	Status          PostStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// MediaResolver checks that a media reference is reachable and streams its
// bytes. Implementations are external collaborators.
type MediaResolver interface {
	Resolve(ctx context.Context, ref MediaItem) ([]byte, error)
}

// ValidatePost checks the platform-agnostic contract: non-empty body,
// at least one known target platform, and resolvable media. It has no
// side effects beyond the resolver probes.
func ValidatePost(ctx context.Context, post *UnifiedPost, resolver MediaResolver) error {
	if strings.TrimSpace(post.Body) == "" {
		return E(KindValidation, "post body is empty")
	}
	if len(post.TargetPlatforms) == 0 {
		return E(KindValidation, "no target platforms")
	}
	for _, p := range post.TargetPlatforms {
		if !p.Valid() {
			return E(KindValidation, "unknown platform %q", p)
		}
	}
	for _, item := range post.MediaItems {
		if _, err := resolver.Resolve(ctx, item); err != nil {
			return Wrap(KindMediaUnavailable, err, "media %s unavailable", item.URL)
		}
	}
	return nil
}

// TrackedURL appends UTM parameters to a link. URLs that already carry a
// query string are left untouched, matching the tracking contract used
// upstream.
func (p *UnifiedPost) TrackedURL(rawURL string, platform Platform) string {
	if rawURL == "" || strings.Contains(rawURL, "?") {
		return rawURL
	}
	var params []string
	if p.UTM != nil {
		if p.UTM.Source != "" {
			params = append(params, "utm_source="+p.UTM.Source)
		}
		if p.UTM.Medium != "" {
			params = append(params, "utm_medium="+p.UTM.Medium)
		}
		if p.UTM.Campaign != "" {
			params = append(params, "utm_campaign="+p.UTM.Campaign)
		}
		if p.UTM.Content != "" {
			params = append(params, "utm_content="+p.UTM.Content)
		}
	}
	params = append(params, fmt.Sprintf("utm_platform=%s", platform))
	return rawURL + "?" + strings.Join(params, "&")
}
