package transform

import (
	"encoding/json"
	"strings"

	"post_orchestrator/internal/domain"
)

// Instagram adapts posts to the Graph API container flow: a media container
// is created first, processed asynchronously, then published.
type Instagram struct {
	limits limits
}

func NewInstagram() *Instagram {
	return &Instagram{limits: limits{
		characters:   2200,
		media:        10,
		hashtags:     30,
		videoSeconds: 60,
	}}
}

func (i *Instagram) Platform() domain.Platform { return domain.PlatformInstagram }

type instagramChild struct {
	MediaType string `json:"media_type,omitempty"`
	ImageURL  string `json:"image_url,omitempty"`
	VideoURL  string `json:"video_url,omitempty"`
}

type instagramBody struct {
	Caption   string           `json:"caption"`
	MediaType string           `json:"media_type,omitempty"`
	ImageURL  string           `json:"image_url,omitempty"`
	VideoURL  string           `json:"video_url,omitempty"`
	Children  []instagramChild `json:"children,omitempty"`
}

func (i *Instagram) Adapt(post *domain.UnifiedPost) (*Payload, error) {
	if len(post.MediaItems) == 0 {
		return nil, domain.E(domain.KindUnsupportedContent, "instagram posts require at least one media item")
	}
	if len(post.MediaItems) > i.limits.media {
		return nil, domain.E(domain.KindUnsupportedContent,
			"instagram carousels allow at most %d items, got %d", i.limits.media, len(post.MediaItems))
	}
	for _, item := range post.MediaItems {
		if item.Kind() == domain.MediaVideo && item.DurationSec > i.limits.videoSeconds {
			return nil, domain.E(domain.KindUnsupportedContent,
				"video %s exceeds instagram feed duration cap (%ds)", item.URL, i.limits.videoSeconds)
		}
	}

	caption := i.buildCaption(post)
	body := instagramBody{Caption: caption}

	if len(post.MediaItems) == 1 {
		item := post.MediaItems[0]
		if item.Kind() == domain.MediaVideo {
			body.MediaType = "VIDEO"
			body.VideoURL = item.URL
		} else {
			body.ImageURL = item.URL
		}
	} else {
		body.MediaType = "CAROUSEL"
		for _, item := range post.MediaItems {
			child := instagramChild{}
			if item.Kind() == domain.MediaVideo {
				child.MediaType = "VIDEO"
				child.VideoURL = item.URL
			} else {
				child.ImageURL = item.URL
			}
			body.Children = append(body.Children, child)
		}
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return &Payload{
		Platform:          domain.PlatformInstagram,
		Endpoint:          "/media",
		Method:            "POST",
		Body:              raw,
		Media:             post.MediaItems,
		RequiresContainer: true,
		Text:              caption,
	}, nil
}

func (i *Instagram) buildCaption(post *domain.UnifiedPost) string {
	var parts []string
	if post.Body != "" {
		parts = append(parts, post.Body)
	}
	if len(post.Links) > 0 {
		// Links are not clickable in captions; listed for copy-paste.
		linkLines := make([]string, 0, len(post.Links)+1)
		linkLines = append(linkLines, "Links:")
		for _, link := range post.Links {
			linkLines = append(linkLines, post.TrackedURL(link, domain.PlatformInstagram))
		}
		parts = append(parts, strings.Join(linkLines, "\n"))
	}
	if line := hashtagLine(post.Tags, i.limits.hashtags); line != "" {
		parts = append(parts, line)
	}
	return truncate(strings.Join(parts, "\n"), i.limits.characters)
}

func (i *Instagram) Validate(payload *Payload) []Violation {
	v := i.limits.check(payload)
	if len(payload.Media) == 0 {
		v = append(v, Violation{Field: "media", Message: "instagram posts require media"})
	}
	return v
}
