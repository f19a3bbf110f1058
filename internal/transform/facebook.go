package transform

import (
	"encoding/json"
	"strings"

	"post_orchestrator/internal/domain"
)

// Facebook adapts posts for the Pages API. Publishing is a single call;
// the endpoint depends on the attached media.
type Facebook struct {
	limits limits
}

func NewFacebook() *Facebook {
	return &Facebook{limits: limits{
		characters: 63206,
		media:      10,
		hashtags:   30,
	}}
}

func (f *Facebook) Platform() domain.Platform { return domain.PlatformFacebook }

type facebookBody struct {
	Message string `json:"message"`
	Link    string `json:"link,omitempty"`
	URL     string `json:"url,omitempty"`
	Source  string `json:"source,omitempty"`
	Name    string `json:"name,omitempty"`
}

func (f *Facebook) Adapt(post *domain.UnifiedPost) (*Payload, error) {
	if len(post.MediaItems) > f.limits.media {
		return nil, domain.E(domain.KindUnsupportedContent,
			"facebook allows at most %d media items, got %d", f.limits.media, len(post.MediaItems))
	}

	message := f.buildMessage(post)
	body := facebookBody{Message: message}
	endpoint := "/feed"

	switch {
	case len(post.MediaItems) == 1:
		item := post.MediaItems[0]
		if item.Kind() == domain.MediaVideo {
			endpoint = "/videos"
			body.Source = item.URL
		} else {
			endpoint = "/photos"
			body.URL = item.URL
		}
	case len(post.MediaItems) > 1:
		endpoint = "/albums"
		body.Name = post.Title
		if body.Name == "" {
			body.Name = "Social Media Post"
		}
	default:
		if len(post.Links) > 0 {
			body.Link = post.TrackedURL(post.Links[0], domain.PlatformFacebook)
		}
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return &Payload{
		Platform: domain.PlatformFacebook,
		Endpoint: endpoint,
		Method:   "POST",
		Body:     raw,
		Media:    post.MediaItems,
		Text:     message,
	}, nil
}

func (f *Facebook) buildMessage(post *domain.UnifiedPost) string {
	var parts []string
	if post.Title != "" {
		parts = append(parts, post.Title)
	}
	if post.Body != "" {
		parts = append(parts, post.Body)
	}
	if line := hashtagLine(post.Tags, f.limits.hashtags); line != "" {
		parts = append(parts, line)
	}
	return truncate(strings.Join(parts, "\n\n"), f.limits.characters)
}

func (f *Facebook) Validate(payload *Payload) []Violation {
	return f.limits.check(payload)
}
