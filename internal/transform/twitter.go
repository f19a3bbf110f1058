package transform

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"post_orchestrator/internal/domain"
)

// Twitter adapts posts to the v2 tweet format. Media goes through the
// chunked upload protocol, so the payload only flags that uploads are
// required; media ids are injected at publish time.
type Twitter struct {
	limits limits
}

func NewTwitter() *Twitter {
	return &Twitter{limits: limits{
		characters:   280,
		media:        4,
		hashtags:     2,
		videoSeconds: 140,
		videoBytes:   512 * 1024 * 1024,
		imageBytes:   5 * 1024 * 1024,
	}}
}

func (t *Twitter) Platform() domain.Platform { return domain.PlatformTwitter }

type tweetBody struct {
	Text          string `json:"text"`
	ReplySettings string `json:"reply_settings"`
}

func (t *Twitter) Adapt(post *domain.UnifiedPost) (*Payload, error) {
	if len(post.MediaItems) > t.limits.media {
		return nil, domain.E(domain.KindUnsupportedContent,
			"twitter allows at most %d media items, got %d", t.limits.media, len(post.MediaItems))
	}
	for _, item := range post.MediaItems {
		switch item.Kind() {
		case domain.MediaVideo:
			if item.SizeBytes > t.limits.videoBytes {
				return nil, domain.E(domain.KindUnsupportedContent,
					"video %s exceeds twitter size cap (%d bytes)", item.URL, t.limits.videoBytes)
			}
			if item.DurationSec > t.limits.videoSeconds {
				return nil, domain.E(domain.KindUnsupportedContent,
					"video %s exceeds twitter duration cap (%ds)", item.URL, t.limits.videoSeconds)
			}
		default:
			if item.SizeBytes > t.limits.imageBytes {
				return nil, domain.E(domain.KindUnsupportedContent,
					"image %s exceeds twitter size cap (%d bytes)", item.URL, t.limits.imageBytes)
			}
		}
	}

	text := t.buildText(post)
	if utf8.RuneCountInString(text) > t.limits.characters {
		// Truncation already happened in buildText; landing here means even
		// the mandatory parts do not fit.
		return nil, domain.E(domain.KindUnsupportedContent,
			"tweet text cannot be reduced below the %d character limit", t.limits.characters)
	}

	body, err := json.Marshal(tweetBody{Text: text, ReplySettings: "everyone"})
	if err != nil {
		return nil, err
	}
	return &Payload{
		Platform:       domain.PlatformTwitter,
		Endpoint:       "/2/tweets",
		Method:         "POST",
		Body:           body,
		Media:          post.MediaItems,
		RequiresUpload: len(post.MediaItems) > 0,
		Text:           text,
	}, nil
}

func (t *Twitter) buildText(post *domain.UnifiedPost) string {
	var parts []string
	body := post.Body
	for _, link := range post.Links {
		body = strings.ReplaceAll(body, link, post.TrackedURL(link, domain.PlatformTwitter))
	}
	parts = append(parts, body)
	if line := hashtagLine(post.Tags, t.limits.hashtags); line != "" {
		parts = append(parts, line)
	}
	return truncate(strings.Join(parts, " "), t.limits.characters)
}

func (t *Twitter) Validate(payload *Payload) []Violation {
	return t.limits.check(payload)
}
