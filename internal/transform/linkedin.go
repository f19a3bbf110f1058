package transform

import (
	"encoding/json"
	"strings"

	"post_orchestrator/internal/domain"
)

// LinkedIn adapts posts to the UGC share format, a single-call publish.
type LinkedIn struct {
	limits limits
}

func NewLinkedIn() *LinkedIn {
	return &LinkedIn{limits: limits{
		characters: 3000,
		media:      9,
		hashtags:   5,
	}}
}

func (l *LinkedIn) Platform() domain.Platform { return domain.PlatformLinkedIn }

type linkedInText struct {
	Text string `json:"text"`
}

type linkedInMedia struct {
	Status      string       `json:"status"`
	Description linkedInText `json:"description"`
	Title       linkedInText `json:"title"`
}

type linkedInShareContent struct {
	ShareCommentary    linkedInText    `json:"shareCommentary"`
	ShareMediaCategory string          `json:"shareMediaCategory"`
	Media              []linkedInMedia `json:"media,omitempty"`
}

type linkedInBody struct {
	LifecycleState string `json:"lifecycleState"`
	SpecificContent struct {
		ShareContent linkedInShareContent `json:"com.linkedin.ugc.ShareContent"`
	} `json:"specificContent"`
	Visibility struct {
		MemberNetworkVisibility string `json:"com.linkedin.ugc.MemberNetworkVisibility"`
	} `json:"visibility"`
}

func (l *LinkedIn) Adapt(post *domain.UnifiedPost) (*Payload, error) {
	if len(post.MediaItems) > l.limits.media {
		return nil, domain.E(domain.KindUnsupportedContent,
			"linkedin allows at most %d media items, got %d", l.limits.media, len(post.MediaItems))
	}

	text := l.buildText(post)

	var body linkedInBody
	body.LifecycleState = "PUBLISHED"
	body.Visibility.MemberNetworkVisibility = "PUBLIC"
	content := linkedInShareContent{
		ShareCommentary:    linkedInText{Text: text},
		ShareMediaCategory: "NONE",
	}
	if len(post.MediaItems) > 0 {
		if post.MediaItems[0].Kind() == domain.MediaVideo {
			content.ShareMediaCategory = "VIDEO"
		} else {
			content.ShareMediaCategory = "IMAGE"
		}
		title := post.Title
		if title == "" {
			title = "Media"
		}
		description := post.Summary
		if description == "" {
			description = truncate(post.Body, 100)
		}
		for range post.MediaItems {
			content.Media = append(content.Media, linkedInMedia{
				Status:      "READY",
				Description: linkedInText{Text: description},
				Title:       linkedInText{Text: title},
			})
		}
	}
	body.SpecificContent.ShareContent = content

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return &Payload{
		Platform: domain.PlatformLinkedIn,
		Endpoint: "/v2/ugcPosts",
		Method:   "POST",
		Body:     raw,
		Media:    post.MediaItems,
		Text:     text,
	}, nil
}

func (l *LinkedIn) buildText(post *domain.UnifiedPost) string {
	var parts []string
	if post.Title != "" {
		parts = append(parts, post.Title)
	}
	if post.Body != "" {
		parts = append(parts, post.Body)
	}
	if len(post.Links) > 0 {
		linkLines := make([]string, 0, len(post.Links)+1)
		linkLines = append(linkLines, "Read more:")
		for _, link := range post.Links {
			linkLines = append(linkLines, post.TrackedURL(link, domain.PlatformLinkedIn))
		}
		parts = append(parts, strings.Join(linkLines, "\n"))
	}
	if line := hashtagLine(post.Tags, l.limits.hashtags); line != "" {
		parts = append(parts, line)
	}
	return truncate(strings.Join(parts, "\n"), l.limits.characters)
}

func (l *LinkedIn) Validate(payload *Payload) []Violation {
	return l.limits.check(payload)
}
