package article

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/TobiSchelling/postforge/internal/apperr"
)

const (
	maxKeywords    = 6
	maxKeywordLen  = 80
	maxGuidanceLen = 500
	maxTopicLen    = 300
)

var (
	videoIDPattern    = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	rubricCodePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

// Request is a generation request: either a topic or a video reference.
// It is stored verbatim as a queue job payload.
type Request struct {
	Topic        string   `json:"topic,omitempty"`
	VideoURL     string   `json:"video_url,omitempty"`
	RubricCode   string   `json:"rubric_code,omitempty"`
	Keywords     []string `json:"keywords,omitempty"`
	Guidance     string   `json:"guidance,omitempty"`
	ReferenceURL string   `json:"reference_url,omitempty"`
}

// IsVideo reports whether the request references a video.
func (r Request) IsVideo() bool {
	return strings.TrimSpace(r.VideoURL) != ""
}

// VideoID extracts the video id from VideoURL.
func (r Request) VideoID() (string, error) {
	return ParseVideoID(r.VideoURL)
}

// Label is a short human description used in logs and listings.
func (r Request) Label() string {
	if r.IsVideo() {
		return r.VideoURL
	}
	return r.Topic
}

// Clean trims and validates the request in place.
func (r *Request) Clean() error {
	r.Topic = collapseSpaces(r.Topic)
	r.VideoURL = strings.TrimSpace(r.VideoURL)
	r.RubricCode = strings.TrimSpace(r.RubricCode)
	r.Guidance = strings.TrimSpace(r.Guidance)
	r.ReferenceURL = strings.TrimSpace(r.ReferenceURL)

	switch {
	case r.Topic == "" && r.VideoURL == "":
		return apperr.Wrap(apperr.ErrValidation, "request needs a topic or a video url")
	case r.Topic != "" && r.VideoURL != "":
		return apperr.Wrap(apperr.ErrValidation, "request must not carry both a topic and a video url")
	}
	if len([]rune(r.Topic)) > maxTopicLen {
		return apperr.Wrap(apperr.ErrValidation, "topic longer than %d characters", maxTopicLen)
	}
	if r.VideoURL != "" {
		if _, err := ParseVideoID(r.VideoURL); err != nil {
			return err
		}
	}
	if r.RubricCode != "" && !rubricCodePattern.MatchString(r.RubricCode) {
		return apperr.Wrap(apperr.ErrValidation, "invalid rubric code %q", r.RubricCode)
	}
	if len([]rune(r.Guidance)) > maxGuidanceLen {
		return apperr.Wrap(apperr.ErrValidation, "guidance longer than %d characters", maxGuidanceLen)
	}
	if r.ReferenceURL != "" && !IsWebURL(r.ReferenceURL) {
		return apperr.Wrap(apperr.ErrValidation, "reference url %q is not http(s)", r.ReferenceURL)
	}

	keywords := make([]string, 0, len(r.Keywords))
	seen := make(map[string]struct{}, len(r.Keywords))
	for _, k := range r.Keywords {
		k = collapseSpaces(k)
		if k == "" {
			continue
		}
		if len([]rune(k)) > maxKeywordLen {
			return apperr.Wrap(apperr.ErrValidation, "keyword longer than %d characters", maxKeywordLen)
		}
		key := strings.ToLower(k)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keywords = append(keywords, k)
	}
	if len(keywords) > maxKeywords {
		return apperr.Wrap(apperr.ErrValidation, "at most %d keywords allowed", maxKeywords)
	}
	r.Keywords = keywords
	return nil
}

// SourceKeyForVideo builds the dedup key for a video id.
func SourceKeyForVideo(id string) string {
	return "video:" + id
}

// ParseVideoID accepts YouTube watch, short, embed, shorts and live URLs as well
// as a bare 11-character id.
func ParseVideoID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if videoIDPattern.MatchString(raw) {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", apperr.Wrap(apperr.ErrValidation, "unrecognized video reference %q", raw)
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	var id string
	switch host {
	case "youtu.be":
		id = strings.Trim(u.Path, "/")
	case "youtube.com", "music.youtube.com", "youtube-nocookie.com":
		if v := u.Query().Get("v"); v != "" {
			id = v
			break
		}
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) == 2 {
			switch parts[0] {
			case "shorts", "embed", "live", "v":
				id = parts[1]
			}
		}
	}
	if !videoIDPattern.MatchString(id) {
		return "", apperr.Wrap(apperr.ErrValidation, "unrecognized video reference %q", raw)
	}
	return id, nil
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
