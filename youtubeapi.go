// this file resolves YouTube references to title/thumbnail/duration through
// the Data API v3, with an offline fallback when no API key is configured
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"time"
)

var youtubeURLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(?:https?://)?(?:www\.)?youtube\.com/watch\?v=([^&]+)`),
	regexp.MustCompile(`(?i)^(?:https?://)?(?:www\.)?youtube\.com/embed/([^?]+)`),
	regexp.MustCompile(`(?i)^(?:https?://)?(?:www\.)?youtu\.be/([^?]+)`),
	regexp.MustCompile(`(?i)^(?:https?://)?(?:www\.)?youtube\.com/shorts/([^?]+)`),
}

var bareVideoID = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// ExtractYoutubeID pulls the video id out of the URL forms the frontend
// accepts, or passes a bare id through.
func ExtractYoutubeID(mediaRef string) (string, error) {
	for _, p := range youtubeURLPatterns {
		if m := p.FindStringSubmatch(mediaRef); m != nil {
			return m[1], nil
		}
	}
	if bareVideoID.MatchString(mediaRef) {
		return mediaRef, nil
	}
	return "", errors.New("not a recognizable youtube reference")
}

var isoDuration = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

// parseISODuration turns the API's PT#H#M#S form into seconds.
func parseISODuration(s string) int64 {
	m := isoDuration.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	part := func(v string) int64 {
		if v == "" {
			return 0
		}
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return part(m[1])*3600 + part(m[2])*60 + part(m[3])
}

type YoutubeResolver struct {
	apiKey string
	client *http.Client
}

func NewYoutubeResolver(apiKey string) *YoutubeResolver {
	return &YoutubeResolver{
		apiKey: apiKey,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (y *YoutubeResolver) Resolve(ctx context.Context, mediaRef string) (*VideoMeta, error) {
	videoID, err := ExtractYoutubeID(mediaRef)
	if err != nil {
		return nil, err
	}
	if y.apiKey == "" {
		// no key configured: same degraded metadata the frontend fakes;
		// ids extracted from URLs can be shorter than the usual 11 chars
		return &VideoMeta{
			VideoID:      videoID,
			Title:        "YouTube Video " + videoID[:min(8, len(videoID))],
			ThumbnailURL: fmt.Sprintf("https://i.ytimg.com/vi/%s/hqdefault.jpg", videoID),
		}, nil
	}
	return y.fetchVideoDetails(ctx, videoID)
}

func (y *YoutubeResolver) fetchVideoDetails(ctx context.Context, videoID string) (*VideoMeta, error) {
	response := struct {
		Items []struct {
			Snippet struct {
				ChannelTitle string `json:"channelTitle"`
				Title        string `json:"title"`
				Thumbnails   struct {
					High struct {
						URL string `json:"url"`
					} `json:"high"`
				} `json:"thumbnails"`
			} `json:"snippet"`
			ContentDetails struct {
				Duration string `json:"duration"`
			} `json:"contentDetails"`
		} `json:"items"`
	}{}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		"https://www.googleapis.com/youtube/v3/videos", nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	q.Add("key", y.apiKey)
	q.Add("part", "snippet,contentDetails")
	q.Add("id", videoID)
	req.URL.RawQuery = q.Encode()

	resp, err := y.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("decode youtube response: %w", err)
	}
	if len(response.Items) == 0 {
		return nil, errors.New("no such youtube video")
	}

	item := response.Items[0]
	return &VideoMeta{
		VideoID:      videoID,
		Title:        item.Snippet.Title,
		Artist:       item.Snippet.ChannelTitle,
		ThumbnailURL: item.Snippet.Thumbnails.High.URL,
		Duration:     parseISODuration(item.ContentDetails.Duration),
	}, nil
}
