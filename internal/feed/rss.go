package feed

import (
	"bytes"
	"strings"

	"github.com/mmcdole/gofeed"

	appLog "calnews/internal/log"
	"calnews/internal/model"
)

// ParseRSS decodes an RSS or Atom document. Items are returned as published;
// validation is left to the transform step.
func ParseRSS(sourceID string, data []byte) ([]model.RawEvent, error) {
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	events := make([]model.RawEvent, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		events = append(events, rawEvent(sourceID, item))
	}

	appLog.Info("feed parsed", "id", sourceID, "title", parsed.Title, "items", len(events))
	return events, nil
}

func rawEvent(sourceID string, item *gofeed.Item) model.RawEvent {
	ev := model.RawEvent{
		SourceID:       sourceID,
		Title:          item.Title,
		Link:           item.Link,
		ContentSnippet: item.Description,
		Media:          MediaURL(item),
	}
	if ev.ContentSnippet == "" {
		ev.ContentSnippet = item.Content
	}

	switch {
	case item.Published != "":
		ev.Date, ev.DateParsed = item.Published, item.PublishedParsed
	case item.Updated != "":
		ev.Date, ev.DateParsed = item.Updated, item.UpdatedParsed
	}
	return ev
}

// MediaURL returns the url of the first media:content element. Feeds that
// carry no media:content fall back to an image enclosure, then to the item
// image.
func MediaURL(item *gofeed.Item) string {
	if media, ok := item.Extensions["media"]; ok {
		for _, c := range media["content"] {
			if u := strings.TrimSpace(c.Attrs["url"]); u != "" {
				return u
			}
		}
	}
	for _, enc := range item.Enclosures {
		if enc != nil && enc.URL != "" && strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	if item.Image != nil {
		return item.Image.URL
	}
	return ""
}
