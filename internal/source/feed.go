package source

import (
	"bytes"
	"context"
	"fmt"

	"github.com/mmcdole/gofeed"
)

// Feed returns the item links of an RSS, Atom or JSON feed in feed order.
func (f *Fetcher) Feed(ctx context.Context, feedURL string) ([]string, error) {
	doc, err := f.Fetch(ctx, feedURL)
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", feedURL, err)
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(doc.Body))
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", feedURL, err)
	}

	var urls []string
	for _, item := range feed.Items {
		switch {
		case item.Link != "":
			urls = append(urls, item.Link)
		case len(item.Links) > 0:
			urls = append(urls, item.Links[0])
		}
	}
	f.logger.Debug("parsed feed", "url", feedURL, "type", feed.FeedType, "items", len(feed.Items))
	return urls, nil
}
