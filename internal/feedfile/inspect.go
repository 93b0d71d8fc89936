package feedfile

import (
	"fmt"

	"github.com/mmcdole/gofeed"

	"github.com/stacklok/catalog-feed-server/internal/destination"
)

// Summary describes a published feed file
type Summary struct {
	Market   destination.MarketKey `json:"market"`
	FeedType string                `json:"feed_type"`
	Items    int                   `json:"items"`
	Bytes    int64                 `json:"bytes"`
}

// Inspect parses the destination's published feed and summarizes it
func (w *Writer) Inspect(dest destination.Destination) (Summary, error) {
	info, err := w.fs.Stat(dest.FinalPath)
	if err != nil {
		return Summary{}, fmt.Errorf("cannot stat '%s': %w", dest.FinalPath, err)
	}

	f, err := w.openFinal(dest)
	if err != nil {
		return Summary{}, err
	}
	defer f.Close()

	feed, err := gofeed.NewParser().Parse(f)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to parse feed '%s': %w", dest.FinalPath, err)
	}

	return Summary{
		Market:   dest.Market,
		FeedType: feed.FeedType,
		Items:    len(feed.Items),
		Bytes:    info.Size(),
	}, nil
}

// ItemIDs returns the g:id values of the items in the destination's published feed
func (w *Writer) ItemIDs(dest destination.Destination) ([]string, error) {
	f, err := w.openFinal(dest)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	feed, err := gofeed.NewParser().Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed '%s': %w", dest.FinalPath, err)
	}

	ids := make([]string, 0, len(feed.Items))
	for _, item := range feed.Items {
		if values := item.Extensions["g"]["id"]; len(values) > 0 {
			ids = append(ids, values[0].Value)
		}
	}
	return ids, nil
}
