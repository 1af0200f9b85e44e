package sources

import (
	"github.com/mmcdole/gofeed"
	"github.com/mmcdole/gofeed/atom"
	"github.com/mmcdole/gofeed/rss"
)

// gofeed fills Item.Published from <updated> (Atom) or dc:date (RSS) when the entry has no
// publication date of its own. The panel shows no date in that case, so these translators
// put back the raw published value only.

type rssTranslator struct {
	gofeed.DefaultRSSTranslator
}

func (t *rssTranslator) Translate(feed interface{}) (*gofeed.Feed, error) {
	result, err := t.DefaultRSSTranslator.Translate(feed)
	if err != nil {
		return nil, err
	}
	src := feed.(*rss.Feed)
	for i, item := range result.Items {
		if i >= len(src.Items) || item == nil || src.Items[i] == nil {
			continue
		}
		item.Published = src.Items[i].PubDate
		item.PublishedParsed = src.Items[i].PubDateParsed
	}
	return result, nil
}

type atomTranslator struct {
	gofeed.DefaultAtomTranslator
}

func (t *atomTranslator) Translate(feed interface{}) (*gofeed.Feed, error) {
	result, err := t.DefaultAtomTranslator.Translate(feed)
	if err != nil {
		return nil, err
	}
	src := feed.(*atom.Feed)
	for i, item := range result.Items {
		if i >= len(src.Entries) || item == nil || src.Entries[i] == nil {
			continue
		}
		item.Published = src.Entries[i].Published
		item.PublishedParsed = src.Entries[i].PublishedParsed
	}
	return result, nil
}
