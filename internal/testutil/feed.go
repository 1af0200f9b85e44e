// Package testutil provides utilities for testing
package testutil

import (
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

// RSSItem describes one <item> of a generated RSS document.
type RSSItem struct {
	Title       string
	Link        string
	Description string
	PubDate     string
	ImageURL    string
}

// RSSFeed renders items as an RSS 2.0 document.
func RSSFeed(items ...RSSItem) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString(`<rss version="2.0"><channel><title>Test Feed</title><link>https://fct.ufg.br</link><description>test</description>`)
	for _, it := range items {
		b.WriteString("<item>")
		fmt.Fprintf(&b, "<title>%s</title>", html.EscapeString(it.Title))
		fmt.Fprintf(&b, "<link>%s</link>", html.EscapeString(it.Link))
		if it.Description != "" {
			fmt.Fprintf(&b, "<description><![CDATA[%s]]></description>", it.Description)
		}
		if it.PubDate != "" {
			fmt.Fprintf(&b, "<pubDate>%s</pubDate>", it.PubDate)
		}
		if it.ImageURL != "" {
			fmt.Fprintf(&b, `<enclosure url="%s" type="image/jpeg" length="0"/>`, html.EscapeString(it.ImageURL))
		}
		b.WriteString("</item>")
	}
	b.WriteString("</channel></rss>")
	return b.String()
}

// FeedServer serves a swappable feed body and counts requests.
type FeedServer struct {
	*httptest.Server
	body     atomic.Value
	status   atomic.Int32
	Requests atomic.Int32
}

// NewFeedServer starts a server returning body; it is closed when the test ends.
func NewFeedServer(t *testing.T, body string) *FeedServer {
	t.Helper()

	fs := &FeedServer{}
	fs.body.Store(body)
	fs.status.Store(http.StatusOK)
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.Requests.Add(1)
		status := int(fs.status.Load())
		if status != http.StatusOK {
			http.Error(w, http.StatusText(status), status)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
		fmt.Fprint(w, fs.body.Load().(string))
	}))
	t.Cleanup(fs.Close)
	return fs
}

// SetBody replaces the served document.
func (fs *FeedServer) SetBody(body string) {
	fs.body.Store(body)
}

// Fail makes every following request answer with status.
func (fs *FeedServer) Fail(status int) {
	fs.status.Store(int32(status))
}
