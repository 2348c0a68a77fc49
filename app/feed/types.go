package feed

import (
	"time"
)

// Parsed feed types

type Metadata struct {
	Title           string
	Link            string
	Description     string
	ImageURL        string
	Language        string
	FeedPublishedAt *time.Time
}

type Item struct {
	GUID        string
	Title       string
	Link        string
	Description string
	Content     string
	PublishedAt time.Time
	UpdatedAt   *time.Time
	Authors     []string // "email (name)" or "name"
	Categories  []string

	ContentHash string
}

// Seed describes an operator-provided source definition loaded from a
// seed file. Seeds register sources at startup; subscriptions created
// through the API are the other source of sources.
type Seed struct {
	Name            string `yaml:"-"` // derived from filename
	URL             string `yaml:"url"`
	Title           string `yaml:"title"`
	RefreshInterval int    `yaml:"refresh_interval"` // seconds
	ExtractContent  bool   `yaml:"extract_content"`
}
