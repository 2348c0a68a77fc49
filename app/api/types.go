package api

import (
	"time"

	"github.com/rsmw/feedloop/app/database"
	"github.com/rsmw/feedloop/app/events"
	"github.com/rsmw/feedloop/app/pool"
	"github.com/rsmw/feedloop/app/stream"
)

type Handler struct {
	sources database.SourceRepository
	entries database.EntryRepository
	subs    database.SubscriptionRepository
	states  database.EntryStateRepository
	pool    *pool.Pool
	sink    events.Sink
	gateway *stream.Gateway
	auth    stream.Authenticator
}

type mutationRequest struct {
	Type    string `json:"type" binding:"required"`
	EntryID string `json:"entry_id" binding:"required"`
	Desired bool   `json:"desired"`
}

type entryStateResponse struct {
	EntryID   string    `json:"entry_id"`
	Read      bool      `json:"read"`
	Starred   bool      `json:"starred"`
	UpdatedAt time.Time `json:"updated_at"`
}

type subscriptionRequest struct {
	URL             string   `json:"url" binding:"required"`
	Title           string   `json:"title"`
	RefreshInterval int      `json:"refresh_interval"`
	ExtractContent  bool     `json:"extract_content"`
	Tags            []string `json:"tags"`
	CustomTitle     string   `json:"custom_title"`
}

type articleRequest struct {
	URL   string `json:"url"`
	Title string `json:"title" binding:"required"`
	HTML  string `json:"html" binding:"required"`
}

type entryResponse struct {
	ID          string     `json:"id"`
	SourceID    string     `json:"source_id"`
	Link        string     `json:"link"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Content     string     `json:"content,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Read        bool       `json:"read"`
	Starred     bool       `json:"starred"`
}
