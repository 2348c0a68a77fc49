package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rsmw/feedloop/app/cfg"
	"github.com/rsmw/feedloop/app/database"
	"github.com/rsmw/feedloop/app/events"
	"github.com/rsmw/feedloop/app/pool"
	"github.com/rsmw/feedloop/app/stream"
)

const (
	defaultEntryLimit = 100
	maxEntryLimit     = 500
)

func NewHandler(sources database.SourceRepository, entries database.EntryRepository,
	subs database.SubscriptionRepository, states database.EntryStateRepository,
	workPool *pool.Pool, sink events.Sink, gateway *stream.Gateway, auth stream.Authenticator) *Handler {
	return &Handler{
		sources: sources,
		entries: entries,
		subs:    subs,
		states:  states,
		pool:    workPool,
		sink:    sink,
		gateway: gateway,
		auth:    auth,
	}
}

func (h *Handler) userID(c *gin.Context) (string, bool) {
	userID, err := h.auth.UserID(c.Request)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return "", false
	}
	return userID, true
}

// PostMutation applies a read/star state change and returns the
// authoritative result. Last writer wins on the entity; the response is
// what the client reconciles its optimistic state against.
func (h *Handler) PostMutation(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var req mutationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid mutation payload"})
		return
	}

	entry, err := h.entries.Get(c.Request.Context(), req.EntryID)
	if err != nil {
		slog.Error("Database error", "operation", "get_entry", "entry", req.EntryID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if entry == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Entry not found"})
		return
	}

	var state *database.EntryState
	switch req.Type {
	case "mark_read":
		state, err = h.states.SetRead(c.Request.Context(), userID, req.EntryID, req.Desired)
	case "star":
		state, err = h.states.SetStarred(c.Request.Context(), userID, req.EntryID, true)
	case "unstar":
		state, err = h.states.SetStarred(c.Request.Context(), userID, req.EntryID, false)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown mutation type"})
		return
	}
	if err != nil {
		slog.Error("Database error", "operation", "apply_mutation", "entry", req.EntryID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	// Fan the change back out so other open connections of the same user
	// observe it.
	h.sink.Publish(c.Request.Context(), events.UserChannel(userID),
		events.New(events.TypeEntryUpdated, entry.ID, map[string]string{"source_id": entry.SourceID}))

	c.JSON(http.StatusOK, entryStateResponse{
		EntryID:   state.EntryID,
		Read:      state.Read,
		Starred:   state.Starred,
		UpdatedAt: state.UpdatedAt,
	})
}

// PostSubscription subscribes the user to a source URL, registering the
// source on first use. Re-subscribing to a soft-deleted subscription
// revives it with its history intact.
func (h *Handler) PostSubscription(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var req subscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid subscription payload"})
		return
	}

	hint := time.Duration(req.RefreshInterval) * time.Second
	source, created, err := h.sources.CreateOrRevive(c.Request.Context(), req.URL, req.Title, hint, req.ExtractContent)
	if err != nil {
		slog.Error("Database error", "operation", "create_source", "url", req.URL, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	subscription, revived, err := h.subs.Create(c.Request.Context(), userID, source.ID, req.Tags, req.CustomTitle)
	if err != nil {
		slog.Error("Database error", "operation", "create_subscription", "source", source.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	// The event reaches the user's live connections, which widen their
	// channel set to cover the new source before its first poll lands.
	h.sink.Publish(c.Request.Context(), events.UserChannel(userID),
		events.New(events.TypeSubscriptionCreated, subscription.ID, map[string]string{"source_id": source.ID}))

	slog.Info("Subscription created", "user", userID, "source", source.URL, "new_source", created, "revived", revived)

	c.JSON(http.StatusCreated, gin.H{
		"subscription_id": subscription.ID,
		"source_id":       source.ID,
		"revived":         revived,
	})
}

func (h *Handler) DeleteSubscription(c *gin.Context) {
	if _, ok := h.userID(c); !ok {
		return
	}

	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing subscription id"})
		return
	}

	if err := h.subs.Unsubscribe(c.Request.Context(), id); err != nil {
		slog.Error("Database error", "operation", "unsubscribe", "subscription", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.Status(http.StatusNoContent)
}

// PostArticle captures a page into the user's saved-article source. The
// HTML runs through the same content-cleaning path as extracted feed
// entries.
func (h *Handler) PostArticle(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var req articleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid article payload"})
		return
	}

	source, err := h.sources.SavedSourceForUser(c.Request.Context(), userID)
	if err != nil {
		slog.Error("Database error", "operation", "saved_source", "user", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	cleaned, err := h.pool.Submit(c.Request.Context(), pool.WorkItem{
		Kind:    pool.KindCleanContent,
		Payload: []byte(req.HTML),
		Options: pool.Options{SourceURL: req.URL},
	})
	if err != nil {
		slog.Warn("Content cleaning failed for saved article", "user", userID, "error", err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Article content could not be processed"})
		return
	}

	guid := req.URL
	if guid == "" {
		guid = uuid.NewString()
	}

	now := time.Now().UTC()
	result, err := h.entries.UpsertBatch(c.Request.Context(), source.ID, []database.EntryInput{{
		GUID:        guid,
		Link:        req.URL,
		Title:       req.Title,
		Content:     cleaned.Content,
		ContentHash: guid,
		PublishedAt: &now,
	}})
	if err != nil {
		slog.Error("Database error", "operation", "save_article", "user", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	saved := append(result.Inserted, result.Updated...)
	if len(saved) == 0 {
		// The same URL was captured before with identical content.
		c.JSON(http.StatusOK, gin.H{"source_id": source.ID, "duplicate": true})
		return
	}

	h.sink.Publish(c.Request.Context(), events.UserChannel(userID),
		events.New(events.TypeSavedArticleCreated, saved[0].ID, map[string]string{"source_id": source.ID}))

	c.JSON(http.StatusCreated, gin.H{
		"entry_id":  saved[0].ID,
		"source_id": source.ID,
	})
}

// GetEntries is the reconciliation pull: a client that missed any number
// of events re-reads authoritative state from here.
func (h *Handler) GetEntries(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	since := time.Time{}
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid since timestamp, expected RFC3339"})
			return
		}
		since = parsed
	}

	limit := defaultEntryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxEntryLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = n
	}

	rows, err := h.entries.ListSince(c.Request.Context(), userID, since, limit)
	if err != nil {
		slog.Error("Database error", "operation", "list_entries", "user", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	entries := make([]entryResponse, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, entryResponse{
			ID:          row.ID,
			SourceID:    row.SourceID,
			Link:        row.Link,
			Title:       row.Title,
			Description: row.Description,
			Content:     row.Content,
			PublishedAt: row.PublishedAt,
			UpdatedAt:   row.UpdatedAt,
			Read:        row.Read,
			Starred:     row.Starred,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"total":   len(entries),
	})
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := gin.H{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   cfg.GetVersion(),
	}
	if h.gateway != nil {
		health["active_streams"] = h.gateway.ActiveConnections()
	}

	c.JSON(http.StatusOK, health)
}
