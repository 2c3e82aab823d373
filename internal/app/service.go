package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"logbook/api/internal/attachments"
	"logbook/api/internal/config"
	"logbook/api/internal/directory"
	"logbook/api/internal/doctree"
	"logbook/api/internal/export"
	"logbook/api/internal/history"
	"logbook/api/internal/mentions"
	"logbook/api/internal/render"
	"logbook/api/internal/store"
	"logbook/api/internal/typeahead"
	"logbook/api/internal/util"
)

const (
	excerptLength = 160
	notifyTimeout = 30 * time.Second
	historyLimit  = 50
)

type dataStore interface {
	SaveEntry(context.Context, store.LogEntry, []doctree.Mentionable) (store.LogEntry, []doctree.Mentionable, error)
	GetEntry(context.Context, string) (store.LogEntry, error)
	ListEntries(context.Context, string) ([]store.LogEntry, error)
	ListEntryMentions(context.Context, string) ([]doctree.Mentionable, error)
	Backlinks(context.Context, doctree.EntityType, string) ([]store.Backlink, error)
	UpsertUser(context.Context, store.User) (store.User, error)
	GetUser(context.Context, string) (store.User, error)
	Ping(ctx context.Context) error
}

type historyService interface {
	Commit(string, history.Snapshot, string) (history.CommitInfo, bool, error)
	At(string, string) (history.Snapshot, history.CommitInfo, error)
	History(string, int) ([]history.CommitInfo, error)
}

type directoryService interface {
	Candidates(ctx context.Context, session, logID string) ([]doctree.Mentionable, error)
	Search(ctx context.Context, q directory.Query) []directory.Record
	Put(ctx context.Context, rec store.MentionableRecord) error
	Remove(ctx context.Context, entityType doctree.EntityType, id string) error
	ReindexAll(ctx context.Context) (int, error)
}

type attachmentService interface {
	mentions.FileChecker
	Upload(ctx context.Context, up attachments.Upload) (store.Attachment, error)
	List(ctx context.Context, entryID string) ([]store.Attachment, error)
	Open(ctx context.Context, attachmentID string) (store.Attachment, io.ReadCloser, error)
}

type mentionNotifier interface {
	Notify(ctx context.Context, notice mentions.Notice, previous, current []doctree.Mentionable) (int, error)
}

// Deps are the collaborators of the service. Notifier may be nil when mail is not configured.
type Deps struct {
	Store       dataStore
	History     historyService
	Directory   directoryService
	Attachments attachmentService
	Notifier    mentionNotifier
}

type Service struct {
	cfg         config.Config
	store       dataStore
	history     historyService
	directory   directoryService
	attachments attachmentService
	notifier    mentionNotifier
	exporter    *export.Service
	resolver    *typeahead.Resolver
	background  sync.WaitGroup
}

func New(cfg config.Config, deps Deps) *Service {
	s := &Service{
		cfg:         cfg,
		store:       deps.Store,
		history:     deps.History,
		directory:   deps.Directory,
		attachments: deps.Attachments,
		notifier:    deps.Notifier,
		resolver:    typeahead.NewResolver(cfg.Typeahead.ResolverLatency),
	}
	s.exporter = export.NewService(s)
	return s
}

// NewRecipients resolves mentioned users through the user table.
func NewRecipients(users interface {
	GetUser(context.Context, string) (store.User, error)
}) mentions.RecipientLookup {
	return recipientLookup{users: users}
}

type recipientLookup struct {
	users interface {
		GetUser(context.Context, string) (store.User, error)
	}
}

func (r recipientLookup) Recipient(ctx context.Context, userID string) (mentions.Recipient, error) {
	user, err := r.users.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return mentions.Recipient{}, mentions.ErrUnknownRecipient
	}
	if err != nil {
		return mentions.Recipient{}, err
	}
	if strings.TrimSpace(user.Email) == "" {
		return mentions.Recipient{}, mentions.ErrUnknownRecipient
	}
	return mentions.Recipient{UserID: user.ID, Name: user.DisplayName, Email: user.Email}, nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Wait blocks until background work started by saves (notifications) has finished.
func (s *Service) Wait() {
	s.background.Wait()
}

type SaveEntryInput struct {
	ID      string          `json:"id"`
	LogID   string          `json:"logId"`
	Title   string          `json:"title"`
	Author  string          `json:"author"`
	Content json.RawMessage `json:"content"`
}

type Entry struct {
	ID        string                `json:"id"`
	LogID     string                `json:"logId"`
	Title     string                `json:"title"`
	Author    string                `json:"author"`
	Content   json.RawMessage       `json:"content,omitempty"`
	Digest    string                `json:"digest,omitempty"`
	Revision  int                   `json:"revision,omitempty"`
	Version   string                `json:"version,omitempty"`
	Mentions  []doctree.Mentionable `json:"mentions,omitempty"`
	CreatedAt time.Time             `json:"createdAt"`
	UpdatedAt time.Time             `json:"updatedAt"`
}

func entryFromStore(item store.LogEntry) Entry {
	return Entry{
		ID:        item.ID,
		LogID:     item.LogID,
		Title:     item.Title,
		Author:    item.Author,
		Content:   item.ContentJSON,
		Digest:    item.ContentDigest,
		Revision:  item.Revision,
		CreatedAt: item.CreatedAt,
		UpdatedAt: item.UpdatedAt,
	}
}

// SaveEntry validates and stores an entry. An input without an ID creates a new entry in LogID;
// an input with an ID updates that entry, which must exist. Mentions are extracted from the
// content and every File mention owned by the entry must point at a stored attachment.
func (s *Service) SaveEntry(ctx context.Context, input SaveEntryInput) (Entry, error) {
	input.ID = strings.TrimSpace(input.ID)
	input.LogID = strings.TrimSpace(input.LogID)
	input.Title = strings.TrimSpace(input.Title)
	input.Author = strings.TrimSpace(input.Author)

	isNew := input.ID == ""
	if isNew {
		if input.LogID == "" {
			return Entry{}, validationError("logId is required", map[string]string{"logId": "Log is required"})
		}
		input.ID = util.NewID("ent")
	} else {
		existing, err := s.store.GetEntry(ctx, input.ID)
		if err != nil {
			return Entry{}, err
		}
		input.LogID = existing.LogID
	}
	if input.Title == "" {
		return Entry{}, validationError("title is required", map[string]string{"title": "Title is required"})
	}

	content := input.Content
	if len(content) == 0 || string(content) == "null" {
		empty, err := doctree.NewDocument().Serialize()
		if err != nil {
			return Entry{}, err
		}
		content = empty
	}
	doc, err := doctree.Parse(content)
	if err != nil {
		return Entry{}, validationError("content is not a valid document", map[string]string{"content": "Content is not a valid document"})
	}
	refs := mentions.ExtractDocument(doc)

	if err := mentions.ValidateFiles(ctx, s.attachments, input.ID, refs); err != nil {
		return Entry{}, err
	}

	saved, previous, err := s.store.SaveEntry(ctx, store.LogEntry{
		ID:            input.ID,
		LogID:         input.LogID,
		Title:         input.Title,
		Author:        input.Author,
		ContentJSON:   content,
		ContentDigest: history.Digest(content),
	}, refs)
	if err != nil {
		return Entry{}, fmt.Errorf("save entry: %w", err)
	}
	entry := entryFromStore(saved)
	entry.Content = content
	entry.Mentions = refs

	message := "Update entry"
	if isNew {
		message = "Create entry"
	}
	commit, created, err := s.history.Commit(saved.ID, history.Snapshot{Title: saved.Title, Author: saved.Author, Content: content}, message)
	if err != nil {
		log.Error().Err(err).Str("entry_id", saved.ID).Msg("app: history commit failed")
	} else {
		entry.Version = commit.Hash
		if !created {
			log.Debug().Str("entry_id", saved.ID).Msg("app: content unchanged, no history commit")
		}
	}

	if err := s.directory.Put(ctx, store.MentionableRecord{
		ID:    saved.ID,
		Type:  doctree.EntityLogEntry,
		Label: saved.Title,
		LogID: saved.LogID,
	}); err != nil {
		log.Warn().Err(err).Str("entry_id", saved.ID).Msg("app: directory update failed")
	}

	s.notify(ctx, saved, doc, previous, refs)
	return entry, nil
}

func (s *Service) notify(ctx context.Context, saved store.LogEntry, doc *doctree.Document, previous, current []doctree.Mentionable) {
	if s.notifier == nil || len(mentions.ByType(mentions.Added(previous, current), doctree.EntityUser)) == 0 {
		return
	}
	notice := mentions.Notice{
		EntryID: saved.ID,
		Title:   saved.Title,
		Author:  saved.Author,
		Excerpt: excerpt(render.PlainText(render.Render(doc)), excerptLength),
		URL:     strings.TrimRight(s.cfg.API.PublicURL, "/") + "/entries/" + saved.ID,
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		defer cancel()
		sent, err := s.notifier.Notify(ctx, notice, previous, current)
		if err != nil {
			log.Warn().Err(err).Str("entry_id", notice.EntryID).Int("sent", sent).Msg("app: mention notification failed")
			return
		}
		log.Info().Str("entry_id", notice.EntryID).Int("sent", sent).Msg("app: mention notifications sent")
	}()
}

func excerpt(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:limit])) + "…"
}

func (s *Service) GetEntry(ctx context.Context, entryID string) (Entry, error) {
	item, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return Entry{}, err
	}
	entry := entryFromStore(item)
	refs, err := s.store.ListEntryMentions(ctx, entryID)
	if err != nil {
		return Entry{}, err
	}
	entry.Mentions = refs
	return entry, nil
}

func (s *Service) ListEntries(ctx context.Context, logID string) ([]Entry, error) {
	items, err := s.store.ListEntries(ctx, logID)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(items))
	for _, item := range items {
		out = append(out, entryFromStore(item))
	}
	return out, nil
}

const (
	RenderHTML     = "html"
	RenderMarkdown = "markdown"
	RenderText     = "text"
	RenderDisplay  = "display"
)

type Rendered struct {
	Format  string          `json:"format"`
	Content string          `json:"content"`
	Display *render.Display `json:"display,omitempty"`
}

// RenderEntry renders the stored content of an entry. Content that cannot be read renders as
// nothing rather than failing.
func (s *Service) RenderEntry(ctx context.Context, entryID, format string) (Rendered, error) {
	if format == "" {
		format = RenderHTML
	}
	switch format {
	case RenderHTML, RenderMarkdown, RenderText, RenderDisplay:
	default:
		return Rendered{}, validationError("format must be one of html, markdown, text, display", nil)
	}
	item, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return Rendered{}, err
	}
	display := render.RenderJSON(item.ContentJSON)

	out := Rendered{Format: format}
	switch format {
	case RenderHTML:
		out.Content = render.HTML(display)
	case RenderMarkdown:
		md, err := render.Markdown(display)
		if err != nil {
			return Rendered{}, fmt.Errorf("render markdown: %w", err)
		}
		out.Content = md
	case RenderText:
		out.Content = render.PlainText(display)
	case RenderDisplay:
		out.Display = display
	}
	return out, nil
}

func (s *Service) EntryMentions(ctx context.Context, entryID string) ([]doctree.Mentionable, error) {
	if _, err := s.store.GetEntry(ctx, entryID); err != nil {
		return nil, err
	}
	refs, err := s.store.ListEntryMentions(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if refs == nil {
		refs = []doctree.Mentionable{}
	}
	return refs, nil
}

func (s *Service) EntryHistory(ctx context.Context, entryID string) ([]history.CommitInfo, error) {
	if _, err := s.store.GetEntry(ctx, entryID); err != nil {
		return nil, err
	}
	commits, err := s.history.History(entryID, historyLimit)
	if errors.Is(err, history.ErrNoHistory) {
		return []history.CommitInfo{}, nil
	}
	if err != nil {
		return nil, err
	}
	return commits, nil
}

func (s *Service) EntryAtVersion(ctx context.Context, entryID, hash string) (Entry, error) {
	item, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return Entry{}, err
	}
	snap, commit, err := s.history.At(entryID, hash)
	if errors.Is(err, history.ErrNoHistory) {
		return Entry{}, history.ErrUnknownVersion
	}
	if err != nil {
		return Entry{}, err
	}
	refs, err := mentions.Extract(snap.Content)
	if err != nil {
		log.Warn().Err(err).Str("entry_id", entryID).Str("version", commit.Hash).Msg("app: stored version is not a readable document")
	}
	return Entry{
		ID:        item.ID,
		LogID:     item.LogID,
		Title:     snap.Title,
		Author:    snap.Author,
		Content:   snap.Content,
		Digest:    commit.Digest,
		Version:   commit.Hash,
		Mentions:  refs,
		CreatedAt: item.CreatedAt,
		UpdatedAt: commit.CreatedAt,
	}, nil
}

// ExportEntry implements export.EntrySource. An empty version, or "latest", exports the stored
// entry; anything else names a history version.
func (s *Service) ExportEntry(ctx context.Context, entryID, version string) (export.Entry, error) {
	if version == "" || version == "latest" {
		item, err := s.store.GetEntry(ctx, entryID)
		if err != nil {
			return export.Entry{}, err
		}
		return export.Entry{
			ID:        item.ID,
			LogID:     item.LogID,
			Title:     item.Title,
			Author:    item.Author,
			UpdatedAt: item.UpdatedAt,
			Content:   item.ContentJSON,
		}, nil
	}
	entry, err := s.EntryAtVersion(ctx, entryID, version)
	if err != nil {
		return export.Entry{}, err
	}
	return export.Entry{
		ID:        entry.ID,
		LogID:     entry.LogID,
		Title:     entry.Title,
		Author:    entry.Author,
		Version:   entry.Version,
		UpdatedAt: entry.UpdatedAt,
		Content:   entry.Content,
	}, nil
}

func (s *Service) Export(ctx context.Context, entryID, version, format string) (*export.Result, error) {
	f, err := export.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	return s.exporter.Export(ctx, export.Request{EntryID: entryID, Version: version, Format: f})
}

func (s *Service) Backlinks(ctx context.Context, entityType, id string) ([]store.Backlink, error) {
	t, err := doctree.ParseEntityType(entityType)
	if err != nil {
		return nil, err
	}
	links, err := s.store.Backlinks(ctx, t, id)
	if err != nil {
		return nil, err
	}
	if links == nil {
		links = []store.Backlink{}
	}
	return links, nil
}

// UploadAttachment stores a file of an entry and lists it in the directory as a File the entry
// can mention.
func (s *Service) UploadAttachment(ctx context.Context, up attachments.Upload) (store.Attachment, error) {
	entry, err := s.store.GetEntry(ctx, up.EntryID)
	if err != nil {
		return store.Attachment{}, err
	}
	item, err := s.attachments.Upload(ctx, up)
	if err != nil {
		return store.Attachment{}, err
	}
	if err := s.directory.Put(ctx, store.MentionableRecord{
		ID:    item.ID,
		Type:  doctree.EntityFile,
		Label: item.Name,
		LogID: entry.LogID,
	}); err != nil {
		log.Warn().Err(err).Str("attachment_id", item.ID).Msg("app: directory update failed")
	}
	return item, nil
}

func (s *Service) ListAttachments(ctx context.Context, entryID string) ([]store.Attachment, error) {
	if _, err := s.store.GetEntry(ctx, entryID); err != nil {
		return nil, err
	}
	items, err := s.attachments.List(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []store.Attachment{}
	}
	return items, nil
}

func (s *Service) OpenAttachment(ctx context.Context, attachmentID string) (store.Attachment, io.ReadCloser, error) {
	return s.attachments.Open(ctx, attachmentID)
}

type MentionablesQuery struct {
	Session string
	LogID   string
	Type    string
	Query   string
}

type Category struct {
	Type  doctree.EntityType `json:"type"`
	Label string             `json:"label"`
}

type MentionablesResult struct {
	Categories []Category            `json:"categories,omitempty"`
	Results    []doctree.Mentionable `json:"results"`
}

// Mentionables answers the suggestion menu: without a type it lists the categories present in
// the session's candidates, with one it resolves the query against them.
func (s *Service) Mentionables(ctx context.Context, q MentionablesQuery) (MentionablesResult, error) {
	candidates, err := s.directory.Candidates(ctx, q.Session, q.LogID)
	if err != nil {
		return MentionablesResult{}, err
	}
	if q.Type == "" {
		categories := []Category{}
		for _, t := range typeahead.Categories(candidates) {
			categories = append(categories, Category{Type: t, Label: typeahead.CategoryLabel(t)})
		}
		return MentionablesResult{Categories: categories, Results: []doctree.Mentionable{}}, nil
	}
	t, err := doctree.ParseEntityType(q.Type)
	if err != nil {
		return MentionablesResult{}, err
	}
	results, err := s.resolver.Resolve(ctx, candidates, t, q.Query)
	if err != nil {
		return MentionablesResult{}, err
	}
	if results == nil {
		results = []doctree.Mentionable{}
	}
	return MentionablesResult{Results: results}, nil
}

func (s *Service) SearchDirectory(ctx context.Context, q directory.Query) ([]directory.Record, error) {
	if q.Type != "" {
		if _, err := doctree.ParseEntityType(string(q.Type)); err != nil {
			return nil, err
		}
	}
	return s.directory.Search(ctx, q), nil
}

type MentionableInput struct {
	Label string `json:"label"`
	LogID string `json:"logId"`
}

func (s *Service) PutMentionable(ctx context.Context, entityType, id string, input MentionableInput) (doctree.Mentionable, error) {
	t, err := doctree.ParseEntityType(entityType)
	if err != nil {
		return doctree.Mentionable{}, err
	}
	rec := store.MentionableRecord{
		ID:    strings.TrimSpace(id),
		Type:  t,
		Label: strings.TrimSpace(input.Label),
		LogID: strings.TrimSpace(input.LogID),
	}
	if err := s.directory.Put(ctx, rec); err != nil {
		return doctree.Mentionable{}, err
	}
	return rec.Mentionable(), nil
}

func (s *Service) RemoveMentionable(ctx context.Context, entityType, id string) error {
	t, err := doctree.ParseEntityType(entityType)
	if err != nil {
		return err
	}
	return s.directory.Remove(ctx, t, id)
}

type UserInput struct {
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// PutUser records a user and makes them mentionable.
func (s *Service) PutUser(ctx context.Context, userID string, input UserInput) (store.User, error) {
	user := store.User{
		ID:          strings.TrimSpace(userID),
		DisplayName: strings.TrimSpace(input.DisplayName),
		Email:       strings.TrimSpace(input.Email),
	}
	if user.ID == "" || user.DisplayName == "" {
		return store.User{}, validationError("displayName is required", map[string]string{"displayName": "Name is required"})
	}
	saved, err := s.store.UpsertUser(ctx, user)
	if err != nil {
		return store.User{}, err
	}
	if err := s.directory.Put(ctx, store.MentionableRecord{ID: saved.ID, Type: doctree.EntityUser, Label: saved.DisplayName}); err != nil {
		return store.User{}, err
	}
	return saved, nil
}

type TriggerResult struct {
	Mention *typeahead.Match `json:"mention"`
	Slash   *typeahead.Match `json:"slash"`
}

// Trigger reports the triggers found at the end of text, for clients that do not run the
// matcher themselves.
func (s *Service) Trigger(text string) TriggerResult {
	return TriggerResult{
		Mention: typeahead.MatchMention(text),
		Slash:   typeahead.MatchSlash(text),
	}
}

func (s *Service) Reindex(ctx context.Context) (int, error) {
	return s.directory.ReindexAll(ctx)
}

// ReadyChecks reports the state of each backing service. Only the database decides readiness.
func (s *Service) ReadyChecks(ctx context.Context) (bool, map[string]any) {
	checks := map[string]any{"database": map[string]any{"status": "ok"}}
	ready := true
	if err := s.Ping(ctx); err != nil {
		ready = false
		checks["database"] = map[string]any{"status": "error", "error": err.Error()}
	}
	if s.notifier == nil {
		checks["email"] = map[string]any{"status": "disabled"}
	} else {
		checks["email"] = map[string]any{"status": "ok"}
	}
	return ready, checks
}
