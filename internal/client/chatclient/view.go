package chatclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"neighborhub/internal/app/dto"
)

const DefaultPollInterval = 3 * time.Second

var (
	ErrAlreadyMounted = errors.New("chatclient: view already mounted")
	ErrUnmounted      = errors.New("chatclient: view unmounted")
	ErrUnknownEntry   = errors.New("chatclient: no failed entry with that id")
)

// API is the part of Client a conversation view talks to.
type API interface {
	ListMessages(ctx context.Context, conversationID string) ([]dto.Message, error)
	MarkRead(ctx context.Context, conversationID string) (dto.MarkReadResult, error)
	SendMessage(ctx context.Context, conversationID, text, media, idempotencyKey string) (dto.SendMessageResult, error)
	Upload(ctx context.Context, conversationID, filename string, file io.Reader) (string, error)
}

type ViewState int

const (
	StateIdle ViewState = iota
	StateLoading
	StateDisplaying
	StateUnmounted
)

func (s ViewState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateDisplaying:
		return "displaying"
	case StateUnmounted:
		return "unmounted"
	default:
		return fmt.Sprintf("ViewState(%d)", int(s))
	}
}

type EntryStatus int

const (
	EntrySent EntryStatus = iota
	EntryPending
	EntryFailed
)

// Entry is one line of the rendered conversation. Pending and failed entries
// carry a temp-<n> id until the server acknowledges them.
type Entry struct {
	ID      string
	Message dto.Message
	Status  EntryStatus
	Err     error
}

type pendingEntry struct {
	tempID   string
	key      string
	text     string
	media    string
	filename string
	data     []byte
	failed   bool
	err      error
	at       time.Time
}

// ConversationView keeps one conversation in sync with the server while mounted.
type ConversationView struct {
	api            API
	conversationID string
	self           string
	interval       time.Duration
	logger         *slog.Logger
	onChange       func([]Entry)

	mu       sync.Mutex
	state    ViewState
	messages []dto.Message
	pending  []*pendingEntry
	seq      int
	cancel   context.CancelFunc
	done     chan struct{}
	// gen counts local history changes; a refresh that straddles one is stale.
	gen uint64
	// inPollCallback is set while OnChange runs on the poll goroutine.
	inPollCallback bool
}

type ViewOptions struct {
	// SelfID is the viewer's user id; used as sender of optimistic entries.
	SelfID   string
	Interval time.Duration
	Logger   *slog.Logger
	// OnChange receives every new snapshot. It may call Unmount.
	OnChange func([]Entry)
}

func NewConversationView(api API, conversationID string, opts ViewOptions) *ConversationView {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &ConversationView{
		api:            api,
		conversationID: conversationID,
		self:           opts.SelfID,
		interval:       interval,
		logger:         opts.Logger,
		onChange:       opts.OnChange,
	}
}

func (v *ConversationView) State() ViewState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Mount loads the history, marks it read and starts polling. The poll loop
// ends on Unmount or when ctx is cancelled.
func (v *ConversationView) Mount(ctx context.Context) error {
	v.mu.Lock()
	switch v.state {
	case StateUnmounted:
		v.mu.Unlock()
		return ErrUnmounted
	case StateLoading, StateDisplaying:
		v.mu.Unlock()
		return ErrAlreadyMounted
	}
	v.state = StateLoading
	v.mu.Unlock()

	if err := v.refresh(ctx, false); err != nil {
		v.mu.Lock()
		if v.state == StateLoading {
			v.state = StateIdle
		}
		v.mu.Unlock()
		return err
	}

	v.mu.Lock()
	if v.state != StateLoading {
		v.mu.Unlock()
		return ErrUnmounted
	}
	loopCtx, cancel := context.WithCancel(ctx)
	v.cancel = cancel
	v.done = make(chan struct{})
	v.state = StateDisplaying
	done := v.done
	v.mu.Unlock()

	go v.poll(loopCtx, done)
	v.notify()
	return nil
}

// Unmount stops polling and waits for the loop to exit. It is terminal.
// Called from OnChange on the poll goroutine it returns without waiting.
func (v *ConversationView) Unmount() {
	v.mu.Lock()
	v.state = StateUnmounted
	cancel, done := v.cancel, v.done
	v.cancel, v.done = nil, nil
	reentrant := v.inPollCallback
	v.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil && !reentrant {
		<-done
	}
}

func (v *ConversationView) poll(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			return
		}
		// An in-flight tick completes; Unmount waits for it.
		if err := v.refresh(context.WithoutCancel(ctx), true); err != nil && v.logger != nil {
			v.logger.Warn("chat poll failed", "conversation_id", v.conversationID, "error", err)
		}
	}
}

// refresh replaces the local history with the server's and marks it read.
// A listing fetched before a local send landed is dropped; the send refreshes
// on its own.
func (v *ConversationView) refresh(ctx context.Context, fromPoll bool) error {
	v.mu.Lock()
	gen := v.gen
	v.mu.Unlock()
	msgs, err := v.api.ListMessages(ctx, v.conversationID)
	if err != nil {
		return err
	}
	if _, err := v.api.MarkRead(ctx, v.conversationID); err != nil && v.logger != nil {
		v.logger.Warn("mark read failed", "conversation_id", v.conversationID, "error", err)
	}
	v.mu.Lock()
	if v.state == StateUnmounted || v.gen != gen {
		v.mu.Unlock()
		return nil
	}
	v.messages = msgs
	if fromPoll {
		v.inPollCallback = true
	}
	v.mu.Unlock()
	v.notify()
	if fromPoll {
		v.mu.Lock()
		v.inPollCallback = false
		v.mu.Unlock()
	}
	return nil
}

// Entries returns the server history followed by unacknowledged local entries.
func (v *ConversationView) Entries() []Entry {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.entriesLocked()
}

func (v *ConversationView) entriesLocked() []Entry {
	out := make([]Entry, 0, len(v.messages)+len(v.pending))
	for _, m := range v.messages {
		out = append(out, Entry{ID: m.ID, Message: m, Status: EntrySent})
	}
	for _, p := range v.pending {
		status := EntryPending
		if p.failed {
			status = EntryFailed
		}
		out = append(out, Entry{
			ID:     p.tempID,
			Status: status,
			Err:    p.err,
			Message: dto.Message{
				ID:        p.tempID,
				ChatID:    v.conversationID,
				Sender:    v.self,
				Text:      p.text,
				Media:     p.media,
				CreatedAt: p.at,
			},
		})
	}
	return out
}

// Send posts text optimistically. On failure the entry stays visible as failed.
func (v *ConversationView) Send(ctx context.Context, text string) error {
	entry, err := v.enqueue(&pendingEntry{text: text})
	if err != nil {
		return err
	}
	return v.deliver(ctx, entry)
}

// SendMedia uploads file and posts its URL as a media message. The bytes are
// kept until delivery succeeds so a failed upload can be retried.
func (v *ConversationView) SendMedia(ctx context.Context, filename string, file io.Reader) error {
	data, err := io.ReadAll(file)
	if err != nil {
		return err
	}
	entry, err := v.enqueue(&pendingEntry{filename: filename, data: data})
	if err != nil {
		return err
	}
	return v.deliver(ctx, entry)
}

// Retry re-sends a failed entry with its original idempotency key, so a send
// that reached the server before failing is not stored twice.
func (v *ConversationView) Retry(ctx context.Context, tempID string) error {
	v.mu.Lock()
	if v.state == StateUnmounted {
		v.mu.Unlock()
		return ErrUnmounted
	}
	var entry *pendingEntry
	for _, p := range v.pending {
		if p.tempID == tempID && p.failed {
			entry = p
			break
		}
	}
	if entry == nil {
		v.mu.Unlock()
		return ErrUnknownEntry
	}
	entry.failed, entry.err = false, nil
	v.mu.Unlock()
	v.notify()
	return v.deliver(ctx, entry)
}

func (v *ConversationView) enqueue(p *pendingEntry) (*pendingEntry, error) {
	v.mu.Lock()
	if v.state == StateUnmounted {
		v.mu.Unlock()
		return nil, ErrUnmounted
	}
	v.seq++
	p.tempID = fmt.Sprintf("temp-%d", v.seq)
	p.key = uuid.NewString()
	p.at = time.Now().UTC()
	v.pending = append(v.pending, p)
	v.mu.Unlock()
	v.notify()
	return p, nil
}

func (v *ConversationView) deliver(ctx context.Context, p *pendingEntry) error {
	media := p.media
	if p.data != nil && media == "" {
		url, err := v.api.Upload(ctx, v.conversationID, p.filename, bytes.NewReader(p.data))
		if err != nil {
			return v.fail(p, err)
		}
		v.mu.Lock()
		p.media = url
		v.mu.Unlock()
		media = url
	}
	res, err := v.api.SendMessage(ctx, v.conversationID, p.text, media, p.key)
	if err != nil {
		return v.fail(p, err)
	}

	v.mu.Lock()
	v.removePendingLocked(p)
	if !containsMessage(v.messages, res.Message.ID) {
		v.messages = append(v.messages, res.Message)
	}
	v.gen++
	v.mu.Unlock()
	v.notify()

	if err := v.refresh(ctx, false); err != nil && v.logger != nil {
		v.logger.Warn("refresh after send failed", "conversation_id", v.conversationID, "error", err)
	}
	return nil
}

func (v *ConversationView) fail(p *pendingEntry, err error) error {
	v.mu.Lock()
	p.failed, p.err = true, err
	v.mu.Unlock()
	if v.logger != nil {
		v.logger.Warn("chat send failed", "conversation_id", v.conversationID, "temp_id", p.tempID, "error", err)
	}
	v.notify()
	return err
}

func (v *ConversationView) removePendingLocked(p *pendingEntry) {
	for i, cur := range v.pending {
		if cur == p {
			v.pending = append(v.pending[:i], v.pending[i+1:]...)
			return
		}
	}
}

func (v *ConversationView) notify() {
	if v.onChange == nil {
		return
	}
	v.onChange(v.Entries())
}

func containsMessage(msgs []dto.Message, id string) bool {
	for _, m := range msgs {
		if m.ID == id {
			return true
		}
	}
	return false
}
