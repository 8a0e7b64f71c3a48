// Package manager owns the live-session map and orchestrates one voice
// turn end to end: transcription, the coaching engine, persistence and
// reply synthesis.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kukulabs/kuku-coach/internal/chat"
	"github.com/kukulabs/kuku-coach/internal/coach"
	"github.com/kukulabs/kuku-coach/internal/prompts"
	"github.com/kukulabs/kuku-coach/internal/speech"
	"github.com/kukulabs/kuku-coach/internal/store"
)

// Domain errors. The HTTP layer maps these onto the response envelope.
var (
	ErrSessionNotFound     = store.ErrSessionNotFound
	ErrSessionAlreadyEnded = errors.New("session already ended")
	ErrSessionNotActive    = errors.New("session is not active")
	ErrInvalidAudio        = errors.New("invalid audio format")
	ErrTranscriptionFailed = errors.New("could not transcribe audio")
	ErrInvalidRating       = errors.New("rating must be between 1 and 5")
)

// Config wires a Manager.
type Config struct {
	Store        *store.Store
	CoachModel   chat.Model
	SummaryModel chat.Model
	Templates    func() prompts.Set
	Transcriber  speech.Transcriber
	Speechifier  speech.Speechifier // nil disables reply synthesis
	AudioDir     string             // filesystem dir for synthesised replies
	Voice        string

	MaxTokenLimit int // 0 selects the engine default
}

// Manager holds the live sessions. All cross-session state is guarded
// by mu; per-session work is serialised by the session's own mutex so
// one slow model call never blocks other sessions.
type Manager struct {
	cfg Config

	mu   sync.Mutex
	live map[string]*liveSession
}

type liveSession struct {
	mu      sync.Mutex
	session *coach.Session
}

// New creates a Manager.
func New(cfg Config) *Manager {
	return &Manager{
		cfg:  cfg,
		live: make(map[string]*liveSession),
	}
}

// TurnReply is the outcome of one posted voice message.
type TurnReply struct {
	UserMessage                store.Message
	AIMessage                  store.Message
	AwaitingWrapUpConfirmation bool
	SessionEnded               bool
	FinalSummary               string
}

// EndResult reports an explicit session end.
type EndResult struct {
	SessionID    string
	Summary      string
	Duration     int
	MessageCount int
}

// Diagnostics exposes the engine's internal counters for one session.
type Diagnostics struct {
	SessionID             string `json:"sessionId"`
	Status                string `json:"status"`
	Live                  bool   `json:"live"`
	RoundCount            int    `json:"roundCount"`
	ElapsedSeconds        int    `json:"elapsedSeconds"`
	ExtensionSeconds      int    `json:"extensionSeconds"`
	CooldownRemaining     int    `json:"cooldownRemaining"`
	SummarisationDegraded bool   `json:"summarisationDegraded"`
}

// Create starts a new session: a durable record plus a live engine
// instance.
func (m *Manager) Create(ctx context.Context) (*store.SessionRecord, error) {
	rec, err := m.cfg.Store.CreateSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	ls := &liveSession{session: coach.NewSession(m.sessionConfig(rec.SessionID, rec.CreatedAt))}

	m.mu.Lock()
	m.live[rec.SessionID] = ls
	m.mu.Unlock()

	log.Printf("session %s created", rec.SessionID)
	return rec, nil
}

// GetSession returns the durable record for a session, ended or not.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*store.SessionRecord, error) {
	return m.cfg.Store.GetSession(ctx, sessionID)
}

// History returns the persisted ordered messages of a session with the
// pruning rules applied.
func (m *Manager) History(ctx context.Context, sessionID string) ([]store.Message, error) {
	msgs, err := m.cfg.Store.History(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return store.PruneHistory(msgs), nil
}

// SearchMessages runs a keyword search over all stored message text.
func (m *Manager) SearchMessages(ctx context.Context, query string, limit int) ([]store.Message, error) {
	if limit <= 0 {
		limit = 20
	}
	return m.cfg.Store.SearchMessages(ctx, query, limit)
}

// Rate stores user feedback on the durable record. Accepted at any
// point in the lifecycle, ended sessions included.
func (m *Manager) Rate(ctx context.Context, sessionID string, rating int, feedback string) error {
	if rating < 1 || rating > 5 {
		return ErrInvalidRating
	}
	return m.cfg.Store.UpdateRating(ctx, sessionID, rating, feedback)
}

// PostMessage runs one full voice turn: content-type gate, speech to
// text, the coaching engine, then text to speech for the reply.
func (m *Manager) PostMessage(ctx context.Context, sessionID, contentType, filename string, audio []byte) (*TurnReply, error) {
	if !ValidAudioContentType(contentType) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAudio, contentType)
	}

	ls, err := m.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	if ls.session.State() == coach.StateEnded {
		return nil, ErrSessionAlreadyEnded
	}

	text, err := m.cfg.Transcriber.Transcribe(ctx, audio, filename)
	if err != nil {
		if errors.Is(err, speech.ErrAudioTooSmall) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAudio, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}

	result, err := ls.session.ProcessTurn(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("turn failed for session %s: %w", sessionID, err)
	}

	reply := &TurnReply{}
	if result.UserMsgID != "" {
		if msg, err := m.cfg.Store.GetMessage(ctx, result.UserMsgID); err == nil {
			reply.UserMessage = *msg
		}
	}
	if result.AIMsgID != "" {
		if msg, err := m.cfg.Store.GetMessage(ctx, result.AIMsgID); err == nil {
			reply.AIMessage = *msg
		}
		m.synthesiseReply(ctx, &reply.AIMessage)
	}

	switch result.Outcome {
	case coach.OutcomeAwaiting:
		reply.AwaitingWrapUpConfirmation = true
		if err := m.cfg.Store.SetStatus(ctx, sessionID, store.StatusAwaiting); err != nil {
			log.Printf("failed to persist awaiting status for session %s: %v", sessionID, err)
		}
	case coach.OutcomeEnded:
		reply.SessionEnded = true
		reply.FinalSummary = result.FinalSummary
		m.finishSession(ctx, ls, sessionID, result.FinalSummary)
	default:
		// A decline acknowledgement moves durable status back to active.
		if err := m.cfg.Store.SetStatus(ctx, sessionID, store.StatusActive); err != nil {
			log.Printf("failed to persist active status for session %s: %v", sessionID, err)
		}
	}

	return reply, nil
}

// End closes a session on explicit request and returns the final
// summary.
func (m *Manager) End(ctx context.Context, sessionID string) (*EndResult, error) {
	ls, err := m.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	if ls.session.State() == coach.StateEnded {
		return nil, ErrSessionAlreadyEnded
	}
	// A pending wrap-up confirmation is resolved in the conversation;
	// the explicit endpoint only ends active sessions.
	if ls.session.State() == coach.StateAwaiting {
		return nil, ErrSessionNotActive
	}

	summary, err := ls.session.End(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to end session %s: %w", sessionID, err)
	}

	m.finishSession(ctx, ls, sessionID, summary)

	rec, err := m.cfg.Store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &EndResult{
		SessionID:    sessionID,
		Summary:      summary,
		Duration:     rec.DurationSeconds,
		MessageCount: rec.MessageCount,
	}, nil
}

// Diagnostics reports the engine counters for one session. Ended
// sessions report from the durable record only.
func (m *Manager) Diagnostics(ctx context.Context, sessionID string) (*Diagnostics, error) {
	rec, err := m.cfg.Store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if rec.Status == store.StatusEnded {
		return &Diagnostics{
			SessionID:      sessionID,
			Status:         rec.Status,
			ElapsedSeconds: rec.DurationSeconds,
		}, nil
	}

	ls, err := m.acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	return &Diagnostics{
		SessionID:             sessionID,
		Status:                string(ls.session.State()),
		Live:                  true,
		RoundCount:            ls.session.RoundCount(),
		ElapsedSeconds:        ls.session.ElapsedSeconds(),
		ExtensionSeconds:      ls.session.ExtensionSeconds(),
		CooldownRemaining:     ls.session.CooldownRemaining(),
		SummarisationDegraded: ls.session.SummarisationDegraded(),
	}, nil
}

// ValidAudioContentType accepts audio/* uploads plus browser-recorded
// video/webm containers.
func ValidAudioContentType(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return strings.HasPrefix(ct, "audio/") || ct == "video/webm"
}

// acquire returns the live session, resuming it from durable history
// when the process restarted under the session's feet.
func (m *Manager) acquire(ctx context.Context, sessionID string) (*liveSession, error) {
	m.mu.Lock()
	if ls, ok := m.live[sessionID]; ok {
		m.mu.Unlock()
		return ls, nil
	}
	m.mu.Unlock()

	rec, err := m.cfg.Store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if rec.Status == store.StatusEnded {
		return nil, ErrSessionAlreadyEnded
	}

	history, err := m.cfg.Store.History(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history for resume: %w", err)
	}

	sess := coach.Resume(m.sessionConfig(sessionID, rec.CreatedAt), toChatMessages(history))
	if rec.Status == store.StatusAwaiting {
		sess.RestoreAwaiting()
	}

	ls := &liveSession{session: sess}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.live[sessionID]; ok {
		// Another request resumed it first.
		return existing, nil
	}
	m.live[sessionID] = ls
	log.Printf("session %s resumed from storage (%d messages)", sessionID, len(history))
	return ls, nil
}

// finishSession persists the terminal state and evicts the live
// instance. The session mutex must be held.
func (m *Manager) finishSession(ctx context.Context, ls *liveSession, sessionID, summary string) {
	if err := m.cfg.Store.EndSession(ctx, sessionID, summary, ls.session.ElapsedSeconds()); err != nil {
		log.Printf("failed to persist ended session %s: %v", sessionID, err)
	}

	m.mu.Lock()
	delete(m.live, sessionID)
	m.mu.Unlock()

	log.Printf("session %s ended after %d rounds", sessionID, ls.session.RoundCount())
}

// synthesiseReply renders the AI message to speech and records the
// served URL. Synthesis is best effort; the text reply stands alone.
func (m *Manager) synthesiseReply(ctx context.Context, msg *store.Message) {
	if m.cfg.Speechifier == nil || msg.MessageID == "" || msg.Text == "" {
		return
	}

	name := msg.MessageID + ".mp3"
	outPath := filepath.Join(m.cfg.AudioDir, name)
	if err := m.cfg.Speechifier.Synthesize(ctx, msg.Text, m.cfg.Voice, outPath); err != nil {
		log.Printf("speech synthesis failed for message %s: %v", msg.MessageID, err)
		return
	}

	url := "/audio/" + name
	if err := m.cfg.Store.SetMessageAudio(ctx, msg.MessageID, url); err != nil {
		log.Printf("failed to record audio url for message %s: %v", msg.MessageID, err)
		return
	}
	msg.AudioURL = url
}

func (m *Manager) sessionConfig(sessionID string, start time.Time) coach.Config {
	return coach.Config{
		SessionID:     sessionID,
		CoachModel:    m.cfg.CoachModel,
		SummaryModel:  m.cfg.SummaryModel,
		Templates:     m.cfg.Templates,
		Recorder:      recorderAdapter{m.cfg.Store},
		MaxTokenLimit: m.cfg.MaxTokenLimit,
		Start:         start,
	}
}

// recorderAdapter exposes the store's message append to the engine.
type recorderAdapter struct {
	store *store.Store
}

func (r recorderAdapter) AppendMessage(ctx context.Context, sessionID, sender, text string) (string, error) {
	msg, err := r.store.AppendMessage(ctx, sessionID, sender, text)
	if err != nil {
		return "", err
	}
	return msg.MessageID, nil
}

func toChatMessages(history []store.Message) []chat.Message {
	msgs := make([]chat.Message, 0, len(history))
	for _, m := range history {
		role := chat.RoleUser
		if m.Sender == coach.SenderAI {
			role = chat.RoleAssistant
		}
		msgs = append(msgs, chat.Message{Role: role, Content: m.Text})
	}
	return msgs
}
