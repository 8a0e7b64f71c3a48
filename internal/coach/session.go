package coach

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/kukulabs/kuku-coach/internal/chat"
	"github.com/kukulabs/kuku-coach/internal/prompts"
)

// chatTimeout caps one coaching model call.
const chatTimeout = 30 * time.Second

// Sender labels for persisted messages.
const (
	SenderUser = "user"
	SenderAI   = "ai"
)

// fallbackSystem replaces the main system prompt on the retry after a
// failed coaching call. It forbids structural tags so a degraded model
// cannot leak formatting into the spoken reply.
const fallbackSystem = "You are Kuku, a supportive voice coach. Reply to the user in one or two short, plain sentences. Do not use tags, labels, lists, or any structured formatting."

// apologyReply is returned when the coaching model fails twice.
const apologyReply = "I'm sorry, I'm having trouble responding right now. Could you say that again in a moment?"

// Recorder is the session's link to durable message storage. Implemented
// by the message store; mocked in tests.
type Recorder interface {
	AppendMessage(ctx context.Context, sessionID, sender, text string) (messageID string, err error)
}

// TurnOutcome is the tri-state result of processing one turn.
type TurnOutcome int

const (
	// OutcomeReply is a normal coaching reply (also used for the decline
	// acknowledgement).
	OutcomeReply TurnOutcome = iota
	// OutcomeAwaiting means a wrap-up prompt was emitted (or a closing
	// summary failed) and the session awaits the user's confirmation.
	OutcomeAwaiting
	// OutcomeEnded means the session closed with a final summary.
	OutcomeEnded
)

// TurnResult carries the outcome of one processed turn.
type TurnResult struct {
	Outcome      TurnOutcome
	Reply        string // AI text: coaching reply, wrap-up prompt, ack, or summary
	UserMsgID    string
	AIMsgID      string
	FinalSummary string // set only when Outcome == OutcomeEnded
}

// Config wires a Session.
type Config struct {
	SessionID     string
	CoachModel    chat.Model
	SummaryModel  chat.Model
	Templates     func() prompts.Set // live view of the prompt loader
	Recorder      Recorder
	MaxTokenLimit int       // 0 selects DefaultMaxTokenLimit
	Start         time.Time // zero selects time.Now()
}

// Session is the per-session orchestrator: it owns the memory buffer,
// the wrap-up controller and the turn-processing logic. Not safe for
// concurrent use; the manager serialises calls per session.
type Session struct {
	id           string
	coachModel   chat.Model
	summaryModel chat.Model
	templates    func() prompts.Set
	recorder     Recorder

	buffer   *Buffer
	analyser *ProgressionAnalyser
	wrapup   *Controller

	start          time.Time
	closingSummary string // idempotence cache for the closing summary

	turnSeq       int
	wrapCacheTurn int
	wrapCacheKind TriggerKind
}

// NewSession creates a fresh session.
func NewSession(cfg Config) *Session {
	start := cfg.Start
	if start.IsZero() {
		start = time.Now()
	}
	return &Session{
		id:           cfg.SessionID,
		coachModel:   cfg.CoachModel,
		summaryModel: cfg.SummaryModel,
		templates:    cfg.Templates,
		recorder:     cfg.Recorder,
		buffer:       NewBuffer(cfg.MaxTokenLimit),
		analyser:     NewProgressionAnalyser(cfg.SummaryModel),
		wrapup:       NewController(),
		start:        start,
	}
}

// Resume rebuilds a live session from persisted history, applying the
// pruning rules and recounting completed rounds.
func Resume(cfg Config, history []chat.Message) *Session {
	s := NewSession(cfg)
	pruned := PruneMessages(history)
	var evicted []chat.Message
	for _, m := range pruned {
		evicted = append(evicted, s.buffer.Append(m.Role, m.Content)...)
	}
	// Resuming must not call the summary model; fold any overflow back
	// and let the first live turn condense it.
	s.buffer.Restore(evicted)
	for i := 1; i < len(pruned); i++ {
		if pruned[i-1].Role == chat.RoleUser && pruned[i].Role == chat.RoleAssistant {
			s.buffer.IncrementRound()
		}
	}
	return s
}

// RestoreAwaiting puts a resumed session back into the confirmation
// state recorded in durable storage.
func (s *Session) RestoreAwaiting() { s.wrapup.MarkPrompted() }

// ID returns the public session id.
func (s *Session) ID() string { return s.id }

// State returns the wrap-up lifecycle state.
func (s *Session) State() WrapUpState { return s.wrapup.State() }

// ElapsedSeconds returns the session age used by the time trigger.
func (s *Session) ElapsedSeconds() int {
	return int(time.Since(s.start).Seconds())
}

// RoundCount returns the completed exchange count.
func (s *Session) RoundCount() int { return s.buffer.RoundCount() }

// SummarisationDegraded reports whether the buffer fell back to the
// sliding window.
func (s *Session) SummarisationDegraded() bool { return s.buffer.Degraded() }

// CooldownRemaining exposes the wrap-up cooldown for diagnostics.
func (s *Session) CooldownRemaining() int { return s.wrapup.CooldownRemaining() }

// ExtensionSeconds exposes the accumulated time extension.
func (s *Session) ExtensionSeconds() int { return s.wrapup.ExtensionSeconds() }

// ProcessTurn runs one user→AI exchange. The caller must hold the
// session's mutex.
func (s *Session) ProcessTurn(ctx context.Context, userText string) (TurnResult, error) {
	if s.wrapup.State() == StateEnded {
		return TurnResult{}, fmt.Errorf("session %s has ended", s.id)
	}

	s.turnSeq++
	s.buffer.Prune()

	if s.wrapup.State() == StateAwaiting {
		return s.processConfirmation(ctx, userText)
	}

	userMsgID, err := s.appendUser(ctx, userText)
	if err != nil {
		return TurnResult{}, err
	}

	// Wrap-up pre-check. If a trigger fires, the wrap-up prompt replaces
	// the coaching reply and the main model is not called this turn.
	if kind := s.shouldWrapUp(ctx, userText); kind != TriggerNone {
		prompt := PromptFor(kind)
		aiMsgID, err := s.appendAI(ctx, prompt)
		if err != nil {
			return TurnResult{}, err
		}
		s.wrapup.MarkPrompted()
		return TurnResult{
			Outcome:   OutcomeAwaiting,
			Reply:     prompt,
			UserMsgID: userMsgID,
			AIMsgID:   aiMsgID,
		}, nil
	}

	reply := s.generateReply(ctx)

	aiMsgID, err := s.appendAI(ctx, reply)
	if err != nil {
		return TurnResult{}, err
	}

	s.buffer.IncrementRound()
	s.wrapup.TickCooldown()

	return TurnResult{
		Outcome:   OutcomeReply,
		Reply:     reply,
		UserMsgID: userMsgID,
		AIMsgID:   aiMsgID,
	}, nil
}

// processConfirmation handles the user reply to a wrap-up prompt. The
// main coaching model is never invoked on this path.
func (s *Session) processConfirmation(ctx context.Context, userText string) (TurnResult, error) {
	userMsgID, err := s.appendUser(ctx, userText)
	if err != nil {
		return TurnResult{}, err
	}

	if ClassifyConfirmation(userText) == Confirm {
		summary, err := s.GenerateClosingSummary(ctx)
		if err != nil {
			// Stay in AWAITING_CONFIRMATION; the user may retry or decline.
			log.Printf("closing summary failed for session %s: %v", s.id, err)
			aiMsgID, appendErr := s.appendAI(ctx, SummaryFallback)
			if appendErr != nil {
				return TurnResult{}, appendErr
			}
			return TurnResult{
				Outcome:   OutcomeAwaiting,
				Reply:     SummaryFallback,
				UserMsgID: userMsgID,
				AIMsgID:   aiMsgID,
			}, nil
		}

		aiMsgID, err := s.appendAI(ctx, summary)
		if err != nil {
			return TurnResult{}, err
		}
		s.wrapup.MarkEnded()
		return TurnResult{
			Outcome:      OutcomeEnded,
			Reply:        summary,
			UserMsgID:    userMsgID,
			AIMsgID:      aiMsgID,
			FinalSummary: summary,
		}, nil
	}

	s.wrapup.MarkDeclined()
	s.buffer.DecrementRounds(s.wrapup.RoundPenalty())

	aiMsgID, err := s.appendAI(ctx, AckContinue)
	if err != nil {
		return TurnResult{}, err
	}
	return TurnResult{
		Outcome:   OutcomeReply,
		Reply:     AckContinue,
		UserMsgID: userMsgID,
		AIMsgID:   aiMsgID,
	}, nil
}

// shouldWrapUp evaluates the triggers once per turn, fetching the
// progression report only when the content trigger could fire.
func (s *Session) shouldWrapUp(ctx context.Context, userText string) TriggerKind {
	if s.wrapCacheTurn == s.turnSeq {
		return s.wrapCacheKind
	}

	// The exchange now in progress counts toward the round thresholds:
	// the 25th user turn of a session with 24 completed rounds triggers.
	round := s.buffer.RoundCount() + 1

	report := ""
	if s.wrapup.ContentTriggerEligible(round) {
		var err error
		report, err = s.analyser.Analyse(ctx, s.templates().Progression, s.buffer.Summary(), s.buffer.History())
		if err != nil {
			log.Printf("progression analysis failed for session %s: %v", s.id, err)
			report = ""
		}
	}

	kind := s.wrapup.ShouldPrompt(userText, round, s.ElapsedSeconds(), report)
	s.wrapCacheTurn = s.turnSeq
	s.wrapCacheKind = kind
	return kind
}

// generateReply calls the coaching model with the composed prompt,
// retrying once against the bare fallback prompt, and falling back to a
// safe apology so the turn never fails on model errors.
func (s *Session) generateReply(ctx context.Context) string {
	msgs := s.composePrompt(s.templates().System)

	reply, err := s.callCoachModel(ctx, msgs)
	if err == nil {
		return reply
	}
	log.Printf("coaching model failed for session %s: %v (retrying with fallback prompt)", s.id, err)

	reply, err = s.callCoachModel(ctx, s.composePrompt(fallbackSystem))
	if err == nil {
		return reply
	}
	log.Printf("fallback coaching call failed for session %s: %v", s.id, err)

	return apologyReply
}

// composePrompt builds [system, (summary-as-system), *history]. The
// latest user message is already the last entry of the buffer.
func (s *Session) composePrompt(system string) []chat.Message {
	msgs := []chat.Message{{Role: chat.RoleSystem, Content: system}}
	if summary := s.buffer.Summary(); summary != "" {
		if !strings.HasPrefix(summary, SummaryMarker) {
			summary = SummaryMarker + " " + summary
		}
		msgs = append(msgs, chat.Message{Role: chat.RoleSystem, Content: summary})
	}
	return append(msgs, s.buffer.History()...)
}

func (s *Session) callCoachModel(ctx context.Context, msgs []chat.Message) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()

	resp, err := s.coachModel.Chat(callCtx, msgs, chat.Options{MaxOutputTokens: 256, Temperature: 0.7})
	if err != nil {
		return "", err
	}
	reply := strings.TrimSpace(resp.Assistant.Content)
	if reply == "" {
		return "", fmt.Errorf("coaching model returned empty reply")
	}
	return reply, nil
}

// GenerateClosingSummary produces the end-of-session action plan with
// the coaching model. Idempotent: a second call returns the cached text.
func (s *Session) GenerateClosingSummary(ctx context.Context) (string, error) {
	if s.closingSummary != "" {
		return s.closingSummary, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()

	prompt := prompts.Render(s.templates().Closing, map[string]string{
		"summary": s.buffer.Summary(),
	})

	resp, err := s.coachModel.Chat(callCtx, []chat.Message{
		{Role: chat.RoleUser, Content: prompt},
	}, chat.Options{MaxOutputTokens: 512, Temperature: 0.5})
	if err != nil {
		return "", fmt.Errorf("closing summary generation failed: %w", err)
	}

	summary := strings.TrimSpace(resp.Assistant.Content)
	if summary == "" {
		return "", fmt.Errorf("closing summary generation returned empty text")
	}

	s.closingSummary = summary
	return summary, nil
}

// End closes the session on an explicit request. The closing summary
// lands on the session record, not in the message history; only the
// confirmation flow speaks the summary as an AI message.
func (s *Session) End(ctx context.Context) (string, error) {
	if s.wrapup.State() == StateEnded {
		return s.closingSummary, nil
	}

	summary, err := s.GenerateClosingSummary(ctx)
	if err != nil {
		return "", err
	}
	s.wrapup.MarkEnded()
	return summary, nil
}

// appendUser persists the user message, then mirrors it into memory and
// condenses any overflow. Persisting first keeps the exactly-once
// visibility rule: the durable write happens before any model call.
func (s *Session) appendUser(ctx context.Context, text string) (string, error) {
	msgID, err := s.recorder.AppendMessage(ctx, s.id, SenderUser, text)
	if err != nil {
		return "", fmt.Errorf("failed to persist user message: %w", err)
	}

	s.condenseOverflow(ctx, s.buffer.Append(chat.RoleUser, text))
	return msgID, nil
}

// appendAI persists the AI message and mirrors it into memory. On a
// persistence failure the in-memory buffer is left without the
// unacknowledged reply.
func (s *Session) appendAI(ctx context.Context, text string) (string, error) {
	msgID, err := s.recorder.AppendMessage(ctx, s.id, SenderAI, text)
	if err != nil {
		return "", fmt.Errorf("failed to persist ai message: %w", err)
	}

	s.condenseOverflow(ctx, s.buffer.Append(chat.RoleAssistant, text))
	return msgID, nil
}

// condenseOverflow folds an evicted batch into the running summary. A
// summarisation failure flips the buffer to degraded mode; the turn
// itself keeps going.
func (s *Session) condenseOverflow(ctx context.Context, batch []chat.Message) {
	if len(batch) == 0 || s.buffer.Degraded() {
		return
	}

	summary, err := CondenseHistory(ctx, s.summaryModel, s.templates().Summary, s.buffer.Summary(), batch)
	if err != nil {
		log.Printf("history summarisation failed for session %s: %v (switching to sliding window)", s.id, err)
		s.buffer.Restore(batch)
		s.buffer.MarkDegraded()
		return
	}
	s.buffer.SetSummary(summary)
}
