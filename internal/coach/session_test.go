package coach

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/kukulabs/kuku-coach/internal/chat"
	"github.com/kukulabs/kuku-coach/internal/prompts"
)

type recorded struct {
	Sender string
	Text   string
}

type memRecorder struct {
	msgs    []recorded
	seq     int
	failon  int // 1-based call number that fails; 0 disables
	callNum int
}

func (r *memRecorder) AppendMessage(ctx context.Context, sessionID, sender, text string) (string, error) {
	r.callNum++
	if r.failon != 0 && r.callNum == r.failon {
		return "", errors.New("disk full")
	}
	r.seq++
	r.msgs = append(r.msgs, recorded{Sender: sender, Text: text})
	return fmt.Sprintf("m%d", r.seq), nil
}

// scriptModel answers via fn so tests can switch behaviour mid-session.
type scriptModel struct {
	fn    func(msgs []chat.Message) (string, error)
	calls int
}

func (m *scriptModel) Chat(ctx context.Context, msgs []chat.Message, opts chat.Options) (chat.Response, error) {
	m.calls++
	text, err := m.fn(msgs)
	if err != nil {
		return chat.Response{}, err
	}
	return chat.Response{Assistant: chat.Message{Role: chat.RoleAssistant, Content: text}}, nil
}

func fixedModel(reply string) *scriptModel {
	return &scriptModel{fn: func([]chat.Message) (string, error) { return reply, nil }}
}

func newTestSession(coachModel, summaryModel chat.Model, rec Recorder) *Session {
	return NewSession(Config{
		SessionID:    "s-test",
		CoachModel:   coachModel,
		SummaryModel: summaryModel,
		Templates:    prompts.Defaults,
		Recorder:     rec,
	})
}

func TestProcessTurnNormalReply(t *testing.T) {
	coachModel := fixedModel("What would you like to focus on?")
	rec := &memRecorder{}
	s := newTestSession(coachModel, fixedModel("sum"), rec)

	res, err := s.ProcessTurn(context.Background(), "I want to talk about work")
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if res.Outcome != OutcomeReply {
		t.Errorf("expected OutcomeReply, got %v", res.Outcome)
	}
	if res.Reply != "What would you like to focus on?" {
		t.Errorf("unexpected reply %q", res.Reply)
	}
	if len(rec.msgs) != 2 || rec.msgs[0].Sender != SenderUser || rec.msgs[1].Sender != SenderAI {
		t.Errorf("unexpected persisted messages %v", rec.msgs)
	}
	if s.RoundCount() != 1 {
		t.Errorf("expected 1 round, got %d", s.RoundCount())
	}
	if s.State() != StateActive {
		t.Errorf("expected active state, got %q", s.State())
	}
}

func TestComposePromptCarriesSystemAndSummary(t *testing.T) {
	var captured []chat.Message
	coachModel := &scriptModel{fn: func(msgs []chat.Message) (string, error) {
		captured = msgs
		return "ok", nil
	}}
	s := newTestSession(coachModel, fixedModel("sum"), &memRecorder{})
	s.buffer.SetSummary("Summary of earlier dialog: the user explores a career change.")

	if _, err := s.ProcessTurn(context.Background(), "where were we?"); err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}

	if captured[0].Role != chat.RoleSystem || !strings.Contains(captured[0].Content, "Kuku") {
		t.Errorf("first message must be the system persona, got %+v", captured[0])
	}
	if captured[1].Role != chat.RoleSystem || !strings.HasPrefix(captured[1].Content, SummaryMarker) {
		t.Errorf("second message must carry the running summary, got %+v", captured[1])
	}
	last := captured[len(captured)-1]
	if last.Role != chat.RoleUser || last.Content != "where were we?" {
		t.Errorf("latest user message must close the prompt, got %+v", last)
	}
}

func TestUserTriggeredWrapUpSkipsModel(t *testing.T) {
	coachModel := fixedModel("should not be called")
	rec := &memRecorder{}
	s := newTestSession(coachModel, fixedModel("sum"), rec)

	res, err := s.ProcessTurn(context.Background(), "okay, let's wrap up")
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if res.Outcome != OutcomeAwaiting {
		t.Fatalf("expected OutcomeAwaiting, got %v", res.Outcome)
	}
	if coachModel.calls != 0 {
		t.Errorf("wrap-up prompt turn must not call the coaching model, got %d calls", coachModel.calls)
	}
	if !strings.Contains(res.Reply, "wrap up and summarize") {
		t.Errorf("prompt must teach the confirm command, got %q", res.Reply)
	}
	if s.State() != StateAwaiting {
		t.Errorf("expected awaiting state, got %q", s.State())
	}
	if rec.msgs[1].Text != res.Reply {
		t.Error("wrap-up prompt must be persisted as the AI message")
	}
}

func TestConfirmEndsWithSummary(t *testing.T) {
	coachModel := fixedModel("1. Talk to your manager.\n2. Draft the plan. You've got this!")
	rec := &memRecorder{}
	s := newTestSession(coachModel, fixedModel("sum"), rec)

	if _, err := s.ProcessTurn(context.Background(), "let's wrap up"); err != nil {
		t.Fatalf("trigger turn: %v", err)
	}
	res, err := s.ProcessTurn(context.Background(), "wrap up and summarize")
	if err != nil {
		t.Fatalf("confirm turn: %v", err)
	}

	if res.Outcome != OutcomeEnded {
		t.Fatalf("expected OutcomeEnded, got %v", res.Outcome)
	}
	if res.FinalSummary == "" || res.FinalSummary != res.Reply {
		t.Errorf("final summary must be the reply, got %q / %q", res.FinalSummary, res.Reply)
	}
	if s.State() != StateEnded {
		t.Errorf("expected ended state, got %q", s.State())
	}
	if rec.msgs[len(rec.msgs)-1].Text != res.FinalSummary {
		t.Error("closing summary must be persisted")
	}

	if _, err := s.ProcessTurn(context.Background(), "one more thing"); err == nil {
		t.Error("turns after end must fail")
	}
}

func TestCountTriggerOnTwentyFifthTurn(t *testing.T) {
	coachModel := fixedModel("should not be called")
	var seeded []chat.Message
	for i := 0; i < countTriggerRounds-1; i++ {
		seeded = append(seeded,
			chat.Message{Role: chat.RoleUser, Content: fmt.Sprintf("thought number %d", i)},
			chat.Message{Role: chat.RoleAssistant, Content: "Tell me more."},
		)
	}
	s := Resume(Config{
		SessionID:    "s-count",
		CoachModel:   coachModel,
		SummaryModel: fixedModel("sum"),
		Templates:    prompts.Defaults,
		Recorder:     &memRecorder{},
	}, seeded)
	if got := s.RoundCount(); got != countTriggerRounds-1 {
		t.Fatalf("expected %d seeded rounds, got %d", countTriggerRounds-1, got)
	}

	res, err := s.ProcessTurn(context.Background(), "another thought")
	if err != nil {
		t.Fatalf("trigger turn: %v", err)
	}
	if res.Outcome != OutcomeAwaiting {
		t.Fatalf("expected count trigger on turn %d, got %v", countTriggerRounds, res.Outcome)
	}
	if !strings.Contains(res.Reply, "covered a lot today") {
		t.Errorf("count trigger must use the covered variant, got %q", res.Reply)
	}
	if coachModel.calls != 0 {
		t.Errorf("trigger turn must not call the coaching model, got %d calls", coachModel.calls)
	}

	res, err = s.ProcessTurn(context.Background(), "yes, wrap up and summarize")
	if err != nil {
		t.Fatalf("confirm turn: %v", err)
	}
	if res.Outcome != OutcomeEnded || res.FinalSummary == "" {
		t.Errorf("expected session end with summary, got %v %q", res.Outcome, res.FinalSummary)
	}
}

func TestDeclineAppliesCooldownAndPenalty(t *testing.T) {
	coachModel := fixedModel("And how does that feel?")
	s := newTestSession(coachModel, fixedModel("sum"), &memRecorder{})

	// One short of the count trigger; the next turn fires it.
	for i := 0; i < countTriggerRounds-1; i++ {
		if _, err := s.ProcessTurn(context.Background(), fmt.Sprintf("thought number %d", i)); err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
	}
	res, err := s.ProcessTurn(context.Background(), "another thought")
	if err != nil {
		t.Fatalf("trigger turn: %v", err)
	}
	if res.Outcome != OutcomeAwaiting {
		t.Fatalf("expected count trigger on turn %d, got %v", countTriggerRounds, res.Outcome)
	}
	if !strings.Contains(res.Reply, "covered a lot today") {
		t.Errorf("count trigger must use the covered variant, got %q", res.Reply)
	}

	res, err = s.ProcessTurn(context.Background(), "no, I'd like to keep going")
	if err != nil {
		t.Fatalf("decline turn: %v", err)
	}
	if res.Outcome != OutcomeReply || res.Reply != AckContinue {
		t.Errorf("expected continue acknowledgement, got %v %q", res.Outcome, res.Reply)
	}
	if s.State() != StateActive {
		t.Errorf("expected active state, got %q", s.State())
	}
	if got := s.RoundCount(); got != countTriggerRounds-1-declineRoundPenalty {
		t.Errorf("expected round penalty applied, got %d rounds", got)
	}
	if s.CooldownRemaining() != cooldownTurns {
		t.Errorf("expected cooldown armed, got %d", s.CooldownRemaining())
	}
	if s.ExtensionSeconds() != extensionSeconds {
		t.Errorf("expected extension granted, got %d", s.ExtensionSeconds())
	}

	// Five regular turns consume the cooldown and rebuild the rounds;
	// the next turn re-triggers.
	for i := 0; i < cooldownTurns; i++ {
		res, err := s.ProcessTurn(context.Background(), fmt.Sprintf("more detail %d", i))
		if err != nil {
			t.Fatalf("cooldown turn %d: %v", i, err)
		}
		if res.Outcome != OutcomeReply {
			t.Fatalf("cooldown turn %d: expected plain reply, got %v", i, res.Outcome)
		}
	}
	res, err = s.ProcessTurn(context.Background(), "still more")
	if err != nil {
		t.Fatalf("re-trigger turn: %v", err)
	}
	if res.Outcome != OutcomeAwaiting {
		t.Errorf("expected count trigger after cooldown, got %v", res.Outcome)
	}
}

func TestTimeTriggerUsesSessionStart(t *testing.T) {
	coachModel := fixedModel("What feels most alive for you right now?")
	s := NewSession(Config{
		SessionID:    "s-old",
		CoachModel:   coachModel,
		SummaryModel: fixedModel("sum"),
		Templates:    prompts.Defaults,
		Recorder:     &memRecorder{},
		Start:        time.Now().Add(-31 * time.Minute),
	})

	res, err := s.ProcessTurn(context.Background(), "I have been thinking")
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if res.Outcome != OutcomeAwaiting {
		t.Fatalf("expected time trigger, got %v", res.Outcome)
	}
	if !strings.Contains(res.Reply, "covered a lot today") {
		t.Errorf("time trigger must use the covered variant, got %q", res.Reply)
	}
}

func TestContentTriggerConsultsProgression(t *testing.T) {
	coachModel := fixedModel("What might the first step be?")
	summaryModel := fixedModel("The framework is complete and the session can be concluded.")
	s := newTestSession(coachModel, summaryModel, &memRecorder{})

	for i := 0; i < contentTriggerMinRounds-1; i++ {
		if _, err := s.ProcessTurn(context.Background(), fmt.Sprintf("working through it %d", i)); err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
	}
	if summaryModel.calls != 0 {
		t.Errorf("progression analysis must not run before turn %d, got %d calls", contentTriggerMinRounds, summaryModel.calls)
	}

	coachCallsBefore := coachModel.calls
	res, err := s.ProcessTurn(context.Background(), "I think I know what to do")
	if err != nil {
		t.Fatalf("trigger turn: %v", err)
	}
	if res.Outcome != OutcomeAwaiting {
		t.Fatalf("expected content trigger, got %v", res.Outcome)
	}
	if !strings.Contains(res.Reply, "good progress") {
		t.Errorf("content trigger must use the progress variant, got %q", res.Reply)
	}
	if coachModel.calls != coachCallsBefore {
		t.Error("wrap-up prompt turn must not call the coaching model")
	}
	if summaryModel.calls != 1 {
		t.Errorf("expected one progression call, got %d", summaryModel.calls)
	}
}

func TestModelFailureFallsBackThenApologises(t *testing.T) {
	attempts := 0
	coachModel := &scriptModel{fn: func(msgs []chat.Message) (string, error) {
		attempts++
		return "", errors.New("upstream 500")
	}}
	s := newTestSession(coachModel, fixedModel("sum"), &memRecorder{})

	res, err := s.ProcessTurn(context.Background(), "hello?")
	if err != nil {
		t.Fatalf("turn must survive model failure: %v", err)
	}
	if res.Reply != apologyReply {
		t.Errorf("expected apology, got %q", res.Reply)
	}
	if attempts != 2 {
		t.Errorf("expected primary plus one fallback attempt, got %d", attempts)
	}
	if s.State() != StateActive {
		t.Errorf("session must stay alive, got %q", s.State())
	}
}

func TestModelFallbackPromptSucceeds(t *testing.T) {
	call := 0
	coachModel := &scriptModel{fn: func(msgs []chat.Message) (string, error) {
		call++
		if call == 1 {
			return "", errors.New("timeout")
		}
		if !strings.Contains(msgs[0].Content, "plain sentences") {
			return "", errors.New("expected the bare fallback prompt")
		}
		return "Let's take that one step at a time.", nil
	}}
	s := newTestSession(coachModel, fixedModel("sum"), &memRecorder{})

	res, err := s.ProcessTurn(context.Background(), "everything is too much")
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if res.Reply != "Let's take that one step at a time." {
		t.Errorf("expected fallback reply, got %q", res.Reply)
	}
}

func TestSummarisationFailureDegradesSilently(t *testing.T) {
	coachModel := fixedModel("Tell me more about that.")
	summaryModel := &scriptModel{fn: func([]chat.Message) (string, error) {
		return "", errors.New("summary model down")
	}}
	rec := &memRecorder{}
	s := NewSession(Config{
		SessionID:     "s-degraded",
		CoachModel:    coachModel,
		SummaryModel:  summaryModel,
		Templates:     prompts.Defaults,
		Recorder:      rec,
		MaxTokenLimit: 80,
	})

	long := strings.Repeat("a long winded reflection on the week ", 5)
	for i := 0; i < 4; i++ {
		res, err := s.ProcessTurn(context.Background(), fmt.Sprintf("%s %d", long, i))
		if err != nil {
			t.Fatalf("turn %d must succeed despite summary failure: %v", i, err)
		}
		if res.Outcome != OutcomeReply {
			t.Fatalf("turn %d: expected plain reply, got %v", i, res.Outcome)
		}
	}

	if !s.SummarisationDegraded() {
		t.Error("expected degraded summarisation mode")
	}
	if s.State() != StateActive {
		t.Errorf("degradation must not change lifecycle state, got %q", s.State())
	}
}

func TestClosingSummaryFailureStaysAwaiting(t *testing.T) {
	healthy := true
	coachModel := &scriptModel{fn: func(msgs []chat.Message) (string, error) {
		if !healthy {
			return "", errors.New("model down")
		}
		return "1. Sleep earlier. 2. Plan mornings. Keep at it!", nil
	}}
	rec := &memRecorder{}
	s := newTestSession(coachModel, fixedModel("sum"), rec)

	if _, err := s.ProcessTurn(context.Background(), "let's wrap up"); err != nil {
		t.Fatalf("trigger turn: %v", err)
	}

	healthy = false
	res, err := s.ProcessTurn(context.Background(), "wrap up and summarize")
	if err != nil {
		t.Fatalf("confirm turn: %v", err)
	}
	if res.Outcome != OutcomeAwaiting {
		t.Fatalf("failed summary must stay awaiting, got %v", res.Outcome)
	}
	if res.Reply != SummaryFallback {
		t.Errorf("expected fallback message, got %q", res.Reply)
	}
	if s.State() != StateAwaiting {
		t.Errorf("expected awaiting state, got %q", s.State())
	}

	// Retry once the model recovers.
	healthy = true
	res, err = s.ProcessTurn(context.Background(), "yes, wrap it up")
	if err != nil {
		t.Fatalf("retry turn: %v", err)
	}
	if res.Outcome != OutcomeEnded {
		t.Errorf("expected session end on retry, got %v", res.Outcome)
	}
}

func TestPersistenceFailureRollsBackReply(t *testing.T) {
	coachModel := fixedModel("And what would help?")
	rec := &memRecorder{failon: 2} // the AI append fails
	s := newTestSession(coachModel, fixedModel("sum"), rec)

	_, err := s.ProcessTurn(context.Background(), "I feel stuck")
	if err == nil {
		t.Fatal("expected persistence error")
	}

	history := s.buffer.History()
	for _, m := range history {
		if m.Role == chat.RoleAssistant {
			t.Errorf("unacknowledged AI reply leaked into memory: %q", m.Content)
		}
	}
	if len(rec.msgs) != 1 || rec.msgs[0].Sender != SenderUser {
		t.Errorf("only the user message should be stored, got %v", rec.msgs)
	}
	if s.RoundCount() != 0 {
		t.Errorf("failed turn must not count as a round, got %d", s.RoundCount())
	}
}

func TestResumeRebuildsRoundsAndHistory(t *testing.T) {
	history := []chat.Message{
		{Role: chat.RoleUser, Content: "I want to improve my focus"},
		{Role: chat.RoleAssistant, Content: "What does focus look like for you?"},
		{Role: chat.RoleUser, Content: "deep work without my phone"},
		{Role: chat.RoleAssistant, Content: "How often does the phone pull you away?"},
		{Role: chat.RoleUser, Content: ""},
		{Role: chat.RoleUser, Content: "maybe hourly"},
	}

	s := Resume(Config{
		SessionID:    "s-resume",
		CoachModel:   fixedModel("r"),
		SummaryModel: fixedModel("s"),
		Templates:    prompts.Defaults,
		Recorder:     &memRecorder{},
	}, history)

	if s.RoundCount() != 2 {
		t.Errorf("expected 2 rebuilt rounds, got %d", s.RoundCount())
	}
	rebuilt := s.buffer.History()
	if len(rebuilt) != 5 {
		t.Errorf("expected pruned history of 5, got %d", len(rebuilt))
	}
	for i := 1; i < len(rebuilt); i++ {
		if rebuilt[i].Role == rebuilt[i-1].Role {
			t.Errorf("adjacent messages share role after resume: %v", rebuilt[i].Role)
		}
	}
	if s.State() != StateActive {
		t.Errorf("resumed session must be active, got %q", s.State())
	}
}

func TestTokenBoundHeldAfterTurns(t *testing.T) {
	coachModel := fixedModel("Mm, say more?")
	summaryModel := fixedModel("Summary of earlier dialog: <TOPIC> focus struggles")
	s := NewSession(Config{
		SessionID:     "s-bound",
		CoachModel:    coachModel,
		SummaryModel:  summaryModel,
		Templates:     prompts.Defaults,
		Recorder:      &memRecorder{},
		MaxTokenLimit: 120,
	})

	long := strings.Repeat("a detailed account of the day ", 4)
	for i := 0; i < 6; i++ {
		if _, err := s.ProcessTurn(context.Background(), fmt.Sprintf("%s %d", long, i)); err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
		if est := s.buffer.TokenEstimate(); est > 120 && len(s.buffer.History()) > 1 {
			t.Errorf("turn %d: estimate %d exceeds the bound", i, est)
		}
	}
	if s.buffer.Summary() == "" {
		t.Error("overflow must feed the running summary")
	}
	if !strings.HasPrefix(s.buffer.Summary(), SummaryMarker) {
		t.Errorf("running summary must carry the marker, got %q", s.buffer.Summary())
	}
}
