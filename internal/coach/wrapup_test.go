package coach

import (
	"strings"
	"testing"
)

func TestIsWrapUpCommand(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"Let's wrap up now", true},
		{"I think we should END SESSION", true},
		{"can we finish conversation please", true},
		{"summarize and end", true},
		{"let's conclude here", true},
		{"I want to talk about wrapping presents", false},
		{"my session at the gym ended badly", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsWrapUpCommand(tc.text); got != tc.want {
			t.Errorf("IsWrapUpCommand(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestClassifyConfirmation(t *testing.T) {
	confirms := []string{
		"wrap up and summarize",
		"Wrap up",
		"please summarize",
		"ok, end session",
		"yes, give me the summary",
		"sure, let's wrap it",
		"yeah, end it here",
	}
	for _, text := range confirms {
		if ClassifyConfirmation(text) != Confirm {
			t.Errorf("expected Confirm for %q", text)
		}
	}

	declines := []string{
		"no, let's keep going",
		"not yet",
		"I want to explore one more option",
		"yes",                // affirmative without wrap-up context
		"sure, keep talking", // no context token
		"",
	}
	for _, text := range declines {
		if ClassifyConfirmation(text) != Decline {
			t.Errorf("expected Decline for %q", text)
		}
	}
}

func TestUserTriggerWinsAndIgnoresCooldown(t *testing.T) {
	c := NewController()
	c.MarkDeclined() // arms the cooldown

	if got := c.ShouldPrompt("okay let's wrap up", 3, 10, ""); got != TriggerUser {
		t.Errorf("expected user trigger during cooldown, got %q", got)
	}
}

func TestCountTrigger(t *testing.T) {
	c := NewController()

	if got := c.ShouldPrompt("tell me more", 24, 10, ""); got != TriggerNone {
		t.Errorf("expected no trigger at 24 rounds, got %q", got)
	}
	if got := c.ShouldPrompt("tell me more", 25, 10, ""); got != TriggerCount {
		t.Errorf("expected count trigger at 25 rounds, got %q", got)
	}
}

func TestTimeTriggerWithExtension(t *testing.T) {
	c := NewController()

	if got := c.ShouldPrompt("hm", 3, 1799, ""); got != TriggerNone {
		t.Errorf("expected no trigger before 30 minutes, got %q", got)
	}
	if got := c.ShouldPrompt("hm", 3, 1800, ""); got != TriggerTime {
		t.Errorf("expected time trigger at 30 minutes, got %q", got)
	}

	c.MarkDeclined()
	for i := 0; i < cooldownTurns; i++ {
		c.TickCooldown()
	}
	if got := c.ShouldPrompt("hm", 3, 1900, ""); got != TriggerNone {
		t.Errorf("extension must push the deadline, got %q", got)
	}
	if got := c.ShouldPrompt("hm", 3, 2100, ""); got != TriggerTime {
		t.Errorf("expected time trigger past the extended deadline, got %q", got)
	}
}

func TestCooldownSuppressesAutomaticTriggers(t *testing.T) {
	c := NewController()
	c.MarkPrompted()
	if c.State() != StateAwaiting {
		t.Fatalf("expected awaiting state, got %q", c.State())
	}
	c.MarkDeclined()
	if c.State() != StateActive {
		t.Fatalf("expected active state after decline, got %q", c.State())
	}
	if c.CooldownRemaining() != cooldownTurns {
		t.Fatalf("expected cooldown %d, got %d", cooldownTurns, c.CooldownRemaining())
	}

	for i := 0; i < cooldownTurns; i++ {
		if got := c.ShouldPrompt("more to say", 30, 4000, "session can be concluded"); got != TriggerNone {
			t.Errorf("turn %d: expected suppression during cooldown, got %q", i, got)
		}
		c.TickCooldown()
	}

	if got := c.ShouldPrompt("more to say", 30, 4000, ""); got != TriggerCount {
		t.Errorf("expected count trigger after cooldown, got %q", got)
	}
}

func TestContentTrigger(t *testing.T) {
	report := strings.Join([]string{
		"Coaching Progression:",
		"Topic, Goal, Reality and Options have been thoroughly discussed.",
		"Way Forward: the user committed to three study blocks per week and a check-in with their advisor.",
		"Coaching Next Steps:",
		"The framework is complete and the session can be concluded.",
	}, "\n")

	c := NewController()
	if got := c.ShouldPrompt("sounds good", 14, 10, report); got != TriggerNone {
		t.Errorf("content trigger needs 15 rounds, got %q", got)
	}
	if got := c.ShouldPrompt("sounds good", 15, 10, report); got != TriggerContent {
		t.Errorf("expected content trigger, got %q", got)
	}
}

func TestContentTriggerClassifier(t *testing.T) {
	cases := []struct {
		name   string
		report string
		want   bool
	}{
		{"empty", "", false},
		{"way forward with substance",
			"Way Forward: block two mornings a week for deep work on the thesis draft.", true},
		{"way forward too thin", "Way Forward: tbd", false},
		{"action plan with next steps",
			"The user built an action plan. Next steps were agreed for the coming week.", true},
		{"framework complete", "The coaching framework is complete.", true},
		{"implementing near solutions",
			"The user is already implementing two of the discussed solutions.", true},
		{"implementing far from solutions",
			"They are implementing a new routine. " + strings.Repeat("Unrelated filler text. ", 10) + "No solutions are in sight.", false},
		{"thorough discussion heading to way forward",
			"All stages thoroughly discussed. Next logical stage: Way Forward.", true},
		{"can be concluded", "The session can be concluded.", true},
		{"mid-session report",
			"Topic has been briefly touched. Next logical stage: Reality.", false},
	}

	c := NewController()
	for _, tc := range cases {
		got := c.ShouldPrompt("ok", contentTriggerMinRounds, 10, tc.report) == TriggerContent
		if got != tc.want {
			t.Errorf("%s: trigger = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestContentTriggerSuppressedAfterDeclineUntilCooldownEnds(t *testing.T) {
	report := "The framework is complete and the session can be concluded."

	c := NewController()
	c.MarkPrompted()
	c.MarkDeclined()

	for i := 0; i < cooldownTurns; i++ {
		c.TickCooldown()
	}
	// Cooldown expiry re-arms the content trigger.
	if got := c.ShouldPrompt("ok", 20, 10, report); got != TriggerContent {
		t.Errorf("expected content trigger after re-arm, got %q", got)
	}
}

func TestPromptVariants(t *testing.T) {
	if p := PromptFor(TriggerCount); !strings.Contains(p, "covered a lot today") {
		t.Errorf("count prompt missing phrase: %q", p)
	}
	if p := PromptFor(TriggerTime); !strings.Contains(p, "covered a lot today") {
		t.Errorf("time prompt missing phrase: %q", p)
	}
	if p := PromptFor(TriggerContent); !strings.Contains(p, "good progress") {
		t.Errorf("content prompt missing phrase: %q", p)
	}
	if p := PromptFor(TriggerUser); !strings.Contains(p, "wrap up and summarize") {
		t.Errorf("user prompt must teach the confirm command: %q", p)
	}
}
