package coach

import (
	"strings"
)

// WrapUpState is the per-session wrap-up lifecycle state.
type WrapUpState string

const (
	StateActive   WrapUpState = "active"
	StateAwaiting WrapUpState = "awaiting_wrap_up_confirmation"
	StateEnded    WrapUpState = "ended"
)

// TriggerKind identifies which condition proposed the wrap-up.
type TriggerKind string

const (
	TriggerNone    TriggerKind = ""
	TriggerUser    TriggerKind = "user"
	TriggerCount   TriggerKind = "count"
	TriggerTime    TriggerKind = "time"
	TriggerContent TriggerKind = "content"
)

// Wrap-up policy constants.
const (
	countTriggerRounds      = 25   // count-based trigger threshold
	contentTriggerMinRounds = 15   // content trigger requires this many rounds
	baseSessionSeconds      = 1800 // time-based trigger baseline (30 min)
	cooldownTurns           = 5    // turns of trigger suppression after a decline
	declineRoundPenalty     = 5    // round counter reduction after a decline
	extensionSeconds        = 300  // session extension granted per decline (5 min)
)

// wrapUpPhrases are the fixed user commands that request a wrap-up.
var wrapUpPhrases = []string{
	"wrap up",
	"end session",
	"finish conversation",
	"summarize and end",
	"let's conclude",
	"finish session",
}

// confirmCommands explicitly confirm a proposed wrap-up.
var confirmCommands = []string{
	"wrap up and summarize",
	"wrap up",
	"summarize",
	"end session",
}

var affirmativeTokens = []string{"yes", "yeah", "sure"}
var contextTokens = []string{"summary", "wrap", "end"}

// Canned controller responses.
const (
	AckContinue     = "Okay, let's continue our conversation."
	SummaryFallback = "I wasn't able to prepare your summary just now. We can try wrapping up again in a moment, or keep talking."
)

// Wrap-up prompt variants. The count/time variant must contain
// "covered a lot today"; the content variant acknowledges progress.
const (
	promptUserInitiated = "It sounds like you're ready to wrap up. Would you like me to summarize our session and put together your action plan? Say \"wrap up and summarize\" to confirm, or we can keep going."
	promptCovered       = "We've covered a lot today. Would you like to wrap up with a summary of our session and an action plan? Say \"wrap up and summarize\" to confirm, or we can continue."
	promptGoodProgress  = "You've made good progress through the coaching framework today. Shall we wrap up with a summary and your action plan? Say \"wrap up and summarize\" to confirm, or we can keep exploring."
)

// Confirmation is the classification of a user reply while awaiting
// wrap-up confirmation.
type Confirmation int

const (
	Decline Confirmation = iota
	Confirm
)

// Controller decides whether to propose ending the session and manages
// confirmation, decline cooldown and time extension. All decisions are
// pure functions of the per-turn inputs; nothing fires asynchronously.
type Controller struct {
	state WrapUpState

	cooldownRemaining      int
	extensionTotalSeconds  int
	suppressContentTrigger bool
}

// NewController creates a controller in the ACTIVE state.
func NewController() *Controller {
	return &Controller{state: StateActive}
}

// State returns the current wrap-up state.
func (c *Controller) State() WrapUpState { return c.state }

// CooldownRemaining returns the turns left in the decline cooldown.
func (c *Controller) CooldownRemaining() int { return c.cooldownRemaining }

// ExtensionSeconds returns the accumulated session extension.
func (c *Controller) ExtensionSeconds() int { return c.extensionTotalSeconds }

// ContentTriggerEligible reports whether the content trigger could fire
// this turn, letting the caller skip the progression analysis when it
// cannot.
func (c *Controller) ContentTriggerEligible(roundCount int) bool {
	return c.state == StateActive &&
		c.cooldownRemaining == 0 &&
		!c.suppressContentTrigger &&
		roundCount >= contentTriggerMinRounds
}

// ShouldPrompt evaluates the wrap-up triggers in order at the start of a
// turn. User-initiated always wins and ignores the cooldown; the other
// triggers are suppressed while the cooldown runs. Returns TriggerNone
// when no trigger fires or the controller is not ACTIVE.
func (c *Controller) ShouldPrompt(userText string, roundCount int, elapsedSeconds int, progressionReport string) TriggerKind {
	if c.state != StateActive {
		return TriggerNone
	}

	if IsWrapUpCommand(userText) {
		return TriggerUser
	}

	if c.cooldownRemaining > 0 {
		return TriggerNone
	}

	if roundCount >= countTriggerRounds {
		return TriggerCount
	}

	if elapsedSeconds >= baseSessionSeconds+c.extensionTotalSeconds {
		return TriggerTime
	}

	if !c.suppressContentTrigger &&
		roundCount >= contentTriggerMinRounds &&
		reportIndicatesCompletion(progressionReport) {
		return TriggerContent
	}

	return TriggerNone
}

// PromptFor returns the wrap-up prompt variant for a trigger.
func PromptFor(kind TriggerKind) string {
	switch kind {
	case TriggerUser:
		return promptUserInitiated
	case TriggerContent:
		return promptGoodProgress
	default:
		return promptCovered
	}
}

// MarkPrompted transitions to AWAITING_CONFIRMATION after the wrap-up
// prompt has been emitted.
func (c *Controller) MarkPrompted() {
	c.state = StateAwaiting
}

// MarkEnded transitions to the terminal ENDED state after a successful
// closing summary.
func (c *Controller) MarkEnded() {
	c.state = StateEnded
}

// MarkDeclined returns to ACTIVE and applies the cooldown and extension
// policy. The caller also lowers the round counter by RoundPenalty.
func (c *Controller) MarkDeclined() {
	c.state = StateActive
	c.cooldownRemaining = cooldownTurns
	c.extensionTotalSeconds += extensionSeconds
	c.suppressContentTrigger = true
}

// RoundPenalty is the round counter reduction applied on decline.
func (c *Controller) RoundPenalty() int { return declineRoundPenalty }

// TickCooldown consumes one cooldown turn. Called once per completed
// regular turn; when the cooldown expires the content trigger is
// re-armed.
func (c *Controller) TickCooldown() {
	if c.cooldownRemaining > 0 {
		c.cooldownRemaining--
		if c.cooldownRemaining == 0 {
			c.suppressContentTrigger = false
		}
	}
}

// IsWrapUpCommand reports whether user text contains one of the fixed
// wrap-up phrases.
func IsWrapUpCommand(userText string) bool {
	text := strings.ToLower(strings.TrimSpace(userText))
	for _, phrase := range wrapUpPhrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}

// ClassifyConfirmation classifies the user reply while awaiting
// confirmation. Fixed, case-insensitive substring matches keep the
// decision deterministic; no model is consulted.
func ClassifyConfirmation(userText string) Confirmation {
	text := strings.ToLower(strings.TrimSpace(userText))

	for _, cmd := range confirmCommands {
		if strings.Contains(text, cmd) {
			return Confirm
		}
	}

	affirmative := false
	for _, tok := range affirmativeTokens {
		if strings.Contains(text, tok) {
			affirmative = true
			break
		}
	}
	if affirmative {
		for _, tok := range contextTokens {
			if strings.Contains(text, tok) {
				return Confirm
			}
		}
	}

	return Decline
}

// reportIndicatesCompletion checks the progression report for Way
// Forward progress or completion indicators.
func reportIndicatesCompletion(report string) bool {
	if report == "" {
		return false
	}
	text := strings.ToLower(report)

	return hasWayForwardProgress(text) || hasCompletionIndicators(text)
}

func hasWayForwardProgress(text string) bool {
	// "way forward:" followed by substantial content on the same line.
	for _, line := range strings.Split(text, "\n") {
		if idx := strings.Index(line, "way forward:"); idx >= 0 {
			rest := strings.TrimSpace(line[idx+len("way forward:"):])
			if len(rest) >= 30 {
				return true
			}
		}
	}

	if strings.Contains(text, "action plan") && strings.Contains(text, "next steps") {
		return true
	}

	if strings.Contains(text, "framework is complete") || strings.Contains(text, "coaching cycle complete") {
		return true
	}

	return near(text, "implementing", "solutions", 120)
}

func hasCompletionIndicators(text string) bool {
	if strings.Contains(text, "thoroughly discussed") && strings.Contains(text, "next logical stage: way forward") {
		return true
	}
	return strings.Contains(text, "session can be concluded")
}

// near reports whether a and b both occur within dist characters of each
// other.
func near(text, a, b string, dist int) bool {
	ai := strings.Index(text, a)
	bi := strings.Index(text, b)
	if ai < 0 || bi < 0 {
		return false
	}
	d := ai - bi
	if d < 0 {
		d = -d
	}
	return d <= dist
}
