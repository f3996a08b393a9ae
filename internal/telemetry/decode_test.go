package telemetry

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/humancheck/internal/challenge"
)

const fullPayload = `{
  "username": "  alice  ",
  "trapClicked": false,
  "behavior": {
    "timingMs": {"timeToFirstClickMs": 1200, "timeToSubmitMs": 5400},
    "mouseMoveCount": 87,
    "keystrokeCount": 14,
    "typingDurationMs": 2600
  },
  "botDetect": {
    "decision": "human",
    "results": [{"name": "webdriver", "bot": false}, "junk", {"name": "cdp", "bot": true}]
  },
  "automationSignals": {"webdriver": false, "headlessUA": false, "pluginsLength": 5, "languagesLength": 2},
  "captcha": {
    "verified": true,
    "dragDurationMs": 1800,
    "mouseSpeedVariance": 0.03,
    "numberOfCorrections": 3,
    "reactionTimeMs": 900,
    "honeypotTriggered": false,
    "dragDistanceRatio": 0.97,
    "activationDelayMs": 1100,
    "earlyAttempt": false,
    "attempts": 1,
    "clientScore": 0.1
  },
  "fingerprint": {"userAgent": "Mozilla/5.0", "platform": "MacIntel", "language": "en-US", "timezone": "Europe/Berlin"}
}`

func TestDecode_InvalidPayload(t *testing.T) {
	for _, body := range []string{"", "null", "[]", "42", `"text"`, "{bad json"} {
		_, err := Decode([]byte(body))
		assert.ErrorIs(t, err, ErrInvalidPayload, "body %q", body)
	}
}

func TestDecode_EmptyObject(t *testing.T) {
	sub, err := Decode([]byte(`{}`))
	require.NoError(t, err)

	assert.Equal(t, AnonymousUser, sub.Username)
	assert.False(t, sub.TrapClicked)
	assert.Equal(t, VerdictUnknown, sub.BotDetect.Verdict)
	assert.Empty(t, sub.BotDetect.Results)
	assert.False(t, sub.Captcha.Present)
	assert.False(t, sub.Captcha.HasKinematics())
	assert.Equal(t, "", sub.Captcha.Source())
	assert.Nil(t, sub.Behavior.MouseMoveCount)
	assert.Nil(t, sub.Automation.Webdriver)
}

func TestDecode_FullPayload(t *testing.T) {
	sub, err := Decode([]byte(fullPayload))
	require.NoError(t, err)

	assert.Equal(t, "alice", sub.Username)
	assert.Equal(t, 1200.0, *sub.Behavior.Timing.TimeToFirstClickMs)
	assert.Equal(t, 5400.0, *sub.Behavior.Timing.TimeToSubmitMs)
	assert.Equal(t, 87.0, *sub.Behavior.MouseMoveCount)
	assert.Equal(t, 14.0, *sub.Behavior.KeystrokeCount)
	assert.Equal(t, 2600.0, *sub.Behavior.TypingDurationMs)

	assert.Equal(t, VerdictHuman, sub.BotDetect.Verdict)
	assert.Len(t, sub.BotDetect.Results, 2, "non-object results are dropped")
	assert.Equal(t, 1, sub.BotDetect.Hits())

	assert.False(t, *sub.Automation.Webdriver)
	assert.Equal(t, 5.0, *sub.Automation.PluginsLength)

	c := sub.Captcha
	assert.True(t, c.Present)
	assert.True(t, c.ClientVerified())
	assert.False(t, c.HoneypotFired())
	assert.True(t, c.HasKinematics())
	assert.Equal(t, 0.97, *c.DragDistanceRatio)
	assert.Equal(t, 0.1, *c.ClientScore)
	assert.Nil(t, c.Trace)
	assert.Equal(t, "client", c.Source())

	assert.Equal(t, Fingerprint{
		UserAgent: "Mozilla/5.0",
		Platform:  "MacIntel",
		Language:  "en-US",
		Timezone:  "Europe/Berlin",
	}, sub.Fingerprint)
}

func TestDecode_WrongTypesAreAbsent(t *testing.T) {
	body := `{
	  "username": 42,
	  "trapClicked": "yes",
	  "behavior": {"timingMs": "fast", "mouseMoveCount": "10"},
	  "automationSignals": {"webdriver": 1, "pluginsLength": "0"},
	  "captcha": {"verified": "true", "dragDurationMs": null},
	  "fingerprint": "none"
	}`
	sub, err := Decode([]byte(body))
	require.NoError(t, err)

	assert.Equal(t, AnonymousUser, sub.Username)
	assert.False(t, sub.TrapClicked)
	assert.Nil(t, sub.Behavior.Timing.TimeToFirstClickMs)
	assert.Nil(t, sub.Behavior.MouseMoveCount)
	assert.Nil(t, sub.Automation.Webdriver)
	assert.Nil(t, sub.Automation.PluginsLength)
	assert.True(t, sub.Captcha.Present)
	assert.Nil(t, sub.Captcha.Verified)
	assert.False(t, sub.Captcha.HasKinematics())
	assert.Equal(t, Fingerprint{}, sub.Fingerprint)
}

func TestSanitizeUsername(t *testing.T) {
	tests := []struct {
		input any
		want  string
	}{
		{nil, AnonymousUser},
		{12.0, AnonymousUser},
		{"", AnonymousUser},
		{"   ", AnonymousUser},
		{" bob ", "bob"},
		{"a\x00b", "ab"},
		{strings.Repeat("z", 100), strings.Repeat("z", MaxUsernameLength)},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, SanitizeUsername(tc.input), "input %v", tc.input)
	}
}

func TestDecode_LegacyBotDetectFields(t *testing.T) {
	body := `{"botDetectDecision": true, "botDetectResults": [{"rule": "webdriver", "bot": "true"}]}`
	sub, err := Decode([]byte(body))
	require.NoError(t, err)

	assert.Equal(t, VerdictBot, sub.BotDetect.Verdict)
	assert.Equal(t, []string{"webdriver"}, sub.BotDetect.Flags())
}

func TestDecode_NestedBotDetectWins(t *testing.T) {
	body := `{
	  "botDetect": {"decision": "human", "results": []},
	  "botDetectDecision": "bot",
	  "botDetectResults": [{"bot": true}]
	}`
	sub, err := Decode([]byte(body))
	require.NoError(t, err)

	assert.Equal(t, VerdictHuman, sub.BotDetect.Verdict)
	assert.Equal(t, 0, sub.BotDetect.Hits())
}

func TestDecode_BotDetectFailure(t *testing.T) {
	body := `{"botDetect": {"decision": "bot", "error": "collector threw"}}`
	sub, err := Decode([]byte(body))
	require.NoError(t, err)

	assert.True(t, sub.BotDetect.Failed())
	assert.Equal(t, VerdictUnknown, sub.BotDetect.Verdict)
	assert.Equal(t, "collector threw", sub.BotDetect.Error)
}

func TestDecode_MouseMovesCapped(t *testing.T) {
	sub, err := Decode([]byte(`{"behavior": {"mouseMoveCount": 100000}}`))
	require.NoError(t, err)
	assert.Equal(t, float64(MaxMouseMoves), *sub.Behavior.MouseMoveCount)
}

func TestDecode_Trace(t *testing.T) {
	body := `{"captcha": {
	  "activationDelayMs": 700,
	  "trackTravelPx": 280,
	  "trace": [
	    {"type": "arm", "t": 700},
	    {"type": "start", "t": 1300, "x": 4},
	    "bogus",
	    {"type": "move"},
	    {"type": "move", "t": 1400, "x": 120},
	    {"type": "end", "t": 2100}
	  ]
	}}`
	sub, err := Decode([]byte(body))
	require.NoError(t, err)
	require.NotNil(t, sub.Captcha.Trace)

	tr := sub.Captcha.Trace
	assert.Equal(t, 280.0, tr.TravelPx)
	assert.Equal(t, 700.0, tr.ActivationDelayMs)
	assert.Equal(t, []challenge.Event{
		{Type: challenge.EventArm, AtMs: 700},
		{Type: challenge.EventStart, AtMs: 1300, X: 4},
		{Type: challenge.EventMove, AtMs: 1400, X: 120},
		{Type: challenge.EventEnd, AtMs: 2100},
	}, tr.Events)
}

func TestDecode_TraceWithoutTravelIgnored(t *testing.T) {
	sub, err := Decode([]byte(`{"captcha": {"trace": [{"type": "arm", "t": 1}]}}`))
	require.NoError(t, err)
	assert.Nil(t, sub.Captcha.Trace)
}

func TestCaptcha_ApplyReplay(t *testing.T) {
	sub, err := Decode([]byte(fullPayload))
	require.NoError(t, err)

	sub.Captcha.ApplyReplay(challenge.Snapshot{
		Verified:      false,
		DragDuration:  200_000_000,
		DistanceRatio: 0.2,
		Attempts:      2,
	})

	c := sub.Captcha
	assert.Equal(t, "replay", c.Source())
	assert.False(t, c.ClientVerified())
	assert.Equal(t, 200.0, *c.DragDurationMs)
	assert.Equal(t, 0.2, *c.DragDistanceRatio)
	assert.Equal(t, 2.0, *c.Attempts)
	assert.Equal(t, 0.1, *c.ClientScore, "client score is kept")
}
