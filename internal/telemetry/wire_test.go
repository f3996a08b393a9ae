package telemetry

import "encoding/json"

// encodeSubmission renders a submission in the JSON wire format Decode accepts.
func encodeSubmission(s *Submission) ([]byte, error) {
	root := map[string]any{
		"username":    s.Username,
		"trapClicked": s.TrapClicked,
		"behavior": map[string]any{
			"timingMs": map[string]any{
				"timeToFirstClickMs": s.Behavior.Timing.TimeToFirstClickMs,
				"timeToSubmitMs":     s.Behavior.Timing.TimeToSubmitMs,
			},
			"mouseMoveCount":   s.Behavior.MouseMoveCount,
			"keystrokeCount":   s.Behavior.KeystrokeCount,
			"typingDurationMs": s.Behavior.TypingDurationMs,
		},
		"automationSignals": map[string]any{
			"webdriver":       s.Automation.Webdriver,
			"headlessUA":      s.Automation.HeadlessUA,
			"pluginsLength":   s.Automation.PluginsLength,
			"languagesLength": s.Automation.LanguagesLength,
		},
		"fingerprint": map[string]any{
			"userAgent": s.Fingerprint.UserAgent,
			"platform":  s.Fingerprint.Platform,
			"language":  s.Fingerprint.Language,
			"timezone":  s.Fingerprint.Timezone,
		},
	}

	bd := map[string]any{"decision": string(s.BotDetect.Verdict)}
	results := make([]map[string]any, 0, len(s.BotDetect.Results))
	for _, r := range s.BotDetect.Results {
		results = append(results, map[string]any(r))
	}
	bd["results"] = results
	if s.BotDetect.Error != "" {
		bd["error"] = s.BotDetect.Error
	}
	root["botDetect"] = bd

	if c := s.Captcha; c.Present {
		cm := map[string]any{
			"verified":            c.Verified,
			"dragDurationMs":      c.DragDurationMs,
			"mouseSpeedVariance":  c.MouseSpeedVariance,
			"numberOfCorrections": c.NumberOfCorrections,
			"reactionTimeMs":      c.ReactionTimeMs,
			"honeypotTriggered":   c.HoneypotTriggered,
			"dragDistanceRatio":   c.DragDistanceRatio,
			"activationDelayMs":   c.ActivationDelayMs,
			"earlyAttempt":        c.EarlyAttempt,
			"attempts":            c.Attempts,
			"clientScore":         c.ClientScore,
		}
		if c.Trace != nil {
			events := make([]map[string]any, 0, len(c.Trace.Events))
			for _, e := range c.Trace.Events {
				events = append(events, map[string]any{"type": string(e.Type), "t": e.AtMs, "x": e.X})
			}
			cm["trace"] = events
			cm["trackTravelPx"] = c.Trace.TravelPx
		}
		root["captcha"] = cm
	}

	return json.Marshal(root)
}
