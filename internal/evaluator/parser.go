package evaluator

import (
	"bufio"
	"strings"
)

// parseVerdict scans an oracle response for the expected answer and reason.
//
// Grammar: the response is read line by line, case-insensitively. The first
// line starting with "answer:" carries the expected answer; only the value
// "yes" yields yes, anything else (including no such line) yields "no". The
// first line starting with "reason:" carries the reason, trimmed; when absent
// or empty the reason is "—".
func parseVerdict(text string) (expected, reason string) {
	expected = "no"
	reason = ""

	answerSeen := false
	reasonSeen := false
	scanner := bufio.NewScanner(strings.NewReader(strings.ToLower(text)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !answerSeen && strings.HasPrefix(line, "answer:") {
			answerSeen = true
			if strings.TrimSpace(strings.TrimPrefix(line, "answer:")) == "yes" {
				expected = "yes"
			}
			continue
		}
		if !reasonSeen && strings.HasPrefix(line, "reason:") {
			reasonSeen = true
			reason = strings.TrimSpace(strings.TrimPrefix(line, "reason:"))
		}
	}

	if reason == "" {
		reason = "—"
	}
	return expected, reason
}
