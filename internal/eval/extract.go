package eval

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	numberPattern = regexp.MustCompile(`-?\d+\.?\d*`)
	letterPattern = regexp.MustCompile(`[A-E]`)
)

// ExtractOutput isolates the answer span of a decoded generation by
// locating the task trigger substring and returning everything after it,
// left-stripped of whitespace. A missing trigger means the generation ran
// past its budget without producing an answer; the caller gets an empty
// (certainly wrong) answer rather than an error, so one malformed
// generation degrades one example instead of the run.
func ExtractOutput(pred, trigger string) string {
	if trigger == "" {
		return pred
	}
	start := strings.Index(pred, trigger)
	if start < 0 {
		return ""
	}
	return strings.TrimLeft(pred[start+len(trigger):], " \t\n\r")
}

// ExtractAnswerNumber pulls the final numeric answer out of a generation:
// commas are stripped (thousands separators), the last number in the text
// wins, and an unparsable answer becomes +Inf so it can never match a
// ground truth within tolerance.
func ExtractAnswerNumber(sentence string) float64 {
	sentence = strings.ReplaceAll(sentence, ",", "")
	matches := numberPattern.FindAllString(sentence, -1)
	if len(matches) == 0 {
		return math.Inf(1)
	}
	v, err := strconv.ParseFloat(matches[len(matches)-1], 64)
	if err != nil {
		return math.Inf(1)
	}
	return v
}

// ExtractAnswerLetter returns the first multiple-choice letter (A-E) in
// the generation, or "" when none appears. First-letter extraction follows
// the published evaluation setup for comparability, even though a
// generation that discusses several options makes the choice ambiguous.
func ExtractAnswerLetter(sentence string) string {
	return letterPattern.FindString(strings.TrimSpace(sentence))
}

// isFloat reports whether the ground-truth answer parses as a number,
// which decides between numeric and letter matching for math tasks.
func isFloat(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
