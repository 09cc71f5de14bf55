// Package scoring turns a finished interview's turn history into a score and
// rule-based feedback.
//
// The formula is a documented contract: keyword hits, a length bonus taken
// from the single longest answer, and a per-turn bonus, clamped to [0,100].
// Do not "improve" it; downstream consumers rely on its exact output.
package scoring

import (
	"math"
	"strings"

	"github.com/voxprep/voxprep/pkg/core/types"
)

// Keywords is the fixed keyword set counted against the concatenated answer
// text. Matching is case-insensitive substring containment.
var Keywords = []string{
	"react", "javascript", "node", "express", "mongodb",
	"docker", "aws", "cloud", "sql", "nosql",
	"team", "lead", "design", "test", "performance",
	"metrics", "accuracy", "model", "python", "ml", "ai",
}

const (
	maxLengthBonus   = 30
	shortAnswerChars = 30
)

// Evaluate scores a turn history. It is pure and idempotent: identical turns
// always produce an identical report. The Reason field is left for the caller
// to fill in.
func Evaluate(turns []types.Turn) types.FeedbackReport {
	var all strings.Builder
	maxAnswerLen := 0
	anyShort := len(turns) == 0
	for i, t := range turns {
		if i > 0 {
			all.WriteByte(' ')
		}
		all.WriteString(t.Answer)
		if len(t.Answer) > maxAnswerLen {
			maxAnswerLen = len(t.Answer)
		}
		if len(t.Answer) < shortAnswerChars {
			anyShort = true
		}
	}
	folded := strings.ToLower(all.String())

	hits := 0
	for _, kw := range Keywords {
		if strings.Contains(folded, kw) {
			hits++
		}
	}

	lengthBonus := math.Min(maxLengthBonus, float64(maxAnswerLen)/5)
	score := int(math.Round(float64(hits)*4 + lengthBonus + float64(len(turns))*5))
	if score > 100 {
		score = 100
	}

	report := types.FeedbackReport{
		Score:        score,
		Strengths:    []string{},
		Improvements: []string{},
	}
	if hits >= 4 {
		report.Strengths = append(report.Strengths, "Mentioned relevant technical keywords.")
	}
	if len(turns) >= 4 {
		report.Strengths = append(report.Strengths, "Provided multiple detailed answers.")
	}
	if hits < 3 {
		report.Improvements = append(report.Improvements, "Mention more specific technologies.")
	}
	if anyShort {
		report.Improvements = append(report.Improvements, "Give longer, structured responses.")
	}
	return report
}
