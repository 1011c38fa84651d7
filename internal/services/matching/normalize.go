package matching

import (
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var foldDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Stroked letters carry no combining mark, so NFD leaves them alone.
var foldStroked = strings.NewReplacer("Ł", "L", "ł", "l", "Ø", "O", "ø", "o", "Đ", "D", "đ", "d")

// NormalizeName folds case, diacritics and punctuation so that
// "Jan Kowalski", "JAN KOWALSKI" and "Jan Kowálski" compare equal.
func NormalizeName(s string) string {
	if folded, _, err := transform.String(foldDiacritics, s); err == nil {
		s = folded
	}
	s = foldStroked.Replace(s)
	s = strings.ToUpper(s)
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, "-", " ")
	return strings.Join(strings.Fields(s), " ")
}

// NameSimilarity scores how well the invoice buyer name is covered by the
// payment payer/description text. Each buyer token is matched against its
// closest payment token by Levenshtein distance; the result is in [0,1].
func NameSimilarity(paymentText, buyerName string) float64 {
	bTokens := strings.Fields(NormalizeName(paymentText))
	iTokens := strings.Fields(NormalizeName(buyerName))

	if len(iTokens) == 0 || len(bTokens) == 0 {
		return 0
	}

	totalScore := 0.0
	for _, invTok := range iTokens {
		best := 0.0
		for _, payTok := range bTokens {
			dist := levenshtein(invTok, payTok)
			maxLen := math.Max(float64(len(invTok)), float64(len(payTok)))
			sim := 1 - float64(dist)/maxLen
			if sim > best {
				best = sim
			}
		}
		totalScore += best
	}

	return totalScore / float64(len(iTokens))
}

// ContainsReference reports whether the payment text cites the proforma
// fullnumber, ignoring case, diacritics and spacing.
func ContainsReference(paymentText, fullnumber string) bool {
	if strings.TrimSpace(fullnumber) == "" {
		return false
	}
	return strings.Contains(NormalizeName(paymentText), NormalizeName(fullnumber))
}

func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	dp := make([][]int, len(a)+1)
	for i := range dp {
		dp[i] = make([]int, len(b)+1)
	}

	for i := 0; i <= len(a); i++ {
		dp[i][0] = i
	}
	for j := 0; j <= len(b); j++ {
		dp[0][j] = j
	}

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}
			dp[i][j] = min(
				dp[i-1][j]+1,
				dp[i][j-1]+1,
				dp[i-1][j-1]+cost,
			)
		}
	}
	return dp[len(a)][len(b)]
}
