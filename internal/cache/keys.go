package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"

	"github.com/XavierBriggs/fortuna/services/parlay-optimizer/pkg/models"
)

const keyPrefix = "parlay"

// CorrelationKey builds the cache key of an estimated matrix. Every leg field the
// correlation rules read is part of the key, so pools reusing ids never share a matrix.
// Format: parlay:corr:{legs_hash}:{history_hash}:{params}
func CorrelationKey(legs []models.Leg, history models.ResidualHistory, minSamples int, epsilon float64) string {
	ids := make([]string, len(legs))
	var b strings.Builder
	for i, leg := range legs {
		ids[i] = leg.Key()
		fmt.Fprintf(&b, "%s|%s|%s|%s|%s|%s|%s|%s;",
			ids[i], leg.PlayerID, leg.StatType, leg.Direction, leg.Team, leg.Opponent, leg.GameID, leg.Sport)
	}
	return fmt.Sprintf("%s:corr:%s:%s:%d:%g",
		keyPrefix, hashString(b.String()), historyFingerprint(ids, history), minSamples, epsilon)
}

// SimulationKey builds the cache key of a slip simulation from the leg set, probabilities
// rounded to 3dp and the hash of the slip's correlation sub-matrix.
// Format: parlay:sim:{hash}
func SimulationKey(legIDs []string, probabilities []float64, matrixHash string, family models.CopulaFamily, trials int, seed int64, payout float64) string {
	var b strings.Builder
	b.WriteString(strings.Join(legIDs, ","))
	b.WriteByte('|')
	for i, p := range probabilities {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%.3f", math.Round(p*1000)/1000)
	}
	fmt.Fprintf(&b, "|%s|%s|%d|%d|%.4f", matrixHash, family, trials, seed, payout)

	return fmt.Sprintf("%s:sim:%s", keyPrefix, hashString(b.String()))
}

func historyFingerprint(legIDs []string, history models.ResidualHistory) string {
	if len(history) == 0 {
		return "none"
	}

	var b strings.Builder
	for _, id := range legIDs {
		b.WriteString(id)
		b.WriteByte('=')
		for _, obs := range history[id] {
			fmt.Fprintf(&b, "%s:%.6f;", obs.Key, obs.Value)
		}
		b.WriteByte('|')
	}
	return hashString(b.String())
}

func hashString(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:16])
}
