package scoring

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/user/txstream/internal/domain"
)

const (
	// FlagThreshold is the score at or above which a transaction is
	// counted as likely fraud.
	FlagThreshold = 0.7

	rapidWindow       = 2 * time.Minute
	rapidCountTrigger = 3
)

// Scorer assigns a fraud score in [0, 1] to transactions using rules that
// mirror common card-fraud patterns: outsized amounts, bursts of activity
// on one account, and transactions far from the user's recent locations.
// It keeps a short per-user history to detect the burst and distance
// signals, so one Scorer instance must see the whole stream of a group.
type Scorer struct {
	logger *slog.Logger

	mu      sync.Mutex
	history map[string]*userHistory
}

type userHistory struct {
	recentTimes []time.Time
	lastLat     float64
	lastLon     float64
	seen        bool
}

// NewScorer creates a rule-based fraud scorer.
func NewScorer(logger *slog.Logger) *Scorer {
	return &Scorer{
		logger:  logger.With("component", "fraud_scorer"),
		history: make(map[string]*userHistory),
	}
}

// Score sets txn.FraudScore and reports whether the transaction crosses
// the flag threshold.
func (s *Scorer) Score(txn *domain.Transaction) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.history[txn.UserID]
	if !ok {
		h = &userHistory{}
		s.history[txn.UserID] = h
	}

	score := amountScore(txn.Amount)

	// Burst of transactions on one account inside a short window.
	cutoff := txn.Timestamp.Add(-rapidWindow)
	kept := h.recentTimes[:0]
	for _, ts := range h.recentTimes {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	h.recentTimes = append(kept, txn.Timestamp)
	if len(h.recentTimes) >= rapidCountTrigger {
		score += 0.3
	}

	// Large jump from the user's previous observed location.
	if h.seen {
		if distanceDegrees(h.lastLat, h.lastLon, txn.LocationLat, txn.LocationLon) > 5.0 {
			score += 0.35
		}
	}
	h.lastLat, h.lastLon = txn.LocationLat, txn.LocationLon
	h.seen = true

	score = math.Min(1.0, score)
	txn.FraudScore = math.Round(score*100) / 100
	return txn.FraudScore >= FlagThreshold
}

func amountScore(amount float64) float64 {
	switch {
	case amount >= 5000:
		return 0.7
	case amount >= 1000:
		return 0.4
	case amount >= 500:
		return 0.2
	default:
		return 0.05
	}
}

// distanceDegrees is a flat approximation; at the scale of the location
// jumps being detected (different countries) precision does not matter.
func distanceDegrees(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := lat1 - lat2
	dLon := lon1 - lon2
	return math.Sqrt(dLat*dLat + dLon*dLon)
}
