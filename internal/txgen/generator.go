package txgen

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/user/txstream/internal/domain"
)

// Fraud pattern labels attached to generated fraudulent transactions.
const (
	FraudHighAmount      = "high_amount"
	FraudRapidSuccession = "rapid_succession"
	FraudUnusualLocation = "unusual_location"
	FraudStolenCard      = "stolen_card"
)

var fraudTypes = []string{
	FraudHighAmount,
	FraudRapidSuccession,
	FraudUnusualLocation,
	FraudStolenCard,
}

var merchantCategories = []string{
	"grocery",
	"gas_station",
	"restaurant",
	"online_shopping",
	"electronics",
	"travel",
	"entertainment",
	"healthcare",
	"utilities",
	"education",
}

var companyNames = []string{
	"Acme Retail", "Northwind Traders", "Globex Market", "Initech Supplies",
	"Umbrella Goods", "Stark Outfitters", "Wayne Provisions", "Pied Piper Shop",
	"Hooli Store", "Vandelay Imports", "Dunder Mifflin", "Prestige Worldwide",
	"Bluth Frozen Goods", "Wonka Confections", "Soylent Grocers", "Cyberdyne Electronics",
}

// userProfile captures a synthetic cardholder's habitual spending pattern.
// Transactions for the same user stay close to these habits, which is what
// makes the fraud patterns stand out.
type userProfile struct {
	userID              string
	userType            string
	avgAmount           float64
	preferredCategories []string
	usualLat, usualLon  float64
	usualDevice         string
	cardLast4           string
}

// fraudsterProfile models an actor reusing stolen cards from a set of
// operating locations.
type fraudsterProfile struct {
	fraudsterID        string
	stolenCardLast4s   []string
	targetCategories   []string
	operatingLocations [][2]float64
}

// Generator produces synthetic card transactions with a configurable share
// of fraudulent ones. A Generator is deterministic for a given seed and is
// not safe for concurrent use.
type Generator struct {
	rng        *rand.Rand
	users      []userProfile
	fraudsters []fraudsterProfile
	now        func() time.Time
}

// NewGenerator builds a generator with a fixed population of user and
// fraudster profiles derived from the seed.
func NewGenerator(seed int64) *Generator {
	g := &Generator{
		rng: rand.New(rand.NewSource(seed)),
		now: func() time.Time { return time.Now().UTC() },
	}
	g.users = g.createUserProfiles(1000)
	g.fraudsters = g.createFraudsterProfiles(50)
	return g
}

func (g *Generator) createUserProfiles(n int) []userProfile {
	profiles := make([]userProfile, 0, n)

	for i := 0; i < n; i++ {
		p := userProfile{
			userID:      fmt.Sprintf("user_%04d", i),
			usualLat:    g.randLatitude(),
			usualLon:    g.randLongitude(),
			usualDevice: g.uuid(),
			cardLast4:   g.cardLast4(),
		}

		switch g.rng.Intn(4) {
		case 0:
			p.userType = "student"
			p.avgAmount = g.uniform(10, 100)
			p.preferredCategories = []string{"grocery", "restaurant", "entertainment"}
		case 1:
			p.userType = "professional"
			p.avgAmount = g.uniform(50, 500)
			p.preferredCategories = []string{"restaurant", "travel", "online_shopping", "electronics"}
		case 2:
			p.userType = "retired"
			p.avgAmount = g.uniform(20, 150)
			p.preferredCategories = []string{"grocery", "healthcare", "utilities"}
		default:
			p.userType = "business"
			p.avgAmount = g.uniform(200, 2000)
			p.preferredCategories = []string{"electronics", "online_shopping", "travel"}
		}

		profiles = append(profiles, p)
	}
	return profiles
}

func (g *Generator) createFraudsterProfiles(n int) []fraudsterProfile {
	fraudsters := make([]fraudsterProfile, 0, n)

	for i := 0; i < n; i++ {
		f := fraudsterProfile{
			fraudsterID:      fmt.Sprintf("fraudster_%03d", i),
			targetCategories: g.sampleCategories(3),
		}
		for c := 3 + g.rng.Intn(8); c > 0; c-- {
			f.stolenCardLast4s = append(f.stolenCardLast4s, g.cardLast4())
		}
		for l := 2 + g.rng.Intn(4); l > 0; l-- {
			f.operatingLocations = append(f.operatingLocations, [2]float64{g.randLatitude(), g.randLongitude()})
		}
		fraudsters = append(fraudsters, f)
	}
	return fraudsters
}

// Normal generates a legitimate transaction that follows its user's
// spending profile.
func (g *Generator) Normal() domain.Transaction {
	user := g.users[g.rng.Intn(len(g.users))]

	amount := g.rng.NormFloat64()*user.avgAmount*0.3 + user.avgAmount
	amount = math.Max(5.0, amount)

	lat := user.usualLat + g.uniform(-0.1, 0.1)
	lon := user.usualLon + g.uniform(-0.1, 0.1)

	return domain.Transaction{
		ID:               g.uuid(),
		UserID:           user.userID,
		Timestamp:        g.now(),
		Amount:           round2(amount),
		MerchantID:       fmt.Sprintf("merchant_%04d", 1+g.rng.Intn(500)),
		MerchantName:     companyNames[g.rng.Intn(len(companyNames))],
		MerchantCategory: user.preferredCategories[g.rng.Intn(len(user.preferredCategories))],
		CardLast4:        user.cardLast4,
		DeviceID:         user.usualDevice,
		IPAddress:        g.ipv4(),
		LocationLat:      round6(lat),
		LocationLon:      round6(lon),
	}
}

// Fraud generates a transaction carrying one of the fraud patterns,
// attributed to one of the known fraudster profiles.
func (g *Generator) Fraud() domain.Transaction {
	fraudType := fraudTypes[g.rng.Intn(len(fraudTypes))]
	fraudster := g.fraudsters[g.rng.Intn(len(g.fraudsters))]

	txn := g.Normal()

	switch fraudType {
	case FraudHighAmount:
		txn.Amount = round2(g.uniform(5000, 20000))
		txn.MerchantCategory = "electronics"
	case FraudRapidSuccession:
		txn.Amount = round2(g.uniform(500, 2000))
	case FraudUnusualLocation:
		loc := fraudster.operatingLocations[g.rng.Intn(len(fraudster.operatingLocations))]
		txn.LocationLat = loc[0]
		txn.LocationLon = loc[1]
		txn.Amount = round2(g.uniform(1000, 5000))
	case FraudStolenCard:
		txn.CardLast4 = fraudster.stolenCardLast4s[g.rng.Intn(len(fraudster.stolenCardLast4s))]
		txn.DeviceID = g.uuid()
		txn.IPAddress = g.ipv4()
		txn.Amount = round2(g.uniform(200, 3000))
	}

	txn.IsFraud = true
	txn.FraudType = fraudType
	txn.FraudsterID = fraudster.fraudsterID
	return txn
}

// Batch generates n transactions with the given fraud ratio, shuffled so
// fraudulent ones are interleaved with normal ones.
func (g *Generator) Batch(n int, fraudRatio float64) []domain.Transaction {
	numFraud := int(float64(n) * fraudRatio)
	numNormal := n - numFraud

	txns := make([]domain.Transaction, 0, n)
	for i := 0; i < numNormal; i++ {
		txns = append(txns, g.Normal())
	}
	for i := 0; i < numFraud; i++ {
		txns = append(txns, g.Fraud())
	}

	g.rng.Shuffle(len(txns), func(i, j int) {
		txns[i], txns[j] = txns[j], txns[i]
	})
	return txns
}

func (g *Generator) sampleCategories(k int) []string {
	idx := g.rng.Perm(len(merchantCategories))[:k]
	out := make([]string, k)
	for i, j := range idx {
		out[i] = merchantCategories[j]
	}
	return out
}

func (g *Generator) uniform(lo, hi float64) float64 {
	return lo + g.rng.Float64()*(hi-lo)
}

func (g *Generator) randLatitude() float64 {
	return round6(g.uniform(-90, 90))
}

func (g *Generator) randLongitude() float64 {
	return round6(g.uniform(-180, 180))
}

func (g *Generator) cardLast4() string {
	return fmt.Sprintf("%04d", g.rng.Intn(10000))
}

func (g *Generator) ipv4() string {
	return fmt.Sprintf("%d.%d.%d.%d",
		1+g.rng.Intn(223), g.rng.Intn(256), g.rng.Intn(256), 1+g.rng.Intn(254))
}

// uuid draws id bytes from the generator's own source so that a seed fully
// determines the output.
func (g *Generator) uuid() string {
	var b [16]byte
	g.rng.Read(b[:])
	id, err := uuid.FromBytes(b[:])
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
