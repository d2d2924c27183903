package txgen

import (
	"testing"
)

func TestGenerator_NormalTransaction(t *testing.T) {
	g := NewGenerator(42)

	for i := 0; i < 100; i++ {
		txn := g.Normal()

		if txn.ID == "" || txn.UserID == "" {
			t.Fatalf("transaction missing identifiers: %+v", txn)
		}
		if txn.Amount < 5.0 {
			t.Errorf("amount below floor: %f", txn.Amount)
		}
		if txn.IsFraud || txn.FraudType != "" || txn.FraudsterID != "" {
			t.Errorf("normal transaction marked as fraud: %+v", txn)
		}
		if txn.MerchantCategory == "" || txn.MerchantName == "" {
			t.Errorf("transaction missing merchant details: %+v", txn)
		}
		if len(txn.CardLast4) != 4 {
			t.Errorf("expected 4-digit card suffix, got %q", txn.CardLast4)
		}
	}
}

func TestGenerator_FraudTransaction(t *testing.T) {
	g := NewGenerator(42)

	seenTypes := make(map[string]bool)
	for i := 0; i < 200; i++ {
		txn := g.Fraud()

		if !txn.IsFraud {
			t.Fatalf("fraud transaction not marked: %+v", txn)
		}
		if txn.FraudsterID == "" {
			t.Errorf("fraud transaction missing fraudster id: %+v", txn)
		}
		seenTypes[txn.FraudType] = true

		switch txn.FraudType {
		case FraudHighAmount:
			if txn.Amount < 5000 || txn.Amount > 20000 {
				t.Errorf("high amount fraud outside range: %f", txn.Amount)
			}
			if txn.MerchantCategory != "electronics" {
				t.Errorf("high amount fraud should target electronics, got %q", txn.MerchantCategory)
			}
		case FraudRapidSuccession, FraudUnusualLocation, FraudStolenCard:
		default:
			t.Errorf("unknown fraud type %q", txn.FraudType)
		}
	}

	for _, fraudType := range fraudTypes {
		if !seenTypes[fraudType] {
			t.Errorf("fraud type %q never generated in 200 draws", fraudType)
		}
	}
}

func TestGenerator_BatchFraudRatio(t *testing.T) {
	g := NewGenerator(42)

	batch := g.Batch(200, 0.05)
	if len(batch) != 200 {
		t.Fatalf("expected 200 transactions, got %d", len(batch))
	}

	var fraudCount int
	for _, txn := range batch {
		if txn.IsFraud {
			fraudCount++
		}
	}
	if fraudCount != 10 {
		t.Errorf("expected exactly 10 fraud transactions at 5%% of 200, got %d", fraudCount)
	}
}

func TestGenerator_DeterministicForSeed(t *testing.T) {
	a := NewGenerator(7)
	b := NewGenerator(7)

	for i := 0; i < 50; i++ {
		ta, tb := a.Normal(), b.Normal()
		if ta.ID != tb.ID || ta.UserID != tb.UserID || ta.Amount != tb.Amount {
			t.Fatalf("same seed diverged at draw %d: %+v vs %+v", i, ta, tb)
		}
	}

	c := NewGenerator(8)
	if a.Normal().ID == c.Normal().ID {
		t.Error("different seeds produced identical transaction ids")
	}
}

func TestGenerator_UsersKeepStableHabits(t *testing.T) {
	g := NewGenerator(42)

	devices := make(map[string]string)
	cards := make(map[string]string)
	for i := 0; i < 500; i++ {
		txn := g.Normal()
		if prev, ok := devices[txn.UserID]; ok && prev != txn.DeviceID {
			t.Fatalf("user %s switched devices: %q vs %q", txn.UserID, prev, txn.DeviceID)
		}
		if prev, ok := cards[txn.UserID]; ok && prev != txn.CardLast4 {
			t.Fatalf("user %s switched cards: %q vs %q", txn.UserID, prev, txn.CardLast4)
		}
		devices[txn.UserID] = txn.DeviceID
		cards[txn.UserID] = txn.CardLast4
	}
}
