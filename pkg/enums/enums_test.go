package enums

import "testing"

func TestInvoiceStatusEditRules(t *testing.T) {
	for _, status := range []InvoiceStatus{InvoiceStatusPaid, InvoiceStatusRefunded} {
		if !status.IsLedgerOwned() {
			t.Fatalf("%s should be ledger owned", status)
		}
		if status.AllowsLineItemEdits() {
			t.Fatalf("%s should not allow edits", status)
		}
	}
	for _, status := range []InvoiceStatus{InvoiceStatusPending, InvoiceStatusOverdue, InvoiceStatusCancelled} {
		if status.IsLedgerOwned() {
			t.Fatalf("%s should not be ledger owned", status)
		}
		if !status.AllowsLineItemEdits() {
			t.Fatalf("%s should allow edits", status)
		}
	}
}

func TestParseRejectsUnknownValues(t *testing.T) {
	if _, err := ParsePaymentMethod("barter"); err == nil {
		t.Fatal("expected unknown payment method to fail")
	}
	method, err := ParsePaymentMethod("bank_transfer")
	if err != nil || method != PaymentMethodBankTransfer {
		t.Fatalf("unexpected parse result %q, %v", method, err)
	}
	if !method.IsOffline() || PaymentMethodGateway.IsOffline() {
		t.Fatal("offline classification mismatch")
	}
}

func TestLoyaltyTierRanking(t *testing.T) {
	if !LoyaltyTierGold.AtLeast(LoyaltyTierSilver) {
		t.Fatal("gold should rank above silver")
	}
	if LoyaltyTierBronze.AtLeast(LoyaltyTierSilver) {
		t.Fatal("bronze should rank below silver")
	}
	if LoyaltyTier("diamond").IsValid() {
		t.Fatal("unknown tier should be invalid")
	}
	tier, err := ParseLoyaltyTier(" Platinum ")
	if err != nil || tier != LoyaltyTierPlatinum {
		t.Fatalf("unexpected parse result %q, %v", tier, err)
	}
}

func TestSettledPaymentStatuses(t *testing.T) {
	if !PaymentStatusCompleted.CountsAsSettled() || !PaymentStatusRefunded.CountsAsSettled() {
		t.Fatal("completed and refunded payments are settled")
	}
	if PaymentStatusPending.CountsAsSettled() || PaymentStatusFailed.CountsAsSettled() {
		t.Fatal("pending and failed payments are not settled")
	}
}
