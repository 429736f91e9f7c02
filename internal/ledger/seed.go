package ledger

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// Sample data loaded by `upisim run` and the node commands' --seed flag.
var (
	SamplePayers = []Account{
		{VPA: "abhishek@paytm", Name: "Abhishek", BankCode: "SBI", IFSC: "SBIN0000001", Balance: decimal.NewFromInt(10000)},
		{VPA: "aman@paytm", Name: "Aman", BankCode: "SBI", IFSC: "SBIN0000001", Balance: decimal.NewFromInt(15000)},
		{VPA: "harsh@paytm", Name: "Harsh", BankCode: "SBI", IFSC: "SBIN0000001", Balance: decimal.NewFromInt(20000)},
	}

	SamplePayees = []Account{
		{VPA: "abhishek@phonepe", Name: "Abhishek", BankCode: "HDFC", IFSC: "HDFC0000001", Balance: decimal.Zero},
		{VPA: "aman@phonepe", Name: "Aman", BankCode: "HDFC", IFSC: "HDFC0000001", Balance: decimal.Zero},
		{VPA: "harsh@phonepe", Name: "Harsh", BankCode: "HDFC", IFSC: "HDFC0000001", Balance: decimal.Zero},
	}
)

// SamplePIN is the PIN every sample payer is seeded with.
const SamplePIN = "1234"

// Seed upserts accounts.
func (l *Ledger) Seed(ctx context.Context, accounts []Account) error {
	for _, a := range accounts {
		if err := l.Upsert(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

// SeedUsers registers accounts as PSP users sharing one PIN.
func (d *Directory) SeedUsers(ctx context.Context, accounts []Account, pin string) error {
	for _, a := range accounts {
		u := User{VPA: a.VPA, Name: a.Name, BankCode: a.BankCode, IFSC: a.IFSC}
		if err := d.UpsertUser(ctx, u, pin); err != nil {
			return err
		}
	}
	return nil
}

// SeedProfiles publishes a ReqValAdd profile for each account.
func (d *Directory) SeedProfiles(ctx context.Context, accounts []Account) error {
	for _, a := range accounts {
		p := Profile{
			VPA:      a.VPA,
			Name:     a.Name,
			MaskName: MaskName(a.Name),
			Code:     "0000",
			Type:     "PERSON",
			IFSC:     a.IFSC,
			AccType:  "SAVINGS",
			IIN:      "607152",
			PType:    "BANK",
		}
		if err := d.UpsertProfile(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// MaskName keeps the first and last letter of each word.
func MaskName(name string) string {
	words := strings.Fields(name)
	for i, w := range words {
		r := []rune(w)
		if len(r) <= 2 {
			continue
		}
		words[i] = string(r[0]) + strings.Repeat("*", len(r)-2) + string(r[len(r)-1])
	}
	return strings.Join(words, " ")
}
