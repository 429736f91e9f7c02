package correlation_test

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/axel-blaze-11/pheonix/internal/correlation"
	"github.com/axel-blaze-11/pheonix/internal/message"
)

var _ = Describe("Store", func() {
	var (
		store   *correlation.Store
		details message.PaymentDetails
	)

	BeforeEach(func() {
		store = correlation.NewStore()
		details = message.PaymentDetails{
			TxnID:  "T1",
			Payer:  message.Party{Addr: "abhishek@paytm"},
			Payee:  message.Party{Addr: "aman@phonepe"},
			Amount: decimal.NewFromInt(100),
		}
	})

	It("should hand an entry out exactly once", func() {
		replaced := store.Put("debit-M1", correlation.Entry{Details: details})
		Expect(replaced).To(BeFalse())
		Expect(store.Len()).To(Equal(1))

		e, ok := store.TakeIfPresent("debit-M1")
		Expect(ok).To(BeTrue())
		Expect(e.Key).To(Equal("debit-M1"))
		Expect(e.Details.Payee.Addr).To(Equal("aman@phonepe"))
		Expect(e.CreatedAt).NotTo(BeZero())

		_, ok = store.TakeIfPresent("debit-M1")
		Expect(ok).To(BeFalse())
		Expect(store.Len()).To(Equal(0))
	})

	It("should report a miss for an unknown key", func() {
		_, ok := store.TakeIfPresent("debit-unknown")
		Expect(ok).To(BeFalse())
	})

	It("should overwrite and report a reused key", func() {
		store.Put("debit-M1", correlation.Entry{Details: details})

		other := details
		other.Amount = decimal.NewFromInt(5)
		replaced := store.Put("debit-M1", correlation.Entry{Details: other})

		Expect(replaced).To(BeTrue())
		Expect(store.Len()).To(Equal(1))

		e, _ := store.TakeIfPresent("debit-M1")
		Expect(e.Details.Amount.Equal(decimal.NewFromInt(5))).To(BeTrue())
	})

	It("should snapshot entries oldest first without consuming them", func() {
		now := time.Now()
		store.Put("debit-B", correlation.Entry{Details: details, CreatedAt: now})
		store.Put("debit-A", correlation.Entry{Details: details, CreatedAt: now.Add(-time.Minute)})

		snap := store.Snapshot()
		Expect(snap).To(HaveLen(2))
		Expect(snap[0].Key).To(Equal("debit-A"))
		Expect(snap[1].Key).To(Equal("debit-B"))
		Expect(store.Len()).To(Equal(2))
	})

	It("should let only one of many concurrent takers win a key", func() {
		const keys = 50
		const takersPerKey = 8

		for i := 0; i < keys; i++ {
			store.Put(fmt.Sprintf("debit-%d", i), correlation.Entry{Details: details})
		}

		var wins int64
		var wg sync.WaitGroup
		for i := 0; i < keys; i++ {
			for j := 0; j < takersPerKey; j++ {
				wg.Add(1)
				go func(key string) {
					defer GinkgoRecover()
					defer wg.Done()
					if _, ok := store.TakeIfPresent(key); ok {
						atomic.AddInt64(&wins, 1)
					}
				}(fmt.Sprintf("debit-%d", i))
			}
		}
		wg.Wait()

		Expect(wins).To(Equal(int64(keys)))
		Expect(store.Len()).To(Equal(0))
	})
})
