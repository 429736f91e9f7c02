package router

import (
	"context"
	"errors"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
	gomock "go.uber.org/mock/gomock"

	"github.com/axel-blaze-11/pheonix/internal/correlation"
	"github.com/axel-blaze-11/pheonix/internal/downstream"
	"github.com/axel-blaze-11/pheonix/internal/message"
	"github.com/axel-blaze-11/pheonix/internal/validation"
)

var fixedNow = time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

func mustMarshal(m *message.Message) []byte {
	raw, err := message.Marshal(m)
	Expect(err).NotTo(HaveOccurred())
	return raw
}

func reqPayRaw(msgID, amount, purpose string) []byte {
	return mustMarshal(&message.Message{
		Kind: message.KindReqPay,
		Head: message.Head{Ver: "2.0", OrgID: "PAYERPSP", MsgID: msgID, ProdType: "UPI"},
		Txn:  message.Txn{ID: "TXN-" + msgID, Type: message.TxnPay, Purpose: purpose},
		Payer: &message.Party{
			Addr:   "abhishek@paytm",
			Name:   "Abhishek",
			Code:   "0000",
			Amount: &message.Amount{Value: decimal.RequireFromString(amount), Curr: "INR"},
			Creds:  []message.Cred{{Type: "PIN", SubType: "MPIN", Data: "1234"}},
		},
		Payee: &message.Party{Addr: "aman@phonepe", Name: "Aman", Code: "0000"},
	})
}

func reqValAddRaw(msgID string) []byte {
	return mustMarshal(&message.Message{
		Kind:  message.KindReqValAdd,
		Head:  message.Head{Ver: "2.0", OrgID: "PAYERPSP", MsgID: msgID},
		Txn:   message.Txn{ID: "TXN-" + msgID, Type: message.TxnValAdd},
		Payer: &message.Party{Addr: "abhishek@paytm", Code: "0000"},
		Payee: &message.Party{Addr: "aman@phonepe"},
	})
}

func respPayRaw(txnType, reqMsgID, result, errCode string) []byte {
	m := &message.Message{
		Kind: message.KindRespPay,
		Head: message.Head{Ver: "2.0", OrgID: "BANK", MsgID: "resppay-" + reqMsgID},
		Txn:  message.Txn{ID: "TXN-X", Type: txnType},
		Resp: &message.Resp{ReqMsgID: reqMsgID, Result: result},
	}
	if result == message.ResultFailure {
		m.Resp.ErrCode = errCode
	}
	return mustMarshal(m)
}

func respValAddBody(reqMsgID, result string) []byte {
	req := &message.Message{Kind: message.KindReqValAdd, Head: message.Head{MsgID: reqMsgID}}
	resp := message.Resp{Result: result, MaskName: "A***n"}
	if result == message.ResultFailure {
		resp.ErrCode = "VPA_NOT_FOUND"
		resp.FailMsg = "VPA_NOT_FOUND"
	}
	return mustMarshal(message.NewRespValAdd(req, "PAYEEPSP", resp, fixedNow))
}

func accepted() *downstream.Response {
	return &downstream.Response{Status: http.StatusAccepted, Body: []byte(`{"status":"accepted"}`)}
}

var _ = Describe("Router", func() {
	var (
		mockCtrl   *gomock.Controller
		dispatcher *MockDispatcher
		store      *correlation.Store
		r          *Router
		ctx        context.Context
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		dispatcher = NewMockDispatcher(mockCtrl)
		store = correlation.NewStore()
		gate := validation.NewGate(validation.Policy{
			MinAmount:    decimal.NewFromInt(1),
			PurposeCodes: []string{"00", "44"},
		})
		r = New(gate, dispatcher, store, Config{
			ProbeAmount: decimal.NewFromInt(1),
			Now:         func() time.Time { return fixedNow },
		})
		ctx = context.Background()
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	Context("ReqPay", func() {
		It("should dispatch exactly one DEBIT and store one entry", func() {
			var sent *message.Message
			dispatcher.EXPECT().
				Send(gomock.Any(), downstream.HopInitial, downstream.NodeRemBank, PathReqPay, gomock.Any()).
				DoAndReturn(func(_ context.Context, _ downstream.Hop, _ downstream.Node, _ string, m *message.Message) (*downstream.Response, error) {
					sent = m
					return accepted(), nil
				}).
				Times(1)

			out := r.HandleReqPay(ctx, reqPayRaw("M1", "100.00", "44"))

			Expect(out.Status).To(Equal(Accepted))
			Expect(sent.MsgID()).To(Equal("M1"))
			Expect(sent.TxnType()).To(Equal(message.TxnDebit))
			Expect(sent.Payer.Addr).To(Equal("abhishek@paytm"))
			Expect(sent.Payer.Code).To(Equal("0000"))
			Expect(sent.Payee.Addr).To(Equal("aman@phonepe"))
			Expect(sent.Txn.Purpose).To(Equal("44"))

			Expect(store.Len()).To(Equal(1))
			e, ok := store.TakeIfPresent("debit-M1")
			Expect(ok).To(BeTrue())
			Expect(e.Details.Amount.Equal(decimal.NewFromInt(100))).To(BeTrue())
			Expect(e.Details.Payee.Addr).To(Equal("aman@phonepe"))
			Expect(r.Stats().Accepted).To(Equal(int64(1)))
		})

		It("should accept an amount equal to the floor", func() {
			dispatcher.EXPECT().
				Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
				Return(accepted(), nil)

			out := r.HandleReqPay(ctx, reqPayRaw("M1", "1.00", ""))

			Expect(out.Status).To(Equal(Accepted))
		})

		It("should reject an amount below the floor without dispatching", func() {
			out := r.HandleReqPay(ctx, reqPayRaw("M1", "0.50", "44"))

			Expect(out.Status).To(Equal(Rejected))
			Expect(out.Reason).To(Equal(validation.ReasonMinAmount))
			Expect(store.Len()).To(Equal(0))
		})

		It("should reject an unknown purpose code without dispatching", func() {
			out := r.HandleReqPay(ctx, reqPayRaw("M1", "10", "99"))

			Expect(out.Status).To(Equal(Rejected))
			Expect(out.Reason).To(Equal(validation.ReasonUnknownPurpose))
			Expect(store.Len()).To(Equal(0))
		})

		It("should reject a malformed body", func() {
			out := r.HandleReqPay(ctx, []byte("<ReqPay>"))

			Expect(out.Status).To(Equal(Rejected))
			Expect(out.Reason).To(Equal(validation.ReasonMalformed))
			Expect(r.Stats().Rejected).To(Equal(int64(1)))
		})

		It("should report an unreachable remitter bank and drop the entry", func() {
			dispatcher.EXPECT().
				Send(gomock.Any(), downstream.HopInitial, downstream.NodeRemBank, PathReqPay, gomock.Any()).
				Return(nil, &downstream.TransportError{Node: downstream.NodeRemBank, Err: errors.New("connection refused")})

			out := r.HandleReqPay(ctx, reqPayRaw("M1", "100", "44"))

			Expect(out.Status).To(Equal(Unreachable))
			Expect(out.Reason).To(Equal(ReasonRemBankUnreachable))
			Expect(store.Len()).To(Equal(0))
		})

		It("should propagate a synchronous bank rejection and drop the entry", func() {
			blocked := &downstream.Response{Status: http.StatusBadRequest, Body: []byte(`{"error":"CODE_BLOCKED"}`)}
			dispatcher.EXPECT().
				Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
				Return(blocked, nil)

			out := r.HandleReqPay(ctx, reqPayRaw("M1", "100", "44"))

			Expect(out.Status).To(Equal(Propagated))
			Expect(out.Upstream).To(Equal(blocked))
			Expect(store.Len()).To(Equal(0))
		})

		It("should store the entry before the DEBIT leaves", func() {
			mockStore := NewMockStore(mockCtrl)
			r = New(validation.NewGate(validation.Policy{MinAmount: decimal.NewFromInt(1)}), dispatcher, mockStore, Config{})

			gomock.InOrder(
				mockStore.EXPECT().Put("debit-M1", gomock.Any()).Return(false),
				dispatcher.EXPECT().
					Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
					Return(accepted(), nil),
			)

			Expect(r.HandleReqPay(ctx, reqPayRaw("M1", "100", "")).Status).To(Equal(Accepted))
		})

		It("should count a reused msgId", func() {
			dispatcher.EXPECT().
				Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
				Return(accepted(), nil).
				Times(2)

			r.HandleReqPay(ctx, reqPayRaw("M1", "100", ""))
			r.HandleReqPay(ctx, reqPayRaw("M1", "100", ""))

			Expect(store.Len()).To(Equal(1))
			Expect(r.Stats().ReusedMsgIDs).To(Equal(int64(1)))
		})
	})

	Context("RespPay DEBIT", func() {
		BeforeEach(func() {
			store.Put("debit-M1", correlation.Entry{Details: message.PaymentDetails{
				Ver:     "2.0",
				TxnID:   "TXN-M1",
				Purpose: "44",
				Payer:   message.Party{Addr: "abhishek@paytm", Code: "0000"},
				Payee:   message.Party{Addr: "aman@phonepe", Name: "Aman"},
				Amount:  decimal.NewFromInt(100),
			}})
		})

		It("should consume the entry and send exactly one CREDIT", func() {
			var credit *message.Message
			dispatcher.EXPECT().
				Send(gomock.Any(), downstream.HopForward, downstream.NodeBeneBank, PathReqPay, gomock.Any()).
				DoAndReturn(func(_ context.Context, _ downstream.Hop, _ downstream.Node, _ string, m *message.Message) (*downstream.Response, error) {
					credit = m
					return accepted(), nil
				}).
				Times(1)

			out := r.HandleRespPay(ctx, respPayRaw(message.TxnDebit, "M1", message.ResultSuccess, ""))

			Expect(out.Status).To(Equal(Handled))
			Expect(credit.MsgID()).To(Equal("credit-M1"))
			Expect(credit.TxnType()).To(Equal(message.TxnCredit))
			Expect(credit.Head.OrgID).To(Equal(message.SwitchOrgID))
			Expect(credit.Payee.Addr).To(Equal("aman@phonepe"))
			Expect(credit.Payee.Name).To(Equal("Aman"))
			amt, _ := credit.Amount()
			Expect(amt.Equal(decimal.NewFromInt(100))).To(BeTrue())
			Expect(store.Len()).To(Equal(0))
		})

		It("should send at most one CREDIT when the reply is delivered twice", func() {
			dispatcher.EXPECT().
				Send(gomock.Any(), gomock.Any(), downstream.NodeBeneBank, gomock.Any(), gomock.Any()).
				Return(accepted(), nil).
				Times(1)

			raw := respPayRaw(message.TxnDebit, "M1", message.ResultSuccess, "")
			r.HandleRespPay(ctx, raw)
			out := r.HandleRespPay(ctx, raw)

			Expect(out.Status).To(Equal(Handled))
			Expect(r.Stats().Orphans).To(Equal(int64(1)))
		})

		It("should send nothing for a reply without an entry", func() {
			out := r.HandleRespPay(ctx, respPayRaw(message.TxnDebit, "UNKNOWN", message.ResultSuccess, ""))

			Expect(out.Status).To(Equal(Handled))
			Expect(store.Len()).To(Equal(1))
		})

		It("should not send a CREDIT when the stored payee has no addr", func() {
			store.Put("debit-M2", correlation.Entry{Details: message.PaymentDetails{Amount: decimal.NewFromInt(5)}})

			r.HandleRespPay(ctx, respPayRaw(message.TxnDebit, "M2", message.ResultSuccess, ""))

			Expect(r.Stats().DroppedLegs).To(Equal(int64(1)))
		})

		It("should tolerate an unreachable beneficiary bank", func() {
			dispatcher.EXPECT().
				Send(gomock.Any(), gomock.Any(), downstream.NodeBeneBank, gomock.Any(), gomock.Any()).
				Return(nil, &downstream.TransportError{Node: downstream.NodeBeneBank, Err: context.DeadlineExceeded})

			out := r.HandleRespPay(ctx, respPayRaw(message.TxnDebit, "M1", message.ResultSuccess, ""))

			Expect(out.Status).To(Equal(Handled))
			Expect(store.Len()).To(Equal(0))
		})

		It("should send one final FAILURE echoing the bank error for a real payment", func() {
			var final *message.Message
			dispatcher.EXPECT().
				Send(gomock.Any(), downstream.HopForward, downstream.NodePayerPSP, PathRespPay, gomock.Any()).
				DoAndReturn(func(_ context.Context, _ downstream.Hop, _ downstream.Node, _ string, m *message.Message) (*downstream.Response, error) {
					final = m
					return &downstream.Response{Status: http.StatusOK}, nil
				}).
				Times(1)

			r.HandleRespPay(ctx, respPayRaw(message.TxnDebit, "M1", message.ResultFailure, "INSUFFICIENT_BALANCE"))

			Expect(final.Kind).To(Equal(message.KindRespPay))
			Expect(final.MsgID()).To(Equal("resppay-final-M1"))
			Expect(final.ReqMsgID()).To(Equal("M1"))
			Expect(final.Result()).To(Equal(message.ResultFailure))
			Expect(final.Resp.ErrCode).To(Equal("INSUFFICIENT_BALANCE"))
			Expect(final.Txn.ID).To(Equal("TXN-M1"))
			Expect(final.TxnType()).To(Equal(message.TxnPay))
			Expect(store.Len()).To(Equal(0))
		})

		It("should send no final message when a probe DEBIT fails", func() {
			store.Put("debit-V1", correlation.Entry{})

			r.HandleRespPay(ctx, respPayRaw(message.TxnDebit, "debit-V1", message.ResultFailure, "INSUFFICIENT_BALANCE"))

			_, ok := store.TakeIfPresent("debit-V1")
			Expect(ok).To(BeFalse())
		})
	})

	Context("RespPay CREDIT", func() {
		It("should send one final SUCCESS for the original msgId", func() {
			var final *message.Message
			dispatcher.EXPECT().
				Send(gomock.Any(), downstream.HopForward, downstream.NodePayerPSP, PathRespPay, gomock.Any()).
				DoAndReturn(func(_ context.Context, _ downstream.Hop, _ downstream.Node, _ string, m *message.Message) (*downstream.Response, error) {
					final = m
					return &downstream.Response{Status: http.StatusOK}, nil
				}).
				Times(1)

			r.HandleRespPay(ctx, respPayRaw(message.TxnCredit, "credit-M1", message.ResultSuccess, ""))

			Expect(final.ReqMsgID()).To(Equal("M1"))
			Expect(final.MsgID()).To(Equal("resppay-final-M1"))
			Expect(final.Result()).To(Equal(message.ResultSuccess))
			Expect(final.Resp.ErrCode).To(BeEmpty())
			Expect(r.Stats().Finals).To(Equal(int64(1)))
		})

		It("should send no final message for a probe CREDIT", func() {
			r.HandleRespPay(ctx, respPayRaw(message.TxnCredit, "credit-debit-V1", message.ResultSuccess, ""))
		})

		It("should send no final message for a failed CREDIT", func() {
			r.HandleRespPay(ctx, respPayRaw(message.TxnCredit, "credit-M1", message.ResultFailure, "PAYEE_NOT_FOUND"))

			Expect(r.Stats().CreditFailures).To(Equal(int64(1)))
		})

		It("should send no final message for a CREDIT reply it did not build", func() {
			r.HandleRespPay(ctx, respPayRaw(message.TxnCredit, "M1", message.ResultSuccess, ""))
		})
	})

	It("should ignore a RespPay with an unknown Txn.type", func() {
		out := r.HandleRespPay(ctx, respPayRaw("REVERSAL", "M1", message.ResultSuccess, ""))

		Expect(out.Status).To(Equal(Handled))
		Expect(r.Stats().UnknownLegs).To(Equal(int64(1)))
	})

	Context("ReqValAdd", func() {
		It("should relay the payee PSP answer and dispatch one probe", func() {
			body := respValAddBody("V1", message.ResultSuccess)
			dispatcher.EXPECT().
				Post(gomock.Any(), downstream.HopInitial, downstream.NodePayeePSP, PathReqValAdd, gomock.Any()).
				Return(&downstream.Response{Status: http.StatusOK, ContentType: "application/xml", Body: body}, nil)

			var probe *message.Message
			dispatcher.EXPECT().
				Send(gomock.Any(), downstream.HopForward, downstream.NodeRemBank, PathReqPay, gomock.Any()).
				DoAndReturn(func(_ context.Context, _ downstream.Hop, _ downstream.Node, _ string, m *message.Message) (*downstream.Response, error) {
					probe = m
					return accepted(), nil
				}).
				Times(1)

			out := r.HandleReqValAdd(ctx, reqValAddRaw("V1"))

			Expect(out.Status).To(Equal(Relayed))
			Expect(out.Upstream.Body).To(Equal(body))
			Expect(probe.MsgID()).To(Equal("debit-V1"))
			Expect(probe.TxnType()).To(Equal(message.TxnDebit))
			Expect(message.FormatAmount(probe.Payer.Amount.Value)).To(Equal("1.00"))
			Expect(probe.Payer.Addr).To(Equal("abhishek@paytm"))

			e, ok := store.TakeIfPresent("debit-V1")
			Expect(ok).To(BeTrue())
			Expect(e.Details.Payee.Addr).To(Equal("aman@phonepe"))
		})

		It("should not probe after a FAILURE answer", func() {
			dispatcher.EXPECT().
				Post(gomock.Any(), gomock.Any(), downstream.NodePayeePSP, gomock.Any(), gomock.Any()).
				Return(&downstream.Response{Status: http.StatusOK, Body: respValAddBody("V1", message.ResultFailure)}, nil)

			out := r.HandleReqValAdd(ctx, reqValAddRaw("V1"))

			Expect(out.Status).To(Equal(Relayed))
			Expect(store.Len()).To(Equal(0))
		})

		It("should keep the probe entry when the remitter bank is down", func() {
			dispatcher.EXPECT().
				Post(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
				Return(&downstream.Response{Status: http.StatusOK, Body: respValAddBody("V1", message.ResultSuccess)}, nil)
			dispatcher.EXPECT().
				Send(gomock.Any(), gomock.Any(), downstream.NodeRemBank, gomock.Any(), gomock.Any()).
				Return(nil, &downstream.TransportError{Node: downstream.NodeRemBank, Err: context.DeadlineExceeded})

			out := r.HandleReqValAdd(ctx, reqValAddRaw("V1"))

			Expect(out.Status).To(Equal(Relayed))
			_, ok := store.TakeIfPresent("debit-V1")
			Expect(ok).To(BeTrue())
		})

		It("should still credit a probe the bank settles after a timed-out dispatch", func() {
			dispatcher.EXPECT().
				Post(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
				Return(&downstream.Response{Status: http.StatusOK, Body: respValAddBody("V1", message.ResultSuccess)}, nil)
			gomock.InOrder(
				dispatcher.EXPECT().
					Send(gomock.Any(), gomock.Any(), downstream.NodeRemBank, gomock.Any(), gomock.Any()).
					Return(nil, &downstream.TransportError{Node: downstream.NodeRemBank, Err: context.DeadlineExceeded}),
				dispatcher.EXPECT().
					Send(gomock.Any(), gomock.Any(), downstream.NodeBeneBank, PathReqPay, gomock.Any()).
					Return(accepted(), nil).
					Times(1),
			)

			r.HandleReqValAdd(ctx, reqValAddRaw("V1"))
			r.HandleRespPay(ctx, respPayRaw(message.TxnDebit, "debit-V1", message.ResultSuccess, ""))

			Expect(store.Len()).To(Equal(0))
			Expect(r.Stats().Orphans).To(Equal(int64(0)))
		})

		It("should keep the probe entry when the remitter bank rejects it", func() {
			dispatcher.EXPECT().
				Post(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
				Return(&downstream.Response{Status: http.StatusOK, Body: respValAddBody("V1", message.ResultSuccess)}, nil)
			dispatcher.EXPECT().
				Send(gomock.Any(), gomock.Any(), downstream.NodeRemBank, gomock.Any(), gomock.Any()).
				Return(&downstream.Response{Status: http.StatusBadRequest, Body: []byte(`{"error":"CODE_BLOCKED"}`)}, nil)

			out := r.HandleReqValAdd(ctx, reqValAddRaw("V1"))

			Expect(out.Status).To(Equal(Relayed))
			Expect(store.Len()).To(Equal(1))
		})

		It("should report an unreachable payee PSP", func() {
			dispatcher.EXPECT().
				Post(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
				Return(nil, &downstream.TransportError{Node: downstream.NodePayeePSP, Err: errors.New("refused")})

			out := r.HandleReqValAdd(ctx, reqValAddRaw("V1"))

			Expect(out.Status).To(Equal(Unreachable))
			Expect(out.Reason).To(Equal(ReasonPayeePSPUnreachable))
		})

		It("should flag an answer that is not a RespValAdd", func() {
			dispatcher.EXPECT().
				Post(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
				Return(&downstream.Response{Status: http.StatusOK, Body: []byte("<html/>")}, nil)

			out := r.HandleReqValAdd(ctx, reqValAddRaw("V1"))

			Expect(out.Status).To(Equal(BadUpstream))
			Expect(out.Reason).To(Equal(ReasonInvalidUpstream))
		})

		It("should reject a ReqValAdd without payee addr", func() {
			raw := mustMarshal(&message.Message{
				Kind:  message.KindReqValAdd,
				Head:  message.Head{MsgID: "V1"},
				Payee: &message.Party{Name: "nobody"},
			})

			out := r.HandleReqValAdd(ctx, raw)

			Expect(out.Status).To(Equal(Rejected))
			Expect(out.Reason).To(Equal(validation.ReasonMissingPayeeVPA))
		})

		It("should turn a successful probe DEBIT into a probe CREDIT", func() {
			store.Put("debit-V1", correlation.Entry{Details: message.PaymentDetails{
				Payer:  message.Party{Addr: "abhishek@paytm"},
				Payee:  message.Party{Addr: "aman@phonepe"},
				Amount: decimal.NewFromInt(1),
			}})

			var credit *message.Message
			dispatcher.EXPECT().
				Send(gomock.Any(), gomock.Any(), downstream.NodeBeneBank, PathReqPay, gomock.Any()).
				DoAndReturn(func(_ context.Context, _ downstream.Hop, _ downstream.Node, _ string, m *message.Message) (*downstream.Response, error) {
					credit = m
					return accepted(), nil
				})

			r.HandleRespPay(ctx, respPayRaw(message.TxnDebit, "debit-V1", message.ResultSuccess, ""))

			Expect(credit.MsgID()).To(Equal("credit-debit-V1"))
		})
	})

	Context("payer msgId starting with debit-", func() {
		It("should consume the payment entry and send exactly one CREDIT", func() {
			var credit *message.Message
			gomock.InOrder(
				dispatcher.EXPECT().
					Send(gomock.Any(), downstream.HopInitial, downstream.NodeRemBank, PathReqPay, gomock.Any()).
					Return(accepted(), nil),
				dispatcher.EXPECT().
					Send(gomock.Any(), downstream.HopForward, downstream.NodeBeneBank, PathReqPay, gomock.Any()).
					DoAndReturn(func(_ context.Context, _ downstream.Hop, _ downstream.Node, _ string, m *message.Message) (*downstream.Response, error) {
						credit = m
						return accepted(), nil
					}).
					Times(1),
			)

			r.HandleReqPay(ctx, reqPayRaw("debit-42", "100", ""))
			Expect(store.Len()).To(Equal(1))
			Expect(store.Snapshot()[0].Key).To(Equal("debit-debit-42"))

			r.HandleRespPay(ctx, respPayRaw(message.TxnDebit, "debit-42", message.ResultSuccess, ""))

			Expect(credit.MsgID()).To(Equal("credit-debit-42"))
			Expect(credit.Payee.Addr).To(Equal("aman@phonepe"))
			Expect(store.Len()).To(Equal(0))
			Expect(r.Stats().Orphans).To(Equal(int64(0)))
		})

		It("should send the final FAILURE when its DEBIT fails", func() {
			var final *message.Message
			gomock.InOrder(
				dispatcher.EXPECT().
					Send(gomock.Any(), gomock.Any(), downstream.NodeRemBank, gomock.Any(), gomock.Any()).
					Return(accepted(), nil),
				dispatcher.EXPECT().
					Send(gomock.Any(), gomock.Any(), downstream.NodePayerPSP, PathRespPay, gomock.Any()).
					DoAndReturn(func(_ context.Context, _ downstream.Hop, _ downstream.Node, _ string, m *message.Message) (*downstream.Response, error) {
						final = m
						return &downstream.Response{Status: http.StatusOK}, nil
					}),
			)

			r.HandleReqPay(ctx, reqPayRaw("debit-42", "100", ""))
			r.HandleRespPay(ctx, respPayRaw(message.TxnDebit, "debit-42", message.ResultFailure, "INSUFFICIENT_BALANCE"))

			Expect(final.ReqMsgID()).To(Equal("debit-42"))
			Expect(final.Resp.ErrCode).To(Equal("INSUFFICIENT_BALANCE"))
			Expect(store.Len()).To(Equal(0))
		})
	})
})

var _ = DescribeTable("flow classification",
	func(reqMsgID string, wantFlow Flow, wantKeys []string) {
		Expect(Classify(reqMsgID)).To(Equal(wantFlow))

		var keys []string
		for _, c := range debitCandidates(reqMsgID) {
			keys = append(keys, c.key)
		}
		Expect(keys).To(Equal(wantKeys))
	},
	Entry("real payment", "M1", FlowPayment, []string{"debit-M1"}),
	Entry("probe", "debit-V1", FlowProbe, []string{"debit-debit-V1", "debit-V1"}),
	Entry("id containing debit- later", "x-debit-1", FlowPayment, []string{"debit-x-debit-1"}),
)

var _ = DescribeTable("credit ids",
	func(reqMsgID, wantOriginal string, wantFlow Flow, wantOK bool) {
		original, flow, ok := OriginalFromCredit(reqMsgID)
		Expect(ok).To(Equal(wantOK))
		if wantOK {
			Expect(original).To(Equal(wantOriginal))
			Expect(flow).To(Equal(wantFlow))
		}
	},
	Entry("real credit", "credit-M1", "M1", FlowPayment, true),
	Entry("probe credit", "credit-debit-V1", "debit-V1", FlowProbe, true),
	Entry("not a credit id", "M1", "", FlowPayment, false),
	Entry("bare prefix", "credit-", "", FlowPayment, false),
)
