package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/axel-blaze-11/pheonix/internal/downstream"
	"github.com/axel-blaze-11/pheonix/internal/message"
	"github.com/axel-blaze-11/pheonix/internal/network"
	"github.com/axel-blaze-11/pheonix/internal/psp"
)

var payCmd = &cobra.Command{
	Use:   "pay",
	Short: "Send a ReqPay through the Payer PSP",
	Example: `  upisim pay --from abhishek@paytm --to aman@phonepe --amount 100 --pin 1234
  upisim pay --from aman@paytm --to harsh@phonepe --amount 5.50 --pin 1234 --purpose 44 --wait 10s`,
	RunE: runPay,
}

var valAddCmd = &cobra.Command{
	Use:   "valadd",
	Short: "Validate a payee address through the Payer PSP",
	RunE:  runValAdd,
}

func init() {
	payCmd.Flags().String("from", "", "Payer VPA")
	payCmd.Flags().String("to", "", "Payee VPA")
	payCmd.Flags().String("amount", "", "Amount in INR")
	payCmd.Flags().String("pin", "", "UPI PIN")
	payCmd.Flags().String("purpose", "00", "Purpose code")
	payCmd.Flags().String("note", "", "Transaction note")
	payCmd.Flags().String("payee-code", "", "Payee routing code")
	payCmd.Flags().Duration("wait", 5*time.Second, "How long to wait for the final RespPay (0 to skip)")
	_ = payCmd.MarkFlagRequired("from")
	_ = payCmd.MarkFlagRequired("to")
	_ = payCmd.MarkFlagRequired("amount")

	valAddCmd.Flags().String("from", "", "Payer VPA")
	valAddCmd.Flags().String("to", "", "Payee VPA to validate")
	_ = valAddCmd.MarkFlagRequired("to")
}

func runPay(cmd *cobra.Command, args []string) error {
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	amountStr, _ := cmd.Flags().GetString("amount")
	pin, _ := cmd.Flags().GetString("pin")
	purpose, _ := cmd.Flags().GetString("purpose")
	note, _ := cmd.Flags().GetString("note")
	payeeCode, _ := cmd.Flags().GetString("payee-code")
	wait, _ := cmd.Flags().GetDuration("wait")

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", amountStr, err)
	}

	req := newReqPay(cfg.PSP.Payer.OrgID, from, to, amount, pin, purpose, note, payeeCode, time.Now())

	client, err := network.NewClient(cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ReqPay %s (txn %s): %s -> %s, %s INR\n", req.MsgID(), req.Txn.ID, from, to, message.FormatAmount(amount))

	resp, err := client.Send(cmd.Context(), downstream.HopInitial, downstream.NodePayerPSP, "/api/reqpay", req)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Payer PSP answered %d: %s\n", resp.Status, resp.Body)
	if !resp.Accepted() || wait == 0 {
		return nil
	}

	url, err := client.URL(downstream.NodePayerPSP, "/api/txn/"+req.MsgID())
	if err != nil {
		return err
	}
	final, err := awaitFinal(cmd.Context(), url, wait)
	if err != nil {
		return err
	}
	if final.ErrCode != "" {
		fmt.Fprintf(out, "Final: %s (%s)\n", final.Result, final.ErrCode)
	} else {
		fmt.Fprintf(out, "Final: %s\n", final.Result)
	}
	return nil
}

// awaitFinal polls the Payer PSP until the Switch has reported the outcome.
func awaitFinal(ctx context.Context, url string, wait time.Duration) (*psp.Final, error) {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		final, err := fetchFinal(ctx, url)
		if err != nil {
			return nil, err
		}
		if final != nil {
			return final, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("no final RespPay within %s", wait)
		case <-ticker.C:
		}
	}
}

func fetchFinal(ctx context.Context, url string) (*psp.Final, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("payer PSP returned %d", resp.StatusCode)
	}

	var final psp.Final
	if err := json.NewDecoder(resp.Body).Decode(&final); err != nil {
		return nil, fmt.Errorf("failed to decode final outcome: %w", err)
	}
	return &final, nil
}

func runValAdd(cmd *cobra.Command, args []string) error {
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")

	req := newReqValAdd(cfg.PSP.Payer.OrgID, from, to, time.Now())

	client, err := network.NewClient(cfg)
	if err != nil {
		return err
	}
	resp, err := client.Send(cmd.Context(), downstream.HopInitial, downstream.NodePayerPSP, "/api/reqvaladd", req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	reply, err := message.Unmarshal(resp.Body)
	if err != nil || reply.Resp == nil {
		fmt.Fprintf(out, "Payer PSP answered %d: %s\n", resp.Status, resp.Body)
		return nil
	}
	r := reply.Resp
	if reply.Result() == message.ResultSuccess {
		fmt.Fprintf(out, "%s: %s (%s, IFSC %s, %s)\n", to, r.Result, r.MaskName, r.IFSC, r.AccType)
	} else {
		fmt.Fprintf(out, "%s: %s %s %s\n", to, r.Result, r.ErrCode, r.FailMsg)
	}
	return nil
}

func newHead(orgID string, now time.Time) message.Head {
	return message.Head{
		Ver:      message.DefaultVersion,
		Ts:       message.FormatTimestamp(now),
		OrgID:    orgID,
		MsgID:    uuid.New().String(),
		ProdType: message.DefaultProdType,
	}
}

// newReqPay builds a customer ReqPay as a Payer PSP app would send it.
func newReqPay(orgID, from, to string, amount decimal.Decimal, pin, purpose, note, payeeCode string, now time.Time) *message.Message {
	req := &message.Message{
		Kind: message.KindReqPay,
		Head: newHead(orgID, now),
		Txn: message.Txn{
			ID:      uuid.New().String(),
			Type:    message.TxnPay,
			Purpose: purpose,
			Note:    note,
			Ts:      message.FormatTimestamp(now),
		},
		Payer: &message.Party{
			Addr:   from,
			Type:   "PERSON",
			Amount: &message.Amount{Value: amount, Curr: message.Currency},
		},
		Payee: &message.Party{Addr: to, Type: "PERSON", Code: payeeCode},
	}
	if pin != "" {
		req.Payer.Creds = []message.Cred{{Type: "PIN", SubType: "MPIN", Data: pin}}
	}
	return req
}

func newReqValAdd(orgID, from, to string, now time.Time) *message.Message {
	req := &message.Message{
		Kind:  message.KindReqValAdd,
		Head:  newHead(orgID, now),
		Txn:   message.Txn{ID: uuid.New().String(), Type: message.TxnValAdd, Ts: message.FormatTimestamp(now)},
		Payee: &message.Party{Addr: to},
	}
	if from != "" {
		req.Payer = &message.Party{Addr: from}
	}
	return req
}
