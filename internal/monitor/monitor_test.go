package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/shopspring/decimal"

	"github.com/axel-blaze-11/pheonix/internal/correlation"
	"github.com/axel-blaze-11/pheonix/internal/downstream"
	"github.com/axel-blaze-11/pheonix/internal/message"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type sampleState struct {
	Accepted int64
	Orphans  int64
}

var _ = Describe("Monitor", func() {
	var (
		store   *correlation.Store
		client  *downstream.Client
		m       *Monitor
		handler http.Handler
		now     time.Time
	)

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	BeforeEach(func() {
		now = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
		store = correlation.NewStore()
		client = downstream.NewClient(downstream.Registry{
			downstream.NodeSwitch:  "http://localhost:5000",
			downstream.NodeRemBank: "http://localhost:5001/",
		})
		m = NewMonitor(client, store)
		m.now = func() time.Time { return now }
		handler = m.Handler()
	})

	It("should list the node registry", func() {
		m.RegisterNode("switch", func() interface{} { return &sampleState{} })

		w := get("/api/nodes")

		Expect(w.Code).To(Equal(http.StatusOK))
		var rsp struct {
			Nodes      []downstream.NodeInfo `json:"nodes"`
			Registered []string              `json:"registered"`
		}
		Expect(json.Unmarshal(w.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp.Nodes).To(HaveLen(2))
		Expect(rsp.Nodes[0].Name).To(Equal(downstream.NodeRemBank))
		Expect(rsp.Nodes[0].BaseURL).To(Equal("http://localhost:5001"))
		Expect(rsp.Registered).To(ConsistOf("switch"))
	})

	It("should report in-flight correlations with their age", func() {
		store.Put("debit-M1", correlation.Entry{
			Details: message.PaymentDetails{
				TxnID:  "T1",
				Payer:  message.Party{Addr: "abhishek@paytm"},
				Payee:  message.Party{Addr: "aman@phonepe"},
				Amount: decimal.NewFromInt(100),
			},
			CreatedAt: now.Add(-90 * time.Second),
		})

		w := get("/api/correlations")

		Expect(w.Code).To(Equal(http.StatusOK))
		var rsp struct {
			Count   int              `json:"count"`
			Entries []correlationRsp `json:"entries"`
		}
		Expect(json.Unmarshal(w.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp.Count).To(Equal(1))
		Expect(rsp.Entries).To(HaveLen(1))
		Expect(rsp.Entries[0].Key).To(Equal("debit-M1"))
		Expect(rsp.Entries[0].Amount).To(Equal("100.00"))
		Expect(rsp.Entries[0].AgeSeconds).To(BeNumerically("~", 90, 0.001))
	})

	It("should serialize a registered node's state", func() {
		m.RegisterNode("switch", func() interface{} {
			return &sampleState{Accepted: 3, Orphans: 1}
		})

		w := get("/api/node/switch")

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.Len()).To(BeNumerically(">", 0))
	})

	It("should answer 404 for an unknown node", func() {
		w := get("/api/node/nowhere")

		Expect(w.Code).To(Equal(http.StatusNotFound))
	})

	It("should report process resources", func() {
		w := get("/api/resource")

		Expect(w.Code).To(Equal(http.StatusOK))
		var rsp resourceRsp
		Expect(json.Unmarshal(w.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp.MemorySize).To(BeNumerically(">", 0))
	})

	It("should fall back to a random port below 1000", func() {
		Expect(m.WithPortNumber(80).portNumber).To(Equal(0))
		Expect(m.WithPortNumber(9090).portNumber).To(Equal(9090))
	})

	It("should serve on a random port and close", func() {
		url, err := m.WithPortNumber(0).StartServer()
		Expect(err).NotTo(HaveOccurred())
		defer m.Close()

		resp, err := http.Get(url + "/api/nodes")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})
})
