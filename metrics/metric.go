package metrics

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fossil-labs/proof-hub/logging"
)

var (
	JobsCompletedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_completed_total",
		Help: "Number of jobs that reached Completed.",
	})

	JobsFailedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_failed_total",
		Help: "Number of jobs that reached Failed, by reason.",
	}, []string{"reason"})

	RelayedBlockGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relayed_block_number",
		Help: "Highest block number whose state root was relayed to the headers store.",
	})

	ProofSubmissionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proof_submissions_total",
		Help: "Number of proof submissions sent to the fact registry, by kind.",
	}, []string{"kind"})

	MetricsItems = []prometheus.Collector{
		JobsCompletedCounter,
		JobsFailedCounter,
		RelayedBlockGauge,
		ProofSubmissionCounter,
	}
)

const DefaultMetricsAddress = "0.0.0.0:9090"

type Metrics struct {
	httpAddress string
	registry    *prometheus.Registry
	httpServer  *http.Server
}

func NewMetrics(address string) *Metrics {
	if address == "" {
		address = DefaultMetricsAddress
	}
	return &Metrics{
		httpAddress: address,
		registry:    prometheus.NewRegistry(),
	}
}

func (m *Metrics) Start() {
	m.registry.MustRegister(MetricsItems...)
	go m.serve()
}

func (m *Metrics) serve() {
	router := mux.NewRouter()
	router.Path("/metrics").Handler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	m.httpServer = &http.Server{
		Addr:    m.httpAddress,
		Handler: router,
	}
	if err := m.httpServer.ListenAndServe(); err != nil {
		logging.Logger.Errorf("failed to listen and serve, err=%s", err.Error())
		panic(err)
	}
}
