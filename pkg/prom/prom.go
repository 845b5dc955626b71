package prom

import (
	"fmt"
	"sync"

	xhttp "github.com/nimasrn/payment-reconciler/pkg/http"
	"github.com/nimasrn/payment-reconciler/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

const (
	SystemPayment = "payment"
	SystemGateway = "gateway"
	SystemWebhook = "webhook"
	SystemRelay   = "relay"
)

const (
	MetricChargesTotal         = "charges_total"
	MetricTransitionsTotal     = "transitions_total"
	MetricGatewayCallDuration  = "call_duration_seconds"
	MetricNotificationsTotal   = "notifications_total"
	MetricRelayDeliveriesTotal = "deliveries_total"
	MetricRelayInFlight        = "in_flight"
)

const (
	TypeCounterVec   = "counterVec"
	TypeHistogramVec = "histogramVec"
	TypeGaugeVec     = "gaugeVec"
)

var (
	mu        sync.RWMutex
	namespace = "none"
	enabled   bool
	registry  = prometheus.NewRegistry()

	counterVecs   = make(map[string]*prometheus.CounterVec)
	gaugeVecs     = make(map[string]*prometheus.GaugeVec)
	histogramVecs = make(map[string]*prometheus.HistogramVec)

	defaultLabels prometheus.Labels
)

// Create registers the service metrics. Until it is called every helper is a no-op.
func Create(host string, env string, nameSpace string) error {
	mu.Lock()
	defaultLabels = prometheus.Labels{"env": env, "instance": host}
	namespace = nameSpace
	registry = prometheus.NewRegistry()
	counterVecs = make(map[string]*prometheus.CounterVec)
	gaugeVecs = make(map[string]*prometheus.GaugeVec)
	histogramVecs = make(map[string]*prometheus.HistogramVec)
	enabled = true
	mu.Unlock()

	var err error
	hasError := func(e error) {
		if err == nil && e != nil {
			err = e
		}
	}

	hasError(registry.Register(collectors.NewGoCollector()))
	hasError(CreateMetric(TypeCounterVec, SystemPayment, MetricChargesTotal, "kind", "outcome"))
	hasError(CreateMetric(TypeCounterVec, SystemPayment, MetricTransitionsTotal, "from", "to"))
	hasError(CreateMetric(TypeHistogramVec, SystemGateway, MetricGatewayCallDuration, "operation", "outcome"))
	hasError(CreateMetric(TypeCounterVec, SystemWebhook, MetricNotificationsTotal, "transaction_status", "outcome"))
	hasError(CreateMetric(TypeCounterVec, SystemRelay, MetricRelayDeliveriesTotal, "event", "outcome"))
	hasError(CreateMetric(TypeGaugeVec, SystemRelay, MetricRelayInFlight, "stream"))

	return err
}

func CreateMetric(metricType, subsystem, name string, labels ...string) error {
	mu.Lock()
	defer mu.Unlock()

	key := subsystem + name
	switch metricType {
	case TypeCounterVec:
		v := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, ConstLabels: defaultLabels,
			Help: fmt.Sprintf("%s %s", subsystem, name),
		}, labels)
		counterVecs[key] = v
		return registry.Register(v)
	case TypeGaugeVec:
		v := prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, ConstLabels: defaultLabels,
			Help: fmt.Sprintf("%s %s", subsystem, name),
		}, labels)
		gaugeVecs[key] = v
		return registry.Register(v)
	case TypeHistogramVec:
		v := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, ConstLabels: defaultLabels,
			Help:    fmt.Sprintf("%s %s", subsystem, name),
			Buckets: prometheus.DefBuckets,
		}, labels)
		histogramVecs[key] = v
		return registry.Register(v)
	}
	return fmt.Errorf("metric type %s is not defined", metricType)
}

// Gatherer exposes the registry for tests and custom exporters.
func Gatherer() prometheus.Gatherer {
	mu.RLock()
	defer mu.RUnlock()
	return registry
}

func ListenAndServer(addr string, url string) error {
	handler := fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(Gatherer(), promhttp.HandlerOpts{}))
	s := xhttp.CreateServer()
	s.GET(url, handler)
	logger.Info("[metrics-server] listening", "addr", addr, "url", url)
	return s.ListenAndServe(addr)
}

func AddCounterVec(subsystem, name string, num float64, labelValues ...string) {
	mu.RLock()
	defer mu.RUnlock()
	if !enabled {
		return
	}
	if v, ok := counterVecs[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Add(num)
		return
	}
	logger.Warn("[metrics-server] counter vec not found", "subsystem", subsystem, "name", name)
}

func IncCounterVec(subsystem, name string, labelValues ...string) {
	AddCounterVec(subsystem, name, 1, labelValues...)
}

func AddGaugeVec(subsystem, name string, num float64, labelValues ...string) {
	mu.RLock()
	defer mu.RUnlock()
	if !enabled {
		return
	}
	if v, ok := gaugeVecs[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Add(num)
		return
	}
	logger.Warn("[metrics-server] gauge vec not found", "subsystem", subsystem, "name", name)
}

func AddHistogramVec(subsystem, name string, number float64, labelValues ...string) {
	mu.RLock()
	defer mu.RUnlock()
	if !enabled {
		return
	}
	if v, ok := histogramVecs[subsystem+name]; ok {
		v.WithLabelValues(labelValues...).Observe(number)
		return
	}
	logger.Warn("[metrics-server] histogram vec not found", "subsystem", subsystem, "name", name)
}

func IncCharge(kind, outcome string) {
	IncCounterVec(SystemPayment, MetricChargesTotal, kind, outcome)
}

func IncTransition(from, to string) {
	IncCounterVec(SystemPayment, MetricTransitionsTotal, from, to)
}

func ObserveGatewayCall(operation, outcome string, seconds float64) {
	AddHistogramVec(SystemGateway, MetricGatewayCallDuration, seconds, operation, outcome)
}

func IncNotification(transactionStatus, outcome string) {
	IncCounterVec(SystemWebhook, MetricNotificationsTotal, transactionStatus, outcome)
}

func IncRelayDelivery(event, outcome string) {
	IncCounterVec(SystemRelay, MetricRelayDeliveriesTotal, event, outcome)
}

// AddRelayInFlight moves the number of events a relay worker is delivering by delta.
func AddRelayInFlight(stream string, delta float64) {
	AddGaugeVec(SystemRelay, MetricRelayInFlight, delta, stream)
}
