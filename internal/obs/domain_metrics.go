package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// OrdersCreatedTotal counts POS order creation outcomes.
	OrdersCreatedTotal *prometheus.CounterVec
	// OrdersCancelledTotal counts order cancellations.
	OrdersCancelledTotal prometheus.Counter
	// PaymentsConfirmedTotal counts payment confirmations by resulting status.
	PaymentsConfirmedTotal *prometheus.CounterVec
	// StockMovementsTotal counts recorded stock movements by type and reason.
	StockMovementsTotal *prometheus.CounterVec
	// BarcodeScanTotal counts barcode lookups by result.
	BarcodeScanTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		OrdersCreatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Count of POS order creation attempts by result.",
		}, []string{"result"})
		OrdersCancelledTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_cancelled_total",
			Help:      "Count of cancelled POS orders.",
		})
		PaymentsConfirmedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_confirmed_total",
			Help:      "Count of payment confirmations by resulting status.",
		}, []string{"status"})
		StockMovementsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_movements_total",
			Help:      "Count of recorded stock movements by type and reason.",
		}, []string{"type", "reason"})
		BarcodeScanTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barcode_scan_total",
			Help:      "Count of barcode lookups by result.",
		}, []string{"result"})

		reg.MustRegister(
			OrdersCreatedTotal,
			OrdersCancelledTotal,
			PaymentsConfirmedTotal,
			StockMovementsTotal,
			BarcodeScanTotal,
		)
	})
}
