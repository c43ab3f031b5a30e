// Package metrics defines the Prometheus collectors exposed by the proxy and
// registrar packages. Handlers are expected to expose them with
// promhttp.Handler, matching the example proxy's /metrics endpoint.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// ProxyForksTotal counts every branch spawned by a Fork. It carries a
	// verdict label, but Fork.Start records every branch as "proxy_to",
	// including branches created for a ProxyRURI verdict.
	ProxyForksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nexsip_proxy_forks_total",
		Help: "Total number of client branches spawned by the proxy forker.",
	}, []string{"verdict"})

	// ProxyBestResponseTotal counts the final response class a Fork settled
	// on after RFC 3261 section 16.7 aggregation.
	ProxyBestResponseTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nexsip_proxy_best_response_total",
		Help: "Final aggregated proxy response, labeled by status class.",
	}, []string{"class"})

	// ProxyLoopDetectedTotal counts requests rejected with 482 due to a
	// matching loop fingerprint.
	ProxyLoopDetectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nexsip_proxy_loop_detected_total",
		Help: "Requests rejected with 482 Loop Detected.",
	})

	// ProxyMaxForwardsExhaustedTotal counts requests rejected with 483
	// because Max-Forwards reached zero.
	ProxyMaxForwardsExhaustedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nexsip_proxy_max_forwards_exhausted_total",
		Help: "Requests rejected with 483 Too Many Hops.",
	})

	// RegistrarBindingsTotal counts REGISTER requests processed, labeled by
	// outcome (bound, removed, rejected).
	RegistrarBindingsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nexsip_registrar_bindings_total",
		Help: "REGISTER requests processed by the registrar, labeled by outcome.",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(
		ProxyForksTotal,
		ProxyBestResponseTotal,
		ProxyLoopDetectedTotal,
		ProxyMaxForwardsExhaustedTotal,
		RegistrarBindingsTotal,
	)
}
