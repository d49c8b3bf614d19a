/*
Package metrics exposes Burrow's Prometheus collectors.

All metrics are package-level and registered in init. The cache layer
tracks live records, commits, write operations, TTL evictions, query
durations (labelled by plan kind) and, through IndexProgress, each
index's replay position; the indexing pool tracks run outcomes.

Serve them with the embedded handler:

	go metrics.StartMetricsServer(":9090")

or mount metrics.Handler() on an existing mux. Timer is a small helper
for observing durations into histograms.
*/
package metrics
