// Package certcheck inspects the TLS certificate of the upstream health URL.
//
// Check(ctx, endpoint, tlsCfg) dials the endpoint once and classifies the leaf
// certificate as valid, expiring (30 days or less), expired, or unreachable.
// Monitor repeats the check on a fixed interval, keeps the latest result for
// the REST API and exports the expiry time as a metric.
package certcheck
