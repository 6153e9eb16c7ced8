// Package alerts evaluates threshold rules against the connector's status
// and delivers webhook notifications when they fire or resolve.
package alerts
