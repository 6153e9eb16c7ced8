package types

import "time"

// DateLayout is the format of the last_update attribute on the exposed
// measurement.
const DateLayout = "2006-01-02"

// Reading is the single most recent odometer total.
type Reading struct {
	// Value is the total kilometers driven. Zero is a valid reading.
	Value float64 `json:"value"`

	// ObservedAt is the date reported by the upstream, or the local fetch
	// time when the upstream did not report one.
	ObservedAt time.Time `json:"observed_at"`

	// DateReported is false when ObservedAt was filled from the fetch time.
	DateReported bool `json:"date_reported"`

	// FetchedAt is when the agent retrieved this reading.
	FetchedAt time.Time `json:"fetched_at"`
}

// LastUpdate returns ObservedAt formatted as YYYY-MM-DD.
func (r Reading) LastUpdate() string {
	return r.ObservedAt.Format(DateLayout)
}

// CoordinatorState is the polling coordinator's lifecycle state.
type CoordinatorState string

const (
	StateIdle     CoordinatorState = "idle"
	StateFetching CoordinatorState = "fetching"
	StateErrored  CoordinatorState = "errored"
)

// ErrorKind classifies a failed refresh.
type ErrorKind string

const (
	// ErrorAuthentication means the upstream rejected the credentials.
	// It is not expected to heal without reconfiguration.
	ErrorAuthentication ErrorKind = "authentication"

	// ErrorTransport means the upstream was unreachable or answered with an
	// unexpected status. Expected to heal on a later tick.
	ErrorTransport ErrorKind = "transport"

	// ErrorDataFormat means the upstream answered but the page could not be
	// parsed.
	ErrorDataFormat ErrorKind = "data_format"
)

// ErrorKinds lists every kind in a stable order, for metrics output.
var ErrorKinds = []ErrorKind{ErrorAuthentication, ErrorTransport, ErrorDataFormat}

// FetchError is the record of the most recent failed refresh.
type FetchError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Status is a point-in-time view of the polling coordinator, for
// diagnostics surfaces.
type Status struct {
	State   CoordinatorState `json:"state"`
	Reading *Reading         `json:"reading,omitempty"`

	// Stale is true when a reading exists but the latest refresh failed.
	Stale bool `json:"stale"`

	LastError           *FetchError       `json:"last_error,omitempty"`
	LastAttempt         time.Time         `json:"last_attempt"`
	LastSuccess         time.Time         `json:"last_success"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	ErrorCounts         map[ErrorKind]int `json:"error_counts"`
	IntervalMinutes     int               `json:"interval_minutes"`

	// UptimePct is the share of the last RecentAttempts refreshes that
	// succeeded.
	UptimePct      float64 `json:"uptime_pct"`
	RecentAttempts int     `json:"recent_attempts"`
}

// CertStatus describes the upstream portal's TLS leaf certificate.
type CertStatus struct {
	Endpoint string `json:"endpoint"`

	// Status is "valid", "expiring" (30 days or fewer left), "expired" or
	// "unreachable".
	Status   string `json:"status"`
	DaysLeft int32  `json:"days_left"`
	Issuer   string `json:"issuer,omitempty"`
	NotAfter string `json:"not_after,omitempty"` // RFC3339
}

// Fixed identity of the published measurement.
const (
	MeasurementName = "total_kilometers"
	MeasurementUnit = "km"
	MeasurementIcon = "mdi:car"
	FriendlyName    = "OCTO Total Kilometers"
	uniqueIDPrefix  = "octo_total_km_"
)

// Fixed identity of the device the measurement belongs to.
const (
	DeviceDomain       = "octotelematics"
	DeviceName         = "OCTO Telematics Vehicle"
	DeviceManufacturer = "OCTO Telematics"
)

// UniqueID returns the stable identifier of the measurement for username.
func UniqueID(username string) string {
	return uniqueIDPrefix + username
}

// Device describes the vehicle behind the measurement so consumers can group
// entities. Each identifier is a [domain, id] pair.
type Device struct {
	Identifiers  [][2]string `json:"identifiers"`
	Name         string      `json:"name"`
	Manufacturer string      `json:"manufacturer"`
}

// DeviceFor returns the device registered for the portal account username.
func DeviceFor(username string) Device {
	return Device{
		Identifiers:  [][2]string{{DeviceDomain, username}},
		Name:         DeviceName,
		Manufacturer: DeviceManufacturer,
	}
}

// Measurement is the published total_kilometers sensor.
type Measurement struct {
	Name string `json:"name"`

	// State is the reading in km, null before the first successful fetch.
	State *float64 `json:"state"`
	Unit  string   `json:"unit"`

	// Available is false only when no reading has ever succeeded.
	Available bool `json:"available"`

	// Stale is true when the value is kept from before a failed refresh.
	Stale bool `json:"stale"`

	Attributes   MeasurementAttributes `json:"attributes"`
	Icon         string                `json:"icon"`
	FriendlyName string                `json:"friendly_name"`
	UniqueID     string                `json:"unique_id"`
	Device       Device                `json:"device"`
}

// MeasurementAttributes are the extra attributes carried with the state.
type MeasurementAttributes struct {
	// LastUpdate is the reading's ObservedAt as YYYY-MM-DD.
	LastUpdate string `json:"last_update,omitempty"`
}
