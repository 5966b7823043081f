package domain

// Risk level values shared by the ip_risk, device_fingerprint_risk and
// email_risk dimensions. Unrecognized values are carried through unchanged
// and simply contribute no score.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"

	// EmailRiskNewDomain flags an address on a recently registered domain.
	EmailRiskNewDomain = "new_domain"
)

// User reputation values.
const (
	ReputationNew       = "new"
	ReputationRecurrent = "recurrent"
)

// HourUnset marks a transaction whose local hour was not supplied.
const HourUnset = -1

// TransactionInput is the raw request payload for POST /transaction.
// Only transaction_id is required; every other field has a documented
// default applied by the normalizer. Pointer fields distinguish "absent"
// from a legitimate zero value.
type TransactionInput struct {
	TransactionID *int64 `json:"transaction_id"`

	AmountMXN      float64 `json:"amount_mxn"`
	CustomerTxn30d int     `json:"customer_txn_30d"`
	GeoState       string  `json:"geo_state"`
	DeviceType     string  `json:"device_type"`
	ChargebackCnt  int     `json:"chargeback_count"`
	Hour           *int    `json:"hour"`
	ProductType    string  `json:"product_type"`
	LatencyMs      int     `json:"latency_ms"`

	UserReputation        string `json:"user_reputation"`
	DeviceFingerprintRisk string `json:"device_fingerprint_risk"`
	IPRisk                string `json:"ip_risk"`
	EmailRisk             string `json:"email_risk"`

	BinCountry string `json:"bin_country"`
	IPCountry  string `json:"ip_country"`
}

// NormalizedTransaction is a fully populated transaction record. Every
// optional field holds either the caller-supplied value or its default,
// so rules never have to handle absence. Hour is HourUnset (-1) when the
// caller did not provide it.
type NormalizedTransaction struct {
	TransactionID int64

	AmountMXN      float64
	CustomerTxn30d int
	GeoState       string
	DeviceType     string
	ChargebackCnt  int
	Hour           int
	ProductType    string
	LatencyMs      int

	UserReputation        string
	DeviceFingerprintRisk string
	IPRisk                string
	EmailRisk             string

	BinCountry string
	IPCountry  string
}
