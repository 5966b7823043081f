// Package normalize converts raw transaction payloads into fully populated
// records before any rule runs. Policy: numeric fields with domain
// constraints are rejected when out of range; enum-like string fields are
// permissive, with unrecognized values carried through unscored.
package normalize

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Normalize validates a TransactionInput and fills every optional field
// with its documented default. It never fails for a missing optional
// field; it fails with ErrInvalidInput when transaction_id is absent or a
// constrained field holds an out-of-domain value.
func Normalize(in *domain.TransactionInput) (*domain.NormalizedTransaction, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: request body is required", domain.ErrInvalidInput)
	}
	if in.TransactionID == nil {
		return nil, fmt.Errorf("%w: transaction_id is required", domain.ErrInvalidInput)
	}
	if in.AmountMXN < 0 {
		return nil, fmt.Errorf("%w: amount_mxn must be non-negative, got %v", domain.ErrInvalidInput, in.AmountMXN)
	}
	if in.CustomerTxn30d < 0 {
		return nil, fmt.Errorf("%w: customer_txn_30d must be non-negative, got %d", domain.ErrInvalidInput, in.CustomerTxn30d)
	}
	if in.ChargebackCnt < 0 {
		return nil, fmt.Errorf("%w: chargeback_count must be non-negative, got %d", domain.ErrInvalidInput, in.ChargebackCnt)
	}
	if in.LatencyMs < 0 {
		return nil, fmt.Errorf("%w: latency_ms must be non-negative, got %d", domain.ErrInvalidInput, in.LatencyMs)
	}

	hour := domain.HourUnset
	if in.Hour != nil {
		if *in.Hour < 0 || *in.Hour > 23 {
			return nil, fmt.Errorf("%w: hour must be within 0-23, got %d", domain.ErrInvalidInput, *in.Hour)
		}
		hour = *in.Hour
	}

	return &domain.NormalizedTransaction{
		TransactionID:  *in.TransactionID,
		AmountMXN:      in.AmountMXN,
		CustomerTxn30d: in.CustomerTxn30d,
		GeoState:       in.GeoState,
		DeviceType:     in.DeviceType,
		ChargebackCnt:  in.ChargebackCnt,
		Hour:           hour,
		ProductType:    in.ProductType,
		LatencyMs:      in.LatencyMs,

		UserReputation:        defaultString(in.UserReputation, domain.ReputationNew),
		DeviceFingerprintRisk: defaultString(in.DeviceFingerprintRisk, domain.RiskLow),
		IPRisk:                defaultString(in.IPRisk, domain.RiskLow),
		EmailRisk:             defaultString(in.EmailRisk, domain.RiskLow),

		BinCountry: in.BinCountry,
		IPCountry:  in.IPCountry,
	}, nil
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
