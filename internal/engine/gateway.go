package engine

import "context"

// SettlementGateway confirms that the base-asset leg of a trade has actually
// settled before the engine mutates any market state. A verification failure
// aborts the trade entirely; there is no partial commit to roll back.
type SettlementGateway interface {
	VerifySettlement(ctx context.Context, accountID, settlementRef string) error
}

// SettlementGatewayFunc adapts a function to the SettlementGateway interface.
type SettlementGatewayFunc func(ctx context.Context, accountID, settlementRef string) error

// VerifySettlement calls f.
func (f SettlementGatewayFunc) VerifySettlement(ctx context.Context, accountID, settlementRef string) error {
	return f(ctx, accountID, settlementRef)
}

// ApproveAll accepts every settlement reference. Used when the engine runs
// without an external settlement system, e.g. in simulation.
func ApproveAll() SettlementGateway {
	return SettlementGatewayFunc(func(context.Context, string, string) error {
		return nil
	})
}
