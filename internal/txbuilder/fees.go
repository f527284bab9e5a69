package txbuilder

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/flyingMooncake/nft-Chess/internal/contract"
)

type FeeMode string

const (
	FeeModeLegacy  FeeMode = "legacy"
	FeeModeDynamic FeeMode = "dynamic"
)

type EstimatorConfig struct {
	Mode               FeeMode
	GasLimitMultiplier float64
	MaxFeeMultiplier   float64
	MinPriorityFeeWei  *big.Int
}

// Estimate is the resource budget for one transaction.
type Estimate struct {
	GasLimit uint64
	// GasPrice is the legacy gas price, or the max fee per gas when TipCap
	// is set.
	GasPrice *big.Int
	TipCap   *big.Int
}

func (e Estimate) Dynamic() bool {
	return e.TipCap != nil
}

// FeeCeiling is the most the transaction can be charged.
func (e Estimate) FeeCeiling() *big.Int {
	if e.GasPrice == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Mul(new(big.Int).SetUint64(e.GasLimit), e.GasPrice)
}

type Estimator struct {
	client ChainClient
	cfg    EstimatorConfig
}

func NewEstimator(client ChainClient, cfg EstimatorConfig) *Estimator {
	if cfg.Mode == "" {
		cfg.Mode = FeeModeLegacy
	}
	if cfg.GasLimitMultiplier <= 0 {
		cfg.GasLimitMultiplier = 1.2
	}
	if cfg.MaxFeeMultiplier <= 0 {
		cfg.MaxFeeMultiplier = 2.0
	}
	return &Estimator{client: client, cfg: cfg}
}

// Estimate prices the call and simulates it from the sender. Failures are
// returned as *EstimationError; no default budget is ever substituted.
func (e *Estimator) Estimate(ctx context.Context, call *contract.PendingCall, from common.Address) (Estimate, error) {
	if e.client == nil {
		return Estimate{}, errors.New("estimator client is nil")
	}
	if call == nil {
		return Estimate{}, errors.New("pending call is nil")
	}
	price, tip, err := e.prices(ctx)
	if err != nil {
		return Estimate{}, &EstimationError{Stage: StagePrice, Method: call.Method, Err: err}
	}
	to := call.Contract
	msg := ethereum.CallMsg{
		From:  from,
		To:    &to,
		Value: call.Value,
		Data:  call.Data,
	}
	if tip != nil {
		msg.GasFeeCap = price
		msg.GasTipCap = tip
	}
	gas, err := e.client.EstimateGas(ctx, msg)
	if err != nil {
		return Estimate{}, &EstimationError{Stage: StageSimulate, Method: call.Method, CallMsg: msg, Err: err}
	}
	return Estimate{
		GasLimit: applyGasMultiplier(gas, e.cfg.GasLimitMultiplier),
		GasPrice: price,
		TipCap:   tip,
	}, nil
}

func (e *Estimator) prices(ctx context.Context) (*big.Int, *big.Int, error) {
	if e.cfg.Mode != FeeModeDynamic {
		price, err := e.client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, nil, err
		}
		return price, nil, nil
	}
	baseFee, err := e.fetchBaseFee(ctx)
	if err != nil {
		return nil, nil, err
	}
	tip, err := e.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, err
	}
	if e.cfg.MinPriorityFeeWei != nil && tip.Cmp(e.cfg.MinPriorityFeeWei) < 0 {
		tip = new(big.Int).Set(e.cfg.MinPriorityFeeWei)
	}
	maxFee := new(big.Int).Add(mulFloat(baseFee, e.cfg.MaxFeeMultiplier), tip)
	return maxFee, tip, nil
}

func (e *Estimator) fetchBaseFee(ctx context.Context) (*big.Int, error) {
	header, err := e.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, err
	}
	if header.BaseFee != nil {
		return new(big.Int).Set(header.BaseFee), nil
	}
	// Fallback for non-EIP-1559 chains: approximate using gas price.
	return e.client.SuggestGasPrice(ctx)
}

// applyGasMultiplier scales gas by mult, rounding up. The multiplier is
// taken at its shortest decimal form so 1.2 means exactly 1.2.
func applyGasMultiplier(gas uint64, mult float64) uint64 {
	if mult <= 1 {
		return gas
	}
	scaled := decimal.NewFromInt(int64(gas)).Mul(decimal.NewFromFloat(mult)).Ceil()
	if !scaled.BigInt().IsUint64() {
		return gas
	}
	adjusted := scaled.BigInt().Uint64()
	if adjusted < gas {
		return gas
	}
	return adjusted
}

func mulFloat(v *big.Int, f float64) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	if f == 1.0 {
		return new(big.Int).Set(v)
	}
	r := new(big.Rat).SetInt(v)
	r.Mul(r, new(big.Rat).SetFloat64(f))
	out := new(big.Int)
	out.Div(r.Num(), r.Denom())
	return out
}

func GweiToWei(gwei float64) (*big.Int, error) {
	if gwei < 0 {
		return nil, errors.New("gwei must be non-negative")
	}
	v := new(big.Rat).SetFloat64(gwei)
	v.Mul(v, new(big.Rat).SetInt(big.NewInt(1_000_000_000)))
	out := new(big.Int)
	out.Div(v.Num(), v.Denom())
	return out, nil
}
