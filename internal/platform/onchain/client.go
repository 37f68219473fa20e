// Package onchain reads lending and staking protocol indices via JSON-RPC.
package onchain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/domain"
)

// IndexContract describes how to read one receipt token's redemption rate.
type IndexContract struct {
	// Underlying is the asset one unit of the receipt token redeems into.
	Underlying string
	// Address is the contract exposing the rate.
	Address string
	// Method is the view function returning the rate, e.g. "getPooledEthByShares(uint256)"
	// with a fixed 1e18 share argument, or "exchangeRate()".
	Method string
	// Decimals is the fixed-point scale of the returned rate. Lending pools
	// commonly use 27 (ray); staking tokens 18.
	Decimals int
}

// IndexClient reads receipt-token redemption rates from protocol contracts.
type IndexClient struct {
	client    *ethclient.Client
	contracts map[string]IndexContract // keyed by receipt asset symbol
}

// Dial connects to the JSON-RPC endpoint and returns an IndexClient for the
// configured contracts.
func Dial(ctx context.Context, rpcURL string, contracts map[string]IndexContract) (*IndexClient, error) {
	if len(contracts) == 0 {
		return nil, fmt.Errorf("onchain: no index contracts configured")
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("onchain: dial %s: %w", rpcURL, err)
	}
	return &IndexClient{client: client, contracts: contracts}, nil
}

// NewIndexClient wraps an existing connection, for tests.
func NewIndexClient(client *ethclient.Client, contracts map[string]IndexContract) *IndexClient {
	return &IndexClient{client: client, contracts: contracts}
}

// FetchIndex reads the current redemption rate for the given receipt asset.
func (c *IndexClient) FetchIndex(ctx context.Context, asset string) (domain.ProtocolIndex, error) {
	contract, ok := c.contracts[asset]
	if !ok {
		return domain.ProtocolIndex{}, fmt.Errorf("onchain: %s: %w", asset, domain.ErrUnknownAsset)
	}

	addr := common.HexToAddress(contract.Address)
	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := c.client.CallContract(callCtx, ethereum.CallMsg{
		To:   &addr,
		Data: callData(contract.Method),
	}, nil)
	if err != nil {
		return domain.ProtocolIndex{}, fmt.Errorf("onchain: call %s on %s: %w", contract.Method, contract.Address, err)
	}
	if len(out) < 32 {
		return domain.ProtocolIndex{}, fmt.Errorf("onchain: %s returned %d bytes, want 32", contract.Method, len(out))
	}

	rate := scaleRate(new(big.Int).SetBytes(out[:32]), contract.Decimals)
	if rate <= 0 {
		return domain.ProtocolIndex{}, fmt.Errorf("onchain: %s: non-positive rate", asset)
	}

	return domain.ProtocolIndex{Underlying: contract.Underlying, Rate: rate}, nil
}

// Assets returns the receipt asset symbols this client can resolve.
func (c *IndexClient) Assets() []string {
	out := make([]string, 0, len(c.contracts))
	for asset := range c.contracts {
		out = append(out, asset)
	}
	return out
}

// Close releases the underlying RPC connection.
func (c *IndexClient) Close() {
	c.client.Close()
}

// callData builds the eth_call input for a view method. Methods taking a
// uint256 argument are called with 1e18, the conventional one-share probe.
func callData(method string) []byte {
	selector := ethcrypto.Keccak256([]byte(method))[:4]
	if !hasArg(method) {
		return selector
	}

	arg := make([]byte, 32)
	oneShare := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	oneShare.FillBytes(arg)
	return append(selector, arg...)
}

func hasArg(method string) bool {
	for i := 0; i < len(method)-1; i++ {
		if method[i] == '(' {
			return method[i+1] != ')'
		}
	}
	return false
}

// scaleRate converts a fixed-point integer rate to a float64 fraction.
func scaleRate(raw *big.Int, decimals int) float64 {
	if decimals <= 0 {
		decimals = 18
	}
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	out, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), scale).Float64()
	return out
}
