package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Contract entry points, matching the deployed board contract and the
// gating ERC-721.
const feedbackABIJSON = `[
	{"type":"function","name":"sendFeedback","stateMutability":"nonpayable","inputs":[
		{"name":"merkleTreeDepth","type":"uint256"},
		{"name":"merkleTreeRoot","type":"uint256"},
		{"name":"nullifier","type":"uint256"},
		{"name":"feedback","type":"uint256"},
		{"name":"scope","type":"uint256"},
		{"name":"points","type":"uint256[8]"}],"outputs":[]},
	{"type":"function","name":"addMemberAdmin","stateMutability":"nonpayable","inputs":[
		{"name":"identityCommitment","type":"uint256"}],"outputs":[]}
]`

const erc721ABIJSON = `[
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[
		{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

// receiptPollInterval is how often an in-flight transaction is polled for
// inclusion.
const receiptPollInterval = 500 * time.Millisecond

// ContractClient implements Client against a JSON-RPC node using a single
// relayer key. All writes flow through an internal Sequencer.
type ContractClient struct {
	eth      *ethclient.Client
	key      *ecdsa.PrivateKey
	from     common.Address
	chainID  *big.Int
	feedback common.Address
	nft      common.Address

	feedbackABI abi.ABI
	erc721ABI   abi.ABI

	seq *Sequencer
	log *slog.Logger
}

// NewContractClient dials the node, fetches the chain id, and binds the
// relayer key to the deployed contract addresses.
func NewContractClient(ctx context.Context, rpcURL string, relayerKey *ecdsa.PrivateKey, feedbackAddr, nftAddr common.Address, log *slog.Logger) (*ContractClient, error) {
	if relayerKey == nil {
		return nil, errors.New("relayer key is required")
	}

	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", rpcURL, err)
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching chain id: %w", err)
	}

	fbABI, err := abi.JSON(strings.NewReader(feedbackABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parsing feedback ABI: %w", err)
	}
	nftABI, err := abi.JSON(strings.NewReader(erc721ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parsing erc721 ABI: %w", err)
	}

	return &ContractClient{
		eth:         eth,
		key:         relayerKey,
		from:        ethcrypto.PubkeyToAddress(relayerKey.PublicKey),
		chainID:     chainID,
		feedback:    feedbackAddr,
		nft:         nftAddr,
		feedbackABI: fbABI,
		erc721ABI:   nftABI,
		seq:         NewSequencer(),
		log:         log,
	}, nil
}

// ChainID returns the connected chain's id.
func (c *ContractClient) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// RelayerAddress returns the address transactions are sent from.
func (c *ContractClient) RelayerAddress() common.Address {
	return c.from
}

// NFTBalance queries balanceOf(owner) on the gating token.
func (c *ContractClient) NFTBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	input, err := c.erc721ABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("packing balanceOf: %w", err)
	}

	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.nft, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("calling balanceOf: %w", err)
	}

	results, err := c.erc721ABI.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("unpacking balanceOf: %w", err)
	}
	balance, ok := results[0].(*big.Int)
	if !ok {
		return nil, errors.New("unexpected balanceOf return type")
	}
	return balance, nil
}

// AddMember submits addMemberAdmin(identityCommitment) and waits for
// inclusion.
func (c *ContractClient) AddMember(ctx context.Context, identityCommitment *big.Int) (*Receipt, error) {
	input, err := c.feedbackABI.Pack("addMemberAdmin", identityCommitment)
	if err != nil {
		return nil, fmt.Errorf("packing addMemberAdmin: %w", err)
	}
	return c.transact(ctx, c.feedback, input)
}

// SubmitProof submits sendFeedback with the bundle's fields in contract
// order and waits for inclusion.
func (c *ContractClient) SubmitProof(ctx context.Context, bundle *ProofBundle) (*Receipt, error) {
	if err := bundle.Validate(); err != nil {
		return nil, err
	}
	input, err := c.feedbackABI.Pack("sendFeedback",
		bundle.MerkleTreeDepth,
		bundle.MerkleTreeRoot,
		bundle.Nullifier,
		bundle.Message,
		bundle.Scope,
		bundle.Points,
	)
	if err != nil {
		return nil, fmt.Errorf("packing sendFeedback: %w", err)
	}
	return c.transact(ctx, c.feedback, input)
}

// transact estimates, signs, broadcasts through the sequencer, and waits
// for one confirmation. Gas estimation doubles as a cheap pre-flight: a
// payload the contract would reject reverts here without costing a
// transaction.
func (c *ContractClient) transact(ctx context.Context, to common.Address, input []byte) (*Receipt, error) {
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggesting gas price: %w", err)
	}

	msg := ethereum.CallMsg{From: c.from, To: &to, Data: input}
	gasLimit, err := c.eth.EstimateGas(ctx, msg)
	if err != nil {
		if reason, ok := revertReason(err); ok {
			return nil, &RevertError{Reason: reason}
		}
		return nil, fmt.Errorf("estimating gas: %w", err)
	}

	var txHash common.Hash
	_, err = c.seq.Submit(ctx,
		func(ctx context.Context) (uint64, error) {
			return c.eth.PendingNonceAt(ctx, c.from)
		},
		func(nonce uint64) error {
			tx := types.NewTransaction(nonce, to, new(big.Int), gasLimit, gasPrice, input)
			signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
			if err != nil {
				return fmt.Errorf("signing transaction: %w", err)
			}
			txHash = signed.Hash()
			return c.eth.SendTransaction(ctx, signed)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("broadcasting transaction: %w", err)
	}

	c.log.Debug("transaction broadcast", "tx", txHash.Hex(), "to", to.Hex())
	return c.waitMined(ctx, txHash, msg)
}

// waitMined polls for the receipt until ctx is done. A failed receipt is
// replayed as a call at the inclusion block to recover the revert reason.
func (c *ContractClient) waitMined(ctx context.Context, txHash common.Hash, msg ethereum.CallMsg) (*Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, txHash)
		if err == nil {
			if receipt.Status == types.ReceiptStatusFailed {
				reason := "transaction reverted"
				if _, callErr := c.eth.CallContract(ctx, msg, receipt.BlockNumber); callErr != nil {
					if r, ok := revertReason(callErr); ok {
						reason = r
					}
				}
				return nil, &RevertError{Reason: reason}
			}
			return &Receipt{TxHash: txHash, BlockNumber: receipt.BlockNumber.Uint64()}, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("fetching receipt: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for tx %s: %w", txHash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// revertReason extracts the human-readable reason from a node error if the
// error represents an execution revert.
func revertReason(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	s := err.Error()
	if !strings.Contains(strings.ToLower(s), "revert") {
		return "", false
	}
	if i := strings.Index(s, "execution reverted"); i >= 0 {
		reason := strings.TrimPrefix(s[i:], "execution reverted")
		reason = strings.TrimLeft(reason, ": ")
		if reason != "" {
			return reason, true
		}
		return "execution reverted", true
	}
	return s, true
}
