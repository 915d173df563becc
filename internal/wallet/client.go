package wallet

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"

	gwerrors "github.com/wallet-gateway/internal/errors"
	"github.com/wallet-gateway/internal/types"
)

// walletErrInsufficientFunds is the error code the wallet backend returns
// when an account cannot cover amount plus fee.
const walletErrInsufficientFunds = -6

// Client talks JSON-RPC to the wallet service.
type Client struct {
	rpc *rpc.Client
}

var _ Backend = (*Client)(nil)

// Dial connects to the wallet RPC endpoint.
func Dial(ctx context.Context, url string) (*Client, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to wallet RPC: %w", err)
	}
	return &Client{rpc: c}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.rpc.Close()
}

// Ping checks that the wallet RPC endpoint answers.
func (c *Client) Ping(ctx context.Context) error {
	var info AddressInfo
	// validateaddress on the empty string is cheap and side-effect free.
	return c.rpc.CallContext(ctx, &info, "validateaddress", "")
}

func (c *Client) ValidateAddress(ctx context.Context, address string) (AddressInfo, error) {
	var info addressInfoResult
	if err := c.rpc.CallContext(ctx, &info, "validateaddress", address); err != nil {
		return AddressInfo{}, fmt.Errorf("wallet validateaddress: %w", err)
	}
	return AddressInfo{
		IsValid: info.IsValid,
		Address: info.Address,
		IsMine:  info.IsMine,
		Account: info.Account,
	}, nil
}

func (c *Client) Balance(ctx context.Context, account types.Identity) (types.Amount, error) {
	var balance types.Amount
	if err := c.rpc.CallContext(ctx, &balance, "getbalance", string(account)); err != nil {
		return 0, fmt.Errorf("wallet getbalance: %w", err)
	}
	return balance, nil
}

func (c *Client) ReceivedByAccount(ctx context.Context, account types.Identity) (types.Amount, error) {
	var received types.Amount
	if err := c.rpc.CallContext(ctx, &received, "getreceivedbyaccount", string(account)); err != nil {
		return 0, fmt.Errorf("wallet getreceivedbyaccount: %w", err)
	}
	return received, nil
}

func (c *Client) ReceivedByAddress(ctx context.Context, address string) (types.Amount, error) {
	var received types.Amount
	if err := c.rpc.CallContext(ctx, &received, "getreceivedbyaddress", address); err != nil {
		return 0, fmt.Errorf("wallet getreceivedbyaddress: %w", err)
	}
	return received, nil
}

func (c *Client) AddressesByAccount(ctx context.Context, account types.Identity) ([]string, error) {
	var addresses []string
	if err := c.rpc.CallContext(ctx, &addresses, "getaddressesbyaccount", string(account)); err != nil {
		return nil, fmt.Errorf("wallet getaddressesbyaccount: %w", err)
	}
	return addresses, nil
}

func (c *Client) NewAddress(ctx context.Context, account types.Identity) (string, error) {
	var address string
	if err := c.rpc.CallContext(ctx, &address, "getnewaddress", string(account)); err != nil {
		return "", fmt.Errorf("wallet getnewaddress: %w", err)
	}
	return address, nil
}

func (c *Client) SetAccountLabel(ctx context.Context, address string, account types.Identity) error {
	if err := c.rpc.CallContext(ctx, nil, "setaccount", address, string(account)); err != nil {
		return fmt.Errorf("wallet setaccount: %w", err)
	}
	return nil
}

func (c *Client) SendFrom(ctx context.Context, from types.Identity, toAddress string, amount types.Amount, minConf int, comment string) (string, error) {
	var txid string
	err := c.rpc.CallContext(ctx, &txid, "sendfrom", string(from), toAddress, amount, minConf, comment)
	if err != nil {
		return "", transferError("sendfrom", err)
	}
	return txid, nil
}

func (c *Client) Move(ctx context.Context, from, to types.Identity, amount types.Amount, minConf int, comment string) (bool, error) {
	var moved bool
	err := c.rpc.CallContext(ctx, &moved, "move", string(from), string(to), amount, minConf, comment)
	if err != nil {
		return false, transferError("move", err)
	}
	return moved, nil
}

func (c *Client) ListTransactions(ctx context.Context, account types.Identity, count int) ([]Transaction, error) {
	var items []transactionResult
	var err error
	if count > 0 {
		err = c.rpc.CallContext(ctx, &items, "listtransactions", string(account), count)
	} else {
		err = c.rpc.CallContext(ctx, &items, "listtransactions", string(account))
	}
	if err != nil {
		return nil, fmt.Errorf("wallet listtransactions: %w", err)
	}
	transactions := make([]Transaction, 0, len(items))
	for _, item := range items {
		transactions = append(transactions, Transaction{
			TxID:          item.TxID,
			Category:      types.TxCategory(item.Category),
			Amount:        item.Amount,
			Fee:           item.Fee,
			Comment:       item.Comment,
			OtherAccount:  item.OtherAccount,
			Confirmations: item.Confirmations,
			Time:          item.Time,
		})
	}
	return transactions, nil
}

// transferError maps wallet refusals on sendfrom/move to the gateway error
// taxonomy: insufficient funds is distinguished, everything else becomes a
// generic payment failure carrying the backend's message.
func transferError(method string, err error) error {
	var rpcErr rpc.Error
	if stderrors.As(err, &rpcErr) {
		if rpcErr.ErrorCode() == walletErrInsufficientFunds {
			return gwerrors.Wrap(gwerrors.ErrInsufficientFunds, err)
		}
		return gwerrors.WithMessage(gwerrors.ErrPayment, "wallet %s refused: %s", method, rpcErr.Error())
	}
	return gwerrors.Wrap(gwerrors.ErrPayment, fmt.Errorf("wallet %s: %w", method, err))
}

// Wire shapes of the wallet's JSON-RPC results.

type addressInfoResult struct {
	IsValid bool   `json:"isvalid"`
	Address string `json:"address"`
	IsMine  bool   `json:"ismine"`
	Account string `json:"account"`
}

type transactionResult struct {
	TxID          string       `json:"txid"`
	Category      string       `json:"category"`
	Amount        types.Amount `json:"amount"`
	Fee           types.Amount `json:"fee"`
	Comment       string       `json:"comment"`
	OtherAccount  string       `json:"otheraccount"`
	Confirmations int          `json:"confirmations"`
	Time          int64        `json:"time"`
}
