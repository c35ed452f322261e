package payments

import (
	"context"

	"github.com/example/ehailing/internal/models"
)

type TransferArgs struct {
	ToUID    string  `json:"toUid"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Note     string  `json:"note,omitempty"`
}

func (o *Orchestrator) TransferFunds(ctx context.Context, args TransferArgs) (string, error) {
	if args.Amount <= 0 {
		return "", ErrInvalidAmount
	}
	if args.Currency == "" {
		args.Currency = "ZAR"
	}
	var out struct {
		Status string `json:"status"`
	}
	if err := o.Calls.Call(ctx, "transferFunds", args, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

func (o *Orchestrator) GetWalletBalance(ctx context.Context) (models.Wallet, error) {
	var w models.Wallet
	err := o.Calls.Call(ctx, "getWalletBalance", struct{}{}, &w)
	return w, err
}

func (o *Orchestrator) GetTransactions(ctx context.Context, limit int, cursor string) (models.TransactionPage, error) {
	if limit <= 0 {
		limit = 20
	}
	req := map[string]interface{}{"limit": limit}
	if cursor != "" {
		req["cursor"] = cursor
	}
	var page models.TransactionPage
	err := o.Calls.Call(ctx, "getTransactions", req, &page)
	return page, err
}
