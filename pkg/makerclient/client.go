// Package makerclient provides a client for maker RFQ endpoints.
package makerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/otcdesk/rfq-settler/pkg/logger"
	"github.com/otcdesk/rfq-settler/pkg/models"
)

// Client is the maker-facing surface: price discovery and the last-look
// signature request. A mock stands in for it in tests.
type Client interface {
	// GetPrice requests an indicative quote from a maker endpoint
	GetPrice(ctx context.Context, makerURI string, req *models.QuoteRequest) (*models.Quote, error)
	// Sign asks the maker to commit to the order. A (nil, nil) return means
	// the maker declined; an error means the request itself failed.
	Sign(ctx context.Context, makerURI string, order *models.Order, orderHash string, feeAmount *big.Int) (*models.Signature, error)
}

// HTTPClient is the production maker client
type HTTPClient struct {
	chainID    int64
	txOrigin   string
	httpClient *http.Client
	logger     logger.Logger
}

var _ Client = (*HTTPClient)(nil)

// New creates a maker client with a shared pooled transport. txOrigin is
// the settler's sender address, quoted to makers so they can restrict fills.
func New(chainID int64, txOrigin string, timeout time.Duration, log logger.Logger) *HTTPClient {
	return &HTTPClient{
		chainID:  chainID,
		txOrigin: txOrigin,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: log,
	}
}

type priceRequest struct {
	ChainID    int64  `json:"chainId"`
	MakerToken string `json:"makerToken"`
	TakerToken string `json:"takerToken"`
	SellAmount string `json:"sellAmount,omitempty"`
	BuyAmount  string `json:"buyAmount,omitempty"`
	Taker      string `json:"taker"`
	TxOrigin   string `json:"txOrigin"`
}

type priceResponse struct {
	Order          *models.Order     `json:"order"`
	MakerAmount    string            `json:"makerAmount"`
	TakerAmount    string            `json:"takerAmount"`
	Expiry         int64             `json:"expiry"`
	MakerSignature *models.Signature `json:"makerSignature,omitempty"`
}

func (c *HTTPClient) GetPrice(ctx context.Context, makerURI string, req *models.QuoteRequest) (*models.Quote, error) {
	// The taker buys the maker's token and sells their own
	wire := priceRequest{
		ChainID:    c.chainID,
		MakerToken: req.BuyToken,
		TakerToken: req.SellToken,
		Taker:      req.TakerAddress,
		TxOrigin:   c.txOrigin,
	}
	if req.SellAmount != nil {
		wire.SellAmount = req.SellAmount.String()
	}
	if req.BuyAmount != nil {
		wire.BuyAmount = req.BuyAmount.String()
	}

	var resp priceResponse
	if err := c.post(ctx, makerURI+"/rfqt/v2/price", wire, &resp); err != nil {
		return nil, err
	}

	makerAmount, ok := new(big.Int).SetString(resp.MakerAmount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid maker amount in quote: %s", resp.MakerAmount)
	}
	takerAmount, ok := new(big.Int).SetString(resp.TakerAmount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid taker amount in quote: %s", resp.TakerAmount)
	}

	return &models.Quote{
		MakerURI:       makerURI,
		Order:          resp.Order,
		MakerAmount:    makerAmount,
		TakerAmount:    takerAmount,
		Expiry:         time.Unix(resp.Expiry, 0),
		MakerSignature: resp.MakerSignature,
		FetchedAt:      time.Now(),
	}, nil
}

type signRequest struct {
	Order      *models.Order `json:"order"`
	OrderHash  string        `json:"orderHash"`
	Fee        string        `json:"feeAmount"`
	ExpiryUnix int64         `json:"expiry"`
}

type signResponse struct {
	ProceedWithFill bool              `json:"proceedWithFill"`
	MakerSignature  *models.Signature `json:"makerSignature,omitempty"`
}

func (c *HTTPClient) Sign(ctx context.Context, makerURI string, order *models.Order, orderHash string, feeAmount *big.Int) (*models.Signature, error) {
	wire := signRequest{
		Order:      order,
		OrderHash:  orderHash,
		ExpiryUnix: int64(order.Expiry()),
	}
	if feeAmount != nil {
		wire.Fee = feeAmount.String()
	}

	var resp signResponse
	if err := c.post(ctx, makerURI+"/rfqt/v2/sign", wire, &resp); err != nil {
		return nil, err
	}

	// An OK response without a signature is the maker exercising last look
	if !resp.ProceedWithFill || resp.MakerSignature == nil {
		c.logger.Info("Maker declined to sign order %s", orderHash)
		return nil, nil
	}

	return resp.MakerSignature, nil
}

func (c *HTTPClient) post(ctx context.Context, url string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("maker request failed: %w", err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.logger.Error("Failed to close response body: %v", err)
		}
	}(resp.Body)

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(bodyBytes))
	}
	return nil
}
