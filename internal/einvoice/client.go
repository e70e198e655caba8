package einvoice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/documents"
)

// Client wraps interactions with the tax authority's e-invoicing API.
// Submission is advisory: callers log the outcome and move on, they
// never block a committed transition on it.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient constructs a new client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Ping checks if the remote service is available.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/health", c.baseURL), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("einvoice service returned status %d", resp.StatusCode)
	}
	return nil
}

type submitPayload struct {
	Number     string `json:"number"`
	Currency   string `json:"currency"`
	IssueDate  string `json:"issue_date"`
	Subtotal   string `json:"subtotal"`
	TaxTotal   string `json:"tax_total"`
	GrandTotal string `json:"grand_total"`
}

type submitReply struct {
	Status      string `json:"status"`
	ReferenceID string `json:"reference_id"`
}

// Submit sends an issued invoice for clearance and returns the
// authority's acknowledgement.
func (c *Client) Submit(ctx context.Context, doc *documents.Document) (documents.SubmissionResult, error) {
	payload := submitPayload{
		Number:     doc.Number,
		Currency:   doc.Currency,
		IssueDate:  doc.IssueDate.Format("2006-01-02"),
		Subtotal:   doc.Totals.Subtotal.String(),
		TaxTotal:   doc.Totals.TaxTotal.String(),
		GrandTotal: doc.Totals.GrandTotal.String(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return documents.SubmissionResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/v1/invoices", c.baseURL), bytes.NewReader(body))
	if err != nil {
		return documents.SubmissionResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return documents.SubmissionResult{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return documents.SubmissionResult{}, fmt.Errorf("submission failed with status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return documents.SubmissionResult{}, err
	}
	var reply submitReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return documents.SubmissionResult{}, err
	}
	return documents.SubmissionResult{Status: reply.Status, ReferenceID: reply.ReferenceID}, nil
}
