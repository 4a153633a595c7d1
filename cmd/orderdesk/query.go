package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/orderdesk/internal/gateway/httpapi"
)

// Exit codes for the query command.
const (
	ExitSuccess     = 0
	ExitFailure     = 1
	ExitDenied      = 2 // Stale confirmation, auth or rate limit.
	ExitUnavailable = 3
)

var (
	queryMessage    string
	queryGatewayURL string
	queryAPIKey     string
	queryTimeout    int
	querySessionID  string
	queryApprove    string
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Send a one-shot query to the assistant gateway",
	Long: `Send a message to a running "orderdesk serve" and print the answer.
When the assistant proposes a cancellation, the session id and order id
are printed; confirm with --approve ORDER --session-id ID.

Examples:
  orderdesk query -m "where is order ORD456?"
  orderdesk query -m "cancel ORD123"
  orderdesk query --approve ORD123 --session-id 5b0c...

Exit codes:
  0  success
  1  failure
  2  stale confirmation, unauthorized or rate limited
  3  gateway unavailable`,
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVarP(&queryMessage, "message", "m", "", "message to send")
	queryCmd.Flags().StringVar(&queryGatewayURL, "gateway-url", "http://localhost:8080", "gateway HTTP API URL (or ORDERDESK_GATEWAY_URL env)")
	queryCmd.Flags().StringVar(&queryAPIKey, "api-key", "", "API key for gateway authentication (or ORDERDESK_API_KEY env)")
	queryCmd.Flags().IntVar(&queryTimeout, "timeout", 120, "timeout in seconds")
	queryCmd.Flags().StringVar(&querySessionID, "session-id", "", "session ID for multi-turn context")
	queryCmd.Flags().StringVar(&queryApprove, "approve", "", "confirm the pending cancellation of this order (requires --session-id)")
}

func runQuery(_ *cobra.Command, _ []string) error {
	if queryMessage == "" && queryApprove == "" {
		return fmt.Errorf("message is required: use -m flag (or --approve)")
	}
	if queryApprove != "" && querySessionID == "" {
		return fmt.Errorf("--approve requires --session-id")
	}

	apiKey := goutils.Env("ORDERDESK_API_KEY", queryAPIKey)
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required (use --api-key or set ORDERDESK_API_KEY)")
		os.Exit(ExitDenied)
	}
	gatewayURL := strings.TrimRight(goutils.Env("ORDERDESK_GATEWAY_URL", queryGatewayURL), "/")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(queryTimeout)*time.Second)
	defer cancel()

	var (
		code int
		body []byte
		err  error
	)
	if queryApprove != "" {
		code, body, err = postJSON(ctx, gatewayURL+"/v1/approve", apiKey, httpapi.ApproveRequest{
			SessionID: querySessionID,
			OrderID:   strings.ToUpper(queryApprove),
		})
	} else {
		code, body, err = postJSON(ctx, gatewayURL+"/v1/query", apiKey, httpapi.QueryRequest{
			Message:   queryMessage,
			SessionID: querySessionID,
		})
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach gateway at %s: %v\n", gatewayURL, err)
		os.Exit(ExitUnavailable)
	}

	exit := queryExitCode(code)
	if exit != ExitSuccess {
		fmt.Fprintf(os.Stderr, "Error: gateway returned %d: %s\n", code, errorMessage(body))
		os.Exit(exit)
	}
	if queryApprove != "" {
		printApproval(body)
	} else {
		printAnswer(body)
	}
	return nil
}

// queryExitCode maps a gateway status code to the command exit code.
func queryExitCode(status int) int {
	switch status {
	case http.StatusOK:
		return ExitSuccess
	case http.StatusConflict, http.StatusUnauthorized, http.StatusTooManyRequests:
		return ExitDenied
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return ExitUnavailable
	default:
		return ExitFailure
	}
}

func postJSON(ctx context.Context, url, apiKey string, payload any) (int, []byte, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	return resp.StatusCode, body, err
}

func errorMessage(body []byte) string {
	var eb httpapi.ErrorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Error != "" {
		if eb.RetryAfterSeconds > 0 {
			return fmt.Sprintf("%s (retry after %ds)", eb.Error, eb.RetryAfterSeconds)
		}
		return eb.Error
	}
	return strings.TrimSpace(string(body))
}

func printAnswer(body []byte) {
	var resp httpapi.QueryResponse
	_ = json.Unmarshal(body, &resp)
	fmt.Println(resp.Message)
	if p := resp.PendingAction; p != nil {
		fmt.Printf("\n%s\n", p.Prompt)
		fmt.Printf("Confirm with: orderdesk query --approve %s --session-id %s\n", p.OrderID, resp.SessionID)
	}
	fmt.Fprintf(os.Stderr, "\n[correlation_id=%s session_id=%s]\n", resp.CorrelationID, resp.SessionID)
}

func printApproval(body []byte) {
	var resp httpapi.ApproveResponse
	_ = json.Unmarshal(body, &resp)
	fmt.Println(resp.Message)
	fmt.Fprintf(os.Stderr, "\n[outcome=%s order_id=%s]\n", resp.Outcome, resp.OrderID)
}
