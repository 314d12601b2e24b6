// Command submit sends raw transactions to a running ingress service.
//
// Transactions are passed as hex arguments, or one per line on stdin when no
// arguments are given:
//
//	go run ./cmd/submit --ingress=http://localhost:8080 0x02f87001...
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/flashbots/penum-ingress/ingress"
)

func main() {
	var (
		ingressURL = flag.String("ingress", "http://localhost:8080", "Ingress service base URL")
		timeout    = flag.Duration("timeout", 10*time.Second, "Request timeout")
	)
	flag.Parse()

	txs := flag.Args()
	if len(txs) == 0 {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line != "" {
				txs = append(txs, line)
			}
		}
		if err := scanner.Err(); err != nil {
			fmt.Printf("Error reading stdin: %v\n", err)
			os.Exit(1)
		}
	}
	if len(txs) == 0 {
		fmt.Println("Error: no transactions to submit")
		os.Exit(1)
	}

	client := &http.Client{Timeout: *timeout}
	failures := 0

	for _, raw := range txs {
		if !strings.HasPrefix(raw, "0x") {
			raw = "0x" + raw
		}
		txBytes, err := hexutil.Decode(raw)
		if err != nil {
			fmt.Printf("Skipping invalid hex %q: %v\n", raw, err)
			failures++
			continue
		}

		if err := submit(client, *ingressURL, txBytes); err != nil {
			fmt.Printf("Submit failed: %v\n", err)
			failures++
			continue
		}
		fmt.Printf("Accepted %d bytes\n", len(txBytes))
	}

	if failures > 0 {
		os.Exit(1)
	}
}

func submit(client *http.Client, baseURL string, tx hexutil.Bytes) error {
	body, err := json.Marshal(&ingress.SubmitTransactionRequest{Tx: tx})
	if err != nil {
		return err
	}

	resp, err := client.Post(baseURL+"/api/v1/transactions", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ingress returned status %d", resp.StatusCode)
	}

	var ack ingress.SubmitTransactionResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return err
	}
	if !ack.Accepted {
		return fmt.Errorf("submission not accepted")
	}
	return nil
}
