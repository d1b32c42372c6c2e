package nbxplorer

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Anya-org/dlcd/internal/core/ports"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	// Default cryptocode for Bitcoin
	btcCryptoCode = "BTC"

	reconnectDelay = time.Second
)

var errNotFound = errors.New("not found")

type nbxplorer struct {
	url        string
	httpClient *http.Client

	wsConn   *websocket.Conn
	wsMutex  sync.RWMutex
	wsDialer websocket.Dialer

	trackedLock sync.Mutex
	tracked     map[string]struct{}
}

func New(url string) (ports.BlockchainService, error) {
	url = strings.TrimSuffix(url, "/")

	svc := &nbxplorer{
		url:        url,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		wsDialer:   websocket.Dialer{},
		tracked:    make(map[string]struct{}),
	}

	if _, err := svc.GetTipHeight(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to connect to nbxplorer: %s", err)
	}

	return svc, nil
}

// GetTipHeight reads the chain tip from /v1/cryptos/{cryptoCode}/status.
func (n *nbxplorer) GetTipHeight(ctx context.Context) (uint32, error) {
	data, err := n.makeRequest(ctx, "GET", fmt.Sprintf("/v1/cryptos/%s/status", btcCryptoCode), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get bitcoin status: %w", err)
	}

	var resp bitcoinStatusResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return 0, fmt.Errorf("failed to unmarshal bitcoin status: %w", err)
	}
	return resp.BitcoinStatus.Blocks, nil
}

func (n *nbxplorer) GetTransaction(ctx context.Context, txid string) (string, error) {
	resp, err := n.getTransaction(ctx, txid)
	if err != nil {
		return "", err
	}
	if len(resp.Transaction) <= 0 {
		return "", fmt.Errorf("missing raw transaction for %s", txid)
	}
	return resp.Transaction, nil
}

func (n *nbxplorer) GetConfirmations(ctx context.Context, txid string) (uint32, error) {
	resp, err := n.getTransaction(ctx, txid)
	if err != nil {
		return 0, err
	}
	return resp.Confirmations, nil
}

// FetchUtxos tracks the address at first use and returns its unspent outputs
// from /v1/cryptos/{cryptoCode}/addresses/{address}/utxos.
func (n *nbxplorer) FetchUtxos(ctx context.Context, address string) ([]ports.Utxo, error) {
	if len(address) <= 0 {
		return nil, fmt.Errorf("address cannot be empty")
	}
	if err := n.track(ctx, address); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf(
		"/v1/cryptos/%s/addresses/%s/utxos", btcCryptoCode, url.PathEscape(address),
	)
	data, err := n.makeRequest(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get utxos: %w", err)
	}

	var resp utxosResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal utxos: %w", err)
	}

	spentOutpoints := make(map[string]bool)
	for _, outpoint := range resp.Confirmed.SpentOutpoints {
		spentOutpoints[outpoint] = true
	}
	for _, outpoint := range resp.Unconfirmed.SpentOutpoints {
		spentOutpoints[outpoint] = true
	}

	all := append(resp.Confirmed.UtxOs, resp.Unconfirmed.UtxOs...)
	utxos := make([]ports.Utxo, 0, len(all))
	for _, u := range all {
		if spentOutpoints[u.Outpoint] {
			continue
		}
		if _, err := chainhash.NewHashFromStr(u.TransactionHash); err != nil {
			log.Errorf("failed to cast UTXO: %s", err)
			continue
		}
		utxos = append(utxos, ports.Utxo{
			Txid:          u.TransactionHash,
			VOut:          u.Index,
			Amount:        u.Value,
			Script:        u.ScriptPubKey,
			Confirmations: u.Confirmations,
		})
	}
	return utxos, nil
}

// Broadcast publishes the tx with NBXplorer's broadcast endpoint.
func (n *nbxplorer) Broadcast(ctx context.Context, txHex string) (string, error) {
	if txHex == "" {
		return "", fmt.Errorf("transaction hex cannot be empty")
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(hex.NewDecoder(strings.NewReader(txHex))); err != nil {
		return "", fmt.Errorf("failed to deserialize transaction: %w", err)
	}
	rawTx, _ := hex.DecodeString(txHex)

	req, err := http.NewRequestWithContext(
		ctx, "POST", n.url+fmt.Sprintf("/v1/cryptos/%s/transactions", btcCryptoCode),
		bytes.NewReader(rawTx),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Accept", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	// nolint
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result broadcastResult
	if err := json.Unmarshal(bodyBytes, &result); err != nil {
		return "", fmt.Errorf("failed to unmarshal broadcast result: %w", err)
	}

	if !result.Success {
		errorMsg := "broadcast failed"
		if result.RPCMessage != "" {
			errorMsg = result.RPCMessage
		}
		if result.RPCCodeMessage != "" {
			errorMsg = fmt.Sprintf("%s (code: %s)", errorMsg, result.RPCCodeMessage)
		}
		if result.RPCCode != nil {
			errorMsg = fmt.Sprintf("%s (RPC code: %d)", errorMsg, *result.RPCCode)
		}
		return "", fmt.Errorf("%s", errorMsg)
	}

	return tx.TxHash().String(), nil
}

// Notifications listens to NBXplorer websocket events and emits on every new
// block or new transaction. The connection is re-established on failure.
func (n *nbxplorer) Notifications(ctx context.Context) (<-chan struct{}, error) {
	if err := n.connectWebSocket(ctx); err != nil {
		return nil, err
	}

	notificationsChan := make(chan struct{}, 64)

	go func() {
		defer close(notificationsChan)

		for {
			n.wsMutex.RLock()
			conn := n.wsConn
			n.wsMutex.RUnlock()

			_, message, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.WithError(err).Debug("nbxplorer websocket read failed, reconnecting")
				select {
				case <-ctx.Done():
					return
				case <-time.After(reconnectDelay):
				}
				if err := n.connectWebSocket(ctx); err != nil {
					log.WithError(err).Warn("failed to reconnect to nbxplorer websocket")
				}
				continue
			}

			var ev event
			if err := json.Unmarshal(message, &ev); err != nil {
				continue
			}
			if ev.Type != "newblock" && ev.Type != "newtransaction" {
				continue
			}

			select {
			case notificationsChan <- struct{}{}:
			case <-ctx.Done():
				return
			default:
				// a notification is already pending.
			}
		}
	}()

	go func() {
		<-ctx.Done()
		n.wsMutex.Lock()
		defer n.wsMutex.Unlock()
		if n.wsConn != nil {
			// nolint
			n.wsConn.Close()
		}
	}()

	return notificationsChan, nil
}

func (n *nbxplorer) Close() {
	n.wsMutex.Lock()
	defer n.wsMutex.Unlock()

	if n.wsConn != nil {
		// nolint
		n.wsConn.Close()
		n.wsConn = nil
	}
}

func (n *nbxplorer) getTransaction(ctx context.Context, txid string) (*transactionResponse, error) {
	if txid == "" {
		return nil, fmt.Errorf("transaction ID cannot be empty")
	}
	if _, err := chainhash.NewHashFromStr(txid); err != nil {
		return nil, fmt.Errorf("invalid txid format: %w", err)
	}

	data, err := n.makeRequest(
		ctx, "GET", fmt.Sprintf("/v1/cryptos/%s/transactions/%s", btcCryptoCode, txid), nil,
	)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return nil, ports.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	var resp transactionResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}
	if len(resp.ReplacedBy) > 0 {
		return nil, fmt.Errorf("%w: replaced by %s", ports.ErrTransactionNotFound, resp.ReplacedBy)
	}
	return &resp, nil
}

// track starts monitoring the address via /v1/cryptos/{cryptoCode}/addresses/{address}.
func (n *nbxplorer) track(ctx context.Context, address string) error {
	n.trackedLock.Lock()
	defer n.trackedLock.Unlock()

	if _, ok := n.tracked[address]; ok {
		return nil
	}

	endpoint := fmt.Sprintf("/v1/cryptos/%s/addresses/%s", btcCryptoCode, url.PathEscape(address))
	if _, err := n.makeRequest(ctx, "POST", endpoint, nil); err != nil {
		return fmt.Errorf("failed to track address: %w", err)
	}
	log.Debugf("tracking address %s", address)
	n.tracked[address] = struct{}{}
	return nil
}

func (n *nbxplorer) makeRequest(ctx context.Context, method, endpoint string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, n.url+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	// nolint
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(bodyBytes))
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return bodyBytes, nil
}

// connectWebSocket establishes a WebSocket connection to NBXplorer for real-time events
func (n *nbxplorer) connectWebSocket(ctx context.Context) error {
	n.wsMutex.Lock()
	defer n.wsMutex.Unlock()

	if n.wsConn != nil {
		// nolint
		n.wsConn.Close()
	}

	wsURL := strings.Replace(n.url, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	wsURL += "/v1/cryptos/connect"

	conn, _, err := n.wsDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	n.wsConn = conn
	return nil
}
