package nbxplorer

type bitcoinStatusResponse struct {
	BitcoinStatus struct {
		Blocks        uint32  `json:"blocks"`
		Headers       uint32  `json:"headers"`
		IsSynced      bool    `json:"isSynched"`
		MinRelayTxFee float64 `json:"minRelayTxFee"`
	} `json:"bitcoinStatus"`
	IsFullySynched bool   `json:"isFullySynched"`
	SyncHeight     uint32 `json:"syncHeight"`
	NetworkType    string `json:"networkType"`
	CryptoCode     string `json:"cryptoCode"`
	Version        string `json:"version"`
}

type transactionResponse struct {
	BlockHash     string `json:"blockHash,omitempty"`
	Confirmations uint32 `json:"confirmations"`
	Height        uint32 `json:"height,omitempty"`
	TransactionId string `json:"transactionId"`
	Transaction   string `json:"transaction,omitempty"`
	Timestamp     int64  `json:"timestamp"`
	ReplacedBy    string `json:"replacedBy,omitempty"`
}

type utxoResponse struct {
	Outpoint        string `json:"outpoint"`
	Index           uint32 `json:"index"`
	TransactionHash string `json:"transactionHash"`
	ScriptPubKey    string `json:"scriptPubKey"`
	Address         string `json:"address"`
	Value           uint64 `json:"value"`
	Timestamp       int64  `json:"timestamp"`
	Confirmations   uint32 `json:"confirmations"`
}

type utxosResponse struct {
	TrackedSource string `json:"trackedSource"`
	CurrentHeight uint32 `json:"currentHeight"`
	Unconfirmed   struct {
		UtxOs          []utxoResponse `json:"utxOs"`
		SpentOutpoints []string       `json:"spentOutpoints"`
	} `json:"unconfirmed"`
	Confirmed struct {
		UtxOs          []utxoResponse `json:"utxOs"`
		SpentOutpoints []string       `json:"spentOutpoints"`
	} `json:"confirmed"`
}

type broadcastResult struct {
	Success        bool   `json:"success"`
	RPCCode        *int   `json:"rpcCode,omitempty"`
	RPCCodeMessage string `json:"rpcCodeMessage,omitempty"`
	RPCMessage     string `json:"rpcMessage,omitempty"`
}

type event struct {
	EventID int         `json:"eventId"`
	Type    string      `json:"type"`
	Data    interface{} `json:"data"`
}
