package models

// Header carries the ordering facts of a block.
type Header struct {
	Height      int64  `json:"height"`
	TimestampMs int64  `json:"timestampMs"`
	Hash        string `json:"hash,omitempty"`
}

// Log is a contract log as delivered by the block source.
type Log struct {
	Address         string   `json:"address"`
	Topics          []string `json:"topics"`
	Data            []byte   `json:"data"`
	TransactionHash string   `json:"transactionHash"`
	LogIndex        int64    `json:"logIndex"`
}

// Transaction is a transaction with its receipt facts.
type Transaction struct {
	Hash     string `json:"hash"`
	From     string `json:"from"`
	To       string `json:"to"`
	GasUsed  string `json:"gasUsed"`
	GasPrice string `json:"gasPrice"`
	Status   uint64 `json:"status"`
}

// Block is one finalized block. Logs are in log index order.
type Block struct {
	Header       Header        `json:"header"`
	Logs         []Log         `json:"logs"`
	Transactions []Transaction `json:"transactions"`
}
