package mq

import "time"

// RoutingChainDonationReceived is published by the chain indexer when a
// donate_to_project transaction lands on chain.
const RoutingChainDonationReceived = "chain.donation.received"

// ChainDonationReceivedPayload 链上捐款事件
type ChainDonationReceivedPayload struct {
	TxHash     string    `json:"tx_hash"`
	ProjectID  string    `json:"project_id"`
	DonorID    string    `json:"donor_id"` // wallet address
	DonorName  string    `json:"donor_name"`
	Amount     string    `json:"amount"` // octas
	ReceivedAt time.Time `json:"received_at"`
	TraceID    string    `json:"trace_id,omitempty"`
}
