package model

// SyncResult is the authority's verdict for one uploaded transaction.
type SyncResult struct {
	TransactionID  string  `json:"transaction_id"`
	RiskScore      float64 `json:"risk_score"`
	Classification string  `json:"classification"`
}

// SyncResponse is the authority's reply to a batch upload.
type SyncResponse struct {
	Results []SyncResult `json:"results"`
}

// GossipMessage announces a transaction to the mesh relay.
type GossipMessage struct {
	MessageID     string                 `json:"message_id"`
	TransactionID string                 `json:"transaction_id"`
	SourcePeerID  string                 `json:"source_peer_id"`
	Payload       map[string]interface{} `json:"payload"`
	Hops          int                    `json:"hops"`
}

// GossipResponse reports the best-effort fan-out. Relays disagree on the
// field name, so both are accepted and absence means zero.
type GossipResponse struct {
	PropagatedToPeers *int `json:"propagated_to_peers,omitempty"`
	PeersReached      *int `json:"peers_reached,omitempty"`
}

// PeerCount collapses the two optional fields into one number.
func (g GossipResponse) PeerCount() int {
	if g.PropagatedToPeers != nil {
		return *g.PropagatedToPeers
	}
	if g.PeersReached != nil {
		return *g.PeersReached
	}
	return 0
}
