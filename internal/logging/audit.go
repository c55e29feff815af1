package logging

// TxAudit records a transaction the client broadcast on the user's behalf.
type TxAudit struct {
	Operation string // commit_account, link_account, commit_repo, link_repo, reward_pr
	Sender    string // wallet address that signed
	Subject   string // github user id, repo or PR URL
	TxHash    string
	Result    string // "success" or "failure"
	Details   string
}

// Audit logs a broadcast transaction with an "audit" marker so the entries
// can be filtered out of regular application logs.
func Audit(event TxAudit) {
	Logger().Info("audit",
		"audit", true,
		"operation", event.Operation,
		"sender", event.Sender,
		"subject", event.Subject,
		"tx_hash", event.TxHash,
		"result", event.Result,
		"details", event.Details,
	)
}
