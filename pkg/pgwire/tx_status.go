package pgwire

// TxStatus is the transaction indicator stamped on every ReadyForQuery.
type TxStatus byte

const (
	TxIdle          TxStatus = 'I'
	TxInTransaction TxStatus = 'T'
	TxFailed        TxStatus = 'E'
)
