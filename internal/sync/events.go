package sync

// Events holds the orchestrator-level lifecycle callbacks, consumed by a
// notification layer. Any field may be nil. Set them before initializing
// accounts.
type Events struct {
	AccountConnected        func(accountID string)
	AccountDisconnected     func(accountID string)
	AccountError            func(accountID string, err error)
	AccountConnectionFailed func(accountID string, err error)
}

func (e Events) emitConnected(accountID string) {
	if e.AccountConnected != nil {
		e.AccountConnected(accountID)
	}
}

func (e Events) emitDisconnected(accountID string) {
	if e.AccountDisconnected != nil {
		e.AccountDisconnected(accountID)
	}
}

func (e Events) emitError(accountID string, err error) {
	if e.AccountError != nil {
		e.AccountError(accountID, err)
	}
}

func (e Events) emitConnectionFailed(accountID string, err error) {
	if e.AccountConnectionFailed != nil {
		e.AccountConnectionFailed(accountID, err)
	}
}
