package database

const (
	// Account queries
	queryGetAccount = `
		SELECT id, name, email, balance, withdrawal_blocked, withdrawal_block_reason,
		       is_admin, version, created_at, updated_at
		FROM accounts
		WHERE id = ?`

	queryInsertAccount = `
		INSERT OR IGNORE INTO accounts (id, name, email, balance, is_admin, version)
		VALUES (?, ?, ?, '0', ?, 1)`

	queryGetBalanceForUpdate = `
		SELECT balance, version
		FROM accounts
		WHERE id = ?`

	queryUpdateBalance = `
		UPDATE accounts
		SET balance = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND version = ?`

	// Ledger queries
	queryInsertLedgerTransaction = `
		INSERT INTO ledger_transactions (
			id, account_id, type, amount, balance_before, balance_after,
			reference, description, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetTransactionHistory = `
		SELECT id, account_id, type, amount, balance_before, balance_after,
		       reference, description, created_at
		FROM ledger_transactions
		WHERE account_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`

	// Deal queries
	queryInsertDeal = `
		INSERT INTO deals (id, seller_id, title, description, price, status, flow, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetDeal = `
		SELECT id, seller_id, buyer_id, title, description, price, status, flow,
		       dispute_reason, created_at, updated_at, completed_at
		FROM deals
		WHERE id = ?`

	// Single conditional update: only an open deal with no buyer can be
	// claimed, so exactly one of any number of concurrent accepts wins.
	queryAcceptDeal = `
		UPDATE deals
		SET buyer_id = ?, status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ? AND buyer_id = ''`

	// Completion is only legal from the two confirmed states, so a retried
	// or duplicate call finds zero rows and cannot pay out twice.
	queryCompleteDeal = `
		UPDATE deals
		SET status = ?, updated_at = CURRENT_TIMESTAMP, completed_at = ?
		WHERE id = ? AND status IN (?, ?)`

	queryInsertDealMessage = `
		INSERT INTO deal_messages (id, deal_id, user_id, message, is_system, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	queryGetDealMessages = `
		SELECT id, deal_id, user_id, message, is_system, created_at
		FROM deal_messages
		WHERE deal_id = ?
		ORDER BY created_at, id`

	// Deposit queries
	queryInsertDeposit = `
		INSERT INTO deposit_requests (id, user_id, wallet_address, network, amount, status, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetDeposit = `
		SELECT id, user_id, wallet_address, network, amount, status, tx_hash,
		       created_at, expires_at, confirmed_at
		FROM deposit_requests
		WHERE id = ?`

	queryConfirmDeposit = `
		UPDATE deposit_requests
		SET status = ?, tx_hash = ?, confirmed_at = ?
		WHERE id = ? AND status = ?`

	queryTransitionDeposit = `
		UPDATE deposit_requests
		SET status = ?
		WHERE id = ? AND status = ?`

	queryMarkDepositExpiredPaid = `
		UPDATE deposit_requests
		SET status = ?, tx_hash = ?
		WHERE id = ? AND status = ?`

	querySelectPendingDeposits = `
		SELECT id, user_id, wallet_address, network, amount, status, tx_hash,
		       created_at, expires_at, confirmed_at
		FROM deposit_requests
		WHERE status = ? AND expires_at > ?
		ORDER BY created_at
		LIMIT ?`

	querySelectExpiredDeposits = `
		SELECT id, user_id, wallet_address, network, amount, status, tx_hash,
		       created_at, expires_at, confirmed_at
		FROM deposit_requests
		WHERE status = ?
		  AND (expires_at <= ? OR (expires_at IS NULL AND created_at <= ?))
		ORDER BY created_at
		LIMIT ?`

	querySelectCancelledDeposits = `
		SELECT id, user_id, wallet_address, network, amount, status, tx_hash,
		       created_at, expires_at, confirmed_at
		FROM deposit_requests
		WHERE status = ? AND created_at >= ?
		ORDER BY RANDOM()
		LIMIT ?`

	// Withdrawal queries
	queryInsertWithdrawal = `
		INSERT INTO withdrawal_requests (id, user_id, amount, fee, usdt_wallet, status, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetWithdrawal = `
		SELECT id, user_id, amount, fee, usdt_wallet, status, admin_comment,
		       created_at, expires_at, completed_at
		FROM withdrawal_requests
		WHERE id = ?`

	queryDecideWithdrawal = `
		UPDATE withdrawal_requests
		SET status = ?, admin_comment = ?, completed_at = ?
		WHERE id = ? AND status = ?`

	querySelectExpiredWithdrawals = `
		SELECT id, user_id, amount, fee, usdt_wallet, status, admin_comment,
		       created_at, expires_at, completed_at
		FROM withdrawal_requests
		WHERE status = ?
		  AND (expires_at <= ? OR (expires_at IS NULL AND created_at <= ?))
		ORDER BY created_at
		LIMIT ?`

	// Notification queries
	queryInsertNotification = `
		INSERT INTO notifications (id, user_id, type, title, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	queryInsertInboxMessage = `
		INSERT INTO inbox_messages (id, from_user, to_user, subject, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	queryGetNotifications = `
		SELECT id, user_id, type, title, message, created_at
		FROM notifications
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?`
)
