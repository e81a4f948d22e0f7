package database

import (
	"database/sql"
	stdlog "log"

	_ "modernc.org/sqlite"

	"github.com/openbooks/ledgercore/src/logger"
)

var DB *sql.DB

const createTableStatement = `
CREATE TABLE IF NOT EXISTS accounts (
	id TEXT PRIMARY KEY,
	account_number TEXT NOT NULL UNIQUE,
	type TEXT NOT NULL,
	currency TEXT NOT NULL,
	current_balance TEXT NOT NULL,
	available_balance TEXT NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	version INTEGER NOT NULL,
	created_at TIMESTAMP,
	updated_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS transactions (
	id TEXT PRIMARY KEY,
	external_id TEXT NOT NULL,
	source TEXT NOT NULL,
	account_id TEXT NOT NULL,
	type TEXT NOT NULL,
	status TEXT NOT NULL,
	amount TEXT NOT NULL,
	currency TEXT NOT NULL,
	original_amount TEXT,
	original_currency TEXT,
	exchange_rate_used TEXT,
	value_date TEXT NOT NULL,
	booking_date TEXT NOT NULL,
	description TEXT,
	counterparty TEXT,
	category TEXT,
	hash TEXT NOT NULL,
	reconciliation_id TEXT,
	created_at TIMESTAMP,
	updated_at TIMESTAMP,
	UNIQUE(external_id, source),
	FOREIGN KEY(account_id) REFERENCES accounts(id)
);
CREATE INDEX IF NOT EXISTS idx_transactions_account_value_date ON transactions(account_id, value_date);
CREATE INDEX IF NOT EXISTS idx_transactions_hash ON transactions(hash);

CREATE TABLE IF NOT EXISTS daily_balances (
	account_id TEXT NOT NULL,
	date TEXT NOT NULL,
	opening_balance TEXT NOT NULL,
	closing_balance TEXT NOT NULL,
	total_debits TEXT NOT NULL,
	total_credits TEXT NOT NULL,
	transaction_count INTEGER NOT NULL,
	is_reconciled BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at TIMESTAMP,
	PRIMARY KEY(account_id, date)
);

CREATE TABLE IF NOT EXISTS exchange_rates (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	from_currency TEXT NOT NULL,
	to_currency TEXT NOT NULL,
	rate TEXT NOT NULL,
	effective_date TEXT NOT NULL,
	created_at TIMESTAMP,
	UNIQUE(from_currency, to_currency, effective_date)
);

CREATE TABLE IF NOT EXISTS reconciliations (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	date TEXT NOT NULL,
	status TEXT NOT NULL,
	matched_count INTEGER NOT NULL DEFAULT 0,
	unmatched_internal INTEGER NOT NULL DEFAULT 0,
	unmatched_external INTEGER NOT NULL DEFAULT 0,
	discrepancy_amount TEXT NOT NULL DEFAULT '0',
	detail TEXT,
	created_at TIMESTAMP,
	updated_at TIMESTAMP,
	UNIQUE(account_id, date)
);
`

// InitDB opens the sqlite database and ensures the schema. Monetary columns
// are stored as decimal TEXT so amounts round-trip exactly.
func InitDB(databasePath string) {
	db, err := sql.Open("sqlite", databasePath)
	if err != nil {
		stdlog.Fatalf("failed to open database at %s: %v", databasePath, err)
	}

	// Serialized access keeps sqlite happy under concurrent batches; writes
	// are short-lived transactions.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		stdlog.Printf("failed to enable foreign keys: %v", err)
	}

	DB = db

	if logger.L != nil {
		logger.L.Info("Checking database migrations", "databasePath", databasePath)
	} else {
		stdlog.Println("Checking database migrations for:", databasePath)
	}
	migrateTransactionsTable()

	if _, err = DB.Exec(createTableStatement); err != nil {
		if logger.L != nil {
			logger.L.Error("failed to create tables", "error", err)
		}
		stdlog.Fatalf("failed to create tables: %v", err)
	}
	if logger.L != nil {
		logger.L.Info("Database tables ensured/created.")
	} else {
		stdlog.Println("Database tables ensured/created.")
	}
}

// migrateTransactionsTable adds columns introduced after the first schema
// version to existing databases.
func migrateTransactionsTable() {
	var tableName string
	err := DB.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='transactions'").Scan(&tableName)
	if err != nil {
		if err == sql.ErrNoRows {
			return // table will be created with the full schema
		}
		if logger.L != nil {
			logger.L.Error("Error checking for 'transactions' table", "error", err)
		} else {
			stdlog.Printf("Error checking for 'transactions' table: %v", err)
		}
		return
	}

	rows, err := DB.Query("PRAGMA table_info(transactions)")
	if err != nil {
		if logger.L != nil {
			logger.L.Error("Error querying table schema for 'transactions'", "error", err)
		} else {
			stdlog.Printf("Error querying table schema for 'transactions': %v", err)
		}
		return
	}
	defer rows.Close()

	columnExists := make(map[string]bool)
	for rows.Next() {
		var cid, pk int
		var name, dataType string
		var notnullVal int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &dataType, &notnullVal, &dfltValue, &pk); err != nil {
			if logger.L != nil {
				logger.L.Error("Error scanning column info for 'transactions'", "error", err)
			} else {
				stdlog.Printf("Error scanning column info for 'transactions': %v", err)
			}
			return
		}
		columnExists[name] = true
	}
	if err = rows.Err(); err != nil {
		if logger.L != nil {
			logger.L.Error("Error iterating over column info for 'transactions'", "error", err)
		} else {
			stdlog.Printf("Error iterating over column info for 'transactions': %v", err)
		}
		return
	}

	addColumn := func(name, definition string) {
		if columnExists[name] {
			return
		}
		if _, err := DB.Exec("ALTER TABLE transactions ADD COLUMN " + name + " " + definition); err != nil {
			if logger.L != nil {
				logger.L.Error("Error adding column to 'transactions' table", "column", name, "error", err)
			} else {
				stdlog.Printf("Error adding '%s' column to 'transactions' table: %v", name, err)
			}
			return
		}
		if logger.L != nil {
			logger.L.Info("Added column to 'transactions' table", "column", name)
		} else {
			stdlog.Printf("Added '%s' column to 'transactions' table", name)
		}
	}
	addColumn("counterparty", "TEXT")
	addColumn("category", "TEXT")
	addColumn("reconciliation_id", "TEXT")
}
