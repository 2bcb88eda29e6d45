// Package ofx imports bank and credit card statements so their lines can be
// categorized alongside conversational transactions.
package ofx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/aclindsa/ofxgo"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/chatfin/internal/model"
)

var (
	severityRe = regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	// Opening SGML tags with no closing bracket and nothing after them.
	openTagRe = regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
	// Leading MM/DD date some banks prepend to the description.
	leadingDateRe = regexp.MustCompile(`^\d{2}/\d{2}\s+`)
)

var purchasePrefixes = []string{
	"POS PURCHASE ",
	"PURCHASE AUTHORIZED ON ",
	"DEBIT CARD PURCHASE ",
	"ACH DEBIT ",
	"CHECK CARD ",
	"VISA PURCHASE ",
	"MC PURCHASE ",
	"DEBIT PURCHASE ",
	"UPI/",
	"NEFT/",
	"IMPS/",
}

// Parser reads OFX/QFX statements into transactions for one user.
type Parser struct {
	now func() time.Time
}

// NewParser creates a new OFX parser.
func NewParser() *Parser {
	return &Parser{now: time.Now}
}

// preprocessOFX fixes common formatting issues in OFX files.
func preprocessOFX(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")
	content = severityRe.ReplaceAllStringFunc(content, strings.ToUpper)
	return openTagRe.ReplaceAllString(content, "$1>")
}

func (p *Parser) parse(reader io.Reader) (*ofxgo.Response, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(preprocessOFX(string(content))))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file: %w", err)
	}
	return resp, nil
}

// ParseFile parses an OFX/QFX file and returns the user's transactions.
// Debits become expenses and credits become income; categories are left for
// the categorizer.
func (p *Parser) ParseFile(ctx context.Context, reader io.Reader, userID string) ([]model.Transaction, error) {
	if userID == "" {
		return nil, fmt.Errorf("statement import requires a user")
	}
	resp, err := p.parse(reader)
	if err != nil {
		return nil, err
	}

	var transactions []model.Transaction
	var bankStmts, ccStmts int

	for _, msg := range resp.Bank {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if stmt, ok := msg.(*ofxgo.StatementResponse); ok {
			bankStmts++
			if stmt.BankTranList == nil {
				continue
			}
			transactions = append(transactions, p.convertAll(userID, string(stmt.BankAcctFrom.AcctID), stmt.BankTranList.Transactions)...)
		}
	}

	for _, msg := range resp.CreditCard {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if stmt, ok := msg.(*ofxgo.CCStatementResponse); ok {
			ccStmts++
			if stmt.BankTranList == nil {
				continue
			}
			transactions = append(transactions, p.convertAll(userID, string(stmt.CCAcctFrom.AcctID), stmt.BankTranList.Transactions)...)
		}
	}

	slog.Info("Parsed OFX file",
		"user_id", userID,
		"total_transactions", len(transactions),
		"bank_statements", bankStmts,
		"cc_statements", ccStmts)

	return transactions, nil
}

func (p *Parser) convertAll(userID, accountID string, txns []ofxgo.Transaction) []model.Transaction {
	out := make([]model.Transaction, 0, len(txns))
	for _, ofxTx := range txns {
		tx, ok := p.convertTransaction(userID, accountID, ofxTx)
		if !ok {
			slog.Warn("Skipping zero-amount statement line",
				"account", accountID,
				"fitid", string(ofxTx.FiTID))
			continue
		}
		out = append(out, tx)
	}
	return out
}

// convertTransaction maps one statement line. Zero amounts are dropped.
func (p *Parser) convertTransaction(userID, accountID string, ofxTx ofxgo.Transaction) (model.Transaction, bool) {
	amount := decimal.NewFromBigRat(&ofxTx.TrnAmt.Rat, 2)
	if amount.IsZero() {
		return model.Transaction{}, false
	}

	kind := model.IntentIncome
	if amount.IsNegative() {
		kind = model.IntentExpense
	}

	tx := model.Transaction{
		ID:         statementID(accountID, string(ofxTx.FiTID)),
		UserID:     userID,
		Kind:       kind,
		Amount:     amount.Abs(),
		Merchant:   extractMerchantName(ofxTx),
		Note:       strings.TrimSpace(string(ofxTx.Name)),
		OccurredAt: ofxTx.DtPosted.Time.UTC(),
		CreatedAt:  p.now().UTC(),
	}
	tx.Hash = tx.GenerateHash()
	return tx, true
}

// statementID derives a stable transaction ID so re-importing a statement
// produces the same IDs.
func statementID(accountID, fitID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(accountID+":"+fitID)).String()
}

// extractMerchantName tries to get a clean merchant name from OFX data.
func extractMerchantName(tx ofxgo.Transaction) string {
	if tx.Payee != nil && tx.Payee.Name != "" {
		return strings.TrimSpace(string(tx.Payee.Name))
	}

	name := string(tx.Name)
	if tx.Memo != "" && isGenericDescription(name) {
		name = string(tx.Memo)
	}
	name = strings.TrimSpace(name)

	upper := strings.ToUpper(name)
	for _, prefix := range purchasePrefixes {
		if strings.HasPrefix(upper, prefix) {
			name = name[len(prefix):]
			break
		}
	}

	return strings.TrimSpace(leadingDateRe.ReplaceAllString(name, ""))
}

func isGenericDescription(name string) bool {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBIT", "CREDIT", "PURCHASE", "PAYMENT", "POS TRANSACTION", "CARD PURCHASE":
		return true
	}
	return false
}

// GetAccounts extracts unique account IDs from the OFX file.
func (p *Parser) GetAccounts(_ context.Context, reader io.Reader) ([]string, error) {
	resp, err := p.parse(reader)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var accounts []string
	add := func(id ofxgo.String) {
		if id != "" && !seen[string(id)] {
			seen[string(id)] = true
			accounts = append(accounts, string(id))
		}
	}

	for _, msg := range resp.Bank {
		if stmt, ok := msg.(*ofxgo.StatementResponse); ok {
			add(stmt.BankAcctFrom.AcctID)
		}
	}
	for _, msg := range resp.CreditCard {
		if stmt, ok := msg.(*ofxgo.CCStatementResponse); ok {
			add(stmt.CCAcctFrom.AcctID)
		}
	}

	return accounts, nil
}
