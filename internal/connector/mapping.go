package connector

import (
	"strconv"
	"strings"
)

// The core returns payloads in two naming styles depending on the service
// pack level, so every field is read under both its short and long wire
// name. Mapped records always use the platform schema names.

// mapResponseData normalizes one operation's response body into the
// platform schema. Unknown operations pass the body through untouched.
func mapResponseData(operation string, body map[string]any) map[string]any {
	switch strings.ToUpper(operation) {
	case "QUERYCUSTOMER", "CREATECUSTOMER", "MODIFYCUSTOMER":
		return mapCustomer(body)
	case "QUERYACCOUNT", "QUERYBALANCE":
		return mapAccount(body)
	case "POSTTRANSACTION", "QUERYTRANSACTION", "REVERSETRANSACTION":
		return mapTransaction(body)
	default:
		return body
	}
}

func mapCustomer(body map[string]any) map[string]any {
	rec := findRecord(body, "Customer-Full", "CustomerDetails", "Customer")

	out := map[string]any{
		"customerId":   pick(rec, "CUSTNO", "CustomerNo", "CustomerId"),
		"customerName": pick(rec, "CNAME", "CustomerName", "Name"),
		"customerType": pickDefault(rec, "INDIVIDUAL", "CTYPE", "CustomerType"),
		"branchCode":   pick(rec, "LBRN", "LocalBranch", "BranchCode"),
		"nationality":  pickDefault(rec, "IN", "NLTY", "Nationality"),
		"address": map[string]any{
			"line1":   pick(rec, "ADDRLN1", "AddressLine1"),
			"line2":   pick(rec, "ADDRLN2", "AddressLine2"),
			"city":    pick(rec, "CITY", "City"),
			"country": pickDefault(rec, "IN", "CNTY", "Country"),
		},
		"contact": map[string]any{
			"phone": pick(rec, "PHONE", "PhoneNumber", "MobileNumber"),
			"email": pick(rec, "EMAIL", "EmailId", "Email"),
		},
		// New records default to pending KYC and normal risk until the
		// compliance workflow updates them.
		"kycStatus":    pickDefault(rec, "PENDING", "KYCSTAT", "KycStatus"),
		"riskCategory": pickDefault(rec, "NORMAL", "RISKCAT", "RiskCategory"),
	}
	return out
}

func mapAccount(body map[string]any) map[string]any {
	rec := findRecord(body, "Account-Full", "AccountDetails", "Account", "Cust-Account")

	out := map[string]any{
		"accountNumber": pick(rec, "ACC", "AccountNo", "AccountNumber"),
		"customerId":    pick(rec, "CUSTNO", "CustomerNo", "CustomerId"),
		"accountType":   pickDefault(rec, "SAVINGS", "ACCTYPE", "AccountType", "AccountClass"),
		"branchCode":    pick(rec, "BRN", "Branch", "BranchCode"),
		"currency":      pickDefault(rec, "INR", "CCY", "Currency"),
		"status":        pickDefault(rec, "ACTIVE", "STATUS", "AccountStatus"),
		"balance": map[string]any{
			"bookBalance":      pickNumber(rec, "ACY_CURR_BALANCE", "BookBalance", "CurrentBalance"),
			"availableBalance": pickNumber(rec, "ACY_AVL_BALANCE", "AvailableBalance"),
			"blockedAmount":    pickNumber(rec, "BLOCKED_AMOUNT", "BlockedAmount"),
		},
	}
	return out
}

func mapTransaction(body map[string]any) map[string]any {
	rec := findRecord(body, "Transaction-Full", "TransactionDetails", "Transaction", "Txn")

	out := map[string]any{
		"transactionId":   pick(rec, "TRNREF", "TransactionRef", "TransactionId"),
		"accountNumber":   pick(rec, "ACC", "AccountNo", "AccountNumber"),
		"amount":          pickNumber(rec, "AMT", "Amount", "TxnAmount"),
		"currency":        pickDefault(rec, "INR", "CCY", "Currency"),
		"transactionType": pick(rec, "DRCR", "TxnType", "TransactionType"),
		"valueDate":       pick(rec, "VALDT", "ValueDate"),
		"narrative":       pick(rec, "NARRATIVE", "Narration", "Remarks"),
		"status":          pickDefault(rec, "POSTED", "TXNSTAT", "TransactionStatus", "Status"),
	}
	return out
}

// findRecord locates the operation's record element inside the response
// body, tolerating any of its known wrapper names. A body with no known
// wrapper is treated as the record itself.
func findRecord(body map[string]any, names ...string) map[string]any {
	queue := []map[string]any{body}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, name := range names {
			if rec, ok := current[name].(map[string]any); ok {
				return rec
			}
		}
		for _, v := range current {
			if m, ok := v.(map[string]any); ok {
				queue = append(queue, m)
			}
		}
	}
	return body
}

// pick returns the first present, non-empty value among the given wire
// names, or nil.
func pick(rec map[string]any, names ...string) any {
	for _, name := range names {
		if v, ok := rec[name]; ok {
			if s, isStr := v.(string); isStr && s == "" {
				continue
			}
			if v != nil {
				return v
			}
		}
	}
	return nil
}

func pickDefault(rec map[string]any, def any, names ...string) any {
	if v := pick(rec, names...); v != nil {
		return v
	}
	return def
}

// pickNumber parses a monetary wire field into a float64. The core sends
// balances as text; a missing or unparseable field maps to 0.
func pickNumber(rec map[string]any, names ...string) float64 {
	v := pick(rec, names...)
	switch t := v.(type) {
	case float64:
		return t
	case string:
		n, err := strconv.ParseFloat(strings.ReplaceAll(t, ",", ""), 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}
