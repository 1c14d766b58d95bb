package rules

// SampleRecords returns the built-in demonstration transactions, used when
// a validation request carries no data of its own. Each call returns a
// fresh copy.
func SampleRecords() []Record {
	return []Record{
		{"Customer_ID": 1001, "Account_Balance": 15000, "Amount": 500, "Reported_Amount": 500, "Currency": "USD", "Country": "US", "Transaction_Date": "2025-02-25"},
		{"Customer_ID": 1002, "Account_Balance": 32000, "Amount": 1200, "Reported_Amount": 1200, "Currency": "EUR", "Country": "DE", "Transaction_Date": "2025-02-20"},
		{"Customer_ID": 1003, "Account_Balance": -5000, "Amount": 300, "Reported_Amount": 300, "Currency": "GBP", "Country": "UK", "Transaction_Date": "2025-02-18", "Account_Type": ""},
		{"Customer_ID": 1004, "Account_Balance": 70000, "Amount": 2000, "Reported_Amount": 2000, "Currency": "USD", "Country": "US", "Transaction_Date": "2025-02-28"},
	}
}

// SampleRules returns a rule set exercising the sample records.
func SampleRules() []Rule {
	return []Rule{
		{
			Description:     "Account balance must not be negative unless an overdraft account type is recorded",
			Fields:          []string{"Account_Balance", "Account_Type"},
			ValidationLogic: "Account_Balance >= 0 or Account_Type is not None",
			Parameters:      Parameters{"exception": "Authorised overdraft accounts may carry a negative balance"},
		},
		{
			Description:     "Reported amount must equal the transaction amount",
			Fields:          []string{"Amount", "Reported_Amount"},
			ValidationLogic: "Amount == Reported_Amount",
		},
		{
			Description:     "Currency must be a supported ISO 4217 code",
			Fields:          []string{"Currency"},
			ValidationLogic: "Currency in ['USD', 'EUR', 'GBP', 'JPY']",
		},
		{
			Description:     "Transaction date must fall in the reporting period",
			Fields:          []string{"Transaction_Date"},
			ValidationLogic: "date('2025-02-01') <= Transaction_Date <= date('2025-02-28')",
		},
		{
			Description:     "Customer identifiers must be unique",
			Fields:          []string{"Customer_ID"},
			ValidationLogic: "len(set(data['Customer_ID'])) == len(data)",
		},
	}
}
