package domain

// UncategorizedID is the category assigned when the model's category
// matches nothing in the taxonomy.
const UncategorizedID = "uncategorized"

// Category is one entry of a household's category taxonomy.
type Category struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Type TransactionType `json:"type"`
}

// DefaultCategories returns the taxonomy every new household starts with.
func DefaultCategories() []Category {
	return []Category{
		{ID: "groceries", Name: "Groceries", Type: TypeExpense},
		{ID: "restaurants", Name: "Restaurants", Type: TypeExpense},
		{ID: "transport", Name: "Transport", Type: TypeExpense},
		{ID: "housing", Name: "Housing", Type: TypeExpense},
		{ID: "utilities", Name: "Utilities", Type: TypeExpense},
		{ID: "health", Name: "Health", Type: TypeExpense},
		{ID: "education", Name: "Education", Type: TypeExpense},
		{ID: "shopping", Name: "Shopping", Type: TypeExpense},
		{ID: "entertainment", Name: "Entertainment", Type: TypeExpense},
		{ID: "travel", Name: "Travel", Type: TypeExpense},
		{ID: "salary", Name: "Salary", Type: TypeIncome},
		{ID: "freelance", Name: "Freelance", Type: TypeIncome},
		{ID: "refunds", Name: "Refunds", Type: TypeIncome},
		{ID: "stocks", Name: "Stocks", Type: TypeInvestment},
		{ID: "funds", Name: "Funds", Type: TypeInvestment},
		{ID: "crypto", Name: "Crypto", Type: TypeInvestment},
		{ID: UncategorizedID, Name: "Uncategorized"},
	}
}
