package api

import "github.com/example/fintrack/internal/security"

// Amounts cross the wire as strings with exactly two fraction digits so
// no client float rounding can reach the ledger. The backslash is doubled
// because the pattern is spliced into JSON source before compilation.
const amountPattern = `^[0-9]{1,15}\\.[0-9]{2}$`

const createAccountSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["kind", "name", "currency"],
  "properties": {
    "kind": {"type": "string", "enum": ["CHECKING", "SAVINGS", "CASH", "INVESTMENT", "CREDIT_CARD", "LOAN"]},
    "name": {"type": "string", "minLength": 1, "maxLength": 255},
    "currency": {"type": "string", "pattern": "^[A-Z]{3}$"},
    "initial_balance": {"type": "string", "pattern": "` + amountPattern + `"}
  }
}`

const movementSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["account_id", "category_id", "amount"],
  "properties": {
    "account_id": {"type": "string", "minLength": 1},
    "category_id": {"type": "string", "minLength": 1},
    "amount": {"type": "string", "pattern": "` + amountPattern + `"},
    "timestamp": {"type": "string", "format": "date-time"}
  }
}`

const transferSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["from_account_id", "to_account_id", "amount"],
  "properties": {
    "from_account_id": {"type": "string", "minLength": 1},
    "to_account_id": {"type": "string", "minLength": 1},
    "amount": {"type": "string", "pattern": "` + amountPattern + `"},
    "timestamp": {"type": "string", "format": "date-time"}
  }
}`

const createCategorySchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["name", "kind"],
  "properties": {
    "name": {"type": "string", "minLength": 1, "maxLength": 255},
    "kind": {"type": "string", "enum": ["INCOME", "EXPENSE"]},
    "parent_id": {"type": "string"}
  }
}`

const createBudgetSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["category_id", "amount", "start_date", "end_date", "period"],
  "properties": {
    "category_id": {"type": "string", "minLength": 1},
    "amount": {"type": "string", "pattern": "` + amountPattern + `"},
    "start_date": {"type": "string", "format": "date-time"},
    "end_date": {"type": "string", "format": "date-time"},
    "period": {"type": "string", "enum": ["WEEKLY", "MONTHLY", "QUARTERLY", "YEARLY", "CUSTOM"]}
  }
}`

type schemaValidators struct {
	createAccount  *security.JSONSchemaValidator
	movement       *security.JSONSchemaValidator
	transfer       *security.JSONSchemaValidator
	createCategory *security.JSONSchemaValidator
	createBudget   *security.JSONSchemaValidator
}

func compileSchemas() (*schemaValidators, error) {
	v := &schemaValidators{}
	for _, s := range []struct {
		name   string
		schema string
		dst    **security.JSONSchemaValidator
	}{
		{"create_account.json", createAccountSchema, &v.createAccount},
		{"movement.json", movementSchema, &v.movement},
		{"transfer.json", transferSchema, &v.transfer},
		{"create_category.json", createCategorySchema, &v.createCategory},
		{"create_budget.json", createBudgetSchema, &v.createBudget},
	} {
		compiled, err := security.NewJSONSchemaValidator(s.name, s.schema)
		if err != nil {
			return nil, err
		}
		*s.dst = compiled
	}
	return v, nil
}
