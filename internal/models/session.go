package models

import "time"

// Session is the per-phone conversation state. Data holds the fields collected
// so far (name, congregation, amount, ...) and round-trips as JSON.
type Session struct {
	Phone      string            `json:"phone"`
	Step       string            `json:"step"`
	Data       map[string]string `json:"data"`
	LastActive time.Time         `json:"last_active"`
	Warned     bool              `json:"warned"`
}

// Conversation steps.
const (
	StepStart        = "start"
	StepAction       = "awaiting_action"
	StepName         = "awaiting_name"
	StepRegion       = "awaiting_region"
	StepPurpose      = "awaiting_purpose"
	StepAmount       = "awaiting_amount"
	StepCurrency     = "awaiting_currency"
	StepNote         = "awaiting_note"
	StepConfirmation = "awaiting_confirmation"
	StepMethod       = "awaiting_payment_method"
	StepPayerPhone   = "awaiting_phone"

	StepRegName  = "reg_awaiting_name"
	StepRegEmail = "reg_awaiting_email"
	StepRegSkill = "reg_awaiting_skill"
	StepRegArea  = "reg_awaiting_area"
)

// Registration is a volunteer sign-up collected by the registration flow.
type Registration struct {
	Phone        string    `json:"phone"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Skill        string    `json:"skill"`
	Area         string    `json:"area"`
	RegisteredAt time.Time `json:"registered_at"`
}
