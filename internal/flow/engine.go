// Package flow drives the donation and registration conversations. Each
// session advances one step per inbound message; global commands work at any
// step.
package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Mapetere/latterpay/internal/logging"
	"github.com/Mapetere/latterpay/internal/models"
	"github.com/Mapetere/latterpay/internal/nlu"
	"github.com/Mapetere/latterpay/internal/paynow"
	"github.com/Mapetere/latterpay/internal/resilience"
	"github.com/Mapetere/latterpay/internal/store"
	"github.com/Mapetere/latterpay/internal/whatsapp"
)

// Gateway is the slice of the payment client the engine needs.
type Gateway interface {
	InitiateMobile(ctx context.Context, input paynow.InitiateInput) (paynow.InitiateResult, error)
}

// Parser extracts intent and entities from free-form messages.
type Parser interface {
	Parse(ctx context.Context, message string) nlu.Result
}

type Engine struct {
	store     store.Store
	sender    whatsapp.Sender
	gateway   Gateway
	validator *resilience.Validator
	parser    Parser
	isAdmin   func(phone string) bool
}

type Config struct {
	Store     store.Store
	Sender    whatsapp.Sender
	Gateway   Gateway
	Validator *resilience.Validator
	Parser    Parser
	IsAdmin   func(phone string) bool
}

func NewEngine(cfg Config) *Engine {
	isAdmin := cfg.IsAdmin
	if isAdmin == nil {
		isAdmin = func(string) bool { return false }
	}
	validator := cfg.Validator
	if validator == nil {
		validator = resilience.NewValidator(1, 480)
	}
	return &Engine{
		store:     cfg.Store,
		sender:    cfg.Sender,
		gateway:   cfg.Gateway,
		validator: validator,
		parser:    cfg.Parser,
		isAdmin:   isAdmin,
	}
}

// HandleMessage processes one inbound message. senderName is the WhatsApp
// profile name, used only as a greeting fallback.
func (e *Engine) HandleMessage(ctx context.Context, phone, senderName, message string) error {
	message = e.validator.SanitizeMessage(message)
	lower := strings.ToLower(strings.TrimSpace(message))

	session, err := e.store.LoadSession(ctx, phone)
	if errors.Is(err, store.ErrSessionNotFound) {
		session = models.Session{Phone: phone, Step: models.StepStart, Data: map[string]string{}}
	} else if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if session.Data == nil {
		session.Data = map[string]string{}
	}

	switch lower {
	case "cancel", "quit", "exit", "stop", "confirm_cancel":
		return e.cancel(ctx, phone)
	case "help", "?", "action_help", "quick_help":
		return e.sender.SendText(ctx, phone, helpText)
	case "menu":
		if err := e.store.DeleteSession(ctx, phone); err != nil && !errors.Is(err, store.ErrSessionNotFound) {
			return err
		}
		session = models.Session{Phone: phone, Step: models.StepStart, Data: map[string]string{}}
		return e.handleStart(ctx, &session, senderName)
	case "history":
		return e.sendHistory(ctx, phone)
	case "status":
		return e.sendStatus(ctx, phone)
	case "stats":
		if e.isAdmin(phone) {
			return e.sendAdminReport(ctx, phone)
		}
	}

	switch session.Step {
	case models.StepStart:
		return e.handleStart(ctx, &session, senderName)
	case models.StepAction:
		return e.handleAction(ctx, &session, message, lower)
	case models.StepName:
		return e.handleName(ctx, &session, message)
	case models.StepRegion:
		return e.handleRegion(ctx, &session, message)
	case models.StepPurpose:
		return e.handlePurpose(ctx, &session, lower)
	case models.StepAmount:
		return e.handleAmount(ctx, &session, message)
	case models.StepCurrency:
		return e.handleCurrency(ctx, &session, lower)
	case models.StepNote:
		return e.handleNote(ctx, &session, message, lower)
	case models.StepConfirmation:
		return e.handleConfirmation(ctx, &session, lower)
	case models.StepMethod:
		return e.handleMethod(ctx, &session, lower)
	case models.StepPayerPhone:
		return e.handlePayerPhone(ctx, &session, message)
	case models.StepRegName:
		return e.handleRegName(ctx, &session, message)
	case models.StepRegEmail:
		return e.handleRegEmail(ctx, &session, message)
	case models.StepRegSkill:
		return e.handleRegSkill(ctx, &session, message)
	case models.StepRegArea:
		return e.handleRegArea(ctx, &session, message)
	default:
		logging.Logger.WithField("phone", phone).
			WithField("step", session.Step).
			Warn("unknown session step, resetting")
		session = models.Session{Phone: phone, Step: models.StepStart, Data: map[string]string{}}
		return e.handleStart(ctx, &session, senderName)
	}
}

// advance moves the session to the next step and persists it.
func (e *Engine) advance(ctx context.Context, session *models.Session, step string) error {
	if !ValidTransition(session.Step, step) {
		logging.Logger.WithField("phone", session.Phone).
			WithField("from", session.Step).
			WithField("to", step).
			Warn("unexpected step transition")
	}
	session.Step = step
	session.LastActive = time.Now().UTC()
	session.Warned = false
	return e.store.SaveSession(ctx, *session)
}

func (e *Engine) handleStart(ctx context.Context, session *models.Session, senderName string) error {
	known, err := e.store.IsKnownUser(ctx, session.Phone)
	if err != nil {
		logging.Logger.WithError(err).Warn("known user lookup failed")
	}

	if known {
		if payments, err := e.store.ListPaymentsByPhone(ctx, session.Phone, 1); err == nil && len(payments) > 0 {
			last := payments[0]
			if last.Name != "" && last.Congregation != "" {
				session.Data["name"] = last.Name
				session.Data["congregation"] = last.Congregation
				if last.Currency != "" {
					session.Data["currency"] = last.Currency
				}
				if err := e.advance(ctx, session, models.StepAction); err != nil {
					return err
				}
				body := welcomeBackText(last.Name) + "\n\n" + savedDetailsText(last.Name, last.Congregation)
				return e.sender.SendButtons(ctx, session.Phone, body, []whatsapp.Button{
					{ID: "quick_yes", Title: "Donate again"},
					{ID: "quick_new", Title: "New details"},
					{ID: "action_help", Title: "Help"},
				})
			}
		}
	}

	if err := e.advance(ctx, session, models.StepAction); err != nil {
		return err
	}
	body := welcomeText(senderName) + "\n\nWhat would you like to do?"
	return e.sender.SendButtons(ctx, session.Phone, body, []whatsapp.Button{
		{ID: "action_donate", Title: "Donate"},
		{ID: "action_register", Title: "Register"},
		{ID: "action_help", Title: "Help"},
	})
}

func (e *Engine) handleAction(ctx context.Context, session *models.Session, message, lower string) error {
	switch lower {
	case "action_donate", "donate", "quick_yes", "quick", "1":
		if session.Data["name"] != "" && session.Data["congregation"] != "" {
			if err := e.advance(ctx, session, models.StepPurpose); err != nil {
				return err
			}
			if err := e.sender.SendText(ctx, session.Phone, fmt.Sprintf("Great, *%s*! Let's continue with your saved details. ✅", session.Data["name"])); err != nil {
				return err
			}
			return e.sender.SendText(ctx, session.Phone, purposeMenuText())
		}
		if err := e.advance(ctx, session, models.StepName); err != nil {
			return err
		}
		return e.sender.SendText(ctx, session.Phone, "Let's get started! 📝\n\nPlease tell me your *full name*.\n\n_You can also send name and congregation together: John Moyo, Harare Central_")
	case "quick_new", "new":
		name := session.Data["name"]
		session.Data = map[string]string{}
		if name != "" {
			session.Data["name"] = name
			if err := e.advance(ctx, session, models.StepRegion); err != nil {
				return err
			}
			return e.sender.SendText(ctx, session.Phone, fmt.Sprintf("No problem, *%s*! 📝\n\nWhich *congregation* are you donating from today?", name))
		}
		if err := e.advance(ctx, session, models.StepName); err != nil {
			return err
		}
		return e.sender.SendText(ctx, session.Phone, "Let's start fresh! 📝\n\nPlease tell me your *full name*.")
	case "action_register", "register", "2":
		if err := e.advance(ctx, session, models.StepRegName); err != nil {
			return err
		}
		return e.sender.SendText(ctx, session.Phone, "📝 *Volunteer Registration*\n\nPlease tell me your *full name*.")
	case "action_help", "help", "3":
		return e.sender.SendText(ctx, session.Phone, helpText)
	}

	parsed := e.parse(ctx, message)
	if parsed.Intent == nlu.IntentRegister {
		if err := e.advance(ctx, session, models.StepRegName); err != nil {
			return err
		}
		return e.sender.SendText(ctx, session.Phone, "📝 *Volunteer Registration*\n\nPlease tell me your *full name*.")
	}
	if parsed.Intent == nlu.IntentDonate || parsed.Amount != "" {
		e.mergeEntities(session, parsed)
		return e.proceedToMissing(ctx, session)
	}

	return e.sender.SendButtons(ctx, session.Phone, "I didn't quite catch that. Please select an option:", []whatsapp.Button{
		{ID: "action_donate", Title: "Donate"},
		{ID: "action_register", Title: "Register"},
		{ID: "action_help", Title: "Help"},
	})
}

func (e *Engine) parse(ctx context.Context, message string) nlu.Result {
	if e.parser == nil {
		return nlu.ParseRegex(message)
	}
	return e.parser.Parse(ctx, message)
}

// mergeEntities copies extracted entities into the session, validating where
// possible and discarding what fails.
func (e *Engine) mergeEntities(session *models.Session, parsed nlu.Result) {
	if parsed.Name != "" && session.Data["name"] == "" {
		if name, err := e.validator.ValidateName(parsed.Name); err == nil {
			session.Data["name"] = name
		}
	}
	if parsed.Congregation != "" && session.Data["congregation"] == "" {
		session.Data["congregation"] = normalizeCongregation(parsed.Congregation)
	}
	if parsed.Purpose != "" && session.Data["purpose"] == "" {
		session.Data["purpose"] = parsed.Purpose
	}
	if parsed.Amount != "" && session.Data["amount"] == "" {
		if amount, err := e.validator.ValidateAmount(parsed.Amount); err == nil {
			session.Data["amount"] = amount.StringFixed(2)
		}
	}
	if parsed.Currency != "" && session.Data["currency"] == "" {
		session.Data["currency"] = parsed.Currency
	}
}

// proceedToMissing routes the session to the first field still to collect.
func (e *Engine) proceedToMissing(ctx context.Context, session *models.Session) error {
	data := session.Data
	switch {
	case data["name"] == "":
		if err := e.advance(ctx, session, models.StepName); err != nil {
			return err
		}
		return e.sender.SendText(ctx, session.Phone, "I understand you'd like to donate!\n\nPlease tell me your *full name*.\n\n_You can also send name and congregation together: John Moyo, Harare Central_")
	case data["congregation"] == "":
		if err := e.advance(ctx, session, models.StepRegion); err != nil {
			return err
		}
		return e.sender.SendText(ctx, session.Phone, "Which *congregation* or area are you donating from?")
	case data["purpose"] == "":
		if err := e.advance(ctx, session, models.StepPurpose); err != nil {
			return err
		}
		return e.sender.SendText(ctx, session.Phone, purposeMenuText())
	case data["amount"] == "":
		if err := e.advance(ctx, session, models.StepAmount); err != nil {
			return err
		}
		return e.sender.SendText(ctx, session.Phone, amountPromptText(e.validator.MaxAmount.StringFixed(0)))
	case data["currency"] == "":
		return e.promptCurrency(ctx, session)
	case data["note"] == "" && !hasKey(data, "note"):
		return e.promptNote(ctx, session)
	default:
		return e.sendConfirmation(ctx, session)
	}
}

func hasKey(data map[string]string, key string) bool {
	_, ok := data[key]
	return ok
}

func (e *Engine) handleName(ctx context.Context, session *models.Session, message string) error {
	// "Name, Congregation" in one message skips a step.
	parts := splitParts(message)
	if len(parts) >= 2 {
		name, err := e.validator.ValidateName(parts[0])
		if err != nil {
			return e.sender.SendText(ctx, session.Phone, "❌ "+err.Error()+"\nPlease try again:")
		}
		session.Data["name"] = name
		session.Data["congregation"] = normalizeCongregation(parts[1])
		if err := e.sender.SendText(ctx, session.Phone, fmt.Sprintf("Thanks, *%s* from *%s*! ✅", name, session.Data["congregation"])); err != nil {
			return err
		}
		return e.proceedToMissing(ctx, session)
	}

	name, err := e.validator.ValidateName(message)
	if err != nil {
		return e.sender.SendText(ctx, session.Phone, "❌ "+err.Error()+"\nPlease try again:")
	}
	session.Data["name"] = name
	if err := e.advance(ctx, session, models.StepRegion); err != nil {
		return err
	}
	return e.sender.SendText(ctx, session.Phone, fmt.Sprintf("Thanks, *%s*!\n\nNow please tell me your *congregation* or area:", name))
}

func (e *Engine) handleRegion(ctx context.Context, session *models.Session, message string) error {
	congregation := normalizeCongregation(message)
	if congregation == "" {
		return e.sender.SendText(ctx, session.Phone, "Please tell me your *congregation* or area:")
	}
	session.Data["congregation"] = congregation
	return e.proceedToMissing(ctx, session)
}

// purposeChoices accepts button IDs, menu numbers, and plain names.
var purposeChoices = map[string]string{
	"purpose_monthly":      "Monthly Contributions",
	"purpose_august":       "August Conference",
	"purpose_youth":        "Youth Conference",
	"purpose_construction": "Construction Contribution",
	"purpose_pastoral":     "Pastoral Support",
	"purpose_other":        "Other",
	"1":                    "Monthly Contributions",
	"2":                    "August Conference",
	"3":                    "Youth Conference",
	"4":                    "Construction Contribution",
	"5":                    "Pastoral Support",
	"6":                    "Other",
}

func (e *Engine) handlePurpose(ctx context.Context, session *models.Session, lower string) error {
	purpose, ok := purposeChoices[lower]
	if !ok {
		for _, candidate := range models.DonationTypes {
			if strings.EqualFold(candidate, lower) {
				purpose = candidate
				ok = true
				break
			}
		}
	}
	if !ok {
		if parsed := nlu.ParseRegex(lower); parsed.Purpose != "" {
			purpose = parsed.Purpose
			ok = true
		}
	}
	if !ok {
		return e.sender.SendText(ctx, session.Phone, purposeMenuText())
	}
	session.Data["purpose"] = purpose
	if err := e.sender.SendText(ctx, session.Phone, fmt.Sprintf("*%s* selected ✅", purpose)); err != nil {
		return err
	}
	return e.proceedToMissing(ctx, session)
}

func (e *Engine) handleAmount(ctx context.Context, session *models.Session, message string) error {
	amount, err := e.validator.ValidateAmount(message)
	if err != nil {
		return e.sender.SendText(ctx, session.Phone, "❌ "+err.Error()+"\n_Example: 50 or 100.00_")
	}
	session.Data["amount"] = amount.StringFixed(2)
	return e.proceedToMissing(ctx, session)
}

func (e *Engine) promptCurrency(ctx context.Context, session *models.Session) error {
	if err := e.advance(ctx, session, models.StepCurrency); err != nil {
		return err
	}
	return e.sender.SendButtons(ctx, session.Phone, "💱 Which currency?", []whatsapp.Button{
		{ID: "currency_usd", Title: "USD ($)"},
		{ID: "currency_zwg", Title: "ZWG"},
	})
}

var currencyChoices = map[string]string{
	"currency_usd": models.CurrencyUSD,
	"currency_zwg": models.CurrencyZWG,
	"usd":          models.CurrencyUSD,
	"zwg":          models.CurrencyZWG,
	"1":            models.CurrencyUSD,
	"2":            models.CurrencyZWG,
}

func (e *Engine) handleCurrency(ctx context.Context, session *models.Session, lower string) error {
	currency, ok := currencyChoices[lower]
	if !ok {
		return e.promptCurrency(ctx, session)
	}
	session.Data["currency"] = currency
	return e.promptNote(ctx, session)
}

func (e *Engine) promptNote(ctx context.Context, session *models.Session) error {
	if err := e.advance(ctx, session, models.StepNote); err != nil {
		return err
	}
	return e.sender.SendText(ctx, session.Phone, "📝 Add a short note for this donation, or type *skip*:")
}

func (e *Engine) handleNote(ctx context.Context, session *models.Session, message, lower string) error {
	switch lower {
	case "skip", "no", "none", "-":
		session.Data["note"] = ""
	default:
		session.Data["note"] = resilience.Truncate(message, 200)
	}
	return e.sendConfirmation(ctx, session)
}

func (e *Engine) sendConfirmation(ctx context.Context, session *models.Session) error {
	if err := e.advance(ctx, session, models.StepConfirmation); err != nil {
		return err
	}
	return e.sender.SendButtons(ctx, session.Phone, confirmationText(session.Data), []whatsapp.Button{
		{ID: "confirm_yes", Title: "Confirm ✅"},
		{ID: "confirm_edit", Title: "Edit"},
		{ID: "confirm_cancel", Title: "Cancel"},
	})
}

func (e *Engine) handleConfirmation(ctx context.Context, session *models.Session, lower string) error {
	switch lower {
	case "confirm_yes", "confirm", "yes", "y", "1":
		if err := e.advance(ctx, session, models.StepMethod); err != nil {
			return err
		}
		return e.sender.SendButtons(ctx, session.Phone, "💳 How would you like to pay?", []whatsapp.Button{
			{ID: "pay_ecocash", Title: models.MethodEcoCash},
			{ID: "pay_onemoney", Title: models.MethodOneMoney},
			{ID: "pay_innbucks", Title: models.MethodInnBucks},
		})
	case "confirm_edit", "edit", "e", "2":
		session.Data = map[string]string{}
		if err := e.advance(ctx, session, models.StepName); err != nil {
			return err
		}
		return e.sender.SendText(ctx, session.Phone, "Let's update your details. 📝\n\nPlease tell me your *full name*.\n\n_You can also send name and congregation together: John Moyo, Harare Central_")
	case "no", "n", "3":
		return e.cancel(ctx, session.Phone)
	}
	return e.sendConfirmation(ctx, session)
}

var methodChoices = map[string]string{
	"pay_ecocash":  models.MethodEcoCash,
	"pay_onemoney": models.MethodOneMoney,
	"pay_innbucks": models.MethodInnBucks,
	"ecocash":      models.MethodEcoCash,
	"onemoney":     models.MethodOneMoney,
	"innbucks":     models.MethodInnBucks,
	"1":            models.MethodEcoCash,
	"2":            models.MethodOneMoney,
	"3":            models.MethodInnBucks,
}

func (e *Engine) handleMethod(ctx context.Context, session *models.Session, lower string) error {
	method, ok := methodChoices[lower]
	if !ok {
		return e.sender.SendButtons(ctx, session.Phone, "💳 How would you like to pay?", []whatsapp.Button{
			{ID: "pay_ecocash", Title: models.MethodEcoCash},
			{ID: "pay_onemoney", Title: models.MethodOneMoney},
			{ID: "pay_innbucks", Title: models.MethodInnBucks},
		})
	}
	session.Data["method"] = method
	if err := e.advance(ctx, session, models.StepPayerPhone); err != nil {
		return err
	}
	return e.sender.SendText(ctx, session.Phone, fmt.Sprintf("*%s* selected ✅\n\n📱 Please enter your *%s number*:\n\n_Format: 0771234567 or 263771234567_", method, method))
}

func (e *Engine) handlePayerPhone(ctx context.Context, session *models.Session, message string) error {
	payerPhone, err := e.validator.ValidatePhone(message)
	if err != nil {
		return e.sender.SendText(ctx, session.Phone, "❌ "+err.Error())
	}
	session.Data["payer_phone"] = payerPhone
	return e.initiatePayment(ctx, session)
}

func (e *Engine) initiatePayment(ctx context.Context, session *models.Session) error {
	amount, err := decimal.NewFromString(session.Data["amount"])
	if err != nil {
		logging.Logger.WithError(err).Error("corrupt session amount")
		return e.sender.SendText(ctx, session.Phone, "❌ Something went wrong with your donation details. Type *menu* to start over.")
	}
	currency := session.Data["currency"]
	if currency == "" {
		currency = models.CurrencyZWG
	}

	reference := models.NewReference(time.Now())
	result, err := e.gateway.InitiateMobile(ctx, paynow.InitiateInput{
		Reference: reference,
		Phone:     session.Data["payer_phone"],
		Amount:    amount,
		Currency:  currency,
		Method:    session.Data["method"],
		Info:      session.Data["purpose"],
	})
	if err != nil {
		logging.Logger.WithError(err).WithField("reference", reference).Error("payment initiation failed")
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return e.sender.SendText(ctx, session.Phone, "⏳ The payment service is busy right now. Please try again in a minute.")
		}
		return e.sender.SendText(ctx, session.Phone, "❌ There was an error initiating your payment.\nPlease try again or contact support.")
	}

	payment, err := e.store.RecordPayment(ctx, store.RecordPaymentInput{
		Reference:    reference,
		Phone:        session.Phone,
		Name:         session.Data["name"],
		Congregation: session.Data["congregation"],
		DonationType: session.Data["purpose"],
		Amount:       amount,
		Currency:     currency,
		Method:       session.Data["method"],
		PollURL:      result.PollURL,
		Note:         session.Data["note"],
	})
	if err != nil {
		return fmt.Errorf("record payment: %w", err)
	}
	if err := e.store.AddKnownUser(ctx, session.Phone); err != nil {
		logging.Logger.WithError(err).Warn("add known user failed")
	}
	if err := e.store.DeleteSession(ctx, session.Phone); err != nil && !errors.Is(err, store.ErrSessionNotFound) {
		logging.Logger.WithError(err).Warn("delete session failed")
	}
	return e.sender.SendText(ctx, session.Phone, paymentInstructionsText(payment, result.Instructions))
}

func (e *Engine) handleRegName(ctx context.Context, session *models.Session, message string) error {
	name, err := e.validator.ValidateName(message)
	if err != nil {
		return e.sender.SendText(ctx, session.Phone, "❌ "+err.Error()+"\nPlease try again:")
	}
	session.Data["reg_name"] = name
	if err := e.advance(ctx, session, models.StepRegEmail); err != nil {
		return err
	}
	return e.sender.SendText(ctx, session.Phone, fmt.Sprintf("Thanks, *%s*!\n\n📧 What's your *email address*?", name))
}

func (e *Engine) handleRegEmail(ctx context.Context, session *models.Session, message string) error {
	email, err := e.validator.ValidateEmail(message)
	if err != nil {
		return e.sender.SendText(ctx, session.Phone, "❌ "+err.Error()+"\nPlease try again:")
	}
	session.Data["reg_email"] = email
	if err := e.advance(ctx, session, models.StepRegSkill); err != nil {
		return err
	}
	return e.sender.SendText(ctx, session.Phone, "🛠️ What's your *skill*? (e.g., Medical, IT, Teaching)")
}

func (e *Engine) handleRegSkill(ctx context.Context, session *models.Session, message string) error {
	skill := strings.TrimSpace(message)
	if skill == "" {
		return e.sender.SendText(ctx, session.Phone, "🛠️ What's your *skill*? (e.g., Medical, IT, Teaching)")
	}
	session.Data["reg_skill"] = resilience.Truncate(skill, 100)
	if err := e.advance(ctx, session, models.StepRegArea); err != nil {
		return err
	}
	return e.sender.SendText(ctx, session.Phone, "🏛️ Which *congregation or area* are you from?")
}

func (e *Engine) handleRegArea(ctx context.Context, session *models.Session, message string) error {
	area := normalizeCongregation(message)
	if area == "" {
		return e.sender.SendText(ctx, session.Phone, "🏛️ Which *congregation or area* are you from?")
	}
	reg := models.Registration{
		Phone:        session.Phone,
		Name:         session.Data["reg_name"],
		Email:        session.Data["reg_email"],
		Skill:        session.Data["reg_skill"],
		Area:         area,
		RegisteredAt: time.Now().UTC(),
	}
	if err := e.store.SaveRegistration(ctx, reg); err != nil {
		return fmt.Errorf("save registration: %w", err)
	}
	if err := e.store.AddKnownUser(ctx, session.Phone); err != nil {
		logging.Logger.WithError(err).Warn("add known user failed")
	}
	if err := e.store.DeleteSession(ctx, session.Phone); err != nil && !errors.Is(err, store.ErrSessionNotFound) {
		logging.Logger.WithError(err).Warn("delete session failed")
	}
	return e.sender.SendText(ctx, session.Phone, registrationCompleteText(reg))
}

func (e *Engine) cancel(ctx context.Context, phone string) error {
	if err := e.store.DeleteSession(ctx, phone); err != nil && !errors.Is(err, store.ErrSessionNotFound) {
		return err
	}
	return e.sender.SendText(ctx, phone, cancelledText)
}

func (e *Engine) sendHistory(ctx context.Context, phone string) error {
	payments, err := e.store.ListPaymentsByPhone(ctx, phone, 10)
	if err != nil {
		return fmt.Errorf("list payments: %w", err)
	}
	return e.sender.SendText(ctx, phone, FormatHistory(payments))
}

func (e *Engine) sendStatus(ctx context.Context, phone string) error {
	payments, err := e.store.ListPaymentsByPhone(ctx, phone, 1)
	if err != nil {
		return fmt.Errorf("list payments: %w", err)
	}
	if len(payments) == 0 {
		return e.sender.SendText(ctx, phone, "📭 You haven't made any payments yet.\n\nType *menu* to get started.")
	}
	return e.sender.SendText(ctx, phone, formatPaymentStatus(payments[0]))
}

func (e *Engine) sendAdminReport(ctx context.Context, phone string) error {
	stats, err := e.store.GetStatistics(ctx, 30)
	if err != nil {
		return fmt.Errorf("get statistics: %w", err)
	}
	return e.sender.SendText(ctx, phone, FormatAdminReport(stats))
}

// splitParts splits "John Moyo, Harare Central" style input.
func splitParts(message string) []string {
	message = strings.ReplaceAll(message, " and ", ", ")
	var parts []string
	for _, part := range strings.Split(message, ",") {
		if p := strings.TrimSpace(part); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

var congregationSuffixes = []string{" Congregation", " Church", " Assembly", " Chapel", " Parish"}

func normalizeCongregation(name string) string {
	words := strings.Fields(name)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	normalized := strings.Join(words, " ")
	for _, suffix := range congregationSuffixes {
		if strings.HasSuffix(normalized, suffix) {
			normalized = strings.TrimSpace(strings.TrimSuffix(normalized, suffix))
		}
	}
	return normalized
}
