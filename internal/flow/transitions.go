package flow

import "github.com/Mapetere/latterpay/internal/models"

// transitionMap lists, per destination step, the steps a session may arrive
// from. Resetting to start is always allowed.
var transitionMap = map[string][]string{
	models.StepAction:       {models.StepStart},
	models.StepName:         {models.StepAction, models.StepConfirmation},
	models.StepRegion:       {models.StepAction, models.StepName},
	models.StepPurpose:      {models.StepAction, models.StepName, models.StepRegion},
	models.StepAmount:       {models.StepAction, models.StepRegion, models.StepPurpose},
	models.StepCurrency:     {models.StepAction, models.StepRegion, models.StepPurpose, models.StepAmount},
	models.StepNote:         {models.StepAction, models.StepRegion, models.StepPurpose, models.StepAmount, models.StepCurrency},
	models.StepConfirmation: {models.StepRegion, models.StepPurpose, models.StepAmount, models.StepCurrency, models.StepNote},
	models.StepMethod:       {models.StepConfirmation},
	models.StepPayerPhone:   {models.StepMethod},
	models.StepRegName:      {models.StepAction},
	models.StepRegEmail:     {models.StepRegName},
	models.StepRegSkill:     {models.StepRegEmail},
	models.StepRegArea:      {models.StepRegSkill},
}

func ValidTransition(from, to string) bool {
	if to == models.StepStart {
		return true
	}
	allowed, ok := transitionMap[to]
	if !ok {
		return false
	}
	for _, step := range allowed {
		if step == from {
			return true
		}
	}
	return false
}
