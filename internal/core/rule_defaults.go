package core

import (
	"taskledger/pkg/domain"
)

type ruleRegistration struct {
	entities []domain.EntityType
	rule     Rule
}

// defaultRules lists the built-in before-write rules in registration order.
func defaultRules() []ruleRegistration {
	return []ruleRegistration{
		{entities: []domain.EntityType{domain.EntityAccount, domain.EntityUser, domain.EntityProject, domain.EntityTask, domain.EntityInvoice}, rule: NewFieldValuesRule()},
		{entities: []domain.EntityType{domain.EntityUser, domain.EntityProject, domain.EntityTask, domain.EntityTimeEntry, domain.EntityInvoice}, rule: NewReferenceIntegrityRule()},
		{entities: []domain.EntityType{domain.EntityTimeEntry}, rule: NewTimeEntryHoursRule()},
		{entities: []domain.EntityType{domain.EntityInvoice}, rule: NewInvoiceTermsRule()},
		{entities: []domain.EntityType{domain.EntityProject}, rule: NewUniqueProjectNameRule()},
		{entities: []domain.EntityType{domain.EntityTask}, rule: NewUniqueTaskTitleRule()},
		{entities: []domain.EntityType{domain.EntityTask}, rule: NewTaskProjectOpenRule()},
		{entities: []domain.EntityType{domain.EntityUser}, rule: NewUniqueUserEmailRule()},
		{entities: []domain.EntityType{domain.EntityProject}, rule: NewProjectCompletionRule()},
	}
}

func viewGet[T domain.Entity](view View, entity domain.EntityType, id int64) (T, bool) {
	var zero T
	e, ok := view.Get(entity, id)
	if !ok {
		return zero, false
	}
	v, ok := e.(T)
	if !ok {
		return zero, false
	}
	return v, true
}
