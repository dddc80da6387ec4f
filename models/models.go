// Package models enthält die GORM-Entitäten des Redaktions-Workflows.
package models

// All listet alle Entitäten für die Auto-Migration.
func All() []any {
	return []any{
		&Person{}, &Affiliation{}, &Publication{}, &PublicationAuthor{}, &FinancialInterest{},
		&Manuscript{}, &ManuscriptAuthor{}, &TimelineEntry{},
		&ReviewerInvitation{}, &ReminderDispatch{}, &ReviewAssignment{}, &Review{},
		&ConflictOverride{},
		&QualityAnalysisJob{}, &QualityReport{}, &ReviewerStats{}, &TrainingTask{}, &ReviewerBadge{},
		&EditorialDecision{}, &DecisionActionLog{},
	}
}
