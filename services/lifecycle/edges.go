package lifecycle

import "journal-desk/models"

type edge struct {
	from models.ManuscriptStatus
	to   models.ManuscriptStatus
}

// rule beschreibt, wer eine Kante auslösen darf.
type rule struct {
	roles []models.Role
	// authorOnly verlangt, dass der Akteur zur Autorenmenge gehört.
	authorOnly bool
	// ownerOnly bindet Editor-Kanten an den zuständigen Editor (Admin ausgenommen).
	ownerOnly bool
}

// edges ist die vollständige Tabelle der erlaubten Übergänge.
var edges = map[edge]rule{
	{models.StatusDraft, models.StatusSubmitted}:                {roles: []models.Role{models.RoleAuthor}, authorOnly: true},
	{models.StatusSubmitted, models.StatusWithEditor}:           {roles: []models.Role{models.RoleEditor}},
	{models.StatusWithEditor, models.StatusUnderReview}:         {roles: []models.Role{models.RoleEditor, models.RoleSystem}, ownerOnly: true},
	{models.StatusUnderReview, models.StatusRevisionsRequested}: {roles: []models.Role{models.RoleEditor}, ownerOnly: true},
	{models.StatusUnderReview, models.StatusAccepted}:           {roles: []models.Role{models.RoleEditor}, ownerOnly: true},
	{models.StatusUnderReview, models.StatusRejected}:           {roles: []models.Role{models.RoleEditor}, ownerOnly: true},
	{models.StatusRevisionsRequested, models.StatusUnderReview}: {roles: []models.Role{models.RoleAuthor}, authorOnly: true},
	{models.StatusAccepted, models.StatusInProduction}:          {roles: []models.Role{models.RoleSystem}},
	{models.StatusInProduction, models.StatusPublished}:         {roles: []models.Role{models.RoleSystem}},
}

// Allowed meldet, ob die Kante from → to in der Tabelle steht.
func Allowed(from, to models.ManuscriptStatus) bool {
	_, ok := edges[edge{from, to}]
	return ok
}

// Targets listet die erlaubten Zielstatus ab from.
func Targets(from models.ManuscriptStatus) []models.ManuscriptStatus {
	var out []models.ManuscriptStatus
	for e := range edges {
		if e.from == from {
			out = append(out, e.to)
		}
	}
	return out
}

func (r rule) permits(role models.Role) bool {
	for _, allowed := range r.roles {
		if role == allowed {
			return true
		}
		if allowed == models.RoleEditor && role == models.RoleAdmin {
			return true
		}
	}
	return false
}
