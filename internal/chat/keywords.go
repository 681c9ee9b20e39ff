package chat

import (
	"strings"

	"github.com/radieske/betting-companion-api/internal/companion-api/repo"
)

// Conjuntos de palavras-gatilho (disjuntos). O casamento é por substring na query em
// minúsculas, sem tokenização: "gameplay" dispara schedule, "spainish" menciona Spain.
// Falsos positivos desse tipo são aceitos.
var (
	scheduleWords = []string{"match", "game", "schedule", "play", "fixture", "kickoff"}
	bettingWords  = []string{"bet", "value", "odds", "money", "wager", "edge"}
	outrightWords = []string{"qualif", "outright", "champion", "winner", "trophy", "title"}
	statsWords    = []string{"stat", "performance", "predict", "model", "feature", "rating"}
)

// Triggers indica quais categorias de dados a query pede
type Triggers struct {
	Schedule bool
	Betting  bool
	Outright bool
	Stats    bool
}

func containsAny(q string, words []string) bool {
	for _, w := range words {
		if strings.Contains(q, w) {
			return true
		}
	}
	return false
}

// DetectTriggers avalia os gatilhos sobre a query já em minúsculas
func DetectTriggers(lowerQuery string) Triggers {
	return Triggers{
		Schedule: containsAny(lowerQuery, scheduleWords),
		Betting:  containsAny(lowerQuery, bettingWords),
		Outright: containsAny(lowerQuery, outrightWords),
		Stats:    containsAny(lowerQuery, statsWords),
	}
}

// DetectTeams retorna os times cujo nome aparece como substring da query (minúsculas).
// Mantém a ordem recebida; nomes vazios são ignorados.
func DetectTeams(teams []repo.Team, lowerQuery string) []repo.Team {
	var out []repo.Team
	for _, t := range teams {
		name := strings.ToLower(strings.TrimSpace(t.Name))
		if name == "" {
			continue
		}
		if strings.Contains(lowerQuery, name) {
			out = append(out, t)
		}
	}
	return out
}
