package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/radieske/betting-companion-api/internal/companion-api/repo"
)

const preamble = "System: Role: You are a sharp sports betting assistant. Keep answers concise.\n" +
	"Answer the user's question based only on the DATA provided below. " +
	"If the data isn't there, say you don't have that specific info live and offer general guidance instead.\n"

const noData = "DATA: no live data is available for this question.\n"

// BuildPrompt junta preâmbulo, contexto e a pergunta original do usuário
func BuildPrompt(context, query string) string {
	var b strings.Builder
	b.WriteString(preamble)
	b.WriteString("\n")
	if strings.TrimSpace(context) == "" {
		b.WriteString(noData)
	} else {
		b.WriteString(context)
	}
	b.WriteString("\nUser: ")
	b.WriteString(query)
	return b.String()
}

func renderMatches(ms []repo.Match) string {
	var lines []string
	for _, m := range ms {
		t1, t2 := m.Team1Name, m.Team2Name
		if t1 == "" {
			t1 = "team " + strconv.FormatInt(m.Team1ID, 10)
		}
		if t2 == "" {
			t2 = "team " + strconv.FormatInt(m.Team2ID, 10)
		}
		line := fmt.Sprintf("- %s vs %s, %s", t1, t2, m.MatchDate.UTC().Format(time.RFC3339))
		if m.Venue != "" {
			line += ", " + m.Venue
		}
		if m.Stage != "" {
			line += " (" + m.Stage + ")"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func renderFeatures(fs []repo.FeatureRanking) string {
	var lines []string
	for _, f := range fs {
		lines = append(lines, fmt.Sprintf("- #%d %s", f.Rank, f.Feature))
	}
	return strings.Join(lines, "\n")
}

// renderRows imprime cada objeto como "chave: valor" com chaves ordenadas; linhas inválidas são puladas
func renderRows(rows []json.RawMessage) string {
	var lines []string
	for _, raw := range rows {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil || len(obj) == 0 {
			continue
		}
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+": "+formatValue(obj[k]))
		}
		lines = append(lines, "- "+strings.Join(parts, ", "))
	}
	return strings.Join(lines, "\n")
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
