// Package chat monta o contexto de dados para o assistente e encaminha a pergunta
// ao serviço de geração de texto.
package chat

import (
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/radieske/betting-companion-api/internal/companion-api/repo"
	"github.com/radieske/betting-companion-api/internal/shared/apperr"
)

// Source são as leituras que o assembler faz no banco
type Source interface {
	ListTeams(ctx context.Context) ([]repo.Team, error)
	UpcomingMatches(ctx context.Context, limit int) ([]repo.Match, error)
	ListJSON(ctx context.Context, table string, limit int) ([]json.RawMessage, error)
	FilteredJSON(ctx context.Context, table, column string, values []string, limit int) ([]json.RawMessage, error)
	TopFeatures(ctx context.Context, limit int) ([]repo.FeatureRanking, error)
	StatsByTeamIDs(ctx context.Context, category string, ids []int64, limit int) ([]json.RawMessage, error)
	StatsByTeamNames(ctx context.Context, category string, names []string, limit int) ([]json.RawMessage, error)
}

// Generator gera texto a partir de um prompt
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

type Config struct {
	Model           string
	MaxQueryLen     int
	MaxContextChars int
	FetchTimeout    time.Duration

	MatchLimit    int
	ValueBetLimit int
	OddsLimit     int
	FeatureLimit  int
	StatsLimit    int
}

// DefaultConfig traz os tamanhos de amostra usados no contexto
func DefaultConfig() Config {
	return Config{
		Model:           "gemini-2.5-flash",
		MaxQueryLen:     500,
		MaxContextChars: 12000,
		FetchTimeout:    3 * time.Second,
		MatchLimit:      5,
		ValueBetLimit:   3,
		OddsLimit:       5,
		FeatureLimit:    10,
		StatsLimit:      10,
	}
}

// Nomes de seção (também usados como label de métrica)
const (
	SectionTeams          = "teams"
	SectionMatches        = "matches"
	SectionValueBets      = "value_bets"
	SectionOutrightOdds   = "outright_odds"
	SectionQualifyingOdds = "qualifying_odds"
	SectionFeatures       = "features"
	SectionStatsPrefix    = "stats_"
)

type Section struct {
	Name  string
	Label string
	Body  string
}

func (s Section) render() string {
	return "DATA - " + s.Label + ":\n" + s.Body + "\n"
}

// Composition é o resultado da montagem: seções na ordem fixa e times mencionados
type Composition struct {
	Mentioned []repo.Team
	Sections  []Section
}

// Text concatena as seções já limitadas pelo tamanho máximo
func (c Composition) Text() string {
	var b strings.Builder
	for i, s := range c.Sections {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(s.render())
	}
	return b.String()
}

type Answer struct {
	Text           string   `json:"response"`
	Sections       []string `json:"sections"`
	MentionedTeams []string `json:"mentioned_teams"`
}

type Assembler struct {
	src Source
	gen Generator
	log *zap.Logger
	cfg Config

	OnSectionError func(section string) // métricas
}

func New(src Source, gen Generator, log *zap.Logger, cfg Config) *Assembler {
	return &Assembler{src: src, gen: gen, log: log, cfg: cfg}
}

// Answer valida a pergunta, monta o contexto, chama o gerador uma única vez e devolve o texto sem alterações
func (a *Assembler) Answer(ctx context.Context, query string) (Answer, error) {
	if strings.TrimSpace(query) == "" {
		return Answer{}, apperr.E(apperr.ErrInvalidInput, "query is required")
	}
	if a.cfg.MaxQueryLen > 0 && utf8.RuneCountInString(query) > a.cfg.MaxQueryLen {
		return Answer{}, apperr.E(apperr.ErrInvalidInput, "query is too long")
	}

	comp := a.Compose(ctx, query)
	prompt := BuildPrompt(comp.Text(), query)

	text, err := a.gen.Generate(ctx, a.cfg.Model, prompt)
	if err != nil {
		a.log.Error("generation failed", zap.Error(err))
		return Answer{}, apperr.Wrap(apperr.ErrUpstream, err, "AI service unavailable")
	}

	ans := Answer{Text: text, Sections: []string{}, MentionedTeams: []string{}}
	for _, s := range comp.Sections {
		ans.Sections = append(ans.Sections, s.Name)
	}
	for _, t := range comp.Mentioned {
		ans.MentionedTeams = append(ans.MentionedTeams, t.Name)
	}
	return ans, nil
}

// Compose decide e busca as seções relevantes. Falha de uma busca só omite a seção.
func (a *Assembler) Compose(ctx context.Context, query string) Composition {
	q := strings.ToLower(query)
	trig := DetectTriggers(q)

	var comp Composition
	if teams, ok := fetch(a, ctx, SectionTeams, func(ctx context.Context) ([]repo.Team, error) {
		return a.src.ListTeams(ctx)
	}); ok {
		comp.Mentioned = DetectTeams(teams, q)
	}

	var ids []int64
	var names []string
	for _, t := range comp.Mentioned {
		ids = append(ids, t.ID)
		names = append(names, t.Name)
	}

	var sections []Section
	add := func(name, label, body string) {
		if body != "" {
			sections = append(sections, Section{Name: name, Label: label, Body: body})
		}
	}

	if len(names) > 0 {
		add(SectionTeams, "Mentioned Teams", strings.Join(names, ", "))
	}

	if trig.Schedule {
		if ms, ok := fetch(a, ctx, SectionMatches, func(ctx context.Context) ([]repo.Match, error) {
			return a.src.UpcomingMatches(ctx, a.cfg.MatchLimit)
		}); ok {
			add(SectionMatches, "Upcoming Matches", renderMatches(ms))
		}
	}

	if trig.Betting {
		if rows, ok := fetch(a, ctx, SectionValueBets, func(ctx context.Context) ([]json.RawMessage, error) {
			return a.src.ListJSON(ctx, repo.TableValueBets, a.cfg.ValueBetLimit)
		}); ok {
			add(SectionValueBets, "Current High Value Bets", renderRows(rows))
		}
	}

	if trig.Outright {
		if rows, ok := fetch(a, ctx, SectionOutrightOdds, func(ctx context.Context) ([]json.RawMessage, error) {
			return a.filteredOrSample(ctx, repo.TableOutrightOdds, "team", names)
		}); ok {
			add(SectionOutrightOdds, "Outright Winner Odds", renderRows(rows))
		}
		if rows, ok := fetch(a, ctx, SectionQualifyingOdds, func(ctx context.Context) ([]json.RawMessage, error) {
			return a.filteredOrSample(ctx, repo.TableQualifyingOdds, "country", names)
		}); ok {
			add(SectionQualifyingOdds, "Qualifying Odds", renderRows(rows))
		}
	}

	if trig.Stats || len(comp.Mentioned) > 0 {
		if fs, ok := fetch(a, ctx, SectionFeatures, func(ctx context.Context) ([]repo.FeatureRanking, error) {
			return a.src.TopFeatures(ctx, a.cfg.FeatureLimit)
		}); ok {
			add(SectionFeatures, "Top Predictive Features", renderFeatures(fs))
		}

		if len(comp.Mentioned) > 0 {
			for _, cat := range repo.StatCategories {
				name := SectionStatsPrefix + cat
				if rows, ok := fetch(a, ctx, name, func(ctx context.Context) ([]json.RawMessage, error) {
					rows, err := a.src.StatsByTeamIDs(ctx, cat, ids, a.cfg.StatsLimit)
					if err != nil || len(rows) > 0 {
						return rows, err
					}
					return a.src.StatsByTeamNames(ctx, cat, names, a.cfg.StatsLimit)
				}); ok {
					add(name, "Team Statistics ("+cat+")", renderRows(rows))
				}
			}
		}
	}

	comp.Sections = capSections(sections, a.cfg.MaxContextChars)
	return comp
}

// filteredOrSample filtra pelos times mencionados; sem correspondência, cai na amostra sem filtro
func (a *Assembler) filteredOrSample(ctx context.Context, table, column string, names []string) ([]json.RawMessage, error) {
	if len(names) > 0 {
		rows, err := a.src.FilteredJSON(ctx, table, column, names, a.cfg.OddsLimit)
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			return rows, nil
		}
	}
	return a.src.ListJSON(ctx, table, a.cfg.OddsLimit)
}

// fetch executa uma leitura com timeout próprio; erro é logado e a seção omitida
func fetch[T any](a *Assembler, ctx context.Context, section string, fn func(context.Context) (T, error)) (T, bool) {
	fctx := ctx
	if a.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, a.cfg.FetchTimeout)
		defer cancel()
	}
	v, err := fn(fctx)
	if err != nil {
		a.log.Warn("context section fetch failed", zap.String("section", section), zap.Error(err))
		if a.OnSectionError != nil {
			a.OnSectionError(section)
		}
		var zero T
		return zero, false
	}
	return v, true
}

// capSections mantém as seções em ordem até o limite; a primeira que estoura corta ela e as seguintes
func capSections(sections []Section, max int) []Section {
	out := []Section{}
	if max <= 0 {
		return append(out, sections...)
	}
	size := 0
	for i, s := range sections {
		n := len(s.render())
		if i > 0 {
			n++ // separador
		}
		if size+n > max {
			break
		}
		size += n
		out = append(out, s)
	}
	return out
}
