package topics

const (
	// Resultados
	MatchSettled = "match_settled"

	// DLQs
	MatchSettledDLQ = "match_settled_dlq"
)
