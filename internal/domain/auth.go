package domain

// SubjectType differentiates customer vs agent tokens.
type SubjectType string

const (
	SubjectTypeUser  SubjectType = "user"
	SubjectTypeAgent SubjectType = "agent"
)
