package reward

import "errors"

var (
	ErrAlreadyInitialized   = errors.New("reward: program already initialized")
	ErrNotInitialized       = errors.New("reward: program not initialized")
	ErrUnauthorized         = errors.New("reward: unauthorized")
	ErrIssueNotFound        = errors.New("reward: issue not found")
	ErrAlreadyCompleted     = errors.New("reward: issue already completed")
	ErrNotCompleted         = errors.New("reward: issue not completed")
	ErrLengthMismatch       = errors.New("reward: contributors and percentages length mismatch")
	ErrInvalidSplit         = errors.New("reward: percentages must sum to 100")
	ErrDuplicateContributor = errors.New("reward: duplicate contributor")
	ErrInvalidContributor   = errors.New("reward: invalid contributor login")
	ErrNotAContributor      = errors.New("reward: not a contributor")
	ErrAlreadyClaimed       = errors.New("reward: already claimed")
	ErrInvalidSignature     = errors.New("reward: invalid signature")
	ErrMalformedSignature   = errors.New("reward: malformed signature")
	ErrInsufficientFunds    = errors.New("reward: insufficient funds")
	ErrInvalidAmount        = errors.New("reward: invalid amount")
	ErrDuplicateLock        = errors.New("reward: issue already locked with a different mint")
	ErrInvalidRepository    = errors.New("reward: invalid repository name")
	ErrUnknownMint          = errors.New("reward: unknown token mint")
	ErrInvalidAccount       = errors.New("reward: invalid account")

	errNilState = errors.New("reward engine: state not configured")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrAlreadyInitialized, "AlreadyInitialized"},
	{ErrNotInitialized, "NotInitialized"},
	{ErrUnauthorized, "Unauthorized"},
	{ErrIssueNotFound, "IssueNotFound"},
	{ErrAlreadyCompleted, "AlreadyCompleted"},
	{ErrNotCompleted, "NotCompleted"},
	{ErrLengthMismatch, "LengthMismatch"},
	{ErrInvalidSplit, "InvalidSplit"},
	{ErrDuplicateContributor, "DuplicateContributor"},
	{ErrInvalidContributor, "InvalidContributor"},
	{ErrNotAContributor, "NotAContributor"},
	{ErrAlreadyClaimed, "AlreadyClaimed"},
	{ErrInvalidSignature, "InvalidSignature"},
	{ErrMalformedSignature, "MalformedSignature"},
	{ErrInsufficientFunds, "InsufficientFunds"},
	{ErrInvalidAmount, "InvalidAmount"},
	{ErrDuplicateLock, "DuplicateLock"},
	{ErrInvalidRepository, "InvalidRepository"},
	{ErrUnknownMint, "UnknownMint"},
	{ErrInvalidAccount, "InvalidAccount"},
}

// ErrorCode returns the stable code for a reward error, or "" when err is not
// one of the package sentinels.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return ""
}

// ErrorCodes lists every code in a stable order.
func ErrorCodes() []string {
	out := make([]string, len(errorCodes))
	for i, entry := range errorCodes {
		out[i] = entry.code
	}
	return out
}
