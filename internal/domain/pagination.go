package domain

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// DefaultMaxResults is the default page size for list operations.
const DefaultMaxResults = 100

// MaxMaxResults is the maximum allowed page size for list operations.
const MaxMaxResults = 1000

// PageRequest holds pagination parameters for list operations.
type PageRequest struct {
	MaxResults int
	PageToken  string // opaque token (base64-encoded offset)
}

// Offset decodes the page token into an integer offset.
// Returns 0 if the token is empty or invalid.
func (p PageRequest) Offset() int {
	if p.PageToken == "" {
		return 0
	}
	decoded, err := base64.StdEncoding.DecodeString(p.PageToken)
	if err != nil {
		return 0
	}
	offset, err := strconv.Atoi(string(decoded))
	if err != nil || offset < 0 {
		return 0
	}
	return offset
}

// Limit returns the effective page size, clamped to [1, MaxMaxResults].
func (p PageRequest) Limit() int {
	if p.MaxResults <= 0 {
		return DefaultMaxResults
	}
	return min(p.MaxResults, MaxMaxResults)
}

// EncodePageToken creates an opaque page token from an offset.
// Returns empty string if offset is 0 or negative.
func EncodePageToken(offset int) string {
	if offset <= 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

// NextPageToken returns the token for the page after [offset, offset+limit),
// or "" when total rows are exhausted.
func NextPageToken(offset, limit int, total int64) string {
	next := offset + limit
	if int64(next) >= total {
		return ""
	}
	return EncodePageToken(next)
}

// EncodeResumeToken creates a continuation token that names both the stored
// result of a running query and the row offset of the next page.
func EncodeResumeToken(queryID string, offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte(queryID + ":" + strconv.Itoa(offset)))
}

// DecodeResumeToken reverses EncodeResumeToken.
func DecodeResumeToken(token string) (queryID string, offset int, err error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", 0, ErrValidation("malformed continuation token")
	}
	idx := strings.LastIndexByte(string(raw), ':')
	if idx <= 0 {
		return "", 0, ErrValidation("malformed continuation token")
	}
	offset, err = strconv.Atoi(string(raw[idx+1:]))
	if err != nil || offset < 0 {
		return "", 0, ErrValidation("malformed continuation token")
	}
	return string(raw[:idx]), offset, nil
}

// QuoteIdentifier strips surrounding double quotes from name and quotes it
// again, doubling embedded quotes.
func QuoteIdentifier(name string) string {
	name = strings.TrimSuffix(strings.TrimPrefix(name, `"`), `"`)
	return fmt.Sprintf(`"%s"`, strings.ReplaceAll(name, `"`, `""`))
}

// QuoteLiteral renders value as a single-quoted SQL string literal.
func QuoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
