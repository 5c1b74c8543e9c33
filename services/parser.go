package services

import (
	"regexp"
	"time"

	"github.com/nordlys/erasure/models"
	"github.com/nordlys/erasure/utils"
)

// ParsedRequest is the identifying triple extracted from a message.
type ParsedRequest struct {
	SubjectID   string
	TicketID    string
	RequestDate time.Time
}

var (
	subjectIDPattern = regexp.MustCompile(`(?i)user\s*_?id\s*[:=]?\s*([A-Za-z0-9_-]{6,})`)
	alnumToken       = regexp.MustCompile(`[A-Za-z0-9]+`)
	ticketPattern    = regexp.MustCompile(`(?i)ticket\s*(?:id)?\s*[:#]?\s*(\d{3,})`)
	ticketHashShort  = regexp.MustCompile(`#(\d{3,})`)

	isoDatePattern   = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	dotDatePattern   = regexp.MustCompile(`\b(\d{2}\.\d{2}\.\d{4})\b`)
	slashDatePattern = regexp.MustCompile(`\b(\d{1,2}/\d{1,2}/\d{4})\b`)
)

type Parser struct{}

func CreateParser() *Parser {
	return &Parser{}
}

// Parse extracts subject id, ticket id and request date from the message.
// Ticket and date fall back to defaults, but a message without a resolvable
// subject id is unusable and yields a ParseError.
func (p *Parser) Parse(msg models.Message) (*ParsedRequest, error) {
	subjectID := p.extractSubjectID(msg.Text)
	if subjectID == "" {
		return nil, &utils.ParseError{
			MessageRef: msg.Ref.Key(),
			Reason:     "no subject id found",
		}
	}

	return &ParsedRequest{
		SubjectID:   subjectID,
		TicketID:    p.extractTicketID(msg.Text),
		RequestDate: p.extractRequestDate(msg.Text, msg.SentAt),
	}, nil
}

func (p *Parser) extractSubjectID(text string) string {
	if m := subjectIDPattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}

	// fall back to the longest alphanumeric token of length >= 8; opaque
	// player ids are long, ordinary words are not
	var longest string
	for _, token := range alnumToken.FindAllString(text, -1) {
		if len(token) >= 8 && len(token) > len(longest) {
			longest = token
		}
	}
	return longest
}

func (p *Parser) extractTicketID(text string) string {
	if m := ticketPattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	if m := ticketHashShort.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

func (p *Parser) extractRequestDate(text string, sentAt time.Time) time.Time {
	if m := isoDatePattern.FindStringSubmatch(text); m != nil {
		if d, err := time.Parse("2006-01-02", m[1]); err == nil {
			return d
		}
	}
	if m := dotDatePattern.FindStringSubmatch(text); m != nil {
		if d, err := time.Parse("02.01.2006", m[1]); err == nil {
			return d
		}
	}
	if m := slashDatePattern.FindStringSubmatch(text); m != nil {
		if d, err := time.Parse("1/2/2006", m[1]); err == nil {
			return d
		}
	}

	// date part of the message's own timestamp
	return sentAt.Truncate(24 * time.Hour)
}
