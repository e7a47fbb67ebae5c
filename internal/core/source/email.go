package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"

	"github.com/iamangrysparrow/smart-basket-sub004/config"
)

// EmailSource fetches receipt emails over IMAP. The message id serves as the
// dedup key, so re-reading the same inbox never double-ingests.
type EmailSource struct {
	cfg    config.MailConfig
	logger *slog.Logger
}

func NewEmailSource(cfg config.MailConfig, logger *slog.Logger) *EmailSource {
	return &EmailSource{
		cfg:    cfg,
		logger: logger,
	}
}

func (s *EmailSource) Name() string {
	return fmt.Sprintf("imap:%s", s.cfg.User)
}

// TestConnection dials and authenticates without fetching anything.
func (s *EmailSource) TestConnection(ctx context.Context) error {
	c, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer c.Logout()
	return nil
}

// Fetch returns the bodies of mailbox messages within the lookback window.
func (s *EmailSource) Fetch(ctx context.Context) ([]RawReceipt, error) {
	c, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	if _, err := c.Select(s.cfg.Folder, true); err != nil {
		return nil, fmt.Errorf("failed to select folder %s: %w", s.cfg.Folder, err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = time.Now().AddDate(0, 0, -s.cfg.LookbackDays)

	ids, err := c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search mailbox: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchEnvelope, imap.FetchInternalDate}

	messages := make(chan *imap.Message, len(ids))
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, items, messages)
	}()

	var receipts []RawReceipt
	for msg := range messages {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		raw, ok := s.toRawReceipt(msg, section)
		if !ok {
			continue
		}
		receipts = append(receipts, raw)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	s.logger.Info("Fetched receipt emails",
		"source", s.Name(),
		"folder", s.cfg.Folder,
		"matched", len(ids),
		"fetched", len(receipts))

	return receipts, nil
}

func (s *EmailSource) connect(ctx context.Context) (*client.Client, error) {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	c, err := client.DialTLS(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	if err := c.Login(s.cfg.User, s.cfg.Password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("failed to login as %s: %w", s.cfg.User, err)
	}

	return c, nil
}

func (s *EmailSource) toRawReceipt(msg *imap.Message, section *imap.BodySectionName) (RawReceipt, bool) {
	body := msg.GetBody(section)
	if body == nil {
		return RawReceipt{}, false
	}

	mr, err := mail.CreateReader(body)
	if err != nil {
		s.logger.Warn("Failed to read message body", "error", err)
		return RawReceipt{}, false
	}

	var plain, html string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.logger.Warn("Failed to read message part", "error", err)
			break
		}

		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		contentType, _, _ := h.ContentType()
		data, err := io.ReadAll(p.Body)
		if err != nil {
			continue
		}

		switch contentType {
		case "text/plain":
			plain = string(data)
		case "text/html":
			html = string(data)
		}
	}

	content := plain
	contentType := "text/plain"
	if content == "" && html != "" {
		content = stripHTML(html)
	}
	if strings.TrimSpace(content) == "" {
		return RawReceipt{}, false
	}

	receivedAt := msg.InternalDate
	externalID := ""
	if msg.Envelope != nil {
		externalID = msg.Envelope.MessageId
		if receivedAt.IsZero() {
			receivedAt = msg.Envelope.Date
		}
	}

	return RawReceipt{
		Content:     content,
		ContentType: contentType,
		ReceivedAt:  receivedAt,
		ExternalID:  externalID,
		SourceName:  s.Name(),
	}, true
}

var (
	htmlTagRe    = regexp.MustCompile(`<[^>]*>`)
	htmlSpaceRe  = regexp.MustCompile(`[ \t]+`)
	htmlBlankRe  = regexp.MustCompile(`\n{3,}`)
	htmlBreakRe  = regexp.MustCompile(`(?i)<(br|/p|/div|/tr)[^>]*>`)
	htmlScriptRe = regexp.MustCompile(`(?is)<(script|style).*?</(script|style)>`)
)

// stripHTML reduces an HTML body to plain text lines for the pattern
// parsers.
func stripHTML(s string) string {
	s = htmlScriptRe.ReplaceAllString(s, "")
	s = htmlBreakRe.ReplaceAllString(s, "\n")
	s = htmlTagRe.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = htmlSpaceRe.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	s = strings.Join(lines, "\n")
	return strings.TrimSpace(htmlBlankRe.ReplaceAllString(s, "\n\n"))
}
