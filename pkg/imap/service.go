package imap

import (
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"sync"
	"time"

	"mailvault/internal/message/domain"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
)

const attachmentCacheLimit = 256

// Provider adapts a plain IMAP mailbox to the MessageProvider interface.
// Each operation uses its own connection; IMAP sessions are cheap enough at
// the worker-pool sizes the importer runs with.
type Provider struct {
	server   string
	port     int
	account  string
	password string

	// IMAP delivers attachment bytes inside the full-body fetch, so they are
	// captured during GetMessage and served from this cache.
	mu    sync.Mutex
	cache map[string]map[string][]byte
}

func NewProvider(server string, port int, account, password string) *Provider {
	return &Provider{
		server:   server,
		port:     port,
		account:  account,
		password: password,
		cache:    make(map[string]map[string][]byte),
	}
}

func (p *Provider) Name() string    { return "imap" }
func (p *Provider) Account() string { return p.account }

func (p *Provider) connect() (*client.Client, error) {
	c, err := client.DialTLS(fmt.Sprintf("%s:%d", p.server, p.port), nil)
	if err != nil {
		return nil, fmt.Errorf("imap dial failed: %w", err)
	}
	if err := c.Login(p.account, p.password); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("%w: %v", domain.ErrAuthRejected, err)
	}
	if _, err := c.Select("INBOX", true); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}
	return c, nil
}

// ListMessages searches the mailbox and pages through the UID list. The page
// token is the offset into that list. SINCE has day granularity, so the
// window over-approximates the watermark; the importer's idempotency check
// absorbs the overlap.
func (p *Provider) ListMessages(ctx context.Context, filter domain.ListFilter, pageToken string) (*domain.ListPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := p.connect()
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	criteria := imap.NewSearchCriteria()
	if filter.After != nil {
		criteria.Since = filter.After.Truncate(24 * time.Hour)
	}
	if filter.Query != "" {
		criteria.Text = []string{filter.Query}
	}

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("imap search failed: %w", err)
	}

	offset := 0
	if pageToken != "" {
		offset, err = strconv.Atoi(pageToken)
		if err != nil {
			return nil, fmt.Errorf("invalid page token %q", pageToken)
		}
	}
	if offset > len(uids) {
		offset = len(uids)
	}
	end := offset + int(filter.PageSize)
	if filter.PageSize <= 0 || end > len(uids) {
		end = len(uids)
	}

	page := &domain.ListPage{TotalEstimate: int64(len(uids))}
	for _, uid := range uids[offset:end] {
		page.Refs = append(page.Refs, domain.MessageRef{ID: strconv.FormatUint(uint64(uid), 10)})
	}
	if end < len(uids) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

func (p *Provider) GetMessage(ctx context.Context, messageID string) (*domain.ProviderMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	uid, err := strconv.ParseUint(messageID, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid message id %q", messageID)
	}

	c, err := p.connect()
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	seqset := new(imap.SeqSet)
	seqset.AddNum(uint32(uid))
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchUid, imap.FetchFlags, imap.FetchInternalDate}

	ch := make(chan *imap.Message, 1)
	if err := c.UidFetch(seqset, items, ch); err != nil {
		return nil, fmt.Errorf("imap fetch failed: %w", err)
	}
	msg := <-ch
	if msg == nil {
		return nil, fmt.Errorf("message %s not found", messageID)
	}

	body := msg.GetBody(section)
	if body == nil {
		return nil, fmt.Errorf("message %s has no body section", messageID)
	}
	mr, err := mail.CreateReader(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse message %s: %w", messageID, err)
	}

	header := mr.Header
	detail := &domain.ProviderMessage{
		MessageID:  messageID,
		Labels:     msg.Flags,
		Recipients: addressList(header, "To"),
		CC:         addressList(header, "Cc"),
		BCC:        addressList(header, "Bcc"),
		Metadata:   map[string]string{},
	}
	detail.Subject, _ = header.Subject()
	if from, err := header.AddressList("From"); err == nil && len(from) > 0 {
		detail.Sender = from[0].Address
		detail.SenderName = from[0].Name
	}
	if date, err := header.Date(); err == nil && !date.IsZero() {
		detail.Date = date.UTC()
	} else {
		detail.Date = msg.InternalDate.UTC()
	}
	if id, err := header.MessageID(); err == nil && id != "" {
		detail.Metadata["message_id_header"] = id
	}

	attachmentData := make(map[string][]byte)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Printf("[IMAP] Skipping unreadable part in %s: %v", messageID, err)
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			data, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			switch ct {
			case "text/plain":
				if detail.BodyPlain == "" {
					detail.BodyPlain = string(data)
				}
			case "text/html":
				if detail.BodyHTML == "" {
					detail.BodyHTML = string(data)
				}
			}
		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			ct, _, _ := h.ContentType()
			data, err := io.ReadAll(part.Body)
			if err != nil {
				log.Printf("[IMAP] Failed to read attachment in %s: %v", messageID, err)
				continue
			}
			id := fmt.Sprintf("att-%d", len(detail.Attachments))
			detail.Attachments = append(detail.Attachments, domain.AttachmentRef{
				ID:        id,
				Filename:  filename,
				MimeType:  ct,
				SizeBytes: int64(len(data)),
			})
			attachmentData[id] = data
		}
	}

	detail.HasAttachments = len(detail.Attachments) > 0
	p.storeAttachments(messageID, attachmentData)
	return detail, nil
}

func (p *Provider) GetAttachment(_ context.Context, messageID, attachmentID string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if byMsg, ok := p.cache[messageID]; ok {
		if data, ok := byMsg[attachmentID]; ok {
			return data, nil
		}
	}
	return nil, fmt.Errorf("attachment %s/%s not cached; fetch the message first", messageID, attachmentID)
}

func (p *Provider) storeAttachments(messageID string, data map[string][]byte) {
	if len(data) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.cache) >= attachmentCacheLimit {
		p.cache = make(map[string]map[string][]byte)
	}
	p.cache[messageID] = data
}

func addressList(header mail.Header, field string) []string {
	addrs, err := header.AddressList(field)
	if err != nil || len(addrs) == 0 {
		return nil
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Address)
	}
	return out
}
