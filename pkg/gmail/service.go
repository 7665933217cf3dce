package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"time"

	"mailvault/internal/message/domain"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// TokenUpdateFunc is called when the OAuth token source hands out a refreshed
// access token, so the caller can persist it.
type TokenUpdateFunc func(token *oauth2.Token) error

type notifyTokenSource struct {
	src      oauth2.TokenSource
	current  *oauth2.Token
	callback TokenUpdateFunc
}

func (s *notifyTokenSource) Token() (*oauth2.Token, error) {
	t, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	if s.callback != nil && s.current.AccessToken != t.AccessToken {
		s.current = t
		if err := s.callback(t); err != nil {
			log.Printf("[Gmail] Failed to persist refreshed token: %v", err)
		}
	}
	return t, nil
}

// Provider adapts the Gmail API to the MessageProvider interface.
type Provider struct {
	account string
	srv     *gmail.Service
}

type Credentials struct {
	ClientID     string
	ClientSecret string
	AccessToken  string
	RefreshToken string
}

func NewProvider(ctx context.Context, account string, creds Credentials, onTokenRefresh TokenUpdateFunc) (*Provider, error) {
	token := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		TokenType:    "Bearer",
	}
	if creds.RefreshToken != "" {
		token.Expiry = time.Now()
	}

	config := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     google.Endpoint,
	}

	wrapped := &notifyTokenSource{
		src:      config.TokenSource(ctx, token),
		current:  token,
		callback: onTokenRefresh,
	}

	srv, err := gmail.NewService(ctx, option.WithHTTPClient(oauth2.NewClient(ctx, wrapped)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", err)
	}

	return &Provider{account: account, srv: srv}, nil
}

func (p *Provider) Name() string    { return "gmail" }
func (p *Provider) Account() string { return p.account }

// mapError folds Gmail auth failures into the fatal sentinel so the import
// core stops instead of retrying them.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == 401 || apiErr.Code == 403) {
		return fmt.Errorf("%w: %v", domain.ErrAuthRejected, err)
	}
	return err
}

func (p *Provider) ListMessages(ctx context.Context, filter domain.ListFilter, pageToken string) (*domain.ListPage, error) {
	call := p.srv.Users.Messages.List("me").Context(ctx)

	query := filter.Query
	if filter.After != nil {
		// Gmail's after: operator takes epoch seconds and is inclusive at
		// second granularity; +1 keeps the window strictly greater.
		query = strings.TrimSpace(fmt.Sprintf("%s after:%d", query, filter.After.Unix()+1))
	}
	if query != "" {
		call = call.Q(query)
	}
	if filter.PageSize > 0 {
		call = call.MaxResults(filter.PageSize)
	}
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	resp, err := call.Do()
	if err != nil {
		return nil, mapError(err)
	}

	page := &domain.ListPage{
		NextPageToken: resp.NextPageToken,
		TotalEstimate: resp.ResultSizeEstimate,
	}
	for _, m := range resp.Messages {
		page.Refs = append(page.Refs, domain.MessageRef{ID: m.Id})
	}
	return page, nil
}

func (p *Provider) GetMessage(ctx context.Context, messageID string) (*domain.ProviderMessage, error) {
	msg, err := p.srv.Users.Messages.Get("me", messageID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, mapError(err)
	}
	if msg.Payload == nil {
		return nil, fmt.Errorf("message %s has no payload", messageID)
	}

	headers := msg.Payload.Headers
	sender, senderName := parseAddress(getHeader(headers, "From"))

	detail := &domain.ProviderMessage{
		MessageID:  msg.Id,
		ThreadID:   msg.ThreadId,
		Subject:    getHeader(headers, "Subject"),
		Sender:     sender,
		SenderName: senderName,
		Recipients: parseAddressList(getHeader(headers, "To")),
		CC:         parseAddressList(getHeader(headers, "Cc")),
		BCC:        parseAddressList(getHeader(headers, "Bcc")),
		Date:       time.UnixMilli(msg.InternalDate).UTC(),
		Labels:     msg.LabelIds,
		Metadata:   map[string]string{"snippet": msg.Snippet},
	}

	detail.BodyPlain, detail.BodyHTML = extractBodies(msg.Payload)
	detail.Attachments = extractAttachments(msg.Payload)
	detail.HasAttachments = len(detail.Attachments) > 0
	return detail, nil
}

func (p *Provider) GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	att, err := p.srv.Users.Messages.Attachments.Get("me", messageID, attachmentID).Context(ctx).Do()
	if err != nil {
		return nil, mapError(err)
	}
	data, err := base64.URLEncoding.DecodeString(att.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode attachment data: %w", err)
	}
	return data, nil
}

func getHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func parseAddress(raw string) (address, name string) {
	if raw == "" {
		return "", ""
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return raw, ""
	}
	return addr.Address, addr.Name
}

func parseAddressList(raw string) []string {
	if raw == "" {
		return nil
	}
	addrs, err := mail.ParseAddressList(raw)
	if err != nil {
		return []string{raw}
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Address)
	}
	return out
}

func extractBodies(payload *gmail.MessagePart) (plain, html string) {
	decode := func(part *gmail.MessagePart) string {
		if part.Body == nil || part.Body.Data == "" {
			return ""
		}
		data, err := base64.URLEncoding.DecodeString(part.Body.Data)
		if err != nil {
			return ""
		}
		return string(data)
	}

	if payload.MimeType == "text/plain" {
		return decode(payload), ""
	}
	if payload.MimeType == "text/html" {
		return "", decode(payload)
	}

	var walk func(parts []*gmail.MessagePart)
	walk = func(parts []*gmail.MessagePart) {
		for _, part := range parts {
			switch part.MimeType {
			case "text/plain":
				if plain == "" {
					plain = decode(part)
				}
			case "text/html":
				if html == "" {
					html = decode(part)
				}
			}
			if len(part.Parts) > 0 {
				walk(part.Parts)
			}
		}
	}
	walk(payload.Parts)
	return plain, html
}

func extractAttachments(payload *gmail.MessagePart) []domain.AttachmentRef {
	var refs []domain.AttachmentRef

	var walk func(parts []*gmail.MessagePart)
	walk = func(parts []*gmail.MessagePart) {
		for _, part := range parts {
			if part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
				refs = append(refs, domain.AttachmentRef{
					ID:        part.Body.AttachmentId,
					Filename:  part.Filename,
					MimeType:  part.MimeType,
					SizeBytes: part.Body.Size,
				})
			}
			if len(part.Parts) > 0 {
				walk(part.Parts)
			}
		}
	}
	walk(payload.Parts)
	return refs
}
