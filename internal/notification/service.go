package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"mailvault/internal/message/domain"
	"mailvault/internal/message/dto"
	"mailvault/internal/message/usecase"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// GmailNotification is the payload Gmail publishes on mailbox changes.
type GmailNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// Service listens on a Pub/Sub subscription and triggers an incremental
// import whenever Gmail announces new mail for a registered account.
type Service struct {
	pubsubClient  *pubsub.Client
	importUsecase usecase.ImportUsecase
	registry      *domain.ProviderRegistry
	subName       string

	// Deduplication: history IDs only ever grow per account.
	mu            sync.Mutex
	lastHistoryID map[string]uint64
}

func NewService(projectID, subName string, importUsecase usecase.ImportUsecase, registry *domain.ProviderRegistry, credentialsFile string) (*Service, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := pubsub.NewClient(context.Background(), projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}

	return &Service{
		pubsubClient:  client,
		importUsecase: importUsecase,
		registry:      registry,
		subName:       subName,
		lastHistoryID: make(map[string]uint64),
	}, nil
}

func (s *Service) Start(ctx context.Context) {
	log.Printf("[PubSub] Listening on subscription: %s", s.subName)

	sub := s.pubsubClient.Subscription(s.subName)
	exists, err := sub.Exists(ctx)
	if err != nil {
		log.Printf("[PubSub] Error checking subscription existence: %v", err)
		return
	}
	if !exists {
		log.Printf("[PubSub] Subscription %s does not exist, push-triggered sync disabled", s.subName)
		return
	}

	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		s.handleMessage(ctx, msg)
		msg.Ack()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[PubSub] Receive stopped: %v", err)
	}
}

func (s *Service) handleMessage(ctx context.Context, msg *pubsub.Message) {
	var notification GmailNotification
	if err := json.Unmarshal(msg.Data, &notification); err != nil {
		log.Printf("[PubSub] Ignoring malformed message: %v", err)
		return
	}
	if notification.EmailAddress == "" {
		return
	}

	s.mu.Lock()
	last := s.lastHistoryID[notification.EmailAddress]
	s.mu.Unlock()
	if notification.HistoryID != 0 && notification.HistoryID <= last {
		return
	}

	if _, err := s.registry.Lookup("gmail", notification.EmailAddress); err != nil {
		log.Printf("[PubSub] No registered provider for %s, ignoring", notification.EmailAddress)
		return
	}

	_, err := s.importUsecase.StartImport(ctx, dto.ImportRequest{
		Provider:        "gmail",
		ProviderAccount: notification.EmailAddress,
		Mode:            string(domain.ModeIncremental),
	})
	switch {
	case err == nil:
		// Only a successfully triggered sync advances the dedupe watermark.
		s.mu.Lock()
		if notification.HistoryID > s.lastHistoryID[notification.EmailAddress] {
			s.lastHistoryID[notification.EmailAddress] = notification.HistoryID
		}
		s.mu.Unlock()
		log.Printf("[PubSub] Triggered incremental sync for %s (historyId=%d)",
			notification.EmailAddress, notification.HistoryID)
	case errors.Is(err, domain.ErrImportInProgress):
		// The history ID stays unrecorded so a later notification for the
		// same change is not deduplicated away once the running job ends.
		log.Printf("[PubSub] Import already running for %s, waiting for the next notification",
			notification.EmailAddress)
	default:
		log.Printf("[PubSub] Failed to trigger sync for %s: %v", notification.EmailAddress, err)
	}
}

func (s *Service) Close() error {
	return s.pubsubClient.Close()
}
